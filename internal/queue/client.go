package queue

import "context"

// Message is one unit received from the queue transport.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Client is the durable queue transport. SQS in production, MemoryClient for
// tests and single-process development.
type Client interface {
	Send(ctx context.Context, body string, delaySeconds int32) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}
