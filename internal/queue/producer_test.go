package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeClient struct {
	sends []sentMessage
	err   error
}

type sentMessage struct {
	body  string
	delay int32
}

func (f *fakeClient) Send(ctx context.Context, body string, delaySeconds int32) error {
	if f.err != nil {
		return f.err
	}
	f.sends = append(f.sends, sentMessage{body: body, delay: delaySeconds})
	return nil
}

func (f *fakeClient) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]Message, error) {
	return nil, nil
}

func (f *fakeClient) Delete(ctx context.Context, receiptHandle string) error { return nil }

func deliveryJob(p Priority) Job {
	return NewEmailJob(EmailJob{
		MessageID: uuid.New(),
		EntryID:   uuid.New(),
		Recipient: "patient@example.org",
		Subject:   "Results",
		Content:   "ready",
		Priority:  p,
	})
}

func TestEnqueueDelayMatchesPriorityTable(t *testing.T) {
	tests := []struct {
		name      string
		job       Job
		wantDelay int32
	}{
		{"high is immediate", deliveryJob(PriorityHigh), 0},
		{"urgent is immediate", deliveryJob(PriorityUrgent), 0},
		{"normal waits 1s", deliveryJob(PriorityNormal), 1},
		{"low waits 5s", deliveryJob(PriorityLow), 5},
		{"export is low", NewExportJob(ExportJob{ExportID: uuid.New(), Format: "csv"}), 5},
		{"cleanup is low plus 60s", NewCleanupJob(CleanupJob{Target: TargetTempFiles, OlderThan: time.Now()}), 65},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{}
			p := NewProducer(client, nil, nil)
			if err := p.Enqueue(context.Background(), tt.job, EnqueueOptions{}); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
			if len(client.sends) != 1 {
				t.Fatalf("expected one send, got %d", len(client.sends))
			}
			if client.sends[0].delay != tt.wantDelay {
				t.Errorf("delay = %d, want %d", client.sends[0].delay, tt.wantDelay)
			}
		})
	}
}

func TestEnqueueExplicitDelayOverrides(t *testing.T) {
	client := &fakeClient{}
	p := NewProducer(client, nil, nil)

	override := 30 * time.Second
	if err := p.Enqueue(context.Background(), deliveryJob(PriorityHigh), EnqueueOptions{Delay: &override}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if client.sends[0].delay != 30 {
		t.Errorf("expected override delay 30, got %d", client.sends[0].delay)
	}
}

func TestEnqueueDedupSuppressesSecondJob(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	client := &fakeClient{}
	p := NewProducer(client, rdb, nil)

	job := deliveryJob(PriorityNormal)
	opts := EnqueueOptions{DedupID: "msg-" + job.Email.MessageID.String()}

	if err := p.Enqueue(context.Background(), job, opts); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := p.Enqueue(context.Background(), job, opts)
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
	if len(client.sends) != 1 {
		t.Errorf("duplicate should not reach the transport, sends=%d", len(client.sends))
	}

	// Once the dedup window lapses the same id may be scheduled again.
	srv.FastForward(dedupTTL + time.Second)
	if err := p.Enqueue(context.Background(), job, opts); err != nil {
		t.Fatalf("enqueue after TTL: %v", err)
	}
}

func TestEnqueueReleasesDedupOnTransportFailure(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	client := &fakeClient{err: errors.New("sqs unavailable")}
	p := NewProducer(client, rdb, nil)

	job := deliveryJob(PriorityNormal)
	opts := EnqueueOptions{DedupID: "msg-" + job.Email.MessageID.String()}

	if err := p.Enqueue(context.Background(), job, opts); err == nil {
		t.Fatal("expected transport error to propagate")
	}

	// Nothing reached the queue, so the dedup claim must not linger:
	// the retry after the transport recovers has to go through.
	client.err = nil
	if err := p.Enqueue(context.Background(), job, opts); err != nil {
		t.Fatalf("retry after transport recovery: %v", err)
	}
	if len(client.sends) != 1 {
		t.Fatalf("expected exactly one job on the queue, got %d", len(client.sends))
	}

	// The successful enqueue re-claims the id; a real duplicate still trips.
	if err := p.Enqueue(context.Background(), job, opts); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob after successful enqueue, got %v", err)
	}
}

func TestEnqueueSendLater(t *testing.T) {
	client := &fakeClient{}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p := NewProducer(client, nil, nil).WithClock(func() time.Time { return now })

	if err := p.EnqueueSendLater(context.Background(), deliveryJob(PriorityNormal), now.Add(2*time.Minute)); err != nil {
		t.Fatalf("EnqueueSendLater: %v", err)
	}
	if client.sends[0].delay != 120 {
		t.Errorf("expected 120s delay, got %d", client.sends[0].delay)
	}

	// A send time in the past clamps to immediate.
	if err := p.EnqueueSendLater(context.Background(), deliveryJob(PriorityNormal), now.Add(-time.Hour)); err != nil {
		t.Fatalf("EnqueueSendLater past: %v", err)
	}
	if client.sends[1].delay != 0 {
		t.Errorf("expected clamped 0 delay, got %d", client.sends[1].delay)
	}
}

func TestEnqueueFailurePropagates(t *testing.T) {
	client := &fakeClient{err: errors.New("sqs unavailable")}
	p := NewProducer(client, nil, nil)

	if err := p.Enqueue(context.Background(), deliveryJob(PriorityNormal), EnqueueOptions{}); err == nil {
		t.Fatal("expected transport error to propagate")
	}
}

func TestEnqueueBatchStopsAtFirstFailure(t *testing.T) {
	client := &fakeClient{}
	p := NewProducer(client, nil, nil)

	jobs := []Job{
		deliveryJob(PriorityNormal),
		{Kind: KindEmail}, // invalid
		deliveryJob(PriorityNormal),
	}
	err := p.EnqueueBatch(context.Background(), jobs)
	if !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob, got %v", err)
	}
	if len(client.sends) != 1 {
		t.Errorf("expected batch to stop after failure, sends=%d", len(client.sends))
	}
}
