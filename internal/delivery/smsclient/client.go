// Package smsclient is a thin REST client for the SMS gateway. It owns
// transport-level retries; delivery-level retry policy lives with the caller.
package smsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/patient-comms-platform/pkg/logging"
)

const (
	defaultBaseURL   = "https://api.telnyx.com/v2"
	defaultUserAgent = "patient-comms-delivery/0.1"
)

// Config controls how the SMS client behaves.
type Config struct {
	BaseURL            string
	APIKey             string
	From               string
	MessagingProfileID string
	Timeout            time.Duration
	MaxRetries         int
	Backoff            time.Duration
	HTTPClient         *http.Client
	Logger             *logging.Logger
	UserAgent          string
}

// Client wraps the gateway's message endpoints.
type Client struct {
	apiKey             string
	baseURL            string
	from               string
	messagingProfileID string
	httpClient         *http.Client
	maxRetries         int
	backoff            time.Duration
	logger             *logging.Logger
	userAgent          string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("smsclient: API key is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smsclient: sending number is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:             cfg.APIKey,
		baseURL:            baseURL,
		from:               cfg.From,
		messagingProfileID: cfg.MessagingProfileID,
		httpClient:         httpClient,
		maxRetries:         maxRetries,
		backoff:            backoff,
		logger:             logger,
		userAgent:          userAgent,
	}, nil
}

// SendMessageRequest is one outbound SMS.
type SendMessageRequest struct {
	To   string
	Body string
}

func (r SendMessageRequest) validate() error {
	if strings.TrimSpace(r.To) == "" {
		return errors.New("smsclient: destination number is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("smsclient: message body is required")
	}
	return nil
}

// MessageResponse is the gateway's accepted-message record.
type MessageResponse struct {
	ID   string `json:"id"`
	From struct {
		PhoneNumber string `json:"phone_number"`
	} `json:"from"`
	To []struct {
		PhoneNumber string `json:"phone_number"`
		Status      string `json:"status"`
	} `json:"to"`
}

// SendMessage triggers an SMS send request.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*MessageResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(struct {
		From               string `json:"from"`
		To                 string `json:"to"`
		Text               string `json:"text"`
		MessagingProfileID string `json:"messaging_profile_id,omitempty"`
	}{
		From:               c.from,
		To:                 req.To,
		Text:               req.Body,
		MessagingProfileID: c.messagingProfileID,
	})
	if err != nil {
		return nil, fmt.Errorf("smsclient: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/messages", body)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Data MessageResponse `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("smsclient: decode response: %w", err)
	}
	return &wrapper.Data, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("smsclient: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("smsclient: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("smsclient: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("smsclient: request failed without response")
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn("sms gateway retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 && status <= 599 {
		return true
	}
	return false
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int    `json:"-"`
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("smsclient: %s (status=%d)", e.Title, e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("smsclient: %s (status=%d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("smsclient: http status %d", e.StatusCode)
}

func decodeAPIError(status int, body []byte) error {
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &APIError{StatusCode: status, Detail: string(body)}
	}
	parsed.StatusCode = status
	return &parsed
}
