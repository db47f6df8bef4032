package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/TechnicallyShaun/lecture-orbis/internal/voicememo/logging"
)

// DefaultRetryCount is the default number of retry attempts.
const DefaultRetryCount = 2

// DefaultBaseDelay is the initial delay for exponential backoff.
const DefaultBaseDelay = 1 * time.Second

// RetryClient wraps a Completer with retry logic and exponential backoff.
type RetryClient struct {
	client    Completer
	maxRetry  int
	baseDelay time.Duration
	logger    logging.Logger
}

// RetryOption configures the RetryClient.
type RetryOption func(*RetryClient)

// WithRetryCount sets the maximum number of retry attempts.
func WithRetryCount(n int) RetryOption {
	return func(c *RetryClient) {
		c.maxRetry = n
	}
}

// WithBaseDelay sets the initial delay for exponential backoff.
func WithBaseDelay(d time.Duration) RetryOption {
	return func(c *RetryClient) {
		c.baseDelay = d
	}
}

// WithLogger sets the logger for retry attempts.
func WithLogger(l logging.Logger) RetryOption {
	return func(c *RetryClient) {
		c.logger = l
	}
}

// NewRetryClient creates a new RetryClient wrapping the given Completer.
func NewRetryClient(client Completer, opts ...RetryOption) *RetryClient {
	c := &RetryClient{
		client:    client,
		maxRetry:  DefaultRetryCount,
		baseDelay: DefaultBaseDelay,
		logger:    logging.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetry < 0 {
		c.maxRetry = 0
	}

	return c
}

// Complete sends req with retry logic. It retries on connection errors, 429
// and 5xx responses, but not on other 4xx client errors.
func (c *RetryClient) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetry; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * (1 << (attempt - 1))
			c.logger.Info("retrying model request",
				logging.Int("attempt", attempt),
				logging.Int("max_retry", c.maxRetry),
				logging.Duration("delay", delay),
				logging.String("reason", lastErr.Error()),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		text, err := c.client.Complete(ctx, req)
		if err == nil {
			return text, nil
		}

		if !isRetryable(err) {
			return "", err
		}

		lastErr = err
	}

	return "", fmt.Errorf("completion failed after %d retries: %w", c.maxRetry, lastErr)
}

// isRetryable reports true for connection errors, rate limiting and 5xx
// server errors.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") {
		return true
	}

	return false
}
