package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

// mockCompleter is a test double for Completer.
type mockCompleter struct {
	results []mockResult
	calls   int
}

type mockResult struct {
	text string
	err  error
}

func (m *mockCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if m.calls >= len(m.results) {
		return "", errors.New("unexpected call")
	}
	r := m.results[m.calls]
	m.calls++
	return r.text, r.err
}

func serverError() error {
	return &APIError{Provider: "test", StatusCode: 500, Message: "internal error"}
}

func TestRetryClient_SuccessOnFirstAttempt(t *testing.T) {
	mock := &mockCompleter{results: []mockResult{{text: "hello"}}}
	client := NewRetryClient(mock, WithRetryCount(3), WithBaseDelay(time.Millisecond))

	text, err := client.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello" {
		t.Errorf("got %q, want %q", text, "hello")
	}
	if mock.calls != 1 {
		t.Errorf("expected 1 call, got %d", mock.calls)
	}
}

func TestRetryClient_RetryOn5xx(t *testing.T) {
	mock := &mockCompleter{results: []mockResult{
		{err: serverError()},
		{text: "ok"},
	}}
	client := NewRetryClient(mock, WithRetryCount(3), WithBaseDelay(time.Millisecond))

	text, err := client.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "ok" {
		t.Errorf("got %q, want %q", text, "ok")
	}
	if mock.calls != 2 {
		t.Errorf("expected 2 calls, got %d", mock.calls)
	}
}

func TestRetryClient_RetryOnRateLimit(t *testing.T) {
	mock := &mockCompleter{results: []mockResult{
		{err: &APIError{Provider: "test", StatusCode: 429, Message: "slow down"}},
		{text: "ok"},
	}}
	client := NewRetryClient(mock, WithRetryCount(1), WithBaseDelay(time.Millisecond))

	if _, err := client.Complete(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.calls != 2 {
		t.Errorf("expected 2 calls, got %d", mock.calls)
	}
}

func TestRetryClient_NoRetryOn4xx(t *testing.T) {
	mock := &mockCompleter{results: []mockResult{
		{err: &APIError{Provider: "test", StatusCode: 401, Message: "bad key"}},
	}}
	client := NewRetryClient(mock, WithRetryCount(3), WithBaseDelay(time.Millisecond))

	_, err := client.Complete(context.Background(), Request{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 401 {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
	if mock.calls != 1 {
		t.Errorf("expected 1 call, got %d", mock.calls)
	}
}

func TestRetryClient_MaxRetriesExhausted(t *testing.T) {
	mock := &mockCompleter{results: []mockResult{
		{err: serverError()},
		{err: serverError()},
		{err: serverError()},
	}}
	client := NewRetryClient(mock, WithRetryCount(2), WithBaseDelay(time.Millisecond))

	_, err := client.Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if mock.calls != 3 { // 1 initial + 2 retries
		t.Errorf("expected 3 calls, got %d", mock.calls)
	}
	want := "completion failed after 2 retries: test API error: status 500: internal error"
	if err.Error() != want {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestRetryClient_ContextCancellation(t *testing.T) {
	mock := &mockCompleter{results: []mockResult{
		{err: serverError()},
		{err: serverError()},
	}}
	client := NewRetryClient(mock, WithRetryCount(3), WithBaseDelay(100*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := client.Complete(ctx, Request{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestRetryClient_ExponentialBackoff(t *testing.T) {
	mock := &mockCompleter{results: []mockResult{
		{err: serverError()},
		{err: serverError()},
		{err: serverError()},
		{text: "done"},
	}}
	client := NewRetryClient(mock, WithRetryCount(3), WithBaseDelay(10*time.Millisecond))

	start := time.Now()
	_, err := client.Complete(context.Background(), Request{})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 10ms + 20ms + 40ms
	if elapsed < 60*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("elapsed time %v outside expected range", elapsed)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"wrapped deadline", fmt.Errorf("send request: %w", context.DeadlineExceeded), false},
		{"400 bad request", &APIError{StatusCode: 400}, false},
		{"401 unauthorized", &APIError{StatusCode: 401}, false},
		{"404 not found", &APIError{StatusCode: 404}, false},
		{"429 rate limited", &APIError{StatusCode: 429}, true},
		{"500 internal error", &APIError{StatusCode: 500}, true},
		{"529 overloaded", &APIError{StatusCode: 529}, true},
		{"wrapped 503", fmt.Errorf("summarize: %w", &APIError{StatusCode: 503}), true},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"no such host", errors.New("dial tcp: lookup api: no such host"), true},
		{"unknown error", errors.New("some random error"), false},
		{"empty response", ErrEmptyResponse, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.expected {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryClient_DefaultOptions(t *testing.T) {
	client := NewRetryClient(&mockCompleter{})

	if client.maxRetry != DefaultRetryCount {
		t.Errorf("default maxRetry = %d, want %d", client.maxRetry, DefaultRetryCount)
	}
	if client.baseDelay != DefaultBaseDelay {
		t.Errorf("default baseDelay = %v, want %v", client.baseDelay, DefaultBaseDelay)
	}
}
