package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		expected   bool
	}{
		{name: "rate limit should retry", errorClass: ErrorClassRateLimit, expected: true},
		{name: "server error should retry", errorClass: ErrorClassServer, expected: true},
		{name: "network error should retry", errorClass: ErrorClassNetwork, expected: true},
		{name: "generic http error should retry", errorClass: ErrorClassHTTP, expected: true},
		{name: "protocol error should not retry", errorClass: ErrorClassProtocol, expected: false},
		{name: "empty error class should not retry", errorClass: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := shouldRetry(tt.errorClass)
			if result != tt.expected {
				t.Errorf("shouldRetry(%q) = %v, want %v", tt.errorClass, result, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorClass
	}{
		{429, ErrorClassRateLimit},
		{500, ErrorClassServer},
		{502, ErrorClassServer},
		{503, ErrorClassServer},
		{404, ErrorClassHTTP},
		{403, ErrorClassHTTP},
		{418, ErrorClassHTTP},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.expected)
			}
		})
	}
}

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string   { return "i/o timeout" }
func (fakeTimeoutError) Timeout() bool   { return true }
func (fakeTimeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "lookup error carries its class",
			err:      &LookupError{StatusCode: 429, ErrorClass: ErrorClassRateLimit},
			expected: ErrorClassRateLimit,
		},
		{
			name:     "wrapped lookup error",
			err:      fmt.Errorf("check: %w", &LookupError{StatusCode: 500, ErrorClass: ErrorClassServer}),
			expected: ErrorClassServer,
		},
		{
			name:     "deadline exceeded is network",
			err:      context.DeadlineExceeded,
			expected: ErrorClassNetwork,
		},
		{
			name:     "net timeout is network",
			err:      fakeTimeoutError{},
			expected: ErrorClassNetwork,
		},
		{
			name:     "connection refused is network",
			err:      &net.OpError{Op: "dial", Err: errors.New("connection refused")},
			expected: ErrorClassNetwork,
		},
		{
			name:     "unknown error is protocol",
			err:      errors.New("garbage body"),
			expected: ErrorClassProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestLookupError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *LookupError
		expected string
	}{
		{
			name: "error with wrapped error",
			err: &LookupError{
				StatusCode: 500,
				ErrorClass: ErrorClassServer,
				Message:    "Internal Server Error",
				Err:        errors.New("boom"),
			},
			expected: "lookup server error (status 500): Internal Server Error: boom",
		},
		{
			name: "error without wrapped error",
			err: &LookupError{
				StatusCode: 429,
				ErrorClass: ErrorClassRateLimit,
				Message:    "Too Many Requests",
			},
			expected: "lookup rate_limit error (status 429): Too Many Requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestLookupError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &LookupError{ErrorClass: ErrorClassNetwork, Err: inner}

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
}

func TestRateLimitBackoffExceedsOtherClasses(t *testing.T) {
	c, err := New(Config{
		BaseURL:          "http://example.test",
		MaxRetries:       2,
		InitialBackoff:   100 * time.Millisecond,
		RateLimitBackoff: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rateLimit := c.retryConfigFor(ErrorClassRateLimit)

	for _, class := range []ErrorClass{ErrorClassHTTP, ErrorClassServer, ErrorClassNetwork} {
		other := c.retryConfigFor(class)
		if rateLimit.InitialBackoff <= other.InitialBackoff {
			t.Errorf("rate limit backoff %v should exceed %s backoff %v",
				rateLimit.InitialBackoff, class, other.InitialBackoff)
		}
	}
}
