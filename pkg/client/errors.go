package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrBadBatchShape is returned when a batch response matches neither of
	// the two accepted shapes.
	ErrBadBatchShape = errors.New("unrecognized batch response shape")
)

// ErrorClass represents a classification of lookup errors.
type ErrorClass string

const (
	// ErrorClassHTTP represents generic non-2xx responses without a more
	// specific classification.
	ErrorClassHTTP ErrorClass = "http"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents timeouts and connection-level failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassProtocol represents unparseable or shape-mismatched
	// response bodies. Protocol errors are terminal; the caller handles
	// them (for batches, via the single-key fallback).
	ErrorClassProtocol ErrorClass = "protocol"
)

// LookupError represents a lookup-service error with classification context.
type LookupError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lookup %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("lookup %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *LookupError) Unwrap() error {
	return e.Err
}

// Classify returns the error class of err. Transport-level failures (DNS,
// refused connections, timeouts) classify as network errors; everything
// without an explicit class falls through to protocol, which is terminal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var le *LookupError
	if errors.As(err, &le) {
		return le.ErrorClass
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetwork
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrorClassNetwork
	}

	return ErrorClassProtocol
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassHTTP
	}
}

// shouldRetry determines if an error should be retried based on its
// classification. Rate limits, server errors, timeouts, connection failures,
// and generic HTTP errors are retryable; protocol errors are terminal.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassRateLimit, ErrorClassServer, ErrorClassNetwork, ErrorClassHTTP:
		return true
	default:
		return false
	}
}
