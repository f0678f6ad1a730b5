package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keycheck_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keycheck_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keycheck_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// retryConfigFor returns the retry configuration for an error class.
// Rate-limit responses back off from a larger base than other retryable
// errors: provoking further throttling is more expensive than an ordinary
// failed attempt.
func (c *Client) retryConfigFor(errorClass ErrorClass) RetryConfig {
	cfg := RetryConfig{
		MaxAttempts:       c.config.MaxRetries + 1,
		InitialBackoff:    c.config.InitialBackoff,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}

	switch errorClass {
	case ErrorClassRateLimit:
		cfg.InitialBackoff = c.config.RateLimitBackoff
		cfg.MaxBackoff = 120 * time.Second
	case ErrorClassNetwork:
		// New guarantees RateLimitBackoff exceeds this base.
		cfg.InitialBackoff = 2 * c.config.InitialBackoff
	}

	return cfg
}

// retryWithBackoff executes fn with exponential backoff retry logic. The
// error class of each failure selects the backoff schedule for the wait that
// follows it, so a run of generic failures followed by a 429 immediately
// switches to the longer rate-limit schedule. Jitter (±20%) is applied to
// every wait. Respects context cancellation.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, cfgFor func(ErrorClass) RetryConfig, fn func() error) error {
	var lastErr error
	var lastClass ErrorClass

	maxAttempts := cfgFor("").MaxAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(lastClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		lastClass = Classify(err)

		if !shouldRetry(lastClass) {
			return lastErr
		}

		if attempt >= maxAttempts {
			break
		}

		cfg := cfgFor(lastClass)
		backoff := cfg.InitialBackoff
		for i := 1; i < attempt; i++ {
			backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		}
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}

		retriesTotal.WithLabelValues(string(lastClass)).Inc()

		// Jitter (±20%) prevents synchronized retries across workers.
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(lastClass)).Observe(jitter.Seconds())

		logger.Debug().
			Str("error_class", string(lastClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			logger.Warn().
				Str("error_class", string(lastClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}
	}

	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	logger.Warn().
		Str("error_class", string(lastClass)).
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}
