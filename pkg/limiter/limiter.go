// Package limiter implements a bounded admission gate for concurrent
// operations. It is a pure concurrency primitive with no knowledge of
// network semantics: each worker owns one Limiter and funnels all of its
// in-flight requests through it.
package limiter

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for admission control.
var (
	limiterInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keycheck_limiter_in_flight",
		Help: "Number of operations currently admitted across all limiters",
	})

	limiterAcquiresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keycheck_limiter_acquires_total",
		Help: "Total number of successful limiter acquisitions",
	})
)

// Limiter admits at most a fixed number of concurrently-running operations.
// Excess submissions queue in FIFO order and are admitted as running
// operations release their slot. Safe for concurrent use.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
}

// New creates a Limiter admitting at most capacity concurrent operations.
func New(capacity int) (*Limiter, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("limiter capacity must be >= 1 (got %d)", capacity)
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}, nil
}

// Capacity returns the maximum number of concurrently admitted operations.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Acquire blocks until a slot is available or ctx is cancelled.
// Every successful Acquire must be paired with exactly one Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire limiter slot: %w", err)
	}
	limiterAcquiresTotal.Inc()
	limiterInFlight.Inc()
	return nil
}

// Release returns a previously acquired slot, admitting the next queued
// waiter if any.
func (l *Limiter) Release() {
	limiterInFlight.Dec()
	l.sem.Release(1)
}

// Do runs fn while holding a slot. The slot is released when fn returns,
// regardless of outcome.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
