package checker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for the batch requester.
var (
	batchFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keycheck_batch_fallbacks_total",
		Help: "Total batch calls that fell back to per-key single queries",
	})

	fallbackKeysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keycheck_fallback_keys_total",
		Help: "Total keys resolved through the single-key fallback path",
	})
)

// LookupClient is the remote lookup surface the engine depends on. Both
// methods retry retryable failures internally and return only terminal
// errors. CheckBatch may return a map missing some requested keys; the
// requester resolves those individually.
type LookupClient interface {
	Check(ctx context.Context, key string, headers map[string]string) (bool, error)
	CheckBatch(ctx context.Context, keys []string, headers map[string]string) (map[string]bool, error)
}

// Requester turns a batch group of keys into one CheckResult per key. It
// first attempts one batched call for the whole group; if that call fails
// terminally or its response cannot be used, every unresolved key is
// queried individually so each key still receives an outcome.
type Requester struct {
	client LookupClient
	logger zerolog.Logger
}

// NewRequester creates a batch requester on top of client.
func NewRequester(client LookupClient, logger zerolog.Logger) *Requester {
	return &Requester{
		client: client,
		logger: logger,
	}
}

// CheckGroup resolves every key in the group to exactly one CheckResult.
// Results are returned in group order.
func (r *Requester) CheckGroup(ctx context.Context, keys []string, headers map[string]string) []CheckResult {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) == 1 {
		return []CheckResult{r.single(ctx, keys[0], headers)}
	}

	start := time.Now()
	outcomes, err := r.client.CheckBatch(ctx, keys, headers)
	elapsed := time.Since(start)

	if err != nil {
		r.logger.Debug().
			Err(err).
			Int("batch_size", len(keys)).
			Msg("Batch call failed, falling back to single-key queries")
		batchFallbacksTotal.Inc()
		return r.fallback(ctx, keys, headers)
	}

	// Batch latency is split evenly across the group's keys; the remote
	// call resolves the group as a unit so no precise per-key timing
	// exists.
	perKey := elapsed / time.Duration(len(keys))

	results := make([]CheckResult, len(keys))
	var missing []int
	for i, key := range keys {
		available, ok := outcomes[key]
		if !ok {
			missing = append(missing, i)
			continue
		}
		results[i] = CheckResult{
			Key:     key,
			Status:  statusOf(available),
			Latency: perKey,
		}
	}

	if len(missing) > 0 {
		r.logger.Debug().
			Int("batch_size", len(keys)).
			Int("missing", len(missing)).
			Msg("Batch response omitted keys, resolving individually")

		var wg sync.WaitGroup
		for _, idx := range missing {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = r.single(ctx, keys[idx], headers)
			}(idx)
		}
		wg.Wait()
	}

	return results
}

// fallback issues one single-key query per key in the group, concurrently.
func (r *Requester) fallback(ctx context.Context, keys []string, headers map[string]string) []CheckResult {
	results := make([]CheckResult, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			results[i] = r.single(ctx, key, headers)
			fallbackKeysTotal.Inc()
		}(i, key)
	}
	wg.Wait()

	return results
}

// single resolves one key through the single-key endpoint. Terminal errors
// become StatusError results carrying the error description.
func (r *Requester) single(ctx context.Context, key string, headers map[string]string) CheckResult {
	start := time.Now()
	available, err := r.client.Check(ctx, key, headers)
	elapsed := time.Since(start)

	if err != nil {
		return CheckResult{
			Key:     key,
			Status:  StatusError,
			Latency: elapsed,
			Reason:  err.Error(),
		}
	}

	return CheckResult{
		Key:     key,
		Status:  statusOf(available),
		Latency: elapsed,
	}
}
