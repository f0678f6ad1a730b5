package checker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/keycheck-io/keycheck/pkg/cache"
	"github.com/keycheck-io/keycheck/pkg/limiter"
	"github.com/keycheck-io/keycheck/pkg/shaping"
)

// OutcomeCache is the optional terminal-outcome cache consulted before a
// key joins a batch group. *cache.Manager implements it; a Get miss must
// return cache.ErrCacheMiss.
type OutcomeCache interface {
	Get(ctx context.Context, key string) (*cache.Outcome, error)
	Set(ctx context.Context, key string, available bool) error
}

// Worker owns one shard of keys and drives all of them to completion. It
// splits the shard into HTTP batch groups, admits each group through its
// limiter, shapes the request, and emits one CheckResult per key on the
// results channel. The request counter is owned by the worker instance, so
// header rotation is reproducible per run.
type Worker struct {
	id        int
	shard     []string
	batchSize int
	requester *Requester
	limiter   *limiter.Limiter
	policy    shaping.Policy
	cache     OutcomeCache // optional, may be nil
	results   chan<- CheckResult
	logger    zerolog.Logger

	seq atomic.Int64
}

// newWorker wires a worker for one shard.
func newWorker(id int, shard []string, batchSize int, requester *Requester, lim *limiter.Limiter, policy shaping.Policy, outcomes OutcomeCache, results chan<- CheckResult, logger zerolog.Logger) *Worker {
	return &Worker{
		id:        id,
		shard:     shard,
		batchSize: batchSize,
		requester: requester,
		limiter:   lim,
		policy:    policy,
		cache:     outcomes,
		results:   results,
		logger:    logger.With().Int("worker_id", id).Logger(),
	}
}

// Run processes every batch group in the shard. Groups run concurrently up
// to the limiter's capacity. Returns nil once every key in the shard has
// emitted a result, or the first fatal error (which cancels the sibling
// groups via the shared context).
func (w *Worker) Run(ctx context.Context) error {
	groups := groupKeys(w.shard, w.batchSize)

	w.logger.Debug().
		Int("keys", len(w.shard)).
		Int("groups", len(groups)).
		Msg("Worker starting")

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			return w.processGroup(gctx, group)
		})
	}

	err := g.Wait()
	if err == nil {
		w.logger.Debug().Int("keys", len(w.shard)).Msg("Worker completed")
	}
	return err
}

// processGroup resolves one batch group while holding a limiter slot.
func (w *Worker) processGroup(ctx context.Context, group []string) error {
	if err := w.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer w.limiter.Release()

	remaining := group
	if w.cache != nil {
		cached, rest := w.splitCached(ctx, group)
		if err := w.emit(ctx, cached, true); err != nil {
			return err
		}
		remaining = rest
	}
	if len(remaining) == 0 {
		return nil
	}

	directive := w.policy.Shape(w.id, int(w.seq.Add(1)))
	if err := shaping.Wait(ctx, directive); err != nil {
		return fmt.Errorf("shaping delay: %w", err)
	}

	results := w.requester.CheckGroup(ctx, remaining, directive.Headers)

	// A cancelled group is abandoned: its keys report no result rather
	// than a spurious error outcome.
	if err := ctx.Err(); err != nil {
		return err
	}

	return w.emit(ctx, results, false)
}

// splitCached partitions a group into cached outcomes and keys that still
// need a remote check. Cache failures degrade to a remote check.
func (w *Worker) splitCached(ctx context.Context, group []string) ([]CheckResult, []string) {
	var cached []CheckResult
	var rest []string

	for _, key := range group {
		outcome, err := w.cache.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, cache.ErrCacheMiss) {
				w.logger.Warn().Err(err).Str("key", key).Msg("Outcome cache get failed")
			}
			rest = append(rest, key)
			continue
		}
		cached = append(cached, CheckResult{
			Key:       key,
			Status:    statusOf(outcome.Available),
			FromCache: true,
		})
	}

	return cached, rest
}

// emit streams results to the aggregator. Fresh terminal outcomes are fed
// back into the cache; results that came from the cache are not re-stored.
func (w *Worker) emit(ctx context.Context, results []CheckResult, fromCache bool) error {
	for _, res := range results {
		select {
		case w.results <- res:
		case <-ctx.Done():
			return ctx.Err()
		}

		if w.cache != nil && !fromCache && res.Status != StatusError {
			if err := w.cache.Set(ctx, res.Key, res.Status == StatusAvailable); err != nil {
				w.logger.Warn().Err(err).Str("key", res.Key).Msg("Outcome cache set failed")
			}
		}
	}
	return nil
}
