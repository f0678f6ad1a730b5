package checker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/keycheck-io/keycheck/pkg/ledger"
	"github.com/keycheck-io/keycheck/pkg/limiter"
	"github.com/keycheck-io/keycheck/pkg/shaping"
)

// Prometheus metrics for run aggregation.
var (
	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keycheck_results_total",
		Help: "Total check results by outcome",
	}, []string{"status"})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "keycheck_run_duration_seconds",
		Help:    "Total run duration in seconds",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})
)

// RunConfig is the immutable engine configuration for one run. Transport
// retry/backoff limits live in the lookup client's own config and the
// inter-request delay in the shaping policy's; RunConfig carries everything
// the orchestrator and workers need.
type RunConfig struct {
	// Workers is the number of parallel shard workers.
	Workers int

	// Concurrency bounds in-flight batch groups per worker.
	Concurrency int

	// BatchSize is the number of keys per HTTP batch group.
	BatchSize int

	// MinLength and MaxLength are the inclusive key length bounds.
	MinLength int
	MaxLength int

	// Offset skips the first N keys of the sorted, deduplicated input.
	Offset int

	// SkipThrough skips through the named key (case-insensitive match).
	// Takes precedence over Offset. A missing key aborts the run.
	SkipThrough string

	// RetryFailed makes the failure ledger the entire input set and
	// rewrites it at run end.
	RetryFailed bool

	// Append opens the output sinks in append mode instead of truncating.
	Append bool

	// AvailablePath and TakenPath are the newline-delimited key sinks.
	AvailablePath string
	TakenPath     string

	// LedgerPath is the failure ledger (key<TAB>reason lines). In normal
	// runs failures stream to it like a sink; in retry mode it is read as
	// input and atomically rewritten at run end.
	LedgerPath string
}

// DefaultRunConfig returns a safe default configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Workers:       4,
		Concurrency:   8,
		BatchSize:     10,
		MinLength:     3,
		MaxLength:     10,
		AvailablePath: "available.txt",
		TakenPath:     "taken.txt",
		LedgerPath:    "failed.tsv",
	}
}

// Validate rejects nonsensical configuration as an input error, before any
// network activity.
func (c RunConfig) Validate() error {
	if c.Workers < 1 {
		return inputErrorf("workers must be >= 1 (got %d)", c.Workers)
	}
	if c.Concurrency < 1 {
		return inputErrorf("concurrency must be >= 1 (got %d)", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return inputErrorf("batch size must be >= 1 (got %d)", c.BatchSize)
	}
	if c.MinLength < 1 || c.MaxLength < c.MinLength {
		return inputErrorf("invalid key length bounds [%d, %d]", c.MinLength, c.MaxLength)
	}
	if c.Offset < 0 {
		return inputErrorf("offset must be >= 0 (got %d)", c.Offset)
	}
	if c.AvailablePath == "" || c.TakenPath == "" || c.LedgerPath == "" {
		return inputErrorf("output sink paths must not be empty")
	}
	return nil
}

// Runner is the orchestrator: it prepares and shards the input, spawns one
// worker per shard, serializes all result events into the output sinks, and
// maintains the failure ledger. Sink writes happen on a single goroutine;
// that is the one mandatory mutual-exclusion point of the engine.
type Runner struct {
	cfg    RunConfig
	client LookupClient
	policy shaping.Policy
	cache  OutcomeCache
	fs     afero.Fs
	logger zerolog.Logger
}

// NewRunner creates a runner. A nil policy disables request shaping; a nil
// fs uses the real filesystem.
func NewRunner(cfg RunConfig, client LookupClient, policy shaping.Policy, fs afero.Fs) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("lookup client is required")
	}
	if policy == nil {
		policy = shaping.Noop{}
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Runner{
		cfg:    cfg,
		client: client,
		policy: policy,
		fs:     fs,
		logger: log.With().Str("component", "runner").Logger(),
	}, nil
}

// SetCache enables the optional outcome cache for this runner's workers.
func (r *Runner) SetCache(c OutcomeCache) {
	r.cache = c
}

// Run executes one full check run over rawKeys. In retry mode rawKeys is
// ignored and the failure ledger supplies the input. The returned stats are
// valid even when err is non-nil: flushed results stay flushed.
func (r *Runner) Run(ctx context.Context, rawKeys []string) (*RunStats, error) {
	start := time.Now()
	defer func() {
		runDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}

	var previous []ledger.Entry
	if r.cfg.RetryFailed {
		var err error
		previous, err = ledger.Load(r.fs, r.cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("load failure ledger: %w", err)
		}
		rawKeys = ledger.Keys(previous)
		r.logger.Info().
			Int("keys", len(rawKeys)).
			Str("ledger", r.cfg.LedgerPath).
			Msg("Retry mode: ledger drives the input set")
	}

	keys := PrepareKeys(rawKeys, r.cfg.MinLength, r.cfg.MaxLength, r.logger)

	startIdx, err := resumeStart(keys, r.cfg.Offset, r.cfg.SkipThrough)
	if err != nil {
		return nil, err
	}
	if startIdx > 0 {
		r.logger.Info().
			Int("skipped", startIdx).
			Int("remaining", len(keys)-startIdx).
			Msg("Resuming after skipped keys")
	}
	keys = keys[startIdx:]

	sinks, err := r.openSinks()
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Int("keys", len(keys)).
		Int("workers", r.cfg.Workers).
		Int("concurrency", r.cfg.Concurrency).
		Int("batch_size", r.cfg.BatchSize).
		Msg("Run starting")

	results := make(chan CheckResult, r.cfg.Workers*r.cfg.Concurrency)
	shards := Partition(keys, r.cfg.Workers)

	// Limiters are built before any worker spawns so a construction failure
	// never strands running workers on an undrained channel.
	limiters := make([]*limiter.Limiter, len(shards))
	for id := range shards {
		lim, err := limiter.New(r.cfg.Concurrency)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		limiters[id] = lim
	}

	g, gctx := errgroup.WithContext(ctx)
	for id, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		requester := NewRequester(r.client, r.logger)
		w := newWorker(id, shard, r.cfg.BatchSize, requester, limiters[id], r.policy, r.cache, results, r.logger)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	workersDone := make(chan error, 1)
	go func() {
		err := g.Wait()
		close(results)
		workersDone <- err
	}()

	// Single-writer aggregation: all sink writes and ledger bookkeeping
	// happen here.
	stats := &RunStats{}
	attempted := make(map[string]bool)
	resolved := make(map[string]bool)
	failures := make(map[string]string)
	var totalLatency time.Duration
	var measured int

	for res := range results {
		attempted[res.Key] = true
		resultsTotal.WithLabelValues(string(res.Status)).Inc()

		stats.Total++
		switch res.Status {
		case StatusAvailable:
			stats.Available++
			resolved[res.Key] = true
			delete(failures, res.Key)
			sinks.writeAvailable(res.Key)
		case StatusTaken:
			stats.Taken++
			resolved[res.Key] = true
			delete(failures, res.Key)
			sinks.writeTaken(res.Key)
		case StatusError:
			stats.Errors++
			failures[res.Key] = res.Reason
			if !r.cfg.RetryFailed {
				sinks.writeFailure(res.Key, res.Reason)
			}
		}

		if res.FromCache {
			stats.CacheHits++
		}
		if res.Latency > 0 {
			measured++
			totalLatency += res.Latency
			if stats.MinLatency == 0 || res.Latency < stats.MinLatency {
				stats.MinLatency = res.Latency
			}
			if res.Latency > stats.MaxLatency {
				stats.MaxLatency = res.Latency
			}
		}
	}

	workerErr := <-workersDone

	// Sinks flush unconditionally: results already emitted stay valid even
	// when the run was cancelled or a worker faulted.
	if err := sinks.Close(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to flush output sinks")
		if workerErr == nil {
			workerErr = err
		}
	}

	if measured > 0 {
		stats.AvgLatency = totalLatency / time.Duration(measured)
	}
	stats.Elapsed = time.Since(start)

	// The rebuilt ledger is consistent even for a partial run: resolved
	// keys are genuinely resolved, unattempted keys keep their previous
	// reason. The atomic write never leaves a corrupt file behind.
	if r.cfg.RetryFailed {
		rebuilt := ledger.Rebuild(previous, attempted, resolved, failures)
		if err := ledger.Write(r.fs, r.cfg.LedgerPath, rebuilt); err != nil {
			r.logger.Error().Err(err).Msg("Failed to rewrite failure ledger")
			if workerErr == nil {
				workerErr = err
			}
		} else {
			r.logger.Info().
				Int("previous", len(previous)).
				Int("remaining", len(rebuilt)).
				Msg("Failure ledger rewritten")
		}
	}

	r.logger.Info().
		Int("total", stats.Total).
		Int("available", stats.Available).
		Int("taken", stats.Taken).
		Int("errors", stats.Errors).
		Int("cache_hits", stats.CacheHits).
		Dur("elapsed", stats.Elapsed).
		Msg("Run finished")

	return stats, workerErr
}

// sinkSet owns the three output sinks for one run.
type sinkSet struct {
	available afero.File
	taken     afero.File
	failed    afero.File // nil in retry mode
	logger    zerolog.Logger
}

// openSinks opens the output files per the configured mode. The failure
// sink stays closed in retry mode; the ledger is rewritten atomically at
// run end instead of being streamed.
func (r *Runner) openSinks() (*sinkSet, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if r.cfg.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	s := &sinkSet{logger: r.logger}

	var err error
	if s.available, err = r.fs.OpenFile(r.cfg.AvailablePath, flags, 0o644); err != nil {
		return nil, fmt.Errorf("open available sink: %w", err)
	}
	if s.taken, err = r.fs.OpenFile(r.cfg.TakenPath, flags, 0o644); err != nil {
		s.available.Close()
		return nil, fmt.Errorf("open taken sink: %w", err)
	}
	if !r.cfg.RetryFailed {
		if s.failed, err = r.fs.OpenFile(r.cfg.LedgerPath, flags, 0o644); err != nil {
			s.available.Close()
			s.taken.Close()
			return nil, fmt.Errorf("open failure sink: %w", err)
		}
	}

	return s, nil
}

func (s *sinkSet) writeAvailable(key string) {
	s.writeLine(s.available, key+"\n")
}

func (s *sinkSet) writeTaken(key string) {
	s.writeLine(s.taken, key+"\n")
}

func (s *sinkSet) writeFailure(key, reason string) {
	s.writeLine(s.failed, key+"\t"+reason+"\n")
}

func (s *sinkSet) writeLine(f afero.File, line string) {
	if f == nil {
		return
	}
	if _, err := f.WriteString(line); err != nil {
		s.logger.Error().Err(err).Msg("Sink write failed")
	}
}

// Close flushes and closes every open sink.
func (s *sinkSet) Close() error {
	var firstErr error
	for _, f := range []afero.File{s.available, s.taken, s.failed} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
