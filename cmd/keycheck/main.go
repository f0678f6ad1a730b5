package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/keycheck-io/keycheck/pkg/cache"
	"github.com/keycheck-io/keycheck/pkg/checker"
	"github.com/keycheck-io/keycheck/pkg/client"
	"github.com/keycheck-io/keycheck/pkg/logging"
	"github.com/keycheck-io/keycheck/pkg/shaping"
)

var version = "dev"

type cliOptions struct {
	inputPath string
	baseURL   string

	workers     int
	concurrency int
	batchSize   int
	minLength   int
	maxLength   int

	offset      int
	skipThrough string
	retryFailed bool
	appendMode  bool

	availablePath string
	takenPath     string
	ledgerPath    string

	maxRetries       int
	timeout          time.Duration
	initialBackoff   time.Duration
	rateLimitBackoff time.Duration
	delay            time.Duration

	redisAddr string
	cacheTTL  time.Duration

	logLevel string
	pretty   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	defaults := checker.DefaultRunConfig()

	cmd := &cobra.Command{
		Use:     "keycheck",
		Short:   "Concurrent key-availability checker",
		Long:    "keycheck queries a remote availability service for a list of keys\nand splits the outcomes into available/taken/failed output files.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
		SilenceUsage: true,
	}

	f := cmd.Flags()
	f.StringVarP(&opts.inputPath, "input", "i", "", "input file with one key per line (- for stdin)")
	f.StringVar(&opts.baseURL, "base-url", "", "base URL of the availability service (required)")

	f.IntVar(&opts.workers, "workers", defaults.Workers, "number of parallel shard workers")
	f.IntVar(&opts.concurrency, "concurrency", defaults.Concurrency, "max in-flight batch groups per worker")
	f.IntVar(&opts.batchSize, "batch-size", defaults.BatchSize, "keys per batch request")
	f.IntVar(&opts.minLength, "min-length", defaults.MinLength, "minimum key length (inclusive)")
	f.IntVar(&opts.maxLength, "max-length", defaults.MaxLength, "maximum key length (inclusive)")

	f.IntVar(&opts.offset, "offset", 0, "skip the first N keys of the sorted input")
	f.StringVar(&opts.skipThrough, "skip-through", "", "skip through the named key (wins over --offset)")
	f.BoolVar(&opts.retryFailed, "retry", false, "retry the keys in the failure ledger instead of reading input")
	f.BoolVar(&opts.appendMode, "append", false, "append to output files instead of truncating")

	f.StringVar(&opts.availablePath, "available", defaults.AvailablePath, "output file for available keys")
	f.StringVar(&opts.takenPath, "taken", defaults.TakenPath, "output file for taken keys")
	f.StringVar(&opts.ledgerPath, "ledger", defaults.LedgerPath, "failure ledger file (key<TAB>reason)")

	f.IntVar(&opts.maxRetries, "max-retries", 3, "transport retries per request")
	f.DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request timeout")
	f.DurationVar(&opts.initialBackoff, "initial-backoff", time.Second, "initial retry backoff")
	f.DurationVar(&opts.rateLimitBackoff, "rate-limit-backoff", 5*time.Second, "initial backoff after a 429")
	f.DurationVar(&opts.delay, "delay", 0, "fixed shaping delay before every request group")

	f.StringVar(&opts.redisAddr, "redis", "", "Redis address for the outcome cache (empty disables caching)")
	f.DurationVar(&opts.cacheTTL, "cache-ttl", time.Hour, "outcome cache TTL")

	f.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	f.BoolVar(&opts.pretty, "pretty", false, "human-readable console log output")

	cmd.MarkFlagRequired("base-url")

	return cmd
}

func run(parent context.Context, opts *cliOptions) error {
	logging.Setup(logging.Config{Level: logging.LogLevel(opts.logLevel), Pretty: opts.pretty})
	logger := logging.NewLogger("cli")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lookup, err := client.New(client.Config{
		BaseURL:          opts.baseURL,
		Timeout:          opts.timeout,
		MaxRetries:       opts.maxRetries,
		InitialBackoff:   opts.initialBackoff,
		RateLimitBackoff: opts.rateLimitBackoff,
	})
	if err != nil {
		return fmt.Errorf("create lookup client: %w", err)
	}

	cfg := checker.RunConfig{
		Workers:       opts.workers,
		Concurrency:   opts.concurrency,
		BatchSize:     opts.batchSize,
		MinLength:     opts.minLength,
		MaxLength:     opts.maxLength,
		Offset:        opts.offset,
		SkipThrough:   opts.skipThrough,
		RetryFailed:   opts.retryFailed,
		Append:        opts.appendMode,
		AvailablePath: opts.availablePath,
		TakenPath:     opts.takenPath,
		LedgerPath:    opts.ledgerPath,
	}

	policy := shaping.NewRotating(shaping.Config{FixedDelay: opts.delay})

	runner, err := checker.NewRunner(cfg, lookup, policy, afero.NewOsFs())
	if err != nil {
		return err
	}

	if opts.redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to Redis at %s: %w", opts.redisAddr, err)
		}
		defer redisClient.Close()

		mgr, err := cache.NewManager(redisClient, opts.cacheTTL)
		if err != nil {
			return fmt.Errorf("create outcome cache: %w", err)
		}
		runner.SetCache(mgr)
		logger.Info().Str("addr", opts.redisAddr).Msg("Outcome cache enabled")
	}

	var keys []string
	if !opts.retryFailed {
		keys, err = readKeys(opts.inputPath)
		if err != nil {
			return err
		}
	}

	stats, err := runner.Run(ctx, keys)
	if err != nil {
		log.Error().Err(err).Msg("Run failed")
		return err
	}

	fmt.Printf("checked %d keys in %s: %d available, %d taken, %d failed\n",
		stats.Total, stats.Elapsed.Round(time.Millisecond),
		stats.Available, stats.Taken, stats.Errors)
	return nil
}

// readKeys reads one key per line from path, or stdin when path is "-".
func readKeys(path string) ([]string, error) {
	var r io.Reader
	switch path {
	case "":
		return nil, fmt.Errorf("--input is required unless --retry is set")
	case "-":
		r = os.Stdin
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var keys []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		keys = append(keys, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return keys, nil
}
