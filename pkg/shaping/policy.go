// Package shaping implements the best-effort request shaping policy: it
// rotates client-identity headers and injects delays between requests to
// reduce remote-service throttling. Shaping has no correctness role; the
// checker behaves identically with the Noop policy, only remote friction
// changes.
package shaping

import (
	"context"
	"math/rand"
	"time"
)

// Directive describes how a single outgoing request should be shaped.
type Directive struct {
	// Headers are set on the request before it is sent.
	Headers map[string]string

	// Delay is waited before the request is issued.
	Delay time.Duration
}

// Policy produces a shaping directive for a request. Header selection must
// be deterministic in (workerID, seq) so repeated runs with the same
// per-worker request counters are reproducible; the delay may be random.
type Policy interface {
	Shape(workerID, seq int) Directive
}

// defaultUserAgents is the fixed identity pool rotated by the default policy.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// defaultLanguages is rotated alongside the user agent pool.
var defaultLanguages = []string{
	"en-US,en;q=0.9",
	"en-GB,en;q=0.8",
	"en-US,en;q=0.5",
	"de-DE,de;q=0.9,en;q=0.7",
}

// Config holds rotating policy configuration.
type Config struct {
	// UserAgents overrides the built-in identity pool when non-empty.
	UserAgents []string

	// MinDelay and MaxDelay bound the random inter-request delay.
	MinDelay time.Duration
	MaxDelay time.Duration

	// FixedDelay, when set, replaces the random delay entirely.
	FixedDelay time.Duration
}

// DefaultConfig returns the default shaping configuration.
func DefaultConfig() Config {
	return Config{
		MinDelay: 50 * time.Millisecond,
		MaxDelay: 250 * time.Millisecond,
	}
}

// Rotating is the default Policy. It selects identity headers
// deterministically from a fixed pool, varied by worker identity and the
// worker's request counter.
type Rotating struct {
	cfg        Config
	userAgents []string
	languages  []string
}

// NewRotating creates a rotating shaping policy.
func NewRotating(cfg Config) *Rotating {
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Rotating{
		cfg:        cfg,
		userAgents: agents,
		languages:  defaultLanguages,
	}
}

// Shape implements Policy.
func (r *Rotating) Shape(workerID, seq int) Directive {
	// Offset by worker identity so concurrent workers do not present the
	// same identity in lockstep.
	idx := workerID*31 + seq
	if idx < 0 {
		idx = -idx
	}

	headers := map[string]string{
		"User-Agent":      r.userAgents[idx%len(r.userAgents)],
		"Accept-Language": r.languages[idx%len(r.languages)],
		"Accept":          "application/json",
	}

	return Directive{
		Headers: headers,
		Delay:   r.delay(),
	}
}

func (r *Rotating) delay() time.Duration {
	if r.cfg.FixedDelay > 0 {
		return r.cfg.FixedDelay
	}
	span := r.cfg.MaxDelay - r.cfg.MinDelay
	if span <= 0 {
		return r.cfg.MinDelay
	}
	return r.cfg.MinDelay + time.Duration(rand.Int63n(int64(span)))
}

// Noop is a Policy that applies no headers and no delay.
type Noop struct{}

// Shape implements Policy.
func (Noop) Shape(workerID, seq int) Directive {
	return Directive{}
}

// Wait sleeps for the directive's delay, returning early if ctx is
// cancelled.
func Wait(ctx context.Context, d Directive) error {
	if d.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(d.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
