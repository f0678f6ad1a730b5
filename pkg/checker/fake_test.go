package checker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/keycheck-io/keycheck/pkg/cache"
)

// fakeClient is a scriptable LookupClient for engine tests.
type fakeClient struct {
	mu          sync.Mutex
	batchCalls  int
	singleCalls int
	singleKeys  []string

	// availability holds the definitive outcome per key.
	availability map[string]bool

	// singleErrs makes single checks for these keys fail terminally.
	singleErrs map[string]error

	// batchErr makes every batch call fail terminally.
	batchErr error

	// omitFromBatch drops keys from batch responses, forcing the
	// per-key fallback for them.
	omitFromBatch map[string]bool

	// delay simulates network time on every call.
	delay time.Duration
}

func newFakeClient(availability map[string]bool) *fakeClient {
	return &fakeClient{availability: availability}
}

func (f *fakeClient) Check(ctx context.Context, key string, headers map[string]string) (bool, error) {
	f.mu.Lock()
	f.singleCalls++
	f.singleKeys = append(f.singleKeys, key)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err, ok := f.singleErrs[key]; ok {
		return false, err
	}
	if available, ok := f.availability[key]; ok {
		return available, nil
	}
	return false, fmt.Errorf("no fixture for key %q", key)
}

func (f *fakeClient) CheckBatch(ctx context.Context, keys []string, headers map[string]string) (map[string]bool, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.batchErr != nil {
		return nil, f.batchErr
	}

	out := make(map[string]bool)
	for _, key := range keys {
		if f.omitFromBatch[key] {
			continue
		}
		if _, failing := f.singleErrs[key]; failing {
			continue
		}
		if available, ok := f.availability[key]; ok {
			out[key] = available
		}
	}
	return out, nil
}

func (f *fakeClient) counts() (batch, single int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCalls, f.singleCalls
}

// fakeOutcomeCache is an in-memory OutcomeCache for worker and runner tests.
type fakeOutcomeCache struct {
	mu       sync.Mutex
	outcomes map[string]bool
	sets     map[string]bool
}

func newFakeOutcomeCache(outcomes map[string]bool) *fakeOutcomeCache {
	if outcomes == nil {
		outcomes = make(map[string]bool)
	}
	return &fakeOutcomeCache{
		outcomes: outcomes,
		sets:     make(map[string]bool),
	}
}

func (f *fakeOutcomeCache) Get(ctx context.Context, key string) (*cache.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if available, ok := f.outcomes[key]; ok {
		return &cache.Outcome{Key: key, Available: available, CheckedAt: time.Now()}, nil
	}
	return nil, cache.ErrCacheMiss
}

func (f *fakeOutcomeCache) Set(ctx context.Context, key string, available bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[key] = available
	f.sets[key] = true
	return nil
}
