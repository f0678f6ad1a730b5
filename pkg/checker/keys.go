// Package checker implements the concurrent sharded query engine: input
// preparation, round-robin sharding, per-shard workers with bounded
// concurrency, the batch requester with single-key fallback, and the
// orchestrating runner that serializes results into output sinks.
package checker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// InputError reports invalid run input. It is surfaced before any network
// activity starts and aborts the run.
type InputError struct {
	Message string
}

// Error implements the error interface.
func (e *InputError) Error() string {
	return "input error: " + e.Message
}

// inputErrorf builds an InputError from a format string.
func inputErrorf(format string, args ...any) *InputError {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// PrepareKeys normalizes a raw key list into run input: keys are trimmed,
// filtered to the configured length bounds, deduplicated, and sorted
// case-insensitively. Filtered keys are logged, not errors; the remote
// service would reject them anyway.
func PrepareKeys(raw []string, minLen, maxLen int, logger zerolog.Logger) []string {
	seen := make(map[string]bool, len(raw))
	keys := make([]string, 0, len(raw))

	for _, key := range raw {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if len(key) < minLen || len(key) > maxLen {
			logger.Debug().
				Str("key", key).
				Int("min_length", minLen).
				Int("max_length", maxLen).
				Msg("Key filtered by length bounds")
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li != lj {
			return li < lj
		}
		return keys[i] < keys[j]
	})

	return keys
}

// resumeStart returns the index at which processing begins. A non-empty
// skipThrough wins over offset: processing starts after the named key
// (case-insensitive match); a missing key is an input error. Otherwise the
// first offset keys are skipped.
func resumeStart(keys []string, offset int, skipThrough string) (int, error) {
	if skipThrough != "" {
		for i, key := range keys {
			if strings.EqualFold(key, skipThrough) {
				return i + 1, nil
			}
		}
		return 0, inputErrorf("resume key %q not found in input", skipThrough)
	}

	if offset < 0 {
		return 0, inputErrorf("resume offset must be >= 0 (got %d)", offset)
	}
	if offset > len(keys) {
		return len(keys), nil
	}
	return offset, nil
}
