package checker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func collectByKey(results []CheckResult) map[string]CheckResult {
	out := make(map[string]CheckResult, len(results))
	for _, res := range results {
		out[res.Key] = res
	}
	return out
}

func TestCheckGroup_BatchSuccess(t *testing.T) {
	fc := newFakeClient(map[string]bool{
		"apple":  true,
		"banana": false,
		"cherry": true,
	})
	fc.delay = 2 * time.Millisecond
	r := NewRequester(fc, zerolog.Nop())

	results := r.CheckGroup(context.Background(), []string{"apple", "banana", "cherry"}, nil)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	byKey := collectByKey(results)
	if byKey["apple"].Status != StatusAvailable {
		t.Errorf("apple = %s, want available", byKey["apple"].Status)
	}
	if byKey["banana"].Status != StatusTaken {
		t.Errorf("banana = %s, want taken", byKey["banana"].Status)
	}
	if byKey["cherry"].Status != StatusAvailable {
		t.Errorf("cherry = %s, want available", byKey["cherry"].Status)
	}

	batch, single := fc.counts()
	if batch != 1 || single != 0 {
		t.Errorf("batch=%d single=%d, want batch=1 single=0", batch, single)
	}
}

func TestCheckGroup_BatchLatencySplitEvenly(t *testing.T) {
	fc := newFakeClient(map[string]bool{"apple": true, "banana": false})
	fc.delay = 3 * time.Millisecond
	r := NewRequester(fc, zerolog.Nop())

	results := r.CheckGroup(context.Background(), []string{"apple", "banana"}, nil)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Latency != results[1].Latency {
		t.Errorf("batch latencies differ: %v vs %v", results[0].Latency, results[1].Latency)
	}
	if results[0].Latency <= 0 {
		t.Error("batch latency share should be positive")
	}
}

func TestCheckGroup_SingleKeySkipsBatch(t *testing.T) {
	fc := newFakeClient(map[string]bool{"apple": true})
	r := NewRequester(fc, zerolog.Nop())

	results := r.CheckGroup(context.Background(), []string{"apple"}, nil)

	if len(results) != 1 || results[0].Status != StatusAvailable {
		t.Fatalf("unexpected results: %+v", results)
	}
	batch, single := fc.counts()
	if batch != 0 || single != 1 {
		t.Errorf("batch=%d single=%d, want batch=0 single=1", batch, single)
	}
}

func TestCheckGroup_BatchFailureFallsBackPerKey(t *testing.T) {
	fc := newFakeClient(map[string]bool{
		"apple":  true,
		"banana": false,
		"cherry": true,
	})
	fc.batchErr = errors.New("batch endpoint broken")
	r := NewRequester(fc, zerolog.Nop())

	results := r.CheckGroup(context.Background(), []string{"apple", "banana", "cherry"}, nil)

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3 (every key gets an outcome)", len(results))
	}
	byKey := collectByKey(results)
	if byKey["apple"].Status != StatusAvailable || byKey["banana"].Status != StatusTaken {
		t.Errorf("fallback outcomes wrong: %+v", byKey)
	}

	batch, single := fc.counts()
	if batch != 1 {
		t.Errorf("batch calls = %d, want 1", batch)
	}
	if single != 3 {
		t.Errorf("single calls = %d, want 3", single)
	}
}

func TestCheckGroup_MissingKeysResolvedIndividually(t *testing.T) {
	fc := newFakeClient(map[string]bool{
		"apple":  true,
		"banana": false,
		"cherry": true,
	})
	fc.omitFromBatch = map[string]bool{"banana": true}
	r := NewRequester(fc, zerolog.Nop())

	results := r.CheckGroup(context.Background(), []string{"apple", "banana", "cherry"}, nil)

	byKey := collectByKey(results)
	if byKey["banana"].Status != StatusTaken {
		t.Errorf("banana = %s, want taken via single fallback", byKey["banana"].Status)
	}

	batch, single := fc.counts()
	if batch != 1 || single != 1 {
		t.Errorf("batch=%d single=%d, want batch=1 single=1", batch, single)
	}
}

func TestCheckGroup_TerminalSingleErrorBecomesErrorResult(t *testing.T) {
	fc := newFakeClient(map[string]bool{"apple": true})
	fc.singleErrs = map[string]error{"banana": errors.New("retry attempts exhausted after 4 attempts")}
	r := NewRequester(fc, zerolog.Nop())

	results := r.CheckGroup(context.Background(), []string{"apple", "banana"}, nil)

	byKey := collectByKey(results)
	if byKey["apple"].Status != StatusAvailable {
		t.Errorf("apple = %s, want available", byKey["apple"].Status)
	}
	if byKey["banana"].Status != StatusError {
		t.Fatalf("banana = %s, want error", byKey["banana"].Status)
	}
	if byKey["banana"].Reason == "" {
		t.Error("error result should carry the failure reason")
	}
}

func TestCheckGroup_EmptyGroup(t *testing.T) {
	r := NewRequester(newFakeClient(nil), zerolog.Nop())

	if results := r.CheckGroup(context.Background(), nil, nil); results != nil {
		t.Errorf("empty group produced results: %+v", results)
	}
}
