package ledger

import (
	"reflect"
	"testing"

	"github.com/spf13/afero"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []Entry
	}{
		{
			name:    "basic entries",
			content: "apple\ttimeout\nbanana\trate limited\n",
			expected: []Entry{
				{Key: "apple", Reason: "timeout"},
				{Key: "banana", Reason: "rate limited"},
			},
		},
		{
			name:    "blank lines ignored",
			content: "apple\ttimeout\n\n\nbanana\tserver error\n",
			expected: []Entry{
				{Key: "apple", Reason: "timeout"},
				{Key: "banana", Reason: "server error"},
			},
		},
		{
			name:    "line without tab keeps key",
			content: "apple\n",
			expected: []Entry{
				{Key: "apple", Reason: ""},
			},
		},
		{
			name:    "duplicate keys keep first reason",
			content: "apple\ttimeout\napple\tserver error\n",
			expected: []Entry{
				{Key: "apple", Reason: "timeout"},
			},
		},
		{
			name:    "reason may contain further tabs",
			content: "apple\treason\twith\ttabs\n",
			expected: []Entry{
				{Key: "apple", Reason: "reason\twith\ttabs"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeFile(t, fs, "/run/failed.tsv", tt.content)

			entries, err := Load(fs, "/run/failed.tsv")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !reflect.DeepEqual(entries, tt.expected) {
				t.Errorf("Load = %+v, want %+v", entries, tt.expected)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if _, err := Load(fs, "/does/not/exist.tsv"); err == nil {
		t.Error("Load of missing file should fail")
	}
}

func TestRebuild_ResolvedAndStillFailing(t *testing.T) {
	previous := []Entry{
		{Key: "apple", Reason: "timeout"},
		{Key: "banana", Reason: "rate limited"},
	}
	attempted := map[string]bool{"apple": true, "banana": true}
	resolved := map[string]bool{"apple": true}
	failures := map[string]string{"banana": "server error"}

	got := Rebuild(previous, attempted, resolved, failures)
	want := []Entry{{Key: "banana", Reason: "server error"}}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rebuild = %+v, want %+v", got, want)
	}
}

func TestRebuild_NothingResolvedReproducesLedger(t *testing.T) {
	previous := []Entry{
		{Key: "apple", Reason: "timeout"},
		{Key: "banana", Reason: "rate limited"},
	}
	attempted := map[string]bool{"apple": true, "banana": true}
	failures := map[string]string{
		"apple":  "timeout",
		"banana": "rate limited",
	}

	got := Rebuild(previous, attempted, map[string]bool{}, failures)

	if len(got) != len(previous) {
		t.Fatalf("Rebuild kept %d entries, want %d", len(got), len(previous))
	}
	byKey := make(map[string]string)
	for _, e := range got {
		byKey[e.Key] = e.Reason
	}
	for _, e := range previous {
		if byKey[e.Key] != e.Reason {
			t.Errorf("key %q reason = %q, want %q", e.Key, byKey[e.Key], e.Reason)
		}
	}
}

func TestRebuild_AllResolvedYieldsEmptyLedger(t *testing.T) {
	previous := []Entry{
		{Key: "apple", Reason: "timeout"},
		{Key: "banana", Reason: "rate limited"},
	}
	attempted := map[string]bool{"apple": true, "banana": true}
	resolved := map[string]bool{"apple": true, "banana": true}

	got := Rebuild(previous, attempted, resolved, map[string]string{})
	if len(got) != 0 {
		t.Errorf("Rebuild = %+v, want empty", got)
	}
}

func TestRebuild_UnattemptedEntriesSurvive(t *testing.T) {
	previous := []Entry{
		{Key: "apple", Reason: "timeout"},
		{Key: "banana", Reason: "rate limited"},
		{Key: "cherry", Reason: "dns failure"},
	}
	// Only apple was attempted; cherry was resolved by a concurrent
	// successful check without being retried.
	attempted := map[string]bool{"apple": true}
	resolved := map[string]bool{"apple": true, "cherry": true}

	got := Rebuild(previous, attempted, resolved, map[string]string{})
	want := []Entry{{Key: "banana", Reason: "rate limited"}}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rebuild = %+v, want %+v", got, want)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	entries := []Entry{
		{Key: "apple", Reason: "timeout"},
		{Key: "banana", Reason: "server error"},
	}

	if err := Write(fs, "/run/failed.tsv", entries); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	content, err := afero.ReadFile(fs, "/run/failed.tsv")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := "apple\ttimeout\nbanana\tserver error\n"
	if string(content) != want {
		t.Errorf("ledger content = %q, want %q", content, want)
	}

	loaded, err := Load(fs, "/run/failed.tsv")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, entries) {
		t.Errorf("round trip = %+v, want %+v", loaded, entries)
	}
}

func TestWrite_ReplacesExistingAndLeavesNoTempFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/run/failed.tsv", "old\tstale reason\n")

	if err := Write(fs, "/run/failed.tsv", []Entry{{Key: "new", Reason: "fresh"}}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	content, _ := afero.ReadFile(fs, "/run/failed.tsv")
	if string(content) != "new\tfresh\n" {
		t.Errorf("ledger content = %q, want %q", content, "new\tfresh\n")
	}

	if exists, _ := afero.Exists(fs, "/run/failed.tsv.tmp"); exists {
		t.Error("temp file should not remain after Write")
	}
}

func TestWrite_EmptyLedger(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/run/failed.tsv", "apple\ttimeout\n")

	if err := Write(fs, "/run/failed.tsv", nil); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	content, _ := afero.ReadFile(fs, "/run/failed.tsv")
	if string(content) != "" {
		t.Errorf("ledger content = %q, want empty", content)
	}
}
