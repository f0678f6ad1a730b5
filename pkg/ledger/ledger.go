// Package ledger persists the set of keys whose last check failed, as
// newline-delimited "key<TAB>reason" records. A retry run treats the ledger
// keys as its entire input and rewrites the file atomically at run end.
package ledger

import (
	"bufio"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Entry is one ledger record: a key and its last-seen failure reason.
type Entry struct {
	Key    string
	Reason string
}

// Load reads a ledger file. Blank lines are ignored; a line without a tab
// is kept as a key with an empty reason, so a hand-edited ledger still
// drives a retry run.
func Load(fs afero.Fs, path string) ([]Entry, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	var entries []Entry
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		key, reason, _ := strings.Cut(line, "\t")
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		entries = append(entries, Entry{Key: key, Reason: reason})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	return entries, nil
}

// Keys returns the key column of entries, in file order.
func Keys(entries []Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

// Rebuild computes the ledger for the end of a retry run:
//
//	(previous − resolved − attempted) ∪ failures
//
// Previous entries survive only if their key was neither attempted this run
// nor resolved; a key resolves when any check this run observed a terminal
// Available/Taken outcome for it, whether or not it was explicitly retried.
// Current failures are appended in sorted key order for deterministic output.
func Rebuild(previous []Entry, attempted map[string]bool, resolved map[string]bool, failures map[string]string) []Entry {
	var out []Entry
	for _, e := range previous {
		if attempted[e.Key] || resolved[e.Key] {
			continue
		}
		if _, failing := failures[e.Key]; failing {
			continue
		}
		out = append(out, e)
	}

	keys := make([]string, 0, len(failures))
	for key := range failures {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, Entry{Key: key, Reason: failures[key]})
	}

	return out
}

// Write atomically replaces the ledger at path: entries are written to a
// temporary file in the same directory, then renamed over the target. An
// interrupted write never leaves a truncated ledger behind.
func Write(fs afero.Fs, path string, entries []Entry) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", e.Key, e.Reason); err != nil {
			f.Close()
			fs.Remove(tmpPath)
			return fmt.Errorf("write ledger entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		fs.Remove(tmpPath)
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("close temp ledger: %w", err)
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("replace ledger: %w", err)
	}

	return nil
}
