// Package tracker detects filesystem changes between two generations of
// a directory snapshot. A fresh scan produces the current generation;
// the previous generation is loaded from a persisted snapshot document.
// Diffing the two yields the new / modified / deleted sets that drive
// incremental backups.
package tracker

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"dirsafe/internal/fsutil"
)

// Logger is the subset of the application logger the tracker needs for
// reporting skipped entries. Satisfied by backup.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

// FileRecord describes one tracked path within a generation.
// Checksum is empty for directories; their identity is size+mtime only.
type FileRecord struct {
	Path         string
	Size         int64
	IsDirectory  bool
	Checksum     string
	LastModified time.Time
}

// Tracker holds the previous and current generations, keyed by path
// relative to the scan root. It is not safe for concurrent use; the
// orchestrator drives it from a single goroutine.
type Tracker struct {
	current  map[string]FileRecord
	previous map[string]FileRecord
	logger   Logger
}

// New creates a Tracker with empty generations.
func New(logger Logger) *Tracker {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Tracker{
		current:  make(map[string]FileRecord),
		previous: make(map[string]FileRecord),
		logger:   logger,
	}
}

// Scan replaces the current generation with a fresh recursive walk of
// root. Each regular file's SHA-256 checksum is computed; directories
// get an empty checksum. A per-entry read error is logged and the entry
// skipped; an unreadable root fails the whole scan.
func (t *Tracker) Scan(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("scan root is not a directory: %s", root)
	}

	next := make(map[string]FileRecord)

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			t.logger.Warn("skipping unreadable entry", "path", p, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := fsutil.RelativePath(root, p)
		if err != nil {
			return err
		}

		rec, err := t.record(p, rel, d)
		if err != nil {
			t.logger.Warn("skipping entry", "path", p, "error", err)
			return nil
		}
		next[rel] = rec
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", root, err)
	}

	t.current = next
	return nil
}

func (t *Tracker) record(full, rel string, d fs.DirEntry) (FileRecord, error) {
	info, err := d.Info()
	if err != nil {
		return FileRecord{}, fmt.Errorf("stat %s: %w", full, err)
	}

	rec := FileRecord{
		Path:         rel,
		IsDirectory:  d.IsDir(),
		LastModified: info.ModTime().Truncate(time.Second),
	}

	if d.IsDir() {
		return rec, nil
	}
	if !d.Type().IsRegular() {
		return FileRecord{}, fmt.Errorf("not a regular file: %s", full)
	}

	rec.Size = info.Size()
	rec.Checksum, err = fsutil.SHA256File(full)
	if err != nil {
		return FileRecord{}, err
	}
	return rec, nil
}

// Record returns the current-generation record for a relative path.
func (t *Tracker) Record(path string) (FileRecord, bool) {
	rec, ok := t.current[path]
	return rec, ok
}

// AllPaths returns every path in the current generation, sorted.
// Parents sort before their children, so consumers can create
// directories in order.
func (t *Tracker) AllPaths() []string {
	out := make([]string, 0, len(t.current))
	for p := range t.current {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// NewPaths returns paths present in the current generation but absent
// from the previous one, sorted.
func (t *Tracker) NewPaths() []string {
	var out []string
	for p := range t.current {
		if _, ok := t.previous[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// ModifiedPaths returns paths present in both generations whose size,
// modification time, or checksum differ, sorted.
func (t *Tracker) ModifiedPaths() []string {
	var out []string
	for p, cur := range t.current {
		prev, ok := t.previous[p]
		if !ok {
			continue
		}
		if !sameRecord(cur, prev) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// DeletedPaths returns paths present in the previous generation but
// absent from the current one, sorted.
func (t *Tracker) DeletedPaths() []string {
	var out []string
	for p := range t.previous {
		if _, ok := t.current[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// ChangedPaths returns the union of new and modified paths, sorted.
func (t *Tracker) ChangedPaths() []string {
	var out []string
	for p, cur := range t.current {
		prev, ok := t.previous[p]
		if !ok || !sameRecord(cur, prev) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// HasChanged reports whether a single relative path is new, modified,
// or deleted between the two generations.
func (t *Tracker) HasChanged(path string) bool {
	cur, inCur := t.current[path]
	prev, inPrev := t.previous[path]
	if !inCur {
		return inPrev // deleted
	}
	if !inPrev {
		return true // new
	}
	return !sameRecord(cur, prev)
}

// TotalFiles returns the number of entries in the current generation.
func (t *Tracker) TotalFiles() int {
	return len(t.current)
}

// TotalSize returns the summed size of regular files in the current
// generation.
func (t *Tracker) TotalSize() int64 {
	var total int64
	for _, rec := range t.current {
		if !rec.IsDirectory {
			total += rec.Size
		}
	}
	return total
}

// ChangedCount returns len(ChangedPaths()) without building the slice.
func (t *Tracker) ChangedCount() int {
	n := 0
	for p, cur := range t.current {
		prev, ok := t.previous[p]
		if !ok || !sameRecord(cur, prev) {
			n++
		}
	}
	return n
}

// Clear drops both generations.
func (t *Tracker) Clear() {
	t.current = make(map[string]FileRecord)
	t.previous = make(map[string]FileRecord)
}

// sameRecord compares two records for change detection: size first,
// then mtime, then checksum. Directories compare by size+mtime only.
func sameRecord(cur, prev FileRecord) bool {
	if cur.Size != prev.Size {
		return false
	}
	if !cur.LastModified.Equal(prev.LastModified) {
		return false
	}
	if cur.IsDirectory {
		return true
	}
	return cur.Checksum == prev.Checksum
}
