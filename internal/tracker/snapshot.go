package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"dirsafe/internal/fsutil"
)

// snapshotVersion is the format version written into snapshot documents.
const snapshotVersion = "1.0"

// nowFunc is swapped out in tests to pin snapshot timestamps.
var nowFunc = time.Now

// snapshotDoc is the on-disk form of one generation.
type snapshotDoc struct {
	Version   string         `json:"version"`
	Timestamp string         `json:"timestamp"`
	Files     []snapshotFile `json:"files"`
}

type snapshotFile struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	IsDirectory  bool   `json:"isDirectory"`
	Checksum     string `json:"checksum"`
	LastModified string `json:"lastModified"`
}

// SaveSnapshot serializes the current generation to path. Entries are
// written in sorted path order so identical states produce identical
// documents.
func (t *Tracker) SaveSnapshot(path string) error {
	doc := snapshotDoc{
		Version:   snapshotVersion,
		Timestamp: fsutil.FormatTimestamp(nowFunc()),
	}

	paths := make([]string, 0, len(t.current))
	for p := range t.current {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		rec := t.current[p]
		doc.Files = append(doc.Files, snapshotFile{
			Path:         rec.Path,
			Size:         rec.Size,
			IsDirectory:  rec.IsDirectory,
			Checksum:     rec.Checksum,
			LastModified: fsutil.FormatTimestamp(rec.LastModified),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	return nil
}

// LoadPrevious populates the previous generation from a snapshot
// document. A missing file is not an error: absence of history means an
// empty previous generation and every scanned path classifies as new.
func (t *Tracker) LoadPrevious(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.previous = make(map[string]FileRecord)
			return nil
		}
		return fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing snapshot %s: %w", path, err)
	}

	prev := make(map[string]FileRecord, len(doc.Files))
	for _, f := range doc.Files {
		mtime, err := fsutil.ParseTimestamp(f.LastModified)
		if err != nil {
			t.logger.Warn("dropping snapshot entry with bad timestamp", "path", f.Path, "error", err)
			continue
		}
		prev[f.Path] = FileRecord{
			Path:         f.Path,
			Size:         f.Size,
			IsDirectory:  f.IsDirectory,
			Checksum:     f.Checksum,
			LastModified: mtime,
		}
	}

	t.previous = prev
	return nil
}
