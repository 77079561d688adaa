// Package store is the backup catalog: an in-memory registry of backup
// records with chain navigation, integrity checksums, and pluggable
// persistence (JSON document or SQLite).
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// BackupKind distinguishes full backups from incrementals.
type BackupKind string

const (
	KindFull        BackupKind = "full"
	KindIncremental BackupKind = "incremental"
)

// Valid reports whether k is a known kind.
func (k BackupKind) Valid() bool {
	return k == KindFull || k == KindIncremental
}

var (
	// ErrDuplicateID is returned by Create when the id already exists.
	ErrDuplicateID = errors.New("store: duplicate backup id")

	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("store: backup record not found")

	// ErrInvalidRecord is returned when a record fails validation.
	ErrInvalidRecord = errors.New("store: invalid backup record")
)

// FileEntry describes one stored file within a backup.
type FileEntry struct {
	RelativePath string
	Checksum     string
	Size         int64
	StoredSize   int64
	LastModified time.Time
	Compressed   bool
	Encrypted    bool
}

// BackupRecord is the catalog entry for one backup run. ParentID is
// empty for full backups and names the immediate predecessor for
// incrementals.
type BackupRecord struct {
	ID                string
	Kind              BackupKind
	Timestamp         time.Time
	SourcePath        string
	ParentID          string
	Files             []FileEntry
	TotalSize         int64
	StoredSize        int64
	Encrypted         bool
	EncryptionMethod  string
	CompressionMethod string
	CompressionLevel  int
	RecordChecksum    string
}

// Validate checks the structural invariants every stored record must
// satisfy.
func (r *BackupRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, r.Kind)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidRecord)
	}
	if r.SourcePath == "" {
		return fmt.Errorf("%w: empty source path", ErrInvalidRecord)
	}
	if r.Kind == KindIncremental && r.ParentID == "" {
		return fmt.Errorf("%w: incremental without parent id", ErrInvalidRecord)
	}
	if r.Kind == KindFull && r.ParentID != "" {
		return fmt.Errorf("%w: full backup with parent id", ErrInvalidRecord)
	}
	return nil
}

// ComputeChecksum derives the integrity checksum over the identifying
// fields and the file table. File order matters; records keep entries
// in insertion order.
func (r *BackupRecord) ComputeChecksum() string {
	h := sha256.New()
	h.Write([]byte(r.ID))
	h.Write([]byte(r.Kind))
	h.Write([]byte(r.SourcePath))
	for _, f := range r.Files {
		h.Write([]byte(f.RelativePath))
		h.Write([]byte(f.Checksum))
		h.Write([]byte(strconv.FormatInt(f.Size, 10)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// clone returns a deep copy so callers cannot mutate stored state.
func (r *BackupRecord) clone() BackupRecord {
	out := *r
	out.Files = make([]FileEntry, len(r.Files))
	copy(out.Files, r.Files)
	return out
}
