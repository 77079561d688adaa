package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dirsafe/internal/fsutil"
)

// catalogVersion is the format version of the JSON catalog document.
const catalogVersion = "1.0"

// JSONPersister stores the whole catalog as one JSON document. This is
// the default backend; it keeps the on-disk state human-readable.
type JSONPersister struct {
	path   string
	logger Logger
}

// Logger is the subset of the application logger persisters use for
// reporting dropped records. Satisfied by backup.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...any) {}

var _ Persister = (*JSONPersister)(nil)

// NewJSONPersister creates a persister writing to path. The parent
// directory is created on first Save.
func NewJSONPersister(path string, logger Logger) *JSONPersister {
	if logger == nil {
		logger = nopLogger{}
	}
	return &JSONPersister{path: path, logger: logger}
}

type catalogDoc struct {
	Version string            `json:"version"`
	Backups []json.RawMessage `json:"backups"`
}

type recordDoc struct {
	ID                string         `json:"id"`
	Kind              string         `json:"type"`
	Timestamp         string         `json:"timestamp"`
	SourcePath        string         `json:"sourcePath"`
	ParentID          string         `json:"parentBackupId,omitempty"`
	Files             []fileEntryDoc `json:"files"`
	TotalSize         int64          `json:"totalSize"`
	StoredSize        int64          `json:"storedSize"`
	Encrypted         bool           `json:"encrypted"`
	EncryptionMethod  string         `json:"encryptionMethod,omitempty"`
	CompressionMethod string         `json:"compressionMethod,omitempty"`
	CompressionLevel  int            `json:"compressionLevel"`
	RecordChecksum    string         `json:"recordChecksum"`
}

type fileEntryDoc struct {
	RelativePath string `json:"relativePath"`
	Checksum     string `json:"checksum"`
	Size         int64  `json:"size"`
	StoredSize   int64  `json:"storedSize"`
	LastModified string `json:"lastModified"`
	Compressed   bool   `json:"compressed"`
	Encrypted    bool   `json:"encrypted"`
}

// Load reads the catalog document. A missing file yields an empty
// record set. Records that fail to decode or validate are dropped
// one by one with a warning rather than failing the whole load.
func (p *JSONPersister) Load() ([]BackupRecord, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading catalog %s: %w", p.path, err)
	}

	var doc catalogDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", p.path, err)
	}

	var out []BackupRecord
	for _, raw := range doc.Backups {
		rec, err := decodeRecord(raw)
		if err != nil {
			p.logger.Warn("dropping unreadable catalog record", "error", err)
			continue
		}
		if err := rec.Validate(); err != nil {
			p.logger.Warn("dropping invalid catalog record", "id", rec.ID, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Save writes the catalog atomically: temp file in the same directory,
// then rename over the target.
func (p *JSONPersister) Save(records []BackupRecord) error {
	doc := catalogDoc{Version: catalogVersion, Backups: []json.RawMessage{}}
	for i := range records {
		raw, err := json.Marshal(encodeRecord(&records[i]))
		if err != nil {
			return fmt.Errorf("encoding record %s: %w", records[i].ID, err)
		}
		doc.Backups = append(doc.Backups, raw)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := fsutil.EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp catalog: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing catalog %s: %w", p.path, err)
	}
	return nil
}

// Close is a no-op for the JSON backend.
func (p *JSONPersister) Close() error { return nil }

func encodeRecord(r *BackupRecord) recordDoc {
	doc := recordDoc{
		ID:                r.ID,
		Kind:              string(r.Kind),
		Timestamp:         fsutil.FormatTimestamp(r.Timestamp),
		SourcePath:        r.SourcePath,
		ParentID:          r.ParentID,
		Files:             []fileEntryDoc{},
		TotalSize:         r.TotalSize,
		StoredSize:        r.StoredSize,
		Encrypted:         r.Encrypted,
		EncryptionMethod:  r.EncryptionMethod,
		CompressionMethod: r.CompressionMethod,
		CompressionLevel:  r.CompressionLevel,
		RecordChecksum:    r.RecordChecksum,
	}
	for _, f := range r.Files {
		doc.Files = append(doc.Files, fileEntryDoc{
			RelativePath: f.RelativePath,
			Checksum:     f.Checksum,
			Size:         f.Size,
			StoredSize:   f.StoredSize,
			LastModified: fsutil.FormatTimestamp(f.LastModified),
			Compressed:   f.Compressed,
			Encrypted:    f.Encrypted,
		})
	}
	return doc
}

func decodeRecord(raw json.RawMessage) (BackupRecord, error) {
	var doc recordDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return BackupRecord{}, err
	}
	ts, err := fsutil.ParseTimestamp(doc.Timestamp)
	if err != nil {
		return BackupRecord{}, fmt.Errorf("record %s: %w", doc.ID, err)
	}

	rec := BackupRecord{
		ID:                doc.ID,
		Kind:              BackupKind(doc.Kind),
		Timestamp:         ts,
		SourcePath:        doc.SourcePath,
		ParentID:          doc.ParentID,
		TotalSize:         doc.TotalSize,
		StoredSize:        doc.StoredSize,
		Encrypted:         doc.Encrypted,
		EncryptionMethod:  doc.EncryptionMethod,
		CompressionMethod: doc.CompressionMethod,
		CompressionLevel:  doc.CompressionLevel,
		RecordChecksum:    doc.RecordChecksum,
	}
	for _, f := range doc.Files {
		mtime, err := fsutil.ParseTimestamp(f.LastModified)
		if err != nil {
			return BackupRecord{}, fmt.Errorf("record %s entry %s: %w", doc.ID, f.RelativePath, err)
		}
		rec.Files = append(rec.Files, FileEntry{
			RelativePath: f.RelativePath,
			Checksum:     f.Checksum,
			Size:         f.Size,
			StoredSize:   f.StoredSize,
			LastModified: mtime,
			Compressed:   f.Compressed,
			Encrypted:    f.Encrypted,
		})
	}
	return rec, nil
}
