package store

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"dirsafe/internal/fsutil"
	"dirsafe/internal/store/migrations"
)

// SQLitePersister stores the catalog in a SQLite database. The schema
// is managed by embedded migrations applied on open.
type SQLitePersister struct {
	db   *sql.DB
	path string
}

var _ Persister = (*SQLitePersister)(nil)

// NewSQLitePersister opens (creating if needed) the database at path
// and migrates it to the latest schema. path may be ":memory:".
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	if path != ":memory:" {
		if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLitePersister{db: db, path: path}, nil
}

// Load reads every record with its file entries, ordered by timestamp.
func (p *SQLitePersister) Load() ([]BackupRecord, error) {
	rows, err := p.db.Query(`
		SELECT id, kind, timestamp, source_path, parent_id,
		       total_size, stored_size, encrypted, encryption_method,
		       compression_method, compression_level, record_checksum
		FROM backup_records ORDER BY timestamp, id`)
	if err != nil {
		return nil, fmt.Errorf("querying backup records: %w", err)
	}
	defer rows.Close()

	var out []BackupRecord
	for rows.Next() {
		var rec BackupRecord
		var kind, ts string
		if err := rows.Scan(&rec.ID, &kind, &ts, &rec.SourcePath, &rec.ParentID,
			&rec.TotalSize, &rec.StoredSize, &rec.Encrypted, &rec.EncryptionMethod,
			&rec.CompressionMethod, &rec.CompressionLevel, &rec.RecordChecksum); err != nil {
			return nil, fmt.Errorf("scanning backup record: %w", err)
		}
		rec.Kind = BackupKind(kind)
		rec.Timestamp, err = fsutil.ParseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading backup records: %w", err)
	}

	for i := range out {
		files, err := p.loadFileEntries(out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Files = files
	}
	return out, nil
}

func (p *SQLitePersister) loadFileEntries(backupID string) ([]FileEntry, error) {
	rows, err := p.db.Query(`
		SELECT relative_path, checksum, size, stored_size, last_modified,
		       compressed, encrypted
		FROM file_entries WHERE backup_id = ? ORDER BY seq`, backupID)
	if err != nil {
		return nil, fmt.Errorf("querying file entries for %s: %w", backupID, err)
	}
	defer rows.Close()

	var out []FileEntry
	for rows.Next() {
		var fe FileEntry
		var mtime string
		if err := rows.Scan(&fe.RelativePath, &fe.Checksum, &fe.Size, &fe.StoredSize,
			&mtime, &fe.Compressed, &fe.Encrypted); err != nil {
			return nil, fmt.Errorf("scanning file entry: %w", err)
		}
		fe.LastModified, err = fsutil.ParseTimestamp(mtime)
		if err != nil {
			return nil, fmt.Errorf("entry %s of %s: %w", fe.RelativePath, backupID, err)
		}
		out = append(out, fe)
	}
	return out, rows.Err()
}

// Save replaces the stored catalog with records inside one transaction.
func (p *SQLitePersister) Save(records []BackupRecord) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("starting catalog transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM file_entries"); err != nil {
		return fmt.Errorf("clearing file entries: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM backup_records"); err != nil {
		return fmt.Errorf("clearing backup records: %w", err)
	}

	recStmt, err := tx.Prepare(`
		INSERT INTO backup_records (id, kind, timestamp, source_path, parent_id,
			total_size, stored_size, encrypted, encryption_method,
			compression_method, compression_level, record_checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing record insert: %w", err)
	}
	defer recStmt.Close()

	fileStmt, err := tx.Prepare(`
		INSERT INTO file_entries (backup_id, seq, relative_path, checksum,
			size, stored_size, last_modified, compressed, encrypted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing file entry insert: %w", err)
	}
	defer fileStmt.Close()

	for i := range records {
		rec := &records[i]
		if _, err := recStmt.Exec(rec.ID, string(rec.Kind),
			fsutil.FormatTimestamp(rec.Timestamp), rec.SourcePath, rec.ParentID,
			rec.TotalSize, rec.StoredSize, rec.Encrypted, rec.EncryptionMethod,
			rec.CompressionMethod, rec.CompressionLevel, rec.RecordChecksum); err != nil {
			return fmt.Errorf("inserting record %s: %w", rec.ID, err)
		}
		for seq, fe := range rec.Files {
			if _, err := fileStmt.Exec(rec.ID, seq, fe.RelativePath, fe.Checksum,
				fe.Size, fe.StoredSize, fsutil.FormatTimestamp(fe.LastModified),
				fe.Compressed, fe.Encrypted); err != nil {
				return fmt.Errorf("inserting entry %s of %s: %w", fe.RelativePath, rec.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing catalog transaction: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
