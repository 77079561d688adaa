package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dirsafe/internal/crypt"
	"dirsafe/internal/fsutil"
	"dirsafe/internal/store"
	"dirsafe/internal/tracker"
	"dirsafe/internal/transform"
)

const (
	// metadataFileName is the per-backup-directory catalog document.
	metadataFileName = "backup_metadata.json"

	// snapshotFileName is the per-backup-directory tracker snapshot.
	snapshotFileName = "file_state.json"

	// inProgressSuffix marks a backup directory still being written.
	// The rename to the final name is the commit point.
	inProgressSuffix = ".inprogress"

	// dirNameLayout names backup directories after their start time.
	dirNameLayout = "backup_20060102_150405"
)

// Options configures one backup run.
type Options struct {
	SourcePath       string
	DestPath         string
	Compress         bool
	CompressionLevel int
	Encrypt          bool
	EncryptionKey    string
}

// Result summarizes a completed backup.
type Result struct {
	BackupID   string
	BackupPath string
	Kind       store.BackupKind
	FilesSaved int
	TotalSize  int64
	StoredSize int64
	Duration   time.Duration
}

// ProgressFunc receives milestone callbacks during long operations.
// pct grows monotonically from 0 to 100 within one operation.
type ProgressFunc func(stage string, pct float64)

// Manager orchestrates backups against one catalog. Construct with
// NewManager; all collaborators are injectable for tests.
type Manager struct {
	store    *store.ChainStore
	logger   Logger
	clock    Clock
	ids      IDGenerator
	progress ProgressFunc
}

// NewManager builds a Manager. Nil collaborators get production
// defaults (real clock, UUID ids, silent logger).
func NewManager(st *store.ChainStore, logger Logger, clock Clock, ids IDGenerator) *Manager {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &Manager{store: st, logger: logger, clock: clock, ids: ids}
}

// SetProgressFunc registers a progress callback. Callbacks run
// synchronously on the calling goroutine.
func (m *Manager) SetProgressFunc(fn ProgressFunc) {
	m.progress = fn
}

func (m *Manager) report(stage string, pct float64) {
	if m.progress != nil {
		m.progress(stage, pct)
	}
}

// CreateFull creates a full backup of the source tree.
func (m *Manager) CreateFull(opts Options) (*Result, error) {
	return m.create(opts, store.KindFull)
}

// CreateIncremental creates a backup containing only paths changed
// since the most recent backup in the destination. With no prior backup
// it falls back to a full backup. When nothing changed it returns
// (nil, nil) and creates nothing.
func (m *Manager) CreateIncremental(opts Options) (*Result, error) {
	return m.create(opts, store.KindIncremental)
}

func (m *Manager) create(opts Options, kind store.BackupKind) (*Result, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if err := destLocks.TryLock(opts.DestPath); err != nil {
		return nil, err
	}
	defer destLocks.Unlock(opts.DestPath)

	start := m.clock.Now()
	m.report("start", 0)

	if err := fsutil.EnsureDir(opts.DestPath); err != nil {
		return nil, err
	}

	// For incrementals, the newest existing backup supplies the
	// previous file state and the parent id.
	var parentID string
	tr := tracker.New(m.logger)
	if kind == store.KindIncremental {
		prior, err := m.latestBackup(opts.DestPath)
		if err != nil {
			return nil, err
		}
		if prior == "" {
			m.logger.Info("no prior backup found, creating full backup instead",
				"dest", opts.DestPath)
			kind = store.KindFull
		} else {
			if err := tr.LoadPrevious(filepath.Join(prior, snapshotFileName)); err != nil {
				return nil, err
			}
			meta, err := readMetadata(prior)
			if err != nil {
				return nil, fmt.Errorf("reading parent metadata: %w", err)
			}
			parentID = meta.ID
		}
	}

	if err := tr.Scan(opts.SourcePath); err != nil {
		return nil, err
	}
	m.report("scan", 10)

	var paths []string
	if kind == store.KindIncremental {
		paths = tr.ChangedPaths()
		if len(paths) == 0 {
			m.logger.Info("no changes since last backup", "source", opts.SourcePath)
			return nil, nil
		}
	} else {
		paths = allPaths(tr)
	}

	dirName := start.Format(dirNameLayout)
	finalDir := filepath.Join(opts.DestPath, dirName)
	stagingDir := finalDir + inProgressSuffix
	if fsutil.PathExists(finalDir) {
		return nil, fmt.Errorf("backup directory already exists: %s", finalDir)
	}
	if err := fsutil.EnsureDir(stagingDir); err != nil {
		return nil, err
	}

	rec := store.BackupRecord{
		ID:         m.ids.New(),
		Kind:       kind,
		Timestamp:  start,
		SourcePath: opts.SourcePath,
		ParentID:   parentID,
	}
	if opts.Compress {
		rec.CompressionMethod = "zlib"
		rec.CompressionLevel = opts.CompressionLevel
	}
	if opts.Encrypt {
		rec.Encrypted = true
		rec.EncryptionMethod = "aes-256-cbc"
	}
	if err := m.store.Create(rec); err != nil {
		os.RemoveAll(stagingDir)
		return nil, err
	}

	res, err := m.copyPaths(tr, rec.ID, paths, stagingDir, opts)
	if err != nil {
		m.store.Delete(rec.ID)
		os.RemoveAll(stagingDir)
		return nil, err
	}

	if err := tr.SaveSnapshot(filepath.Join(stagingDir, snapshotFileName)); err != nil {
		m.store.Delete(rec.ID)
		os.RemoveAll(stagingDir)
		return nil, err
	}

	final, err := m.store.Get(rec.ID)
	if err != nil {
		os.RemoveAll(stagingDir)
		return nil, err
	}
	if err := writeMetadata(stagingDir, final); err != nil {
		m.store.Delete(rec.ID)
		os.RemoveAll(stagingDir)
		return nil, err
	}
	if err := m.store.Save(); err != nil {
		m.store.Delete(rec.ID)
		os.RemoveAll(stagingDir)
		return nil, err
	}
	m.report("save", 95)

	if err := os.Rename(stagingDir, finalDir); err != nil {
		m.store.Delete(rec.ID)
		os.RemoveAll(stagingDir)
		return nil, fmt.Errorf("finalizing backup directory: %w", err)
	}
	m.report("done", 100)

	res.BackupID = rec.ID
	res.BackupPath = finalDir
	res.Kind = kind
	res.TotalSize = final.TotalSize
	res.StoredSize = final.StoredSize
	res.Duration = m.clock.Now().Sub(start)

	m.logger.Info("backup complete",
		"id", rec.ID,
		"kind", string(kind),
		"path", finalDir,
		"files", res.FilesSaved,
		"size", fsutil.FormatBytes(res.TotalSize),
		"stored", fsutil.FormatBytes(res.StoredSize),
		"duration", fsutil.FormatDuration(res.Duration))
	return res, nil
}

// copyPaths transforms every path into the staging directory and adds
// file entries to the catalog record. Progress covers 10-90.
func (m *Manager) copyPaths(tr *tracker.Tracker, recID string, paths []string, stagingDir string, opts Options) (*Result, error) {
	pipeline, err := buildPipeline(opts)
	if err != nil {
		return nil, err
	}
	topts := transform.Options{
		Compress:         opts.Compress,
		CompressionLevel: opts.CompressionLevel,
		Encrypt:          opts.Encrypt,
	}

	res := &Result{}
	for i, rel := range paths {
		frec, ok := tr.Record(rel)
		if !ok {
			continue // deleted between classification and copy
		}

		dst := filepath.Join(stagingDir, filepath.FromSlash(rel))
		if frec.IsDirectory {
			if err := fsutil.EnsureDir(dst); err != nil {
				return nil, err
			}
			continue
		}

		if err := fsutil.EnsureDir(filepath.Dir(dst)); err != nil {
			return nil, err
		}
		src := filepath.Join(opts.SourcePath, filepath.FromSlash(rel))
		if err := pipeline.Apply(src, dst, topts); err != nil {
			return nil, fmt.Errorf("storing %s: %w", rel, err)
		}

		info, err := os.Stat(dst)
		if err != nil {
			return nil, fmt.Errorf("stat stored file %s: %w", rel, err)
		}
		entry := store.FileEntry{
			RelativePath: rel,
			Checksum:     frec.Checksum,
			Size:         frec.Size,
			StoredSize:   info.Size(),
			LastModified: frec.LastModified,
			Compressed:   opts.Compress,
			Encrypted:    opts.Encrypt,
		}
		if err := m.store.AddFileEntry(recID, entry); err != nil {
			return nil, err
		}
		res.FilesSaved++

		m.report("copy", 10+80*float64(i+1)/float64(len(paths)))
	}
	return res, nil
}

// latestBackup returns the newest completed backup directory under
// root, or "" when none exists.
func (m *Manager) latestBackup(root string) (string, error) {
	names, err := m.ListBackups(root)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return filepath.Join(root, names[len(names)-1]), nil
}

func validateOptions(opts Options) error {
	if opts.SourcePath == "" {
		return fmt.Errorf("source path is required")
	}
	if opts.DestPath == "" {
		return fmt.Errorf("destination path is required")
	}
	if !fsutil.IsDir(opts.SourcePath) {
		return fmt.Errorf("source is not a directory: %s", opts.SourcePath)
	}
	if opts.Encrypt && opts.EncryptionKey == "" {
		return fmt.Errorf("encryption enabled but no key provided: %w", crypt.ErrNoKey)
	}
	return nil
}

func buildPipeline(opts Options) (*transform.Pipeline, error) {
	var enc *crypt.Encryptor
	if opts.Encrypt {
		enc = crypt.New()
		enc.SetKey(opts.EncryptionKey)
	}
	return transform.NewPipeline(transform.NewCompressor(opts.CompressionLevel), enc), nil
}

// allPaths returns every tracked path sorted; directory names come out
// before their children, so staging can create them first.
func allPaths(tr *tracker.Tracker) []string {
	return tr.AllPaths()
}

// writeMetadata stores the catalog record for one backup inside its
// directory, using the same document format as the JSON catalog.
func writeMetadata(dir string, rec store.BackupRecord) error {
	p := store.NewJSONPersister(filepath.Join(dir, metadataFileName), nil)
	if err := p.Save([]store.BackupRecord{rec}); err != nil {
		return fmt.Errorf("writing backup metadata: %w", err)
	}
	return nil
}

// readMetadata loads the catalog record embedded in a backup directory.
func readMetadata(dir string) (store.BackupRecord, error) {
	recs, err := store.NewJSONPersister(filepath.Join(dir, metadataFileName), nil).Load()
	if err != nil {
		return store.BackupRecord{}, err
	}
	if len(recs) == 0 {
		return store.BackupRecord{}, fmt.Errorf("no record in %s", filepath.Join(dir, metadataFileName))
	}
	return recs[0], nil
}
