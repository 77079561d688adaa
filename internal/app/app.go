package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dirsafe/internal/backup"
	"dirsafe/internal/config"
	"dirsafe/internal/crypt"
	"dirsafe/internal/fsutil"
	"dirsafe/internal/scheduler"
	"dirsafe/internal/store"
)

// App is the application layer between the CLI and the backup manager.
// It constructs all dependencies from config, exposes high-level
// operations, and manages catalog and log file lifecycle on Close.
type App struct {
	cfg     *config.Config
	catalog *store.ChainStore
	manager *backup.Manager
	sched   *scheduler.Scheduler
	logger  backup.Logger
	logFile *os.File
	key     string
}

// New creates a fully wired App from the given config. The caller must
// call Close when done.
func New(cfg *config.Config) (*App, error) {
	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	adapter := &slogAdapter{l: logger}

	persister, err := store.NewPersisterFromConfig(cfg.Store, adapter)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating catalog persister: %w", err)
	}

	catalog := store.NewChainStore(persister)
	if err := catalog.Load(); err != nil {
		catalog.Close()
		logFile.Close()
		return nil, err
	}

	mgr := backup.NewManager(catalog, adapter, backup.RealClock{}, backup.UUIDGenerator{})

	sched := scheduler.New(backup.RealClock{}, adapter)
	sched.SetPollInterval(time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second)
	sched.SetRetryAttempts(cfg.Scheduler.RetryAttempts)
	sched.SetRetryDelay(time.Duration(cfg.Scheduler.RetryDelaySeconds) * time.Second)

	a := &App{
		cfg:     cfg,
		catalog: catalog,
		manager: mgr,
		sched:   sched,
		logger:  adapter,
		logFile: logFile,
	}
	sched.SetBackupFunc(a.scheduledBackup)

	if cfg.Scheduler.StateFile != "" {
		if err := sched.LoadFromFile(cfg.Scheduler.StateFile); err != nil {
			a.Close()
			return nil, err
		}
	}

	// A key file, when present, takes priority over passphrase entry.
	if cfg.Encryption.Enabled && cfg.Encryption.KeyPath != "" {
		if _, err := os.Stat(cfg.Encryption.KeyPath); err == nil {
			enc := crypt.New()
			if err := enc.LoadKeyFromFile(cfg.Encryption.KeyPath); err != nil {
				a.Close()
				return nil, err
			}
			a.key = enc.KeyHex()
		}
	}

	return a, nil
}

// SetKey installs the encryption key for this session, typically a
// passphrase-derived hex key. It overrides any key loaded from file.
func (a *App) SetKey(key string) { a.key = key }

// NeedsKey reports whether encryption is enabled but no key has been
// resolved yet, meaning the caller should prompt for a passphrase.
func (a *App) NeedsKey() bool {
	return a.cfg.Encryption.Enabled && a.key == ""
}

// SetProgressFunc forwards progress reporting to the backup manager.
func (a *App) SetProgressFunc(fn backup.ProgressFunc) {
	a.manager.SetProgressFunc(fn)
}

func (a *App) backupOptions() backup.Options {
	return backup.Options{
		SourcePath:       a.cfg.Backup.SourcePath,
		DestPath:         a.cfg.Backup.DestPath,
		Compress:         a.cfg.Compression.Enabled,
		CompressionLevel: a.cfg.Compression.Level,
		Encrypt:          a.cfg.Encryption.Enabled,
		EncryptionKey:    a.key,
	}
}

// Backup runs a full or incremental backup of the configured source
// directory. A nil result with a nil error means nothing had changed.
func (a *App) Backup(incremental bool) (*backup.Result, error) {
	if a.NeedsKey() {
		return nil, fmt.Errorf("encryption enabled but no key available")
	}
	if incremental {
		return a.manager.CreateIncremental(a.backupOptions())
	}
	return a.manager.CreateFull(a.backupOptions())
}

// scheduledBackup is the scheduler callback: every schedule entry runs
// an incremental backup of the configured source.
func (a *App) scheduledBackup(name string) error {
	a.logger.Info("running scheduled backup", "schedule", name)
	_, err := a.Backup(true)
	return err
}

// backupPath resolves a backup directory name against the destination
// root. An empty name means the most recent backup.
func (a *App) backupPath(name string) (string, error) {
	if name == "" {
		names, err := a.manager.ListBackups(a.cfg.Backup.DestPath)
		if err != nil {
			return "", err
		}
		if len(names) == 0 {
			return "", fmt.Errorf("no backups found in %s", a.cfg.Backup.DestPath)
		}
		name = names[len(names)-1]
	}
	return filepath.Join(a.cfg.Backup.DestPath, name), nil
}

// Restore restores every file of the named backup (latest when name is
// empty) into target.
func (a *App) Restore(name, target string) error {
	path, err := a.backupPath(name)
	if err != nil {
		return err
	}
	return a.manager.RestoreAll(path, target, a.key)
}

// RestoreFile restores a single file, identified by its source-relative
// path, from the named backup into target.
func (a *App) RestoreFile(name, relativePath, target string) error {
	path, err := a.backupPath(name)
	if err != nil {
		return err
	}
	return a.manager.RestoreFile(path, relativePath, target, a.key)
}

// Verify checks the named backup (latest when name is empty) against
// its recorded checksums.
func (a *App) Verify(name string) (*backup.VerifyResult, error) {
	path, err := a.backupPath(name)
	if err != nil {
		return nil, err
	}
	return a.manager.Verify(path, a.key)
}

// BackupInfo is one row of the backup listing.
type BackupInfo struct {
	Name      string
	Timestamp time.Time
	Size      int64
}

// List returns the completed backups under the destination root, oldest
// first.
func (a *App) List() ([]BackupInfo, error) {
	names, err := a.manager.ListBackups(a.cfg.Backup.DestPath)
	if err != nil {
		return nil, err
	}
	infos := make([]BackupInfo, 0, len(names))
	for _, name := range names {
		info := BackupInfo{Name: name}
		if ts, err := backup.BackupTimestamp(name); err == nil {
			info.Timestamp = ts
		}
		if size, err := a.manager.BackupSize(filepath.Join(a.cfg.Backup.DestPath, name)); err == nil {
			info.Size = size
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Catalog exposes the backup record catalog.
func (a *App) Catalog() *store.ChainStore { return a.catalog }

// Scheduler exposes the schedule table for CLI schedule commands.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// SaveSchedules persists the schedule table to the configured state
// file. It is a no-op when no state file is configured.
func (a *App) SaveSchedules() error {
	if a.cfg.Scheduler.StateFile == "" {
		return nil
	}
	return a.sched.SaveToFile(a.cfg.Scheduler.StateFile)
}

// GenerateKey creates a random key of the given bit size, writes it to
// the configured key file, and returns its hex form.
func (a *App) GenerateKey(bits int) (string, error) {
	if a.cfg.Encryption.KeyPath == "" {
		return "", fmt.Errorf("no key path configured")
	}
	enc := crypt.New()
	if err := enc.GenerateRandomKey(bits); err != nil {
		return "", err
	}
	if err := fsutil.EnsureDir(filepath.Dir(a.cfg.Encryption.KeyPath)); err != nil {
		return "", err
	}
	if err := enc.SaveKeyToFile(a.cfg.Encryption.KeyPath); err != nil {
		return "", err
	}
	a.key = enc.KeyHex()
	return a.key, nil
}

// Close stops the scheduler if running and releases the catalog and the
// log file.
func (a *App) Close() error {
	var firstErr error

	if a.sched != nil && a.sched.Running() {
		a.sched.Stop()
	}

	if err := a.catalog.Close(); err != nil {
		firstErr = fmt.Errorf("closing catalog: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
