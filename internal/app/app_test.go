package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dirsafe/internal/config"
	"dirsafe/internal/scheduler"
	"dirsafe/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig(base)
	cfg.Backup.SourcePath = filepath.Join(base, "src")
	cfg.Backup.DestPath = filepath.Join(base, "dst")
	testutil.WriteTree(t, cfg.Backup.SourcePath, map[string]string{
		"a.txt":     "alpha",
		"sub/b.txt": "bravo",
	})
	return cfg
}

func TestApp_BackupListRestore(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	res, err := a.Backup(false)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if res == nil || res.FilesSaved == 0 {
		t.Fatalf("Backup() result = %+v, want files saved", res)
	}

	infos, err := a.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("List() returned %d backups, want 1", len(infos))
	}
	if infos[0].Size <= 0 {
		t.Errorf("backup size = %d, want > 0", infos[0].Size)
	}

	vr, err := a.Verify("")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !vr.OK() {
		t.Errorf("Verify() problems = %v, want none", vr.Problems)
	}

	target := filepath.Join(cfg.BaseDir, "restored")
	if err := a.Restore("", target); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got := testutil.ReadTree(t, target)
	if got["a.txt"] != "alpha" || got["sub/b.txt"] != "bravo" {
		t.Errorf("restored tree = %v", got)
	}
}

func TestApp_IncrementalAfterFull(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if _, err := a.Backup(false); err != nil {
		t.Fatalf("full Backup() error = %v", err)
	}

	// Unchanged source: the incremental is a no-op.
	res, err := a.Backup(true)
	if err != nil {
		t.Fatalf("incremental Backup() error = %v", err)
	}
	if res != nil {
		t.Errorf("unchanged incremental result = %+v, want nil", res)
	}

	if err := os.WriteFile(filepath.Join(cfg.Backup.SourcePath, "c.txt"), []byte("charlie"), 0644); err != nil {
		t.Fatal(err)
	}
	// Backup directory names have second granularity.
	time.Sleep(1100 * time.Millisecond)
	res, err = a.Backup(true)
	if err != nil {
		t.Fatalf("incremental Backup() error = %v", err)
	}
	if res == nil || res.FilesSaved != 1 {
		t.Fatalf("incremental result = %+v, want 1 file saved", res)
	}

	rec, err := a.Catalog().Get(res.BackupID)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", res.BackupID, err)
	}
	if rec.ParentID == "" {
		t.Error("incremental record has no parent")
	}
}

func TestApp_NeedsKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption.Enabled = true
	cfg.Encryption.KeyPath = filepath.Join(cfg.BaseDir, "keys", "dirsafe.key")

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if !a.NeedsKey() {
		t.Fatal("NeedsKey() = false with no key file and no passphrase")
	}
	if _, err := a.Backup(false); err == nil {
		t.Error("Backup() succeeded without a key")
	}

	hex, err := a.GenerateKey(256)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(hex) != 64 {
		t.Errorf("key hex length = %d, want 64", len(hex))
	}
	if a.NeedsKey() {
		t.Error("NeedsKey() = true after GenerateKey")
	}

	if _, err := a.Backup(false); err != nil {
		t.Fatalf("encrypted Backup() error = %v", err)
	}

	// A fresh App picks the key up from the key file.
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()
	if b.NeedsKey() {
		t.Error("NeedsKey() = true with key file present")
	}
}

func TestApp_SchedulePersistence(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := a.Scheduler().Schedule("nightly", scheduler.Daily, 0); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	if err := a.SaveSchedules(); err != nil {
		t.Fatalf("SaveSchedules() error = %v", err)
	}
	a.Close()

	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer b.Close()

	entries := b.Scheduler().Entries()
	if len(entries) != 1 || entries[0].Name != "nightly" {
		t.Fatalf("reloaded entries = %+v, want nightly", entries)
	}
}
