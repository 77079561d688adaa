package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSHA256File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}

	got, err := SHA256File(path)
	if err != nil {
		t.Fatalf("SHA256File() error = %v", err)
	}
	// echo -n "hello world" | sha256sum
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Errorf("SHA256File() = %q, want %q", got, want)
	}

	if got != SHA256Bytes([]byte("hello world")) {
		t.Error("file and buffer digests disagree for identical content")
	}
}

func TestSHA256File_Missing(t *testing.T) {
	if _, err := SHA256File(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("SHA256File() expected error for missing file")
	}
}

func TestMD5File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}

	got, err := MD5File(path)
	if err != nil {
		t.Fatalf("MD5File() error = %v", err)
	}
	want := "5eb63bbbe01eeed093cb22bb8f5acdc3"
	if got != want {
		t.Errorf("MD5File() = %q, want %q", got, want)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "sub", "dst.txt")

	if err := os.WriteFile(src, []byte("payload"), 0644); err != nil {
		t.Fatalf("writing source: %v", err)
	}
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	if err := os.Chtimes(src, mtime, mtime); err != nil {
		t.Fatalf("setting source mtime: %v", err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile() error = %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading destination: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("destination content = %q, want %q", data, "payload")
	}

	info, err := os.Stat(dst)
	if err != nil {
		t.Fatalf("stat destination: %v", err)
	}
	if !info.ModTime().Equal(mtime) {
		t.Errorf("destination mtime = %v, want %v", info.ModTime(), mtime)
	}
}

func TestRelativePath(t *testing.T) {
	got, err := RelativePath(filepath.Join("/a", "b"), filepath.Join("/a", "b", "c", "d.txt"))
	if err != nil {
		t.Fatalf("RelativePath() error = %v", err)
	}
	if got != "c/d.txt" {
		t.Errorf("RelativePath() = %q, want %q", got, "c/d.txt")
	}
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 10), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 20), 0644); err != nil {
		t.Fatal(err)
	}

	size, err := DirSize(dir)
	if err != nil {
		t.Fatalf("DirSize() error = %v", err)
	}
	if size != 30 {
		t.Errorf("DirSize() = %d, want 30", size)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	orig := time.Date(2025, 8, 24, 9, 30, 15, 0, time.Local)
	s := FormatTimestamp(orig)
	if s != "2025-08-24 09:30:15" {
		t.Errorf("FormatTimestamp() = %q", s)
	}

	parsed, err := ParseTimestamp(s)
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if !parsed.Equal(orig) {
		t.Errorf("round-trip = %v, want %v", parsed, orig)
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	if _, err := ParseTimestamp("not a time"); err == nil {
		t.Error("ParseTimestamp() expected error for garbage input")
	}
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	if err != nil {
		t.Fatalf("RandomHex() error = %v", err)
	}
	if len(a) != 32 {
		t.Errorf("RandomHex(16) length = %d, want 32", len(a))
	}

	b, err := RandomHex(16)
	if err != nil {
		t.Fatalf("RandomHex() error = %v", err)
	}
	if a == b {
		t.Error("two RandomHex() calls returned identical values")
	}
}

func TestNewUUID(t *testing.T) {
	id := NewUUID()
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Errorf("NewUUID() = %q, not a canonical UUID", id)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{9, "9 B"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{-1, "0 B"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
