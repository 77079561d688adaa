package transform

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dirsafe/internal/crypt"
)

func TestCompressRoundTrip_AllLevels(t *testing.T) {
	payload := []byte(strings.Repeat("the same line over and over\n", 200))

	for level := 0; level <= 9; level++ {
		c := NewCompressor(level)
		compressed, err := c.CompressData(payload)
		if err != nil {
			t.Fatalf("level %d: CompressData() error = %v", level, err)
		}
		restored, err := c.DecompressData(compressed)
		if err != nil {
			t.Fatalf("level %d: DecompressData() error = %v", level, err)
		}
		if !bytes.Equal(restored, payload) {
			t.Errorf("level %d: round-trip mismatch", level)
		}
		if level >= 1 && len(compressed) >= len(payload) {
			t.Errorf("level %d: repetitive payload did not shrink (%d -> %d)",
				level, len(payload), len(compressed))
		}
	}
}

func TestCompressData_Empty(t *testing.T) {
	c := NewCompressor(6)
	compressed, err := c.CompressData(nil)
	if err != nil {
		t.Fatalf("CompressData(nil) error = %v", err)
	}
	restored, err := c.DecompressData(compressed)
	if err != nil {
		t.Fatalf("DecompressData() error = %v", err)
	}
	if len(restored) != 0 {
		t.Errorf("restored %d bytes, want 0", len(restored))
	}
}

func TestCompressString(t *testing.T) {
	c := NewCompressor(6)
	s := strings.Repeat("hello compression ", 100)
	compressed, err := c.CompressString(s)
	if err != nil {
		t.Fatalf("CompressString() error = %v", err)
	}
	restored, err := c.DecompressString(compressed)
	if err != nil {
		t.Fatalf("DecompressString() error = %v", err)
	}
	if restored != s {
		t.Error("string round-trip mismatch")
	}
}

func TestDecompress_CorruptStream(t *testing.T) {
	c := NewCompressor(6)
	if _, err := c.DecompressData([]byte("definitely not zlib")); !errors.Is(err, ErrCorruptData) {
		t.Errorf("DecompressData() error = %v, want ErrCorruptData", err)
	}

	compressed, err := c.CompressData([]byte(strings.Repeat("x", 5000)))
	if err != nil {
		t.Fatal(err)
	}
	// Flip a byte in the deflate body.
	compressed[len(compressed)/2] ^= 0xff
	if _, err := c.DecompressData(compressed); !errors.Is(err, ErrCorruptData) {
		t.Errorf("DecompressData(tampered) error = %v, want ErrCorruptData", err)
	}
}

func TestCompressorStats(t *testing.T) {
	c := NewCompressor(9)
	payload := []byte(strings.Repeat("abc", 1000))
	compressed, err := c.CompressData(payload)
	if err != nil {
		t.Fatal(err)
	}

	if c.TotalOriginal() != int64(len(payload)) {
		t.Errorf("TotalOriginal() = %d, want %d", c.TotalOriginal(), len(payload))
	}
	if c.TotalCompressed() != int64(len(compressed)) {
		t.Errorf("TotalCompressed() = %d, want %d", c.TotalCompressed(), len(compressed))
	}
	ratio := c.AverageRatio()
	if ratio <= 0 || ratio >= 1 {
		t.Errorf("AverageRatio() = %f, want in (0, 1) for repetitive payload", ratio)
	}

	c.ResetStats()
	if c.TotalOriginal() != 0 || c.TotalCompressed() != 0 {
		t.Error("ResetStats() did not zero the counters")
	}
}

func TestRatio(t *testing.T) {
	if got := Ratio(0, 100); got != 0 {
		t.Errorf("Ratio(0, 100) = %f, want 0", got)
	}
	if got := Ratio(200, 50); got != 0.25 {
		t.Errorf("Ratio(200, 50) = %f, want 0.25", got)
	}
}

func TestNewCompressor_OutOfRangeLevel(t *testing.T) {
	c := NewCompressor(42)
	if c.Level() != -1 {
		t.Errorf("Level() = %d, want default (-1)", c.Level())
	}
	c.SetLevel(99)
	if c.Level() != -1 {
		t.Errorf("SetLevel(99) changed level to %d", c.Level())
	}
	c.SetLevel(3)
	if c.Level() != 3 {
		t.Errorf("SetLevel(3) left level at %d", c.Level())
	}
}

func pipelineFixture(t *testing.T) (*Pipeline, *crypt.Encryptor) {
	t.Helper()
	enc := crypt.New()
	if err := enc.GenerateRandomKey(256); err != nil {
		t.Fatal(err)
	}
	return NewPipeline(NewCompressor(6), enc), enc
}

func TestPipeline_ApplyReverse(t *testing.T) {
	payload := []byte(strings.Repeat("pipeline payload\n", 500))

	tests := []struct {
		name string
		opts Options
	}{
		{"plain copy", Options{}},
		{"compress only", Options{Compress: true, CompressionLevel: 6}},
		{"encrypt only", Options{Encrypt: true}},
		{"compress and encrypt", Options{Compress: true, CompressionLevel: 9, Encrypt: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := pipelineFixture(t)
			dir := t.TempDir()
			src := filepath.Join(dir, "src")
			stored := filepath.Join(dir, "stored")
			restored := filepath.Join(dir, "restored")

			if err := os.WriteFile(src, payload, 0644); err != nil {
				t.Fatal(err)
			}
			if err := p.Apply(src, stored, tt.opts); err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if err := p.Reverse(stored, restored, tt.opts); err != nil {
				t.Fatalf("Reverse() error = %v", err)
			}

			got, err := os.ReadFile(restored)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, payload) {
				t.Error("pipeline round-trip mismatch")
			}

			if tt.opts.Encrypt {
				if !crypt.IsEncryptedFile(stored) {
					t.Error("stored payload missing encryption header")
				}
			} else if crypt.IsEncryptedFile(stored) {
				t.Error("unencrypted payload carries encryption header")
			}
		})
	}
}

func TestPipeline_NoIntermediateLeftBehind(t *testing.T) {
	p, _ := pipelineFixture(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "out", "stored")

	if err := os.WriteFile(src, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		t.Fatal(err)
	}
	if err := p.Apply(src, dst, Options{Compress: true, CompressionLevel: 6, Encrypt: true}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(dst))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "stored" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("destination dir contents = %v, want only [stored]", names)
	}
}

func TestPipeline_ReverseFailureRemovesOutput(t *testing.T) {
	p, _ := pipelineFixture(t)
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad")
	dst := filepath.Join(dir, "out")

	if err := os.WriteFile(bad, []byte("junk payload"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.Reverse(bad, dst, Options{Encrypt: true}); err == nil {
		t.Fatal("Reverse() expected error for junk input")
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Error("failed Reverse left output behind")
	}
}
