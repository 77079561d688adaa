// Package transform prepares file payloads for storage and reverses
// that preparation on restore. Compression and encryption compose into
// a Pipeline; each stage is usable on its own.
package transform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zlib"
)

// ErrCorruptData is returned when a compressed stream cannot be
// decoded. It is distinct from I/O errors so callers can tell bad data
// from a bad disk.
var ErrCorruptData = errors.New("transform: corrupt compressed data")

// copyBufSize is the buffer used for streaming copies.
const copyBufSize = 32 * 1024

// Compressor wraps zlib with a configurable level and running totals of
// bytes seen on each side, for ratio reporting. Not safe for concurrent
// use.
type Compressor struct {
	level           int
	totalOriginal   int64
	totalCompressed int64
}

// NewCompressor returns a Compressor at the given zlib level (0–9).
// Out-of-range levels fall back to the default.
func NewCompressor(level int) *Compressor {
	if level < zlib.NoCompression || level > zlib.BestCompression {
		level = zlib.DefaultCompression
	}
	return &Compressor{level: level}
}

// Level returns the configured compression level.
func (c *Compressor) Level() int {
	return c.level
}

// SetLevel changes the level for subsequent operations. Out-of-range
// values are ignored.
func (c *Compressor) SetLevel(level int) {
	if level >= zlib.NoCompression && level <= zlib.BestCompression {
		c.level = level
	}
}

// CompressFile compresses src into dst. dst is removed on failure.
func (c *Compressor) CompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if err := c.compress(in, out); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("compressing %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("closing %s: %w", dst, err)
	}

	if oi, err := os.Stat(src); err == nil {
		c.totalOriginal += oi.Size()
	}
	if ci, err := os.Stat(dst); err == nil {
		c.totalCompressed += ci.Size()
	}
	return nil
}

// DecompressFile decompresses src into dst. dst is removed on failure;
// a broken stream reports ErrCorruptData.
func (c *Compressor) DecompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if err := c.decompress(in, out); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("decompressing %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	return nil
}

// CompressData compresses a buffer.
func (c *Compressor) CompressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.compress(bytes.NewReader(data), &buf); err != nil {
		return nil, err
	}
	c.totalOriginal += int64(len(data))
	c.totalCompressed += int64(buf.Len())
	return buf.Bytes(), nil
}

// DecompressData decompresses a buffer produced by CompressData.
func (c *Compressor) DecompressData(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.decompress(bytes.NewReader(data), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressString compresses s and returns the raw compressed bytes as a
// string.
func (c *Compressor) CompressString(s string) (string, error) {
	out, err := c.CompressData([]byte(s))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DecompressString reverses CompressString.
func (c *Compressor) DecompressString(s string) (string, error) {
	out, err := c.DecompressData([]byte(s))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Ratio returns compressed/original as a fraction, or 0 when original
// is empty.
func Ratio(original, compressed int64) float64 {
	if original == 0 {
		return 0
	}
	return float64(compressed) / float64(original)
}

// TotalOriginal returns the bytes fed into compression so far.
func (c *Compressor) TotalOriginal() int64 { return c.totalOriginal }

// TotalCompressed returns the bytes produced by compression so far.
func (c *Compressor) TotalCompressed() int64 { return c.totalCompressed }

// AverageRatio returns the running ratio over everything compressed so
// far.
func (c *Compressor) AverageRatio() float64 {
	return Ratio(c.totalOriginal, c.totalCompressed)
}

// ResetStats zeroes the running totals.
func (c *Compressor) ResetStats() {
	c.totalOriginal = 0
	c.totalCompressed = 0
}

func (c *Compressor) compress(r io.Reader, w io.Writer) error {
	zw, err := zlib.NewWriterLevel(w, c.level)
	if err != nil {
		return err
	}
	buf := make([]byte, copyBufSize)
	if _, err := io.CopyBuffer(zw, r, buf); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (c *Compressor) decompress(r io.Reader, w io.Writer) error {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	defer zr.Close()

	buf := make([]byte, copyBufSize)
	if _, err := io.CopyBuffer(w, zr, buf); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	return nil
}
