package transform

import (
	"fmt"
	"os"
	"path/filepath"

	"dirsafe/internal/crypt"
	"dirsafe/internal/fsutil"
)

// Options selects which stages a Pipeline applies to a payload.
type Options struct {
	Compress         bool
	CompressionLevel int
	Encrypt          bool
}

// Pipeline composes compression and encryption. Forward order is
// compress then encrypt; Reverse undoes them in the opposite order.
type Pipeline struct {
	compressor *Compressor
	encryptor  *crypt.Encryptor
}

// NewPipeline builds a Pipeline. A nil encryptor disables the
// encryption stage regardless of Options.
func NewPipeline(compressor *Compressor, encryptor *crypt.Encryptor) *Pipeline {
	if compressor == nil {
		compressor = NewCompressor(-1)
	}
	return &Pipeline{compressor: compressor, encryptor: encryptor}
}

// Compressor exposes the compression stage for stats reporting.
func (p *Pipeline) Compressor() *Compressor {
	return p.compressor
}

// Apply transforms src into dst according to opts. With both stages
// enabled the compressed intermediate lives in a temp file next to dst
// and is removed afterward. On failure dst is removed; a transformed
// file either exists complete or not at all.
func (p *Pipeline) Apply(src, dst string, opts Options) error {
	if err := p.apply(src, dst, opts); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

func (p *Pipeline) apply(src, dst string, opts Options) error {
	encrypt := opts.Encrypt && p.encryptor != nil

	switch {
	case opts.Compress && encrypt:
		tmp, err := p.tempFor(dst)
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		p.compressor.SetLevel(opts.CompressionLevel)
		if err := p.compressor.CompressFile(src, tmp); err != nil {
			return err
		}
		return p.encryptor.EncryptFile(tmp, dst)

	case opts.Compress:
		p.compressor.SetLevel(opts.CompressionLevel)
		return p.compressor.CompressFile(src, dst)

	case encrypt:
		return p.encryptor.EncryptFile(src, dst)

	default:
		return fsutil.CopyFile(src, dst)
	}
}

// Reverse undoes Apply: decrypt first, then decompress. On failure dst
// is removed.
func (p *Pipeline) Reverse(src, dst string, opts Options) error {
	if err := p.reverse(src, dst, opts); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

func (p *Pipeline) reverse(src, dst string, opts Options) error {
	encrypt := opts.Encrypt && p.encryptor != nil

	switch {
	case opts.Compress && encrypt:
		tmp, err := p.tempFor(dst)
		if err != nil {
			return err
		}
		defer os.Remove(tmp)
		if err := p.encryptor.DecryptFile(src, tmp); err != nil {
			return err
		}
		return p.compressor.DecompressFile(tmp, dst)

	case opts.Compress:
		return p.compressor.DecompressFile(src, dst)

	case encrypt:
		return p.encryptor.DecryptFile(src, dst)

	default:
		return fsutil.CopyFile(src, dst)
	}
}

// tempFor reserves an intermediate file alongside dst so the final
// rename-free write stays on one filesystem.
func (p *Pipeline) tempFor(dst string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".stage-*")
	if err != nil {
		return "", fmt.Errorf("creating intermediate file: %w", err)
	}
	name := f.Name()
	f.Close()
	return name, nil
}
