// Package crypt implements the archive encryption layer: AES-256-CBC
// with a fixed file header, PBKDF2 password derivation, and HMAC-SHA256
// integrity tags. Encrypted payloads are self-describing; the header
// lets any reader distinguish ciphertext from plain archives.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"dirsafe/internal/fsutil"
)

const (
	// fileHeader prefixes every encrypted payload.
	fileHeader = "ENCRYPT1"

	// keySize is the AES-256 key length. Shorter inputs are
	// zero-padded, longer ones truncated.
	keySize = 32

	// chunkSize is the unit of streaming I/O. A multiple of the AES
	// block size so only the final chunk carries padding.
	chunkSize = 4096

	// deriveIterations is the PBKDF2 round count for DeriveKey.
	deriveIterations = 10000

	saltSize = 16
)

var (
	// ErrNoKey is returned when an operation needs a key and none has
	// been set.
	ErrNoKey = errors.New("crypt: no encryption key set")

	// ErrBadHeader is returned when a payload does not start with the
	// expected header or is truncated below the minimum frame.
	ErrBadHeader = errors.New("crypt: missing or invalid encryption header")

	// ErrCorruptPadding is returned when ciphertext decrypts to an
	// invalid padding block, usually meaning a wrong key or corrupt
	// data.
	ErrCorruptPadding = errors.New("crypt: invalid padding in decrypted data")
)

// Encryptor holds key state and performs all cipher operations. It is
// not safe for concurrent use.
type Encryptor struct {
	key []byte
}

// New returns an Encryptor with no key set.
func New() *Encryptor {
	return &Encryptor{}
}

// SetKey installs a key from a string. A 64-character hex string is
// decoded to its 32 raw bytes; anything else is taken as raw material
// and zero-padded or truncated to 32 bytes.
func (e *Encryptor) SetKey(key string) {
	if len(key) == keySize*2 {
		if raw, err := hex.DecodeString(key); err == nil {
			e.key = raw
			return
		}
	}
	e.key = normalizeKey([]byte(key))
}

// SetRawKey installs raw key bytes, zero-padded or truncated to 32.
func (e *Encryptor) SetRawKey(key []byte) {
	e.key = normalizeKey(key)
}

// HasKey reports whether a key is installed.
func (e *Encryptor) HasKey() bool {
	return len(e.key) == keySize
}

// KeyHex returns the installed key as a 64-character hex string, or ""
// when no key is set.
func (e *Encryptor) KeyHex() string {
	if !e.HasKey() {
		return ""
	}
	return hex.EncodeToString(e.key)
}

// GenerateRandomKey installs a fresh random key. bits must be 128, 192
// or 256; shorter keys are zero-padded to the AES-256 size.
func (e *Encryptor) GenerateRandomKey(bits int) error {
	switch bits {
	case 128, 192, 256:
	default:
		return fmt.Errorf("unsupported key size %d bits (want 128, 192 or 256)", bits)
	}
	raw, err := fsutil.RandomBytes(bits / 8)
	if err != nil {
		return err
	}
	e.key = normalizeKey(raw)
	return nil
}

// LoadKeyFromFile installs a key from a raw binary key file.
func (e *Encryptor) LoadKeyFromFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading key file %s: %w", path, err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("key file %s is empty", path)
	}
	e.key = normalizeKey(raw)
	return nil
}

// SaveKeyToFile writes the installed key as raw bytes, readable only by
// the owner.
func (e *Encryptor) SaveKeyToFile(path string) error {
	if !e.HasKey() {
		return ErrNoKey
	}
	if err := os.WriteFile(path, e.key, 0600); err != nil {
		return fmt.Errorf("writing key file %s: %w", path, err)
	}
	return nil
}

// EncryptFile encrypts src into dst: header, random IV, then CBC
// ciphertext streamed in fixed-size chunks. dst is removed on failure.
func (e *Encryptor) EncryptFile(src, dst string) error {
	if !e.HasKey() {
		return ErrNoKey
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if err := e.encryptStream(in, out); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("encrypting %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	return nil
}

// DecryptFile decrypts src into dst. dst is removed on failure.
func (e *Encryptor) DecryptFile(src, dst string) error {
	if !e.HasKey() {
		return ErrNoKey
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}

	if err := e.decryptStream(in, out); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("decrypting %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("closing %s: %w", dst, err)
	}
	return nil
}

// EncryptData encrypts a buffer into the same framed format files use.
func (e *Encryptor) EncryptData(data []byte) ([]byte, error) {
	if !e.HasKey() {
		return nil, ErrNoKey
	}
	var buf bytes.Buffer
	if err := e.encryptStream(bytes.NewReader(data), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecryptData decrypts a framed buffer produced by EncryptData or
// EncryptFile.
func (e *Encryptor) DecryptData(data []byte) ([]byte, error) {
	if !e.HasKey() {
		return nil, ErrNoKey
	}
	var buf bytes.Buffer
	if err := e.decryptStream(bytes.NewReader(data), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncryptString encrypts s and hex-armors the result for embedding in
// text documents.
func (e *Encryptor) EncryptString(s string) (string, error) {
	ct, err := e.EncryptData([]byte(s))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString.
func (e *Encryptor) DecryptString(s string) (string, error) {
	ct, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decoding hex armor: %w", err)
	}
	pt, err := e.DecryptData(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// IsEncryptedFile reports whether path starts with the encryption
// header. Errors and short files read as "not encrypted".
func IsEncryptedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	hdr := make([]byte, len(fileHeader))
	if _, err := io.ReadFull(f, hdr); err != nil {
		return false
	}
	return string(hdr) == fileHeader
}

// HMAC computes a hex HMAC-SHA256 tag over data with the installed key.
func (e *Encryptor) HMAC(data []byte) (string, error) {
	if !e.HasKey() {
		return "", ErrNoKey
	}
	mac := hmac.New(sha256.New, e.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyHMAC checks a hex tag produced by HMAC in constant time.
func (e *Encryptor) VerifyHMAC(data []byte, tag string) bool {
	want, err := e.HMAC(data)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(want), []byte(tag))
}

// DeriveKey derives a hex-encoded 32-byte key from a password and a hex
// salt using PBKDF2-HMAC-SHA256.
func DeriveKey(password, salt string) string {
	return hex.EncodeToString(pbkdf2.Key([]byte(password), []byte(salt), deriveIterations, keySize, sha256.New))
}

// GenerateSalt returns 16 random bytes hex-encoded for use with
// DeriveKey.
func GenerateSalt() (string, error) {
	return fsutil.RandomHex(saltSize)
}

func (e *Encryptor) encryptStream(r io.Reader, w io.Writer) error {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return err
	}

	iv, err := fsutil.RandomBytes(aes.BlockSize)
	if err != nil {
		return err
	}

	if _, err := io.WriteString(w, fileHeader); err != nil {
		return err
	}
	if _, err := w.Write(iv); err != nil {
		return err
	}

	mode := cipher.NewCBCEncrypter(block, iv)
	buf := make([]byte, chunkSize)
	for {
		n, rerr := io.ReadFull(r, buf)
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			// Final chunk: always padded, a full padding block
			// when the input is an exact chunk multiple.
			final := pkcs7Pad(buf[:n])
			mode.CryptBlocks(final, final)
			if _, err := w.Write(final); err != nil {
				return err
			}
			return nil
		}
		if rerr != nil {
			return rerr
		}
		mode.CryptBlocks(buf, buf)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
}

func (e *Encryptor) decryptStream(r io.Reader, w io.Writer) error {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return err
	}

	hdr := make([]byte, len(fileHeader))
	if _, err := io.ReadFull(r, hdr); err != nil {
		return ErrBadHeader
	}
	if string(hdr) != fileHeader {
		return ErrBadHeader
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(r, iv); err != nil {
		return ErrBadHeader
	}

	mode := cipher.NewCBCDecrypter(block, iv)

	// One chunk is held back so padding can be stripped from the very
	// last block once EOF is known.
	var pending []byte
	buf := make([]byte, chunkSize)
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if n%aes.BlockSize != 0 {
				return ErrBadHeader
			}
			chunk := make([]byte, n)
			mode.CryptBlocks(chunk, buf[:n])
			if pending != nil {
				if _, err := w.Write(pending); err != nil {
					return err
				}
			}
			pending = chunk
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			if pending == nil {
				return ErrBadHeader
			}
			final, err := pkcs7Unpad(pending)
			if err != nil {
				return err
			}
			if _, err := w.Write(final); err != nil {
				return err
			}
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// normalizeKey zero-pads or truncates raw material to the AES-256 size.
func normalizeKey(raw []byte) []byte {
	key := make([]byte, keySize)
	copy(key, raw)
	return key
}

func pkcs7Pad(data []byte) []byte {
	pad := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrCorruptPadding
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, ErrCorruptPadding
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrCorruptPadding
		}
	}
	return data[:len(data)-pad], nil
}
