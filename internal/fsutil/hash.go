package fsutil

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// SHA256File computes the SHA-256 digest of a file's content, hex-encoded.
func SHA256File(path string) (string, error) {
	return hashFile(path, sha256.New())
}

// MD5File computes the MD5 digest of a file's content, hex-encoded.
// Kept for interoperability with tooling that expects MD5; content
// identity inside dirsafe always uses SHA-256.
func MD5File(path string) (string, error) {
	return hashFile(path, md5.New())
}

// SHA256Bytes computes the SHA-256 digest of a byte buffer, hex-encoded.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashFile(path string, h hash.Hash) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for hashing: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
