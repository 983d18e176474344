package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// HashFile computes the SHA-256 of a file's contents and returns the hex
// digest and the number of bytes read. This is the canonical content key used
// for attachment deduplication: two files with the same bytes share a key no
// matter their names or which message they came from.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes computes the SHA-256 hex digest of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// shard returns the two-character fan-out directory for a digest.
func shard(hash string) string {
	if len(hash) < 2 {
		return "00"
	}
	return hash[:2]
}
