package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// SaltSize is the number of random bytes in a generated salt.
const SaltSize = 32

// LoadOrCreateSalt returns the pseudonymization salt stored at path,
// generating and persisting a new one (mode 0600) on first use. The salt is
// stored hex-encoded.
func LoadOrCreateSalt(path string) ([]byte, error) {
	path = ExpandUserPath(strings.TrimSpace(path))
	if path == "" {
		return nil, errors.New("salt path is empty")
	}

	salt, err := readSalt(path)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating salt dir: %w", err)
	}
	salt = make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		// Lost a race with another process; use its salt.
		return readSalt(path)
	}
	if err != nil {
		return nil, fmt.Errorf("creating salt file: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(salt) + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing salt file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing salt file: %w", err)
	}
	return salt, nil
}

func readSalt(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("salt file %s is accessible by other users (mode %v); run chmod 600", path, info.Mode().Perm())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading salt file: %w", err)
	}
	salt, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("salt file %s is not hex: %w", path, err)
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("salt file %s holds %d bytes, want at least 16", path, len(salt))
	}
	return salt, nil
}
