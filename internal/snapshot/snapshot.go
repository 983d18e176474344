// Package snapshot stages private, read-only copies of SQLite databases.
//
// A live chat.db is written by the Messages daemon while we read it. Copying
// the main file together with its -wal and -shm companions into a private
// temporary directory gives the extractor a consistent view and guarantees
// the source is never touched. Every Snapshot must be closed; Close removes
// the temporary directory and is safe to call more than once.
package snapshot

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// Companions are the SQLite side files copied next to a database.
var Companions = []string{"-wal", "-shm"}

// Snapshot is a scoped temporary copy of a database.
type Snapshot struct {
	Dir  string
	Path string

	// HasWAL is true when a write-ahead log was staged alongside the database.
	HasWAL bool

	once     sync.Once
	closeErr error
}

// Copy stages src and any present companion files into a new temporary directory.
func Copy(src string) (*Snapshot, error) {
	files := map[string]string{filepath.Base(src): src}
	for _, suffix := range Companions {
		files[filepath.Base(src)+suffix] = src + suffix
	}
	return FromFiles(filepath.Base(src), files)
}

// FromFiles stages a database whose parts live at arbitrary paths (as in a
// backup container, where files are named by hash). files maps the staged
// file name to its source path; main is the staged name of the database
// itself and must be present. Other entries are optional and skipped when
// their source does not exist.
func FromFiles(main string, files map[string]string) (*Snapshot, error) {
	src, ok := files[main]
	if !ok {
		return nil, fmt.Errorf("snapshot: no source for %s", main)
	}
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("snapshot: source database: %w", err)
	}

	dir, err := os.MkdirTemp("", "chatlift-snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("snapshot: creating temp dir: %w", err)
	}
	s := &Snapshot{Dir: dir, Path: filepath.Join(dir, main)}

	for name, from := range files {
		err := copyFile(from, filepath.Join(dir, name))
		if err == nil {
			if name == main+"-wal" {
				s.HasWAL = true
			}
			continue
		}
		if name != main && errors.Is(err, fs.ErrNotExist) {
			continue
		}
		s.Close()
		return nil, fmt.Errorf("snapshot: staging %s: %w", name, err)
	}

	// With a WAL present SQLite must be able to replay it into the private
	// copy, so only WAL-less snapshots are made read-only on disk.
	if !s.HasWAL {
		if err := os.Chmod(s.Path, 0o400); err != nil {
			s.Close()
			return nil, fmt.Errorf("snapshot: chmod: %w", err)
		}
	}
	return s, nil
}

// Close removes the staged directory.
func (s *Snapshot) Close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		s.closeErr = os.RemoveAll(s.Dir)
	})
	return s.closeErr
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// DSN returns a modernc.org/sqlite connection string for the staged copy.
// WAL-less copies are opened immutable; copies with a WAL are opened
// query-only so the log is still applied.
func (s *Snapshot) DSN() string {
	if s.HasWAL {
		return URI(s.Path, "_pragma=query_only(1)")
	}
	return URI(s.Path, "mode=ro&immutable=1&_pragma=query_only(1)")
}

// URI returns a SQLite file: URI for path carrying query. The path is made
// absolute and percent-encoded, so '?', '#' and '%' in directory names reach
// SQLite as part of the file name.
func URI(path, query string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path), RawQuery: query}
	return u.String()
}
