// Package store is the content-addressed file store for attachment binaries
// and their thumbnails.
//
// Files are laid out under the run's output directory as
//
//	attachments/<hash[:2]>/<hash>_<basename>
//	thumbnails/<hash[:2]>/<hash>.jpg
//
// The hash → destination Index is owned by the caller and passed in
// explicitly. Within one run it is append-only and touched by a single
// goroutine. Writes are copy-if-absent, which is safe for a single writer but
// not for several processes sharing one output directory.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/chatlift/internal/canonical"
)

// Index maps a content hash to the stored destination path.
type Index map[string]string

// Locator resolves an attachment filename as recorded by the source (for
// example "~/Library/Messages/Attachments/ab/12/GUID/IMG_0001.jpeg") to a
// readable path on this machine.
type Locator interface {
	Locate(ctx context.Context, filename string) (string, error)
}

// Blob describes one stored file.
type Blob struct {
	SHA256       string
	Size         int64
	Path         string
	Deduplicated bool
}

// BlobStore copies files into the content-addressed tree.
type BlobStore struct {
	root   string
	index  Index
	logger *slog.Logger
}

// NewBlobStore creates a store rooted at outDir. A nil index starts empty.
func NewBlobStore(outDir string, index Index, logger *slog.Logger) *BlobStore {
	if index == nil {
		index = make(Index)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BlobStore{root: outDir, index: index, logger: logger}
}

// Index returns the live hash → destination map.
func (s *BlobStore) Index() Index {
	return s.index
}

// Root returns the output directory.
func (s *BlobStore) Root() string {
	return s.root
}

// Put stores src under its content hash. The bytes are written at most once
// per hash; later calls with identical content return the first destination.
func (s *BlobStore) Put(src string) (Blob, error) {
	hash, size, err := HashFile(src)
	if err != nil {
		return Blob{}, err
	}
	return s.put(src, hash, size)
}

func (s *BlobStore) put(src, hash string, size int64) (Blob, error) {
	if dest, ok := s.index[hash]; ok {
		if _, err := os.Stat(dest); err == nil {
			return Blob{SHA256: hash, Size: size, Path: dest, Deduplicated: true}, nil
		}
	}

	dest := filepath.Join(s.root, "attachments", shard(hash), hash+"_"+safeBase(src))
	if _, err := os.Stat(dest); err == nil {
		s.index[hash] = dest
		return Blob{SHA256: hash, Size: size, Path: dest, Deduplicated: true}, nil
	}

	if err := copyAtomic(src, dest); err != nil {
		return Blob{}, fmt.Errorf("storing %s: %w", filepath.Base(src), err)
	}
	s.index[hash] = dest
	return Blob{SHA256: hash, Size: size, Path: dest}, nil
}

// CopyStats summarizes a CopyAttachments pass.
type CopyStats struct {
	Found        int
	Copied       int
	Deduplicated int
	Missing      int
	Thumbnails   int
	// Skipped counts attachments left unresolved because ctx was canceled.
	Skipped  int
	Warnings []string
}

// CopyOptions selects the optional work done per attachment.
type CopyOptions struct {
	// Copy writes binaries into the store. Without it only the hash is computed.
	Copy bool

	// Thumbnails renders previews for image attachments.
	Thumbnails   bool
	MaxThumbnail int
}

// CopyAttachments resolves each attachment through loc, hashes it and, when
// requested, stores the binary and an image thumbnail. An attachment that
// cannot be found or read is logged and left with a nil AbsPath; it never
// fails the batch. Once ctx is canceled the remaining attachments are left
// unresolved and counted as Skipped.
func (s *BlobStore) CopyAttachments(ctx context.Context, atts []canonical.Attachment, loc Locator, opts CopyOptions) CopyStats {
	var st CopyStats
	for i := range atts {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(atts); j++ {
				atts[j].AbsPath = nil
			}
			st.Skipped = len(atts) - i
			st.Warnings = append(st.Warnings, fmt.Sprintf("%d attachment(s) skipped: %v", st.Skipped, err))
			break
		}
		a := &atts[i]
		warn := func(msg string, err error) {
			st.Warnings = append(st.Warnings, fmt.Sprintf("%s: %s: %v", a.Filename, msg, err))
			s.logger.Warn(msg, "filename", a.Filename, "error", err)
		}

		if loc == nil || strings.TrimSpace(a.Filename) == "" {
			a.AbsPath = nil
			st.Missing++
			continue
		}
		path, err := loc.Locate(ctx, a.Filename)
		if err != nil {
			a.AbsPath = nil
			st.Missing++
			warn("attachment not found", err)
			continue
		}
		hash, size, err := HashFile(path)
		if err != nil {
			a.AbsPath = nil
			st.Missing++
			warn("attachment unreadable", err)
			continue
		}
		st.Found++
		a.AbsPath = &path
		a.SHA256 = hash
		a.SizeBytes = size

		if opts.Copy {
			blob, err := s.put(path, hash, size)
			if err != nil {
				warn("attachment copy failed", err)
			} else {
				a.StoredPath = blob.Path
				if blob.Deduplicated {
					st.Deduplicated++
				} else {
					st.Copied++
				}
			}
		}

		if opts.Thumbnails && a.Type == canonical.AttachmentImage {
			thumb, err := s.Thumbnail(path, hash, opts.MaxThumbnail)
			if err != nil {
				warn("thumbnail failed", err)
			} else {
				a.ThumbnailPath = thumb
				st.Thumbnails++
			}
		}
	}
	return st
}

// CopyAttachments is the functional form of BlobStore.CopyAttachments: it
// copies binaries into outDir, threads index through and returns it.
func CopyAttachments(ctx context.Context, atts []canonical.Attachment, outDir string, loc Locator, index Index, logger *slog.Logger) Index {
	s := NewBlobStore(outDir, index, logger)
	s.CopyAttachments(ctx, atts, loc, CopyOptions{Copy: true})
	return s.Index()
}

// FileLocator resolves attachment names on the local filesystem. Names
// starting with "~" expand to Home; relative names are tried under each root.
type FileLocator struct {
	Home  string
	Roots []string
}

// Locate implements Locator.
func (l FileLocator) Locate(_ context.Context, filename string) (string, error) {
	name := strings.TrimSpace(filename)
	if name == "" {
		return "", fmt.Errorf("empty filename: %w", os.ErrNotExist)
	}

	var candidates []string
	switch {
	case strings.HasPrefix(name, "~/"):
		if l.Home != "" {
			candidates = append(candidates, filepath.Join(l.Home, name[2:]))
		}
		// Attachment roots may hold a relocated copy of the tree.
		rel := name[2:]
		for _, marker := range []string{"Library/Messages/Attachments/", "Library/SMS/Attachments/"} {
			if i := strings.Index(rel, marker); i >= 0 {
				for _, root := range l.Roots {
					candidates = append(candidates, filepath.Join(root, rel[i+len(marker):]))
				}
			}
		}
	case filepath.IsAbs(name):
		candidates = append(candidates, name)
	default:
		for _, root := range l.Roots {
			candidates = append(candidates, filepath.Join(root, name))
		}
	}

	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && fi.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, os.ErrNotExist)
}

func safeBase(p string) string {
	b := filepath.Base(p)
	if b == "." || b == string(filepath.Separator) || b == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, b)
}

// copyAtomic copies src to dest via a temporary file in dest's directory.
func copyAtomic(src, dest string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return err
	}
	return nil
}

// ErrNotImage is returned by Thumbnail for inputs that cannot be decoded.
var ErrNotImage = errors.New("not a decodable image")
