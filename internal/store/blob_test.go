package store

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hurttlocker/chatlift/internal/canonical"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writePNG(t *testing.T, path string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func TestPutDeduplicatesByContent(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	a := writeFile(t, filepath.Join(src, "one", "photo.jpg"), "same bytes")
	b := writeFile(t, filepath.Join(src, "two", "copy.jpg"), "same bytes")

	s := NewBlobStore(out, nil, nil)
	first, err := s.Put(a)
	if err != nil {
		t.Fatalf("Put a: %v", err)
	}
	second, err := s.Put(b)
	if err != nil {
		t.Fatalf("Put b: %v", err)
	}

	if first.SHA256 != HashBytes([]byte("same bytes")) {
		t.Fatalf("unexpected hash %s", first.SHA256)
	}
	if second.Path != first.Path || !second.Deduplicated {
		t.Fatalf("expected dedup onto %s, got %+v", first.Path, second)
	}
	wantDir := filepath.Join(out, "attachments", first.SHA256[:2])
	if filepath.Dir(first.Path) != wantDir {
		t.Fatalf("stored under %s, want %s", filepath.Dir(first.Path), wantDir)
	}
	if !strings.HasSuffix(first.Path, first.SHA256+"_photo.jpg") {
		t.Fatalf("unexpected name %s", first.Path)
	}
	if n := countFiles(t, filepath.Join(out, "attachments")); n != 1 {
		t.Fatalf("expected exactly one stored file, got %d", n)
	}
}

func TestIndexThreadsAcrossStores(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	a := writeFile(t, filepath.Join(src, "a.txt"), "payload")

	idx := make(Index)
	first := NewBlobStore(out, idx, nil)
	if _, err := first.Put(a); err != nil {
		t.Fatal(err)
	}
	second := NewBlobStore(out, idx, nil)
	blob, err := second.Put(a)
	if err != nil {
		t.Fatal(err)
	}
	if !blob.Deduplicated {
		t.Fatal("shared index should dedupe across stores")
	}
	if len(idx) != 1 {
		t.Fatalf("expected 1 index entry, got %d", len(idx))
	}
}

func TestCopyAttachmentsMissingIsNotFatal(t *testing.T) {
	home := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(home, "Library/Messages/Attachments/aa/01/G1/note.txt"), "hello")
	writeFile(t, filepath.Join(home, "Library/Messages/Attachments/bb/02/G2/dup.txt"), "hello")

	atts := []canonical.Attachment{
		{Type: canonical.AttachmentFile, Filename: "~/Library/Messages/Attachments/aa/01/G1/note.txt"},
		{Type: canonical.AttachmentFile, Filename: "~/Library/Messages/Attachments/zz/99/G9/gone.txt"},
		{Type: canonical.AttachmentFile, Filename: "~/Library/Messages/Attachments/bb/02/G2/dup.txt"},
	}
	s := NewBlobStore(out, nil, nil)
	st := s.CopyAttachments(context.Background(), atts, FileLocator{Home: home}, CopyOptions{Copy: true})

	if st.Found != 2 || st.Missing != 1 || st.Copied != 1 || st.Deduplicated != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if atts[1].AbsPath != nil {
		t.Fatal("missing attachment should keep nil AbsPath")
	}
	if atts[0].SHA256 != atts[2].SHA256 || atts[0].StoredPath != atts[2].StoredPath {
		t.Fatalf("identical content should share hash and destination: %+v / %+v", atts[0], atts[2])
	}
	if len(st.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", st.Warnings)
	}
}

// cancelingLocator cancels the pass after resolving its first attachment.
type cancelingLocator struct {
	FileLocator
	cancel context.CancelFunc
}

func (l cancelingLocator) Locate(ctx context.Context, filename string) (string, error) {
	defer l.cancel()
	return l.FileLocator.Locate(ctx, filename)
}

func TestCopyAttachmentsCanceledMidBatch(t *testing.T) {
	home := t.TempDir()
	out := t.TempDir()
	writeFile(t, filepath.Join(home, "a.txt"), "first")
	writeFile(t, filepath.Join(home, "b.txt"), "second")
	writeFile(t, filepath.Join(home, "c.txt"), "third")

	atts := []canonical.Attachment{
		{Type: canonical.AttachmentFile, Filename: "~/a.txt"},
		{Type: canonical.AttachmentFile, Filename: "~/b.txt"},
		{Type: canonical.AttachmentFile, Filename: "~/c.txt"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewBlobStore(out, nil, nil)
	st := s.CopyAttachments(ctx, atts, cancelingLocator{FileLocator{Home: home}, cancel}, CopyOptions{Copy: true})

	if st.Found != 1 || st.Copied != 1 || st.Skipped != 2 || st.Missing != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if atts[0].AbsPath == nil || atts[1].AbsPath != nil || atts[2].AbsPath != nil {
		t.Fatalf("only the first attachment should resolve: %+v", atts)
	}
	if len(st.Warnings) != 1 || !strings.Contains(st.Warnings[0], "2 attachment(s) skipped") {
		t.Fatalf("warnings = %v", st.Warnings)
	}
}

func TestCopyAttachmentsAlreadyCanceled(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, "a.txt"), "first")
	atts := []canonical.Attachment{{Type: canonical.AttachmentFile, Filename: "~/a.txt"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := NewBlobStore(t.TempDir(), nil, nil).CopyAttachments(ctx, atts, FileLocator{Home: home}, CopyOptions{Copy: true})
	if st.Skipped != 1 || st.Found != 0 || atts[0].AbsPath != nil {
		t.Fatalf("stats = %+v, attachment = %+v", st, atts[0])
	}
}

func TestFileLocatorRoots(t *testing.T) {
	root := t.TempDir()
	want := writeFile(t, filepath.Join(root, "ab/12/GUID/IMG_1.jpeg"), "x")

	loc := FileLocator{Home: t.TempDir(), Roots: []string{root}}
	got, err := loc.Locate(context.Background(), "~/Library/Messages/Attachments/ab/12/GUID/IMG_1.jpeg")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if got != want {
		t.Fatalf("Locate = %s, want %s", got, want)
	}
	if _, err := loc.Locate(context.Background(), "relative/missing.jpeg"); err == nil {
		t.Fatal("expected error for missing relative file")
	}
}

func TestThumbnailDownscales(t *testing.T) {
	out := t.TempDir()
	src := writePNG(t, filepath.Join(t.TempDir(), "big.png"), 400, 200)

	s := NewBlobStore(out, nil, nil)
	hash, _, err := HashFile(src)
	if err != nil {
		t.Fatal(err)
	}
	dest, err := s.Thumbnail(src, hash, 100)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if dest != filepath.Join(out, "thumbnails", hash[:2], hash+".jpg") {
		t.Fatalf("unexpected thumbnail path %s", dest)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("thumbnail is not a JPEG: %v", err)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Fatalf("thumbnail is %dx%d, want 100x50", cfg.Width, cfg.Height)
	}
}

func TestThumbnailRejectsNonImage(t *testing.T) {
	src := writeFile(t, filepath.Join(t.TempDir(), "fake.jpg"), "not an image")
	s := NewBlobStore(t.TempDir(), nil, nil)
	if _, err := s.Thumbnail(src, "", 0); err == nil {
		t.Fatal("expected error for undecodable image")
	}
}
