package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// DefaultMaxThumbnail is the longest edge of a generated thumbnail, in pixels.
const DefaultMaxThumbnail = 512

// Thumbnail renders a JPEG preview of src into thumbnails/<hash[:2]>/<hash>.jpg.
// EXIF orientation is applied before downscaling; images already inside
// maxDim are re-encoded at their own size. An existing thumbnail is reused.
func (s *BlobStore) Thumbnail(src, hash string, maxDim int) (string, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxThumbnail
	}
	if hash == "" {
		h, _, err := HashFile(src)
		if err != nil {
			return "", err
		}
		hash = h
	}

	dest := filepath.Join(s.root, "thumbnails", shard(hash), hash+".jpg")
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	b := img.Bounds()
	if b.Dx() > maxDim || b.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".thumb-*.jpg")
	if err != nil {
		return "", err
	}
	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("encoding thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}
