package thumbs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/raaihank/photo-sentinel/internal/media"
)

// Generator renders a thumbnail for one photo at a size bucket
type Generator interface {
	Generate(ctx context.Context, uri string, bucket int) (string, error)
	Purge() error
}

// ImagingGenerator writes JPEG thumbnails into a directory
type ImagingGenerator struct {
	dir     string
	quality int
}

// NewImagingGenerator creates the directory if needed
func NewImagingGenerator(dir string, quality int) (*ImagingGenerator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail directory: %w", err)
	}
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &ImagingGenerator{dir: dir, quality: quality}, nil
}

// Filename is the thumbnail file name for uri at bucket
func Filename(uri string, bucket int) string {
	sum := sha256.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:]) + "_" + strconv.Itoa(bucket) + ".jpg"
}

// Generate decodes the photo honoring EXIF orientation, scales it down to the
// bucket width and writes it atomically
func (g *ImagingGenerator) Generate(ctx context.Context, uri string, bucket int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := imaging.Open(media.LocalPath(uri), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", uri, err)
	}
	if img.Bounds().Dx() > bucket {
		img = imaging.Resize(img, bucket, 0, imaging.Lanczos)
	}

	tmp, err := os.CreateTemp(g.dir, ".thumb-*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create thumbnail file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := imaging.Encode(tmp, img, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write thumbnail: %w", err)
	}

	dst := filepath.Join(g.dir, Filename(uri, bucket))
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to store thumbnail: %w", err)
	}
	return dst, nil
}

// Purge deletes every generated thumbnail
func (g *ImagingGenerator) Purge() error {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return fmt.Errorf("failed to read thumbnail directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jpg") {
			continue
		}
		if err := os.Remove(filepath.Join(g.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove thumbnail: %w", err)
		}
	}
	return nil
}
