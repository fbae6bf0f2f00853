// Package media enumerates photos from the configured library.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/raaihank/photo-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Asset is one enumerated photo
type Asset struct {
	URI string `json:"uri"`
	ID  string `json:"id"`
}

// Page is a bounded slice of a source listing
type Page struct {
	Assets     []Asset `json:"assets"`
	NextCursor string  `json:"next_cursor,omitempty"`
	HasNext    bool    `json:"has_next"`
}

// Source lists photos page by page. An empty cursor starts from the beginning;
// NextCursor of one page resumes the next.
type Source interface {
	List(ctx context.Context, cursor string, limit int) (Page, error)
}

// DirectorySource walks local directories for image files
type DirectorySource struct {
	roots      []string
	extensions map[string]bool
	logger     *logger.Logger
}

// NewDirectorySource creates a source over roots. Extensions are matched
// case-insensitively and may be given with or without the dot.
func NewDirectorySource(roots, extensions []string, log *logger.Logger) *DirectorySource {
	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}
	return &DirectorySource{
		roots:      roots,
		extensions: exts,
		logger:     log.WithComponent("media"),
	}
}

// List returns up to limit assets after cursor in walk order
func (d *DirectorySource) List(ctx context.Context, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		return Page{}, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rootIdx, after, err := parseCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	page := Page{Assets: make([]Asset, 0, limit)}
	lastRoot := rootIdx
	for i := rootIdx; i < len(d.roots); i++ {
		var resume string
		if i == rootIdx {
			resume = after
		}

		before := len(page.Assets)
		more, err := d.walkRoot(ctx, i, resume, limit, &page)
		if err != nil {
			return Page{}, err
		}
		if len(page.Assets) > before {
			lastRoot = i
		}
		if more {
			last := page.Assets[len(page.Assets)-1]
			page.HasNext = true
			page.NextCursor = formatCursor(lastRoot, LocalPath(last.URI))
			return page, nil
		}
	}
	return page, nil
}

// walkRoot appends assets from one root after resume. It reports true when
// the page is full and this root still has at least one more asset.
func (d *DirectorySource) walkRoot(ctx context.Context, idx int, resume string, limit int, page *Page) (bool, error) {
	root, err := filepath.Abs(d.roots[idx])
	if err != nil {
		return false, fmt.Errorf("failed to resolve root %s: %w", d.roots[idx], err)
	}
	if _, err := os.Stat(root); err != nil {
		d.logger.Warn("Skipping unreadable media root", zap.String("root", root), zap.Error(err))
		return false, nil
	}

	var resumeParts []string
	if resume != "" {
		rel, err := filepath.Rel(root, resume)
		if err != nil {
			return false, fmt.Errorf("invalid cursor path %s: %w", resume, err)
		}
		resumeParts = splitPath(rel)
	}

	more := false
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			d.logger.Debug("Skipping unreadable entry", zap.String("path", path), zap.Error(err))
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		parts := splitPath(rel)

		if entry.IsDir() {
			if resumeParts != nil && !isPrefix(parts, resumeParts) && walkLess(parts, resumeParts) {
				return filepath.SkipDir
			}
			return nil
		}
		if resumeParts != nil && !walkLess(resumeParts, parts) {
			return nil
		}
		if !entry.Type().IsRegular() || !d.extensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		if len(page.Assets) == limit {
			more = true
			return filepath.SkipAll
		}
		page.Assets = append(page.Assets, newAsset(path))
		return nil
	})
	if err != nil && !errors.Is(err, filepath.SkipAll) {
		return false, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return more, nil
}

func newAsset(path string) Asset {
	uri := FileURI(path)
	return Asset{URI: uri, ID: AssetID(uri)}
}

// FileURI converts a filesystem path into a file:// photo URI
func FileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

// AssetID derives a stable short identifier from a URI
func AssetID(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return hex.EncodeToString(sum[:8])
}

// LocalPath converts a file:// photo URI into a filesystem path
func LocalPath(uri string) string {
	return filepath.FromSlash(strings.TrimPrefix(uri, "file://"))
}

// cursor format: "<root index>:<absolute path of last asset>"
func formatCursor(rootIdx int, path string) string {
	return strconv.Itoa(rootIdx) + ":" + path
}

func parseCursor(cursor string) (int, string, error) {
	if cursor == "" {
		return 0, "", nil
	}
	sep := strings.IndexByte(cursor, ':')
	if sep < 0 {
		return 0, "", fmt.Errorf("invalid cursor %q", cursor)
	}
	idx, err := strconv.Atoi(cursor[:sep])
	if err != nil || idx < 0 {
		return 0, "", fmt.Errorf("invalid cursor %q", cursor)
	}
	return idx, cursor[sep+1:], nil
}

func splitPath(rel string) []string {
	return strings.Split(filepath.ToSlash(rel), "/")
}

// walkLess reports whether a is visited before b by filepath.WalkDir, which
// visits a directory before its contents and siblings in lexical order.
func walkLess(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func isPrefix(prefix, parts []string) bool {
	if len(prefix) > len(parts) {
		return false
	}
	for i := range prefix {
		if prefix[i] != parts[i] {
			return false
		}
	}
	return true
}
