package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raaihank/photo-sentinel/internal/logger"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}
}

func baseNames(assets []Asset) []string {
	names := make([]string, len(assets))
	for i, a := range assets {
		names[i] = filepath.Base(LocalPath(a.URI))
	}
	return names
}

func collect(t *testing.T, src Source, limit int) ([]string, int) {
	t.Helper()
	var names []string
	cursor := ""
	pages := 0
	for {
		page, err := src.List(context.Background(), cursor, limit)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		pages++
		if len(page.Assets) > limit {
			t.Fatalf("Page exceeded limit: %d", len(page.Assets))
		}
		names = append(names, baseNames(page.Assets)...)
		if !page.HasNext {
			return names, pages
		}
		cursor = page.NextCursor
	}
}

func TestDirectorySourcePaging(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"a.jpg", "b.png", "notes.txt", ".y.jpg", ".hidden/x.jpg",
		"sub/c.jpeg", "sub/deep/d.JPG", "z.heic")

	src := NewDirectorySource([]string{root}, []string{"jpg", ".jpeg", "png", "heic"}, logger.NewNop())

	want := "a.jpg,b.png,c.jpeg,d.JPG,z.heic"
	for _, limit := range []int{1, 2, 3, 5, 100} {
		names, _ := collect(t, src, limit)
		if got := strings.Join(names, ","); got != want {
			t.Errorf("limit %d: got %s, want %s", limit, got, want)
		}
	}

	_, pages := collect(t, src, 2)
	if pages != 3 {
		t.Errorf("Expected 3 pages of 2, got %d", pages)
	}
}

func TestDirectorySourceMultipleRoots(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFiles(t, first, "a.jpg", "b.jpg")
	writeFiles(t, second, "c.jpg")

	src := NewDirectorySource([]string{first, filepath.Join(first, "missing"), second}, []string{"jpg"}, logger.NewNop())

	page, err := src.List(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !page.HasNext || !strings.HasPrefix(page.NextCursor, "0:") {
		t.Fatalf("Expected a cursor into the first root, got %+v", page)
	}

	page, err = src.List(context.Background(), page.NextCursor, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if got := strings.Join(baseNames(page.Assets), ","); got != "c.jpg" || page.HasNext {
		t.Errorf("Unexpected second page %s (has next %v)", got, page.HasNext)
	}
}

func TestDirectorySourceAssetIdentity(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.jpg")
	src := NewDirectorySource([]string{root}, []string{"jpg"}, logger.NewNop())

	first, _ := src.List(context.Background(), "", 10)
	second, _ := src.List(context.Background(), "", 10)
	if len(first.Assets) != 1 || first.Assets[0] != second.Assets[0] {
		t.Fatalf("Expected stable assets, got %+v and %+v", first.Assets, second.Assets)
	}
	if !strings.HasPrefix(first.Assets[0].URI, "file://") || len(first.Assets[0].ID) != 16 {
		t.Errorf("Unexpected asset %+v", first.Assets[0])
	}
}

func TestDirectorySourceErrors(t *testing.T) {
	src := NewDirectorySource([]string{t.TempDir()}, []string{"jpg"}, logger.NewNop())
	if _, err := src.List(context.Background(), "", 0); err == nil {
		t.Error("Expected error for zero limit")
	}
	if _, err := src.List(context.Background(), "garbage", 10); err == nil {
		t.Error("Expected error for malformed cursor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	root := t.TempDir()
	writeFiles(t, root, "a.jpg")
	cancelled := NewDirectorySource([]string{root}, []string{"jpg"}, logger.NewNop())
	if _, err := cancelled.List(ctx, "", 10); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func TestWalkLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"a.jpg", "b.jpg", true},
		{"sub", "sub/a.jpg", true},
		{"sub/z.jpg", "t.jpg", true},
		{"t.jpg", "sub/z.jpg", false},
		{"sub/a.jpg", "sub/a.jpg", false},
	}
	for _, tt := range tests {
		if got := walkLess(splitPath(tt.a), splitPath(tt.b)); got != tt.want {
			t.Errorf("walkLess(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFileURIRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holiday", "IMG 001.jpg")
	uri := FileURI(path)
	if !strings.HasPrefix(uri, "file://") {
		t.Fatalf("Expected file:// prefix, got %q", uri)
	}
	if got := LocalPath(uri); got != path {
		t.Errorf("Expected %q, got %q", path, got)
	}
	if AssetID(uri) != AssetID(FileURI(path)) || len(AssetID(uri)) != 16 {
		t.Errorf("AssetID should be a stable 16 char id, got %q", AssetID(uri))
	}
}
