package localdir

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/timmy/kindred/internal/source"
)

const SourceID = "localdir"

// Adapter implements the Source interface for a directory of image files.
type Adapter struct {
	root      string
	urlPrefix string
	items     []source.ImageItem // Cached items
	loaded    bool
}

// NewAdapter creates an adapter over root. Item URLs are urlPrefix joined
// with the slash-separated path relative to root.
func NewAdapter(root, urlPrefix string) *Adapter {
	return &Adapter{
		root:      root,
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
	}
}

// GetSourceID returns the unique identifier for this source
func (a *Adapter) GetSourceID() string {
	return SourceID
}

// FetchBatch fetches a batch of image items. The cursor is an offset into the
// sorted file list.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]source.ImageItem, string, error) {
	if !a.loaded {
		if err := a.loadItems(); err != nil {
			return nil, "", fmt.Errorf("failed to load items: %w", err)
		}
		a.loaded = true
	}

	startIndex := 0
	if cursor != "" {
		var err error
		startIndex, err = strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
	}

	if startIndex >= len(a.items) {
		return []source.ImageItem{}, "", nil
	}

	endIndex := startIndex + limit
	if endIndex > len(a.items) {
		endIndex = len(a.items)
	}

	nextCursor := ""
	if endIndex < len(a.items) {
		nextCursor = strconv.Itoa(endIndex)
	}

	return a.items[startIndex:endIndex], nextCursor, nil
}

// Count returns the total number of image files under root.
func (a *Adapter) Count() (int, error) {
	if !a.loaded {
		if err := a.loadItems(); err != nil {
			return 0, err
		}
		a.loaded = true
	}
	return len(a.items), nil
}

func (a *Adapter) loadItems() error {
	if _, err := os.Stat(a.root); os.IsNotExist(err) {
		return fmt.Errorf("image directory does not exist: %s", a.root)
	}

	a.items = []source.ImageItem{}

	err := filepath.Walk(a.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		name := info.Name()
		if strings.HasPrefix(name, ".") {
			return nil
		}

		format := FormatFromExt(filepath.Ext(name))
		if format == "" {
			return nil
		}

		relPath, err := filepath.Rel(a.root, p)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(relPath)

		a.items = append(a.items, source.ImageItem{
			SourceID:  rel,
			URL:       path.Join(a.urlPrefix, rel),
			Format:    format,
			LocalPath: p,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk image directory: %w", err)
	}

	sort.Slice(a.items, func(i, j int) bool {
		return a.items[i].SourceID < a.items[j].SourceID
	})
	return nil
}

// FormatFromExt maps a file extension to an image format, or "" when the
// extension is not an accepted image type.
func FormatFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	case ".gif":
		return "gif"
	case ".webp":
		return "webp"
	default:
		return ""
	}
}
