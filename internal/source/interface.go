package source

import "context"

// ImageItem represents one image file offered by a data source.
type ImageItem struct {
	SourceID  string // Unique ID within the source
	URL       string // URL the image is served under when not uploaded
	Format    string // File format (jpeg, png, gif, webp)
	LocalPath string // Local file path
}

// Source defines the interface for image data sources.
type Source interface {
	// GetSourceID returns the unique identifier for this source.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// FetchBatch fetches a batch of image items starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of items to fetch.
	// Returns:
	//   - items: batch of image items.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (items []ImageItem, nextCursor string, err error)
}
