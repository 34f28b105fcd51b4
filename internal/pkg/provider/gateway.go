package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Item is the canonical metadata shape every gateway normalizes into.
// Provider-specific field names never cross this boundary.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     uint64 `json:"size"`
	IsFolder bool   `json:"is_folder"`
	WebURL   string `json:"web_url,omitempty"`
}

// Gateway abstracts one connected provider account. Every call takes a
// context; callers are expected to bound it with the timeouts below.
type Gateway interface {
	// AccountKey identifies the backing account, used to decide whether a
	// native server-side copy is possible.
	AccountKey() string

	GetItem(ctx context.Context, itemID string) (*Item, error)
	ListChildren(ctx context.Context, folderID string) ([]Item, error)
	// FindChildByName returns nil (no error) when the folder holds no
	// child with that name.
	FindChildByName(ctx context.Context, folderID, name string) (*Item, error)
	CopyItem(ctx context.Context, itemID, targetFolderID, name string) (*Item, error)
	Download(ctx context.Context, itemID string) (io.ReadCloser, error)
	Upload(ctx context.Context, folderID, name string, size uint64, r io.Reader) (*Item, error)
}

// Call timeouts. Copies stream file bodies and get minutes; metadata
// lookups get seconds. A stuck remote call must never wedge a job worker.
const (
	MetadataTimeout = 30 * time.Second
	CopyTimeout     = 10 * time.Minute
)

// RateLimitError is a provider telling us to back off. RetryAfter carries
// the provider-specified wait when one was given.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("provider rate limit hit, retry after %s", e.RetryAfter)
}

// IsRateLimit reports whether err is a rate-limit signal and how long to
// wait before retrying.
func IsRateLimit(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}

// ErrNotFound is returned for items that do not exist on the provider.
var ErrNotFound = errors.New("provider item not found")

// Copy moves one file from src to dst. Same-account transfers use the
// provider's server-side copy; everything else streams the binary through
// us.
func Copy(ctx context.Context, src Gateway, srcItemID string, dst Gateway, dstFolderID, name string, size uint64) (*Item, error) {
	if src.AccountKey() == dst.AccountKey() {
		return src.CopyItem(ctx, srcItemID, dstFolderID, name)
	}

	body, err := src.Download(ctx, srcItemID)
	if err != nil {
		return nil, fmt.Errorf("download from source: %w", err)
	}
	defer body.Close()

	item, err := dst.Upload(ctx, dstFolderID, name, size, body)
	if err != nil {
		return nil, fmt.Errorf("upload to target: %w", err)
	}
	return item, nil
}
