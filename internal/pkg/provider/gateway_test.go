package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memGateway is an in-memory Gateway for exercising the Copy helper.
type memGateway struct {
	key       string
	files     map[string][]byte
	copyCalls int
	upCalls   int
	downCalls int
}

func newMemGateway(key string) *memGateway {
	return &memGateway{key: key, files: map[string][]byte{}}
}

func (g *memGateway) AccountKey() string { return g.key }

func (g *memGateway) GetItem(ctx context.Context, itemID string) (*Item, error) {
	data, ok := g.files[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	return &Item{ID: itemID, Name: itemID, Size: uint64(len(data))}, nil
}

func (g *memGateway) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	return nil, nil
}

func (g *memGateway) FindChildByName(ctx context.Context, folderID, name string) (*Item, error) {
	if _, ok := g.files[folderID+"/"+name]; ok {
		return &Item{ID: folderID + "/" + name, Name: name}, nil
	}
	return nil, nil
}

func (g *memGateway) CopyItem(ctx context.Context, itemID, targetFolderID, name string) (*Item, error) {
	g.copyCalls++
	data, ok := g.files[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	dst := targetFolderID + "/" + name
	g.files[dst] = data
	return &Item{ID: dst, Name: name, Size: uint64(len(data))}, nil
}

func (g *memGateway) Download(ctx context.Context, itemID string) (io.ReadCloser, error) {
	g.downCalls++
	data, ok := g.files[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (g *memGateway) Upload(ctx context.Context, folderID, name string, size uint64, r io.Reader) (*Item, error) {
	g.upCalls++
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	dst := folderID + "/" + name
	g.files[dst] = data
	return &Item{ID: dst, Name: name, Size: uint64(len(data))}, nil
}

func TestCopySameAccountUsesNativeCopy(t *testing.T) {
	g := newMemGateway("drive:acct-1")
	g.files["src.bin"] = []byte("payload")

	item, err := Copy(context.Background(), g, "src.bin", g, "dest", "src.bin", 7)
	require.NoError(t, err)

	assert.Equal(t, 1, g.copyCalls)
	assert.Zero(t, g.downCalls)
	assert.Zero(t, g.upCalls)
	assert.Equal(t, []byte("payload"), g.files["dest/src.bin"])
	assert.Equal(t, uint64(7), item.Size)
}

func TestCopyCrossAccountStreamsThrough(t *testing.T) {
	src := newMemGateway("drive:acct-1")
	dst := newMemGateway("dropbox:acct-2")
	src.files["photo.jpg"] = []byte("jpeg bytes")

	item, err := Copy(context.Background(), src, "photo.jpg", dst, "/inbox", "photo.jpg", 10)
	require.NoError(t, err)

	assert.Zero(t, src.copyCalls)
	assert.Equal(t, 1, src.downCalls)
	assert.Equal(t, 1, dst.upCalls)
	assert.Equal(t, []byte("jpeg bytes"), dst.files["/inbox/photo.jpg"])
	assert.Equal(t, "photo.jpg", item.Name)
}

func TestCopyDownloadFailureWrapped(t *testing.T) {
	src := newMemGateway("drive:acct-1")
	dst := newMemGateway("s3:acct-3")

	_, err := Copy(context.Background(), src, "missing.bin", dst, "", "missing.bin", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsRateLimit(t *testing.T) {
	wait, ok := IsRateLimit(&RateLimitError{RetryAfter: 30 * time.Second})
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, wait)

	wrapped := fmt.Errorf("copy item: %w", &RateLimitError{RetryAfter: time.Minute})
	wait, ok = IsRateLimit(wrapped)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, wait)

	_, ok = IsRateLimit(errors.New("boom"))
	assert.False(t, ok)
}
