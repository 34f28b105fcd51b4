package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/cloudhop/cloudhop/app/models"
)

const (
	defaultDropboxAPIBaseURL     = "https://api.dropboxapi.com/2"
	defaultDropboxContentBaseURL = "https://content.dropboxapi.com/2"
)

// DropboxGateway talks to the Dropbox API v2 for one connected account.
// Item IDs are Dropbox paths.
type DropboxGateway struct {
	accessToken string
	accountKey  string

	APIBaseURL     string
	ContentBaseURL string
	HTTPClient     *http.Client
}

// NewDropboxGateway builds a gateway from a stored provider account.
func NewDropboxGateway(account *models.ProviderAccount) *DropboxGateway {
	return &DropboxGateway{
		accessToken:    account.AccessToken,
		accountKey:     account.Provider + ":" + account.ProviderAccountID,
		APIBaseURL:     defaultDropboxAPIBaseURL,
		ContentBaseURL: defaultDropboxContentBaseURL,
		HTTPClient:     &http.Client{Timeout: CopyTimeout},
	}
}

func (g *DropboxGateway) AccountKey() string { return g.accountKey }

type dropboxEntry struct {
	Tag        string `json:".tag"`
	ID         string `json:"id"`
	Name       string `json:"name"`
	PathLower  string `json:"path_lower"`
	Size       uint64 `json:"size"`
	PreviewURL string `json:"preview_url"`
}

func (e *dropboxEntry) toItem() Item {
	return Item{
		ID:       e.PathLower,
		Name:     e.Name,
		Size:     e.Size,
		IsFolder: e.Tag == "folder",
		WebURL:   e.PreviewURL,
	}
}

func (g *DropboxGateway) GetItem(ctx context.Context, itemID string) (*Item, error) {
	var entry dropboxEntry
	err := g.rpc(ctx, "/files/get_metadata", map[string]interface{}{"path": itemID}, &entry)
	if err != nil {
		return nil, err
	}
	item := entry.toItem()
	return &item, nil
}

func (g *DropboxGateway) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	var out struct {
		Entries []dropboxEntry `json:"entries"`
	}
	err := g.rpc(ctx, "/files/list_folder", map[string]interface{}{"path": folderID}, &out)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(out.Entries))
	for i := range out.Entries {
		items = append(items, out.Entries[i].toItem())
	}
	return items, nil
}

func (g *DropboxGateway) FindChildByName(ctx context.Context, folderID, name string) (*Item, error) {
	// Dropbox addresses children by path, so a metadata lookup on the
	// joined path is the existence check.
	childPath := path.Join(folderID, name)
	if !strings.HasPrefix(childPath, "/") {
		childPath = "/" + childPath
	}
	item, err := g.GetItem(ctx, childPath)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (g *DropboxGateway) CopyItem(ctx context.Context, itemID, targetFolderID, name string) (*Item, error) {
	toPath := path.Join(targetFolderID, name)
	if !strings.HasPrefix(toPath, "/") {
		toPath = "/" + toPath
	}
	var out struct {
		Metadata dropboxEntry `json:"metadata"`
	}
	err := g.rpc(ctx, "/files/copy_v2", map[string]interface{}{
		"from_path": itemID,
		"to_path":   toPath,
	}, &out)
	if err != nil {
		return nil, err
	}
	item := out.Metadata.toItem()
	return &item, nil
}

func (g *DropboxGateway) Download(ctx context.Context, itemID string) (io.ReadCloser, error) {
	arg, err := json.Marshal(map[string]string{"path": itemID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.ContentBaseURL+"/files/download", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, dropboxError(resp)
	}
	return resp.Body, nil
}

func (g *DropboxGateway) Upload(ctx context.Context, folderID, name string, size uint64, r io.Reader) (*Item, error) {
	toPath := path.Join(folderID, name)
	if !strings.HasPrefix(toPath, "/") {
		toPath = "/" + toPath
	}
	arg, err := json.Marshal(map[string]interface{}{
		"path": toPath,
		"mode": "add",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.ContentBaseURL+"/files/upload", r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Dropbox-API-Arg", string(arg))
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, dropboxError(resp)
	}

	var entry dropboxEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, err
	}
	item := entry.toItem()
	return &item, nil
}

func (g *DropboxGateway) rpc(ctx context.Context, endpoint string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.APIBaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dropboxError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func dropboxError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfterHeader(resp, 60 * time.Second)}
	case http.StatusConflict:
		// Dropbox reports missing paths as 409 path lookup errors.
		if strings.Contains(string(body), "not_found") {
			return ErrNotFound
		}
	}
	return fmt.Errorf("dropbox API error %d: %s", resp.StatusCode, string(body))
}
