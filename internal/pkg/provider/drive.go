package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"github.com/cloudhop/cloudhop/app/models"
)

const (
	defaultDriveAPIBaseURL    = "https://www.googleapis.com/drive/v3"
	defaultDriveUploadBaseURL = "https://www.googleapis.com/upload/drive/v3"

	driveFolderMimeType = "application/vnd.google-apps.folder"
	driveItemFields     = "id,name,size,mimeType,webViewLink"
)

// DriveGateway talks to the Google Drive v3 REST API for one connected
// account.
type DriveGateway struct {
	accessToken string
	accountKey  string

	APIBaseURL    string
	UploadBaseURL string
	HTTPClient    *http.Client
}

// NewDriveGateway builds a gateway from a stored provider account.
func NewDriveGateway(account *models.ProviderAccount) *DriveGateway {
	return &DriveGateway{
		accessToken:   account.AccessToken,
		accountKey:    account.Provider + ":" + account.ProviderAccountID,
		APIBaseURL:    defaultDriveAPIBaseURL,
		UploadBaseURL: defaultDriveUploadBaseURL,
		HTTPClient:    &http.Client{Timeout: CopyTimeout},
	}
}

func (g *DriveGateway) AccountKey() string { return g.accountKey }

type driveFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        string `json:"size"` // Drive serializes int64 as string
	MimeType    string `json:"mimeType"`
	WebViewLink string `json:"webViewLink"`
}

func (f *driveFile) toItem() Item {
	size, _ := strconv.ParseUint(f.Size, 10, 64)
	return Item{
		ID:       f.ID,
		Name:     f.Name,
		Size:     size,
		IsFolder: f.MimeType == driveFolderMimeType,
		WebURL:   f.WebViewLink,
	}
}

func (g *DriveGateway) GetItem(ctx context.Context, itemID string) (*Item, error) {
	endpoint := fmt.Sprintf("%s/files/%s?fields=%s", g.APIBaseURL, url.PathEscape(itemID), driveItemFields)
	var f driveFile
	if err := g.getJSON(ctx, endpoint, &f); err != nil {
		return nil, err
	}
	item := f.toItem()
	return &item, nil
}

func (g *DriveGateway) ListChildren(ctx context.Context, folderID string) ([]Item, error) {
	if folderID == "" {
		folderID = "root"
	}
	q := url.Values{}
	q.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", folderID))
	q.Set("fields", "files("+driveItemFields+")")
	q.Set("pageSize", "1000")

	var out struct {
		Files []driveFile `json:"files"`
	}
	if err := g.getJSON(ctx, g.APIBaseURL+"/files?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(out.Files))
	for i := range out.Files {
		items = append(items, out.Files[i].toItem())
	}
	return items, nil
}

func (g *DriveGateway) FindChildByName(ctx context.Context, folderID, name string) (*Item, error) {
	if folderID == "" {
		folderID = "root"
	}
	q := url.Values{}
	q.Set("q", fmt.Sprintf("'%s' in parents and name = '%s' and trashed = false",
		folderID, escapeDriveQuery(name)))
	q.Set("fields", "files("+driveItemFields+")")
	q.Set("pageSize", "1")

	var out struct {
		Files []driveFile `json:"files"`
	}
	if err := g.getJSON(ctx, g.APIBaseURL+"/files?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	if len(out.Files) == 0 {
		return nil, nil
	}
	item := out.Files[0].toItem()
	return &item, nil
}

func (g *DriveGateway) CopyItem(ctx context.Context, itemID, targetFolderID, name string) (*Item, error) {
	payload := map[string]interface{}{"name": name}
	if targetFolderID != "" {
		payload["parents"] = []string{targetFolderID}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/files/%s/copy?fields=%s", g.APIBaseURL, url.PathEscape(itemID), driveItemFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var f driveFile
	if err := g.do(req, &f); err != nil {
		return nil, err
	}
	item := f.toItem()
	return &item, nil
}

func (g *DriveGateway) Download(ctx context.Context, itemID string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/files/%s?alt=media", g.APIBaseURL, url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, driveError(resp)
	}
	return resp.Body, nil
}

// Upload uses a multipart/related request so the file lands in the right
// parent folder in a single call.
func (g *DriveGateway) Upload(ctx context.Context, folderID, name string, size uint64, r io.Reader) (*Item, error) {
	meta := map[string]interface{}{"name": name}
	if folderID != "" {
		meta["parents"] = []string{folderID}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := mw.CreatePart(metaHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Type", "application/octet-stream")
	part, err = mw.CreatePart(fileHeader)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/files?uploadType=multipart&fields=%s", g.UploadBaseURL, driveItemFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	var f driveFile
	if err := g.do(req, &f); err != nil {
		return nil, err
	}
	item := f.toItem()
	return &item, nil
}

func (g *DriveGateway) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return g.do(req, out)
}

func (g *DriveGateway) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return driveError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func driveError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: retryAfterHeader(resp, 30*time.Second)}
	case http.StatusNotFound:
		return ErrNotFound
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("drive API error %d: %s", resp.StatusCode, string(body))
}

// escapeDriveQuery escapes single quotes and backslashes in a Drive query
// string literal.
func escapeDriveQuery(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if r == '\'' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func retryAfterHeader(resp *http.Response, def time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
