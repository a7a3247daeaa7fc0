// Package documents is a thin client over the hosted document store. It
// carries no decision logic beyond upload validation; listing, storage, and
// text extraction live in the hosted service.
package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// DefaultMaxUploadBytes caps uploads at 10 MiB, matching the hosted store.
const DefaultMaxUploadBytes = 10 * 1024 * 1024

// Document is the metadata record the store returns for one document.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FileType  string    `json:"file_type"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithMaxUploadBytes overrides the upload size cap.
func WithMaxUploadBytes(n int64) ClientOption {
	return func(c *Client) { c.maxUploadBytes = n }
}

// Client talks to the hosted document store.
type Client struct {
	baseURL        string
	apiKey         string
	maxUploadBytes int64
	httpClient     *http.Client
}

// NewClient creates a document store client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		apiKey:         apiKey,
		maxUploadBytes: DefaultMaxUploadBytes,
		httpClient:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns the user's documents, newest first.
func (c *Client) List(ctx context.Context) ([]Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents", nil)
	if err != nil {
		return nil, fmt.Errorf("create list request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("document store returned status %d", resp.StatusCode)
	}

	var docs []Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode document list: %w", err)
	}
	return docs, nil
}

// allowedTypes are the content types the store accepts.
var allowedTypes = map[string]bool{
	"application/pdf":          true,
	"text/csv":                 true,
	"application/vnd.ms-excel": true, // some browsers label CSV this way
}

// ValidateUpload rejects unsupported types and oversized files before any
// bytes leave the process.
func (c *Client) ValidateUpload(name, contentType string, size int64) error {
	if !allowedTypes[contentType] && !strings.HasSuffix(strings.ToLower(name), ".csv") {
		return fmt.Errorf("only PDF and CSV files are accepted, got %q", contentType)
	}
	if size > c.maxUploadBytes {
		return fmt.Errorf("file exceeds the %d byte limit", c.maxUploadBytes)
	}
	return nil
}

// Upload streams one file to the store and returns its metadata record.
func (c *Client) Upload(ctx context.Context, name, contentType string, size int64, r io.Reader) (*Document, error) {
	if err := c.ValidateUpload(name, contentType, size); err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", pr)
	if err != nil {
		return nil, fmt.Errorf("create upload request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("document store returned status %d: %s", resp.StatusCode, string(body))
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &doc, nil
}

// DownloadURL normalizes a server-relative storage path into an absolute
// download link. Absolute URLs pass through unchanged.
func (c *Client) DownloadURL(storagePath string) string {
	if u, err := url.Parse(storagePath); err == nil && u.IsAbs() {
		return storagePath
	}
	return c.baseURL + path.Join("/files", "/"+strings.TrimPrefix(storagePath, "/"))
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}
