package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// FileError is a per-file rejection reported by the server.
type FileError struct {
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

// UploadResponse is the server's reply to a successful upload.
type UploadResponse struct {
	ShareID         string      `json:"share_id"`
	ShareURL        string      `json:"share_url"`
	ExpiryTime      string      `json:"expiry_time"`
	FileCount       int         `json:"file_count"`
	TotalSize       string      `json:"total_size"`
	OneTimeDownload bool        `json:"one_time_download"`
	Errors          []FileError `json:"errors"`
}

// ListedFile is one file of a share listing.
type ListedFile struct {
	OriginalName string `json:"original_name"`
	Size         string `json:"size"`
	Downloads    int    `json:"downloads"`
	DownloadURL  string `json:"download_url"`
	MimeType     string `json:"mime_type"`
}

// Listing is a share's public metadata.
type Listing struct {
	ShareID         string       `json:"share_id"`
	Files           []ListedFile `json:"files"`
	CreatedAt       string       `json:"created_at"`
	ExpiryTime      string       `json:"expiry_time"`
	TotalSize       string       `json:"total_size"`
	DownloadCount   int          `json:"download_count"`
	OneTimeDownload bool         `json:"one_time_download"`
	BundleURL       string       `json:"bundle_url"`
}

// Limits are the upload constraints advertised by the server.
type Limits struct {
	AllowedExtensions    []string `json:"allowed_extensions"`
	MaxFileSize          int64    `json:"max_file_size"`
	MaxTotalSize         int64    `json:"max_total_size"`
	DefaultExpirySeconds int      `json:"default_expiry_seconds"`
	MaxExpirySeconds     int      `json:"max_expiry_seconds"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int         `json:"-"`
	Kind       string      `json:"error"`
	Detail     string      `json:"detail"`
	ErrorID    string      `json:"error_id"`
	Errors     []FileError `json:"errors"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d", e.StatusCode)
	if e.Kind != "" {
		msg += " (" + e.Kind + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.ErrorID != "" {
		msg += " [error id " + e.ErrorID + "]"
	}
	return msg
}

// Client talks to a share server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL. A nil httpClient means
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
	}
}

// Upload sends the payload and returns the created share.
func (c *Client) Upload(ctx context.Context, p *Payload) (*UploadResponse, error) {
	body, contentType := p.Reader()
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var out UploadResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	out.ShareURL = c.Resolve(out.ShareURL)
	return &out, nil
}

// Limits fetches the server's upload constraints.
func (c *Client) Limits(ctx context.Context) (*Limits, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/config", nil)
	if err != nil {
		return nil, err
	}

	var out Limits
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Listing fetches a share's metadata. ref is a share ID or share URL.
func (c *Client) Listing(ctx context.Context, ref string) (*Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.shareURL(ref), nil)
	if err != nil {
		return nil, err
	}

	var out Listing
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resolve turns a server-relative URL into an absolute one.
func (c *Client) Resolve(ref string) string {
	if strings.HasPrefix(ref, "/") {
		return c.baseURL + ref
	}
	return ref
}

func (c *Client) shareURL(ref string) string {
	if strings.Contains(ref, "/") {
		return c.Resolve(ref)
	}
	return c.baseURL + "/download/" + url.PathEscape(ref)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := json.Unmarshal(data, apiErr); err != nil {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
