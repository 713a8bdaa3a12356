package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, New(srv.URL+"/", srv.Client())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClientUpload(t *testing.T) {
	dir := setupTestDir(t, "up", map[string]string{"hello.txt": "hello"})
	entries := []Entry{{LocalPath: filepath.Join(dir, "hello.txt"), RelPath: "hello.txt", Size: 5}}

	var gotPaths []string
	srv, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/upload" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		gotPaths = r.MultipartForm.Value["paths"]
		writeJSON(w, http.StatusOK, map[string]any{
			"share_id":          "abc",
			"share_url":         "/download/abc",
			"file_count":        1,
			"total_size":        "5.0 B",
			"one_time_download": false,
		})
	})

	res, err := c.Upload(context.Background(), NewPayload(entries, time.Hour, false))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ShareURL != srv.URL+"/download/abc" {
		t.Errorf("expected resolved share url, got %s", res.ShareURL)
	}
	if res.FileCount != 1 {
		t.Errorf("expected file count 1, got %d", res.FileCount)
	}
	if len(gotPaths) != 1 || gotPaths[0] != "hello.txt" {
		t.Errorf("unexpected paths sent: %v", gotPaths)
	}
}

func TestClientUpload_APIError(t *testing.T) {
	dir := setupTestDir(t, "up", map[string]string{"tool.exe": "MZ"})
	entries := []Entry{{LocalPath: filepath.Join(dir, "tool.exe"), RelPath: "tool.exe", Size: 2}}

	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation_error",
			"detail": "no valid files were uploaded",
			"errors": []map[string]string{{"filename": "tool.exe", "kind": "invalid_file_type", "error": "file type not allowed"}},
		})
	})

	_, err := c.Upload(context.Background(), NewPayload(entries, time.Hour, false))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", apiErr.StatusCode)
	}
	if len(apiErr.Errors) != 1 || apiErr.Errors[0].Filename != "tool.exe" {
		t.Errorf("unexpected per-file errors: %+v", apiErr.Errors)
	}
	if apiErr.Error() != "server returned 400 (validation_error): no valid files were uploaded" {
		t.Errorf("unexpected message: %s", apiErr.Error())
	}
}

func TestClientDo_NonJSONError(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := c.Limits(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Detail != "bad gateway" {
		t.Errorf("expected raw body as detail, got %q", apiErr.Detail)
	}
}

func TestClientLimits(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/config" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, Limits{
			AllowedExtensions: []string{".txt", ".pdf"},
			MaxFileSize:       100,
		})
	})

	limits, err := c.Limits(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(limits.AllowedExtensions) != 2 || limits.MaxFileSize != 100 {
		t.Errorf("unexpected limits: %+v", limits)
	}
}

func TestClientListing(t *testing.T) {
	srv, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, Listing{
			ShareID:   "abc",
			Files:     []ListedFile{{OriginalName: "a.txt", DownloadURL: "/download/abc/file/a_1.txt"}},
			BundleURL: "/download/abc/bundle",
		})
	})

	t.Run("by id", func(t *testing.T) {
		listing, err := c.Listing(context.Background(), "abc")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if listing.ShareID != "abc" || len(listing.Files) != 1 {
			t.Errorf("unexpected listing: %+v", listing)
		}
		if got := c.Resolve(listing.BundleURL); got != srv.URL+"/download/abc/bundle" {
			t.Errorf("unexpected bundle url %s", got)
		}
	})

	t.Run("by url", func(t *testing.T) {
		listing, err := c.Listing(context.Background(), srv.URL+"/download/abc")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if listing.ShareID != "abc" {
			t.Errorf("unexpected share id %s", listing.ShareID)
		}
	})

	t.Run("by relative url", func(t *testing.T) {
		if _, err := c.Listing(context.Background(), "/download/abc"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}
