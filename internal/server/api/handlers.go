package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"fileshare/internal/server/config"
	"fileshare/internal/server/service"
	"fileshare/internal/server/storage"
)

// HealthChecker reports whether an optional dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the share API.
type Handler struct {
	svc *service.ShareService
	cfg *config.Config
	db  HealthChecker
}

// NewHandler creates a new handler. db may be nil when no ledger is configured.
func NewHandler(svc *service.ShareService, cfg *config.Config, db HealthChecker) *Handler {
	return &Handler{svc: svc, cfg: cfg, db: db}
}

// HandleUpload handles POST /upload.
// Accepts a multipart form with repeated "files" and "paths" fields, an
// optional "expiry_seconds" and an optional "one_time_download" flag.
func (h *Handler) HandleUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return validationError(c, "expected a multipart form")
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		return validationError(c, "at least one file is required (use form field 'files')")
	}

	paths := form.Value["paths"]
	if len(paths) == 0 {
		for _, fh := range headers {
			paths = append(paths, fh.Filename)
		}
	}
	if len(paths) != len(headers) {
		return validationError(c, "number of files and paths must match")
	}

	expiry := h.cfg.DefaultExpirySeconds
	if v := c.FormValue("expiry_seconds"); v != "" {
		expiry, err = strconv.Atoi(v)
		if err != nil {
			return validationError(c, "expiry_seconds must be an integer")
		}
	}

	oneTime, err := parseFormBool(c.FormValue("one_time_download"))
	if err != nil {
		return validationError(c, "one_time_download must be a boolean")
	}

	files := make([]service.UploadFile, len(headers))
	for i, fh := range headers {
		files[i] = service.UploadFile{Path: paths[i], Open: openPart(fh)}
	}

	result, err := h.svc.Upload(c.Request().Context(), service.UploadRequest{
		Files:           files,
		ExpirySeconds:   expiry,
		OneTimeDownload: oneTime,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

func openPart(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return fh.Open()
	}
}

// HandleListing handles GET /download/:id.
// Returns the share's metadata and file list.
func (h *Handler) HandleListing(c echo.Context) error {
	listing, err := h.svc.Listing(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, listing)
}

// HandleFile handles GET /download/:id/file/*.
// Serves one file as an attachment under its original name.
func (h *Handler) HandleFile(c echo.Context) error {
	storedName, err := url.PathUnescape(c.Param("*"))
	if err != nil || storedName == "" {
		return mapServiceError(c, service.ErrFileNotFound)
	}

	dl, err := h.svc.OpenFile(c.Request().Context(), c.Param("id"), storedName)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer dl.AfterServe()
	defer dl.Content.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition, contentDisposition(dl.Name))
	res.Header().Set("Access-Control-Expose-Headers", echo.HeaderContentDisposition)
	res.Header().Set(echo.HeaderContentType, dl.MimeType)

	// Range and conditional requests could answer with part or none of a
	// one-time file after it has been consumed.
	if rs, ok := dl.Content.(io.ReadSeeker); ok && !dl.OneTime {
		http.ServeContent(res, c.Request(), dl.Name, dl.ModTime, rs)
		return nil
	}

	res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(dl.Size, 10))
	return c.Stream(http.StatusOK, dl.MimeType, dl.Content)
}

// HandleBundle handles GET /download/:id/bundle.
// Streams every file of the share as a single zip archive.
func (h *Handler) HandleBundle(c echo.Context) error {
	id := c.Param("id")

	bundle, err := h.svc.Bundle(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer bundle.AfterServe()

	res := c.Response()
	res.Header().Set(echo.HeaderContentDisposition, contentDisposition(bundle.Name))
	res.Header().Set("Access-Control-Expose-Headers", echo.HeaderContentDisposition)
	res.Header().Set(echo.HeaderContentType, "application/zip")
	res.WriteHeader(http.StatusOK)

	// Headers are already on the wire; a failure can only be logged.
	if _, err := bundle.WriteTo(c.Request().Context(), res); err != nil {
		slog.Error("bundle stream failed", "group_id", id, "error", err)
	}
	return nil
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including ledger connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "disabled"

	if h.db != nil {
		dbStatus = "connected"
		if err := h.db.HealthCheck(c.Request().Context()); err != nil {
			status = "degraded"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// HandleConfig handles GET /api/config.
// Returns the upload limits clients should respect.
func (h *Handler) HandleConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"allowed_extensions":     storage.AllowedExtensions(),
		"max_file_size":          h.cfg.MaxFileSize,
		"max_file_size_human":    service.HumanizeBytes(h.cfg.MaxFileSize),
		"max_total_size":         h.cfg.MaxTotalSize,
		"max_total_size_human":   service.HumanizeBytes(h.cfg.MaxTotalSize),
		"default_expiry_seconds": h.cfg.DefaultExpirySeconds,
		"max_expiry_seconds":     h.cfg.MaxExpirySeconds,
	})
}

// statusForKind maps error kinds to HTTP status codes.
var statusForKind = map[string]int{
	service.KindInvalidFileType:       http.StatusBadRequest,
	service.KindFileTooLarge:          http.StatusRequestEntityTooLarge,
	service.KindAggregateSizeExceeded: http.StatusRequestEntityTooLarge,
	service.KindStorageFailure:        http.StatusInternalServerError,
	service.KindNotFound:              http.StatusNotFound,
	service.KindExpired:               http.StatusGone,
	service.KindValidation:            http.StatusBadRequest,
	service.KindInternal:              http.StatusInternalServerError,
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	kind := service.KindOf(err)
	status := statusForKind[kind]

	var uploadErr *service.UploadError
	switch {
	case errors.As(err, &uploadErr):
		return c.JSON(status, echo.Map{
			"error":  kind,
			"detail": uploadErr.Error(),
			"errors": uploadErr.Errors,
		})
	case errors.Is(err, service.ErrFileNotFound):
		return c.JSON(status, echo.Map{"error": kind, "detail": "File not found"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(status, echo.Map{"error": kind, "detail": "Share link not found"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(status, echo.Map{"error": kind, "detail": "Share link has expired"})
	case kind == service.KindInternal || kind == service.KindStorageFailure:
		errorID := uuid.NewString()
		slog.Error("unhandled service error",
			"error_id", errorID,
			"path", c.Request().URL.Path,
			"error", err,
		)
		return c.JSON(status, echo.Map{
			"error":    kind,
			"error_id": errorID,
			"detail":   "An unexpected error occurred. Please try again later.",
		})
	default:
		return c.JSON(status, echo.Map{"error": kind, "detail": err.Error()})
	}
}

func validationError(c echo.Context, detail string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{
		"error":  service.KindValidation,
		"detail": detail,
	})
}

// parseFormBool accepts the usual HTML form spellings of a checkbox.
func parseFormBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "off", "no":
		return false, nil
	case "1", "true", "on", "yes":
		return true, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// contentDisposition builds an attachment header. Names outside ASCII also
// get an RFC 5987 filename* parameter.
func contentDisposition(name string) string {
	header := fmt.Sprintf(`attachment; filename="%s"`, quoteEscaper.Replace(name))
	for _, r := range name {
		if r > 127 {
			return header + "; filename*=UTF-8''" + url.PathEscape(name)
		}
	}
	return header
}
