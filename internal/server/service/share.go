package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"fileshare/internal/server/config"
	"fileshare/internal/server/database"
	"fileshare/internal/server/metrics"
	"fileshare/internal/server/registry"
	"fileshare/internal/server/storage"
)

// TimeLayout is the format of human-facing timestamps.
const TimeLayout = "2006-01-02 15:04:05"

const ledgerTimeout = 5 * time.Second

// Ledger persists the share lifecycle for reporting. It is optional.
type Ledger interface {
	RecordCreated(ctx context.Context, share *database.Share) error
	RecordDestroyed(ctx context.Context, id string, downloads int, reason string, at time.Time) error
	GetStats(ctx context.Context) (*database.Stats, error)
}

// UploadFile is one part of an upload: the client-supplied relative path
// and a way to open its content.
type UploadFile struct {
	Path string
	Open func() (io.ReadCloser, error)
}

// UploadRequest is the input to Upload.
type UploadRequest struct {
	Files           []UploadFile
	ExpirySeconds   int
	OneTimeDownload bool
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	ShareID         string      `json:"share_id"`
	ShareURL        string      `json:"share_url"`
	ExpiryTime      string      `json:"expiry_time"`
	ExpiresAt       time.Time   `json:"expires_at"`
	FileCount       int         `json:"file_count"`
	TotalSize       string      `json:"total_size"`
	TotalBytes      int64       `json:"total_bytes"`
	OneTimeDownload bool        `json:"one_time_download"`
	Errors          []FileError `json:"errors,omitempty"`
}

// ListedFile is one file as shown on a share's listing.
type ListedFile struct {
	OriginalName string    `json:"original_name"`
	StoredName   string    `json:"stored_name"`
	Size         string    `json:"size"`
	SizeBytes    int64     `json:"size_bytes"`
	Downloads    int       `json:"downloads"`
	DownloadURL  string    `json:"download_url"`
	MimeType     string    `json:"mime_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Listing is the public view of a share group.
type Listing struct {
	ShareID         string       `json:"share_id"`
	Files           []ListedFile `json:"files"`
	CreatedAt       string       `json:"created_at"`
	ExpiryTime      string       `json:"expiry_time"`
	ExpiresAt       time.Time    `json:"expires_at"`
	TotalSize       string       `json:"total_size"`
	TotalBytes      int64        `json:"total_bytes"`
	DownloadCount   int          `json:"download_count"`
	OneTimeDownload bool         `json:"one_time_download"`
	BundleURL       string       `json:"bundle_url"`
}

// FileDownload is an opened file ready to be served. The caller must close
// Content and call AfterServe once the response has been written. Content
// is an io.ReadSeeker when the file is stored in plaintext. A OneTime
// download has already consumed its share and must be sent in full.
type FileDownload struct {
	Content    io.ReadCloser
	Name       string
	MimeType   string
	Size       int64
	ModTime    time.Time
	OneTime    bool
	AfterServe func()
}

// BundleDownload is a recorded archive download waiting to be streamed.
type BundleDownload struct {
	Name      string
	FileCount int

	svc   *ShareService
	group string
	files []registry.FileRecord
	once  bool
}

// Stats is the aggregate view served by the stats endpoint.
type Stats struct {
	ActiveShares   int             `json:"active_shares"`
	Files          int             `json:"files"`
	StoredBytes    int64           `json:"stored_bytes"`
	StoredHuman    string          `json:"stored_human"`
	TotalDownloads int             `json:"total_downloads"`
	Ledger         *database.Stats `json:"ledger,omitempty"`
}

// ShareService contains the business logic for creating and serving shares.
type ShareService struct {
	registry *registry.Registry
	store    storage.Store
	cleaner  *storage.Cleaner
	cfg      *config.Config
	metrics  *metrics.Metrics
	ledger   Ledger
}

// NewShareService creates a new share service. ledger may be nil.
func NewShareService(
	reg *registry.Registry,
	store storage.Store,
	cleaner *storage.Cleaner,
	cfg *config.Config,
	m *metrics.Metrics,
	ledger Ledger,
) *ShareService {
	return &ShareService{
		registry: reg,
		store:    store,
		cleaner:  cleaner,
		cfg:      cfg,
		metrics:  m,
		ledger:   ledger,
	}
}

// Upload stores every file of req under a new share group. Files that fail
// are reported in the result; the group is only published when at least
// one file was stored.
func (s *ShareService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.ExpirySeconds < 1 || req.ExpirySeconds > s.cfg.MaxExpirySeconds {
		return nil, fmt.Errorf("%w: expiry must be between 1 second and %s",
			ErrValidation, time.Duration(s.cfg.MaxExpirySeconds)*time.Second)
	}
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: no files provided", ErrValidation)
	}
	for i, f := range req.Files {
		if strings.TrimSpace(f.Path) == "" {
			return nil, fmt.Errorf("%w: file %d has no path", ErrValidation, i)
		}
	}

	group, err := s.registry.Create(time.Duration(req.ExpirySeconds)*time.Second, req.OneTimeDownload)
	if err != nil {
		return nil, err
	}

	slog.Info("processing upload",
		"group_id", group.ID,
		"files", len(req.Files),
		"one_time_download", req.OneTimeDownload,
	)

	var fileErrors []FileError
	for _, f := range req.Files {
		rec, err := s.saveFile(ctx, f, group)
		if err != nil {
			fe := newFileError(f.Path, err)
			slog.Warn("file rejected",
				"group_id", group.ID,
				"filename", f.Path,
				"kind", fe.Kind,
				"error", err,
			)
			s.metrics.UploadErrors.WithLabelValues(fe.Kind).Inc()
			fileErrors = append(fileErrors, fe)
			continue
		}
		s.metrics.FilesUploaded.Inc()
		s.metrics.BytesUploaded.Add(float64(rec.Size))
	}

	if group.FileCount() == 0 {
		s.registry.Discard(group)
		return nil, &UploadError{Errors: fileErrors}
	}

	if err := s.registry.Commit(group); err != nil {
		s.discard(group)
		return nil, fmt.Errorf("failed to publish share group: %w", err)
	}

	snap := group.Snapshot()
	s.metrics.SharesCreated.Inc()
	s.metrics.ActiveShares.Inc()
	s.metrics.StoredBytes.Add(float64(snap.TotalSize))
	s.recordCreated(ctx, snap)

	slog.Info("upload processed",
		"group_id", group.ID,
		"files", len(snap.Files),
		"total_size", snap.TotalSize,
		"rejected", len(fileErrors),
	)

	return &UploadResult{
		ShareID:         group.ID,
		ShareURL:        s.shareURL(group.ID),
		ExpiryTime:      formatTime(group.ExpiresAt),
		ExpiresAt:       group.ExpiresAt,
		FileCount:       len(snap.Files),
		TotalSize:       HumanizeBytes(snap.TotalSize),
		TotalBytes:      snap.TotalSize,
		OneTimeDownload: group.OneTimeDownload,
		Errors:          fileErrors,
	}, nil
}

func (s *ShareService) saveFile(ctx context.Context, f UploadFile, group *registry.ShareGroup) (*registry.FileRecord, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open upload part: %v", storage.ErrStorageFailure, err)
	}
	defer rc.Close()
	return s.store.Save(ctx, rc, f.Path, group)
}

// discard removes the files of a group that never became visible.
func (s *ShareService) discard(group *registry.ShareGroup) {
	var dirs []string
	for _, f := range group.Files() {
		dir, err := s.store.Remove(f.StoredName)
		if err != nil {
			slog.Error("failed to delete file", "group_id", group.ID, "stored_name", f.StoredName, "error", err)
			continue
		}
		dirs = append(dirs, dir)
	}
	s.store.RemoveEmptyDirs(dirs)
	s.registry.Discard(group)
}

func (s *ShareService) recordCreated(ctx context.Context, snap registry.Snapshot) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()

	share := &database.Share{
		ID:              snap.ID,
		FileCount:       len(snap.Files),
		TotalSize:       snap.TotalSize,
		OneTimeDownload: snap.OneTimeDownload,
		CreatedAt:       snap.CreatedAt,
		ExpiresAt:       snap.ExpiresAt,
	}
	if err := s.ledger.RecordCreated(ctx, share); err != nil {
		slog.Error("failed to record share in ledger", "group_id", snap.ID, "error", err)
	}
}

// liveGroup returns a visible, unexpired group. An expired group is
// destroyed on the spot.
func (s *ShareService) liveGroup(ctx context.Context, id string) (*registry.ShareGroup, error) {
	group, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if group.Expired(s.registry.Now()) {
		s.cleaner.Cleanup(ctx, id, storage.ReasonExpired)
		return nil, ErrExpired
	}
	return group, nil
}

// Listing returns the public view of a share group.
func (s *ShareService) Listing(ctx context.Context, id string) (*Listing, error) {
	group, err := s.liveGroup(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := group.Snapshot()
	files := make([]ListedFile, 0, len(snap.Files))
	for _, f := range snap.Files {
		files = append(files, ListedFile{
			OriginalName: f.OriginalName,
			StoredName:   f.StoredName,
			Size:         HumanizeBytes(f.Size),
			SizeBytes:    f.Size,
			Downloads:    f.Downloads,
			DownloadURL:  s.fileURL(id, f.StoredName),
			MimeType:     f.MimeType,
			CreatedAt:    f.CreatedAt,
		})
	}

	return &Listing{
		ShareID:         snap.ID,
		Files:           files,
		CreatedAt:       formatTime(snap.CreatedAt),
		ExpiryTime:      formatTime(snap.ExpiresAt),
		ExpiresAt:       snap.ExpiresAt,
		TotalSize:       HumanizeBytes(snap.TotalSize),
		TotalBytes:      snap.TotalSize,
		DownloadCount:   snap.DownloadCount,
		OneTimeDownload: snap.OneTimeDownload,
		BundleURL:       s.shareURL(id) + "/bundle",
	}, nil
}

// OpenFile opens one stored file for download and records the download.
// The file is opened before it is counted, so a one-time share is only
// consumed by a download that can actually be served.
func (s *ShareService) OpenFile(ctx context.Context, id, storedName string) (*FileDownload, error) {
	group, err := s.liveGroup(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, ok := group.File(storedName); !ok {
		return nil, ErrFileNotFound
	}

	obj, err := s.store.Open(group.ID, storedName)
	if err != nil {
		if errors.Is(err, storage.ErrFileMissing) || errors.Is(err, storage.ErrInvalidPath) {
			slog.Error("file not found on disk", "group_id", id, "stored_name", storedName, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrFileNotFound, err)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	rec, err := s.registry.RecordDownload(id, storedName)
	if err != nil {
		obj.Close()
		return nil, err
	}
	s.metrics.FileDownloads.Inc()

	slog.Info("serving file",
		"group_id", id,
		"stored_name", storedName,
		"original_name", rec.OriginalName,
		"downloads", rec.Downloads,
	)

	return &FileDownload{
		Content:    obj.ReadCloser,
		Name:       path.Base(rec.OriginalName),
		MimeType:   rec.MimeType,
		Size:       obj.Size,
		ModTime:    obj.ModTime,
		OneTime:    group.OneTimeDownload,
		AfterServe: s.afterServe(group),
	}, nil
}

// Bundle records an archive download of the whole group. The archive is
// written by the returned BundleDownload.
func (s *ShareService) Bundle(ctx context.Context, id string) (*BundleDownload, error) {
	group, err := s.liveGroup(ctx, id)
	if err != nil {
		return nil, err
	}

	files := group.Files()
	if err := s.registry.RecordBundle(id); err != nil {
		return nil, err
	}
	s.metrics.BundleDownloads.Inc()

	return &BundleDownload{
		Name:      fmt.Sprintf("shared_files_%d.zip", s.registry.Now().Unix()),
		FileCount: len(files),
		svc:       s,
		group:     group.ID,
		files:     files,
		once:      group.OneTimeDownload,
	}, nil
}

// WriteTo streams the archive to w and returns the number of entries written.
func (b *BundleDownload) WriteTo(ctx context.Context, w io.Writer) (int, error) {
	n, err := storage.WriteBundle(ctx, w, b.svc.store, b.group, b.files)
	if err != nil {
		return n, err
	}
	slog.Info("bundle served", "group_id", b.group, "entries", n)
	return n, nil
}

// AfterServe schedules cleanup of a consumed one-time group.
func (b *BundleDownload) AfterServe() {
	if b.once {
		b.svc.cleaner.Enqueue(b.group, storage.ReasonConsumed)
	}
}

func (s *ShareService) afterServe(group *registry.ShareGroup) func() {
	if !group.OneTimeDownload {
		return func() {}
	}
	id := group.ID
	return func() {
		s.cleaner.Enqueue(id, storage.ReasonConsumed)
	}
}

// Stats returns live registry totals and, when a ledger is configured,
// its all-time totals. A failing ledger is logged and left out.
func (s *ShareService) Stats(ctx context.Context) (*Stats, error) {
	live := s.registry.Stats()
	stats := &Stats{
		ActiveShares:   live.ActiveGroups,
		Files:          live.Files,
		StoredBytes:    live.StoredBytes,
		StoredHuman:    HumanizeBytes(live.StoredBytes),
		TotalDownloads: live.TotalDownloads,
	}

	if s.ledger != nil {
		ledgerStats, err := s.ledger.GetStats(ctx)
		if err != nil {
			slog.Error("failed to read ledger stats", "error", err)
		} else {
			stats.Ledger = ledgerStats
		}
	}
	return stats, nil
}

func (s *ShareService) shareURL(id string) string {
	return fmt.Sprintf("%s/download/%s", strings.TrimSuffix(s.cfg.BaseURL, "/"), url.PathEscape(id))
}

func (s *ShareService) fileURL(id, storedName string) string {
	segments := strings.Split(storedName, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.shareURL(id) + "/file/" + strings.Join(segments, "/")
}

func formatTime(t time.Time) string {
	return t.Local().Format(TimeLayout)
}

// HumanizeBytes formats a byte count into a human-readable string, e.g.
// "10.0 KB".
func HumanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%.1f B", float64(b))
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGT"[exp])
}
