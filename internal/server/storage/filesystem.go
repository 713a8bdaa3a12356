package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fileshare/internal/server/registry"
)

var (
	ErrInvalidFileType       = errors.New("file type not allowed")
	ErrFileTooLarge          = errors.New("file exceeds maximum allowed size")
	ErrAggregateSizeExceeded = registry.ErrAggregateSizeExceeded
	ErrStorageFailure        = errors.New("failed to store file")
	ErrFileMissing           = errors.New("stored file missing")
	ErrInvalidPath           = errors.New("stored path escapes storage root")
)

const (
	defaultChunkSize = 1024 * 1024
	sniffLength      = 512
	createAttempts   = 3
)

// Limits bounds what a single upload may store.
type Limits struct {
	MaxFileSize  int64
	MaxTotalSize int64
	ChunkSize    int
}

// Object is an opened stored file. When the file is stored in plaintext,
// the embedded ReadCloser is the *os.File and therefore also an io.ReadSeeker.
type Object struct {
	io.ReadCloser
	Size    int64
	ModTime time.Time
}

// Store defines the interface for file storage backends.
type Store interface {
	Save(ctx context.Context, src io.Reader, relPath string, group *registry.ShareGroup) (*registry.FileRecord, error)
	Open(groupID, storedName string) (*Object, error)
	Remove(storedName string) (string, error)
	RemoveEmptyDirs(dirs []string)
	EnsureDir() error
}

// FileSystemStore stores uploaded files on the local filesystem.
type FileSystemStore struct {
	basePath  string
	limits    Limits
	encryptor *Encryptor
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string, limits Limits) *FileSystemStore {
	if limits.ChunkSize <= 0 {
		limits.ChunkSize = defaultChunkSize
	}
	return &FileSystemStore{
		basePath: filepath.Clean(basePath),
		limits:   limits,
	}
}

// WithEncryption enables at-rest encryption for files saved afterwards.
func (fs *FileSystemStore) WithEncryption(e *Encryptor) *FileSystemStore {
	fs.encryptor = e
	return fs
}

// BasePath returns the storage root.
func (fs *FileSystemStore) BasePath() string {
	return fs.basePath
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Verify checks that the storage root exists and is writable.
func (fs *FileSystemStore) Verify() error {
	if err := fs.EnsureDir(); err != nil {
		return err
	}

	probe := filepath.Join(fs.basePath, ".probe")
	if err := os.WriteFile(probe, nil, 0644); err != nil {
		return fmt.Errorf("storage path %s is not writable: %w", fs.basePath, err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("failed to remove probe file: %w", err)
	}
	return nil
}

// Save streams src to a sanitized, uniquified path under the storage root
// and records the file on group. Nothing is left on disk when an error is
// returned, and the group's total size only changes on success.
func (fs *FileSystemStore) Save(ctx context.Context, src io.Reader, relPath string, group *registry.ShareGroup) (*registry.FileRecord, error) {
	f, storedName, fullPath, err := fs.create(relPath)
	if err != nil {
		return nil, err
	}

	fail := func(cause error) (*registry.FileRecord, error) {
		f.Close()
		fs.discard(fullPath)
		return nil, cause
	}

	var w io.Writer = f
	if fs.encryptor != nil {
		w, err = fs.encryptor.encryptingWriter(group.ID, storedName, f)
		if err != nil {
			return fail(fmt.Errorf("%w: %v", ErrStorageFailure, err))
		}
	}

	buf := make([]byte, fs.limits.ChunkSize)
	var (
		written int64
		head    []byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("%w: upload aborted: %w", ErrStorageFailure, err))
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			written += int64(n)
			if fs.limits.MaxFileSize > 0 && written > fs.limits.MaxFileSize {
				return fail(ErrFileTooLarge)
			}
			if head == nil {
				head = append([]byte(nil), buf[:min(n, sniffLength)]...)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fail(fmt.Errorf("%w: %v", ErrStorageFailure, werr))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fail(fmt.Errorf("%w: failed to read upload: %v", ErrStorageFailure, rerr))
		}
	}

	if err := f.Close(); err != nil {
		fs.discard(fullPath)
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	rec := registry.FileRecord{
		OriginalName: cleanOriginalName(relPath),
		StoredName:   storedName,
		MimeType:     detectMimeType(fileExtension(relPath), head),
		Size:         written,
		CreatedAt:    time.Now().UTC(),
	}
	if rec.OriginalName == "" {
		rec.OriginalName = filepath.Base(fullPath)
	}

	if err := group.AddFile(rec, fs.limits.MaxTotalSize); err != nil {
		fs.discard(fullPath)
		if errors.Is(err, registry.ErrAggregateSizeExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	slog.Info("file saved",
		"group_id", group.ID,
		"stored_name", storedName,
		"original_name", rec.OriginalName,
		"size", written,
	)
	return &rec, nil
}

// create opens a fresh destination file, retrying with a new random suffix
// on the unlikely event of a name collision.
func (fs *FileSystemStore) create(relPath string) (*os.File, string, string, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		storedName, err := buildStoredName(relPath)
		if err != nil {
			if errors.Is(err, ErrInvalidFileType) {
				return nil, "", "", err
			}
			return nil, "", "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}

		fullPath, err := fs.resolve(storedName)
		if err != nil {
			return nil, "", "", fmt.Errorf("%w: %v", ErrStorageFailure, err)
		}

		f, err := openExclusive(fullPath)
		if err == nil {
			return f, storedName, fullPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			fs.RemoveEmptyDirs([]string{filepath.Dir(fullPath)})
			return nil, "", "", fmt.Errorf("%w: failed to create file: %v", ErrStorageFailure, err)
		}
	}
	return nil, "", "", fmt.Errorf("%w: could not allocate a unique name", ErrStorageFailure)
}

// mkdirAll is replaced in tests to simulate a concurrent cleanup.
var mkdirAll = os.MkdirAll

// openExclusive creates fullPath and its parent directories. A cleanup can
// remove a shared, momentarily empty directory between MkdirAll and OpenFile,
// so a missing parent is recreated once.
func openExclusive(fullPath string) (*os.File, error) {
	var err error
	for try := 0; try < 2; try++ {
		if err = mkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		var f *os.File
		f, err = os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, err
}

// discard removes a partially written file and any directories it left empty.
func (fs *FileSystemStore) discard(fullPath string) {
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to remove partial file", "path", fullPath, "error", err)
	}
	fs.RemoveEmptyDirs([]string{filepath.Dir(fullPath)})
}

// Open opens a stored file for reading, decrypting it if needed.
func (fs *FileSystemStore) Open(groupID, storedName string) (*Object, error) {
	fullPath, err := fs.resolve(storedName)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileMissing, storedName)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrFileMissing, storedName)
	}

	obj := &Object{ReadCloser: f, Size: info.Size(), ModTime: info.ModTime()}
	if fs.encryptor != nil {
		rc, err := fs.encryptor.decryptingReader(groupID, storedName, f)
		if err != nil {
			f.Close()
			return nil, err
		}
		obj.ReadCloser = rc
	}
	return obj, nil
}

// Remove deletes a stored file and returns the directory that held it.
// A file that is already gone is not an error.
func (fs *FileSystemStore) Remove(storedName string) (string, error) {
	fullPath, err := fs.resolve(storedName)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(fullPath)
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("file not found during cleanup", "path", fullPath)
			return dir, nil
		}
		return "", fmt.Errorf("failed to delete file %s: %w", fullPath, err)
	}
	return dir, nil
}

// RemoveEmptyDirs removes each given directory and its ancestors, deepest
// first, as long as they are empty. The storage root itself is never removed.
func (fs *FileSystemStore) RemoveEmptyDirs(dirs []string) {
	candidates := make(map[string]struct{})
	for _, dir := range dirs {
		for d := filepath.Clean(dir); fs.within(d); d = filepath.Dir(d) {
			candidates[d] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(candidates))
	for d := range candidates {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool {
		di := strings.Count(ordered[i], string(filepath.Separator))
		dj := strings.Count(ordered[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return ordered[i] > ordered[j]
	})

	for _, d := range ordered {
		entries, err := os.ReadDir(d)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				slog.Error("failed to read directory", "path", d, "error", err)
			}
			continue
		}
		if len(entries) > 0 {
			continue
		}
		if err := os.Remove(d); err != nil {
			slog.Error("failed to remove directory", "path", d, "error", err)
			continue
		}
		slog.Debug("removed empty directory", "path", d)
	}
}

// resolve maps a slash-separated stored name to an absolute path strictly
// inside the storage root.
func (fs *FileSystemStore) resolve(storedName string) (string, error) {
	if storedName == "" {
		return "", ErrInvalidPath
	}
	full := filepath.Join(fs.basePath, filepath.FromSlash(storedName))
	if !fs.within(full) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, storedName)
	}
	return full, nil
}

// within reports whether p lies strictly below the storage root.
func (fs *FileSystemStore) within(p string) bool {
	rel, err := filepath.Rel(fs.basePath, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
