package service

import (
	"errors"
	"fmt"

	"fileshare/internal/server/registry"
	"fileshare/internal/server/storage"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound     = registry.ErrNotFound
	ErrFileNotFound = registry.ErrFileNotFound
	ErrExpired      = errors.New("share link has expired")
	ErrValidation   = errors.New("invalid request")
	ErrNoValidFiles = fmt.Errorf("%w: no valid files were uploaded", ErrValidation)
)

// Error kinds reported to clients.
const (
	KindInvalidFileType       = "invalid_file_type"
	KindFileTooLarge          = "file_too_large"
	KindAggregateSizeExceeded = "aggregate_size_exceeded"
	KindStorageFailure        = "storage_failure"
	KindNotFound              = "not_found"
	KindExpired               = "expired"
	KindValidation            = "validation_error"
	KindInternal              = "internal_error"
)

// KindOf classifies an error into one of the stable error kinds.
func KindOf(err error) string {
	switch {
	case errors.Is(err, storage.ErrInvalidFileType):
		return KindInvalidFileType
	case errors.Is(err, storage.ErrFileTooLarge):
		return KindFileTooLarge
	case errors.Is(err, storage.ErrAggregateSizeExceeded):
		return KindAggregateSizeExceeded
	case errors.Is(err, storage.ErrStorageFailure):
		return KindStorageFailure
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrFileNotFound):
		return KindNotFound
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// FileError describes why one file of an upload was rejected.
type FileError struct {
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

func newFileError(filename string, err error) FileError {
	kind := KindOf(err)
	msg := err.Error()
	switch kind {
	case KindStorageFailure:
		msg = storage.ErrStorageFailure.Error()
	case KindInternal:
		msg = "unexpected error while storing file"
	}
	return FileError{Filename: filename, Kind: kind, Error: msg}
}

// UploadError is returned when an upload stored no files at all. It carries
// the reason each file was rejected.
type UploadError struct {
	Errors []FileError
}

func (e *UploadError) Error() string {
	return ErrNoValidFiles.Error()
}

func (e *UploadError) Unwrap() error {
	return ErrNoValidFiles
}
