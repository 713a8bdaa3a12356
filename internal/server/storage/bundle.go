package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"fileshare/internal/server/registry"
)

// WriteBundle streams a zip archive of files to w, one entry per file named
// after its original name. Files missing from storage are skipped. It
// returns the number of entries written.
func WriteBundle(ctx context.Context, w io.Writer, store Store, groupID string, files []registry.FileRecord) (int, error) {
	zw := zip.NewWriter(w)
	seen := make(map[string]int)

	var written int
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return written, err
		}

		obj, err := store.Open(groupID, f.StoredName)
		if err != nil {
			if errors.Is(err, ErrFileMissing) {
				slog.Warn("skipping missing file in bundle",
					"group_id", groupID,
					"stored_name", f.StoredName,
				)
				continue
			}
			zw.Close()
			return written, err
		}

		err = addToZip(zw, obj, f, uniqueEntryName(entryName(f), seen))
		obj.Close()
		if err != nil {
			zw.Close()
			return written, err
		}
		written++
	}

	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("failed to close zip writer: %w", err)
	}
	return written, nil
}

func addToZip(zw *zip.Writer, src io.Reader, f registry.FileRecord, name string) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: f.CreatedAt,
	}
	header.SetMode(0644)

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, src); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}
	return nil
}

func entryName(f registry.FileRecord) string {
	name := cleanOriginalName(f.OriginalName)
	if name == "" || strings.HasSuffix(name, "/") {
		return path.Base(f.StoredName)
	}
	return name
}

// uniqueEntryName appends _N before the extension when a name repeats.
func uniqueEntryName(name string, seen map[string]int) string {
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}

	ext := path.Ext(name)
	candidate := fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
	if _, taken := seen[candidate]; taken {
		return uniqueEntryName(name, seen)
	}
	seen[candidate] = 1
	return candidate
}
