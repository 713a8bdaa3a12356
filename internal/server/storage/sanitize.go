package storage

import (
	"fmt"
	"mime"
	"net/http"
	"path"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"fileshare/internal/server/registry"
)

const defaultMimeType = "application/octet-stream"

// allowedExtensions is the upload allow-list.
var allowedExtensions = map[string]bool{
	// Images
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
	// Documents
	".pdf": true, ".doc": true, ".docx": true, ".txt": true, ".rtf": true,
	".csv": true, ".xlsx": true, ".xls": true,
	// Archives
	".zip": true, ".rar": true, ".7z": true, ".tar": true, ".gz": true,
	// Media
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mkv": true,
	// Code
	".py": true, ".js": true, ".html": true, ".css": true, ".json": true, ".xml": true,
}

// AllowedExtensions returns the sorted allow-list.
func AllowedExtensions() []string {
	out := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// sanitizeSegment keeps only letters, digits, '_' and '-'.
func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitRelPath(relPath string) []string {
	return strings.Split(strings.ReplaceAll(relPath, "\\", "/"), "/")
}

// fileExtension returns the lower-cased extension of the last path segment.
func fileExtension(relPath string) string {
	parts := splitRelPath(relPath)
	return strings.ToLower(path.Ext(parts[len(parts)-1]))
}

// buildStoredName derives the on-disk, slash-separated name for an upload:
// every directory segment and the stem are sanitized, and a random hex
// suffix is appended to the stem so names never collide.
func buildStoredName(relPath string) (string, error) {
	parts := splitRelPath(relPath)
	base := parts[len(parts)-1]

	ext := strings.ToLower(path.Ext(base))
	if !allowedExtensions[ext] {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileType, ext)
	}

	stem := sanitizeSegment(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		stem = "file"
	}

	suffix, err := registry.RandomHex(8)
	if err != nil {
		return "", err
	}

	segments := make([]string, 0, len(parts))
	for _, dir := range parts[:len(parts)-1] {
		if s := sanitizeSegment(dir); s != "" {
			segments = append(segments, s)
		}
	}
	segments = append(segments, fmt.Sprintf("%s_%s%s", stem, suffix, ext))

	return strings.Join(segments, "/"), nil
}

// cleanOriginalName normalizes a client-supplied relative path for display
// and archive entries: forward slashes only, no absolute or parent prefixes.
func cleanOriginalName(relPath string) string {
	p := path.Clean("/" + strings.ReplaceAll(relPath, "\\", "/"))
	p = strings.TrimPrefix(p, "/")
	if len(p) > 255 {
		ext := path.Ext(p)
		base := p[:255-len(ext)]
		for !utf8.ValidString(base) {
			base = base[:len(base)-1]
		}
		p = base + ext
	}
	return p
}

// detectMimeType guesses from the extension, then from the leading bytes.
func detectMimeType(ext string, head []byte) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	if len(head) > 0 {
		return http.DetectContentType(head)
	}
	return defaultMimeType
}
