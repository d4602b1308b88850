// Package validation decides which uploads may become notices and how their files are named.
package validation

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// MediaKind is the presentation category of a notice's file.
type MediaKind string

// Media kinds understood by viewers.
const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

var mediaKinds = map[string]MediaKind{
	"png":  MediaImage,
	"jpg":  MediaImage,
	"jpeg": MediaImage,
	"gif":  MediaImage,
	"mp4":  MediaVideo,
	"avi":  MediaVideo,
	"mov":  MediaVideo,
	"mp3":  MediaAudio,
	"wav":  MediaAudio,
	"pdf":  MediaDocument,
	"docx": MediaDocument,
	"pptx": MediaDocument,
	"txt":  MediaDocument,
}

// AllowedExtensions returns the accepted extensions in sorted order.
func AllowedExtensions() []string {
	exts := make([]string, 0, len(mediaKinds))
	for ext := range mediaKinds {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Validate reports whether filename has an allowed extension and returns it lower-cased.
// Only the text after the last dot counts, so "report.exe.png" is accepted as png.
func Validate(filename string) (string, bool) {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return "", false
	}
	ext := strings.ToLower(filename[idx+1:])
	if _, ok := mediaKinds[ext]; !ok {
		return "", false
	}
	return ext, true
}

// KindOf maps a normalized extension to its media kind.
// Unknown extensions are treated as documents.
func KindOf(ext string) MediaKind {
	if kind, ok := mediaKinds[strings.ToLower(ext)]; ok {
		return kind
	}
	return MediaDocument
}

// SanitizeFilename cleans a filename to prevent directory traversal and other security issues.
// The result only contains [A-Za-z0-9._-], never starts with a dot and is never empty.
func SanitizeFilename(filename string) string {
	// Both separators count, whatever the host OS
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)

	filename = strings.ReplaceAll(filename, "..", "")
	filename = strings.ReplaceAll(filename, "/", "")

	filename = strings.ReplaceAll(filename, " ", "_")

	filename = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, filename)

	filename = strings.TrimLeft(filename, ".")
	if filename == "" {
		return "file"
	}
	return filename
}

// maxStoredNameLength keeps stored paths well inside the file_path column.
const maxStoredNameLength = 200

// StoredName returns the blob name for an upload: a random prefix plus the sanitized
// original name, always ending in ".<ext>". Long names are shortened before the extension.
func StoredName(filename, ext string) string {
	name := SanitizeFilename(filename)
	if ext != "" && !strings.HasSuffix(strings.ToLower(name), "."+ext) {
		name += "." + ext
	}

	prefix := uuid.NewString() + "_"
	if limit := maxStoredNameLength - len(prefix); len(name) > limit {
		// Sanitized names are ASCII, so byte slicing is safe
		if ext != "" {
			name = name[:limit-len(ext)-1] + "." + ext
		} else {
			name = name[:limit]
		}
	}
	return prefix + name
}
