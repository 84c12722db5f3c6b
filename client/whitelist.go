package client

import (
	"strings"

	"github.com/saiset-co/sai-media/types"
)

var extensions = map[types.MediaKind]map[string]string{
	types.MediaVideo: {
		"video/mp4":        ".mp4",
		"video/quicktime":  ".mov",
		"video/webm":       ".webm",
		"video/x-matroska": ".mkv",
		"video/x-flv":      ".flv",
	},
	types.MediaImage: {
		"image/jpeg":  ".jpg",
		"image/jpg":   ".jpg",
		"image/pjpeg": ".jpg",
		"image/png":   ".png",
		"image/gif":   ".gif",
		"image/webp":  ".webp",
		"image/bmp":   ".bmp",
	},
}

// ExtensionFor maps a declared content type to the file extension used in
// the cache. The second result is false when the type is not accepted for kind.
func ExtensionFor(kind types.MediaKind, contentType string) (string, bool) {
	byType, ok := extensions[kind]
	if !ok {
		return "", false
	}
	ext, ok := byType[normalizeContentType(contentType)]
	return ext, ok
}

func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
