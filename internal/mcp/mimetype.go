package mcp

import (
	"path/filepath"
	"strings"
)

// DefaultMimetype is used for binary content of unknown type.
const DefaultMimetype = "application/octet-stream"

// extensionMimetypes maps lower case filename extensions to mimetypes.
var extensionMimetypes = map[string]string{
	// Images
	".png": "image/png", ".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".gif": "image/gif",
	".ico": "image/x-icon", ".svg": "image/svg+xml", ".bmp": "image/bmp",
	".tiff": "image/tiff", ".webp": "image/webp",

	// Movies and audio
	".mp4": "video/mp4", ".mov": "video/quicktime", ".avi": "video/x-msvideo",
	".mkv": "video/x-matroska", ".mp3": "audio/mpeg", ".wav": "audio/wav",

	// Documents
	".pdf": "application/pdf", ".doc": "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",

	// Archives
	".zip": "application/zip", ".tar": "application/x-tar", ".gz": "application/gzip",

	// Text
	".txt": "text/plain", ".html": "text/html", ".htm": "text/html", ".css": "text/css",
	".js": "text/javascript", ".json": "application/json", ".xml": "application/xml",
	".md": "text/markdown", ".csv": "text/csv", ".yaml": "application/yaml", ".yml": "application/yaml",
}

// DetectMimetype guesses the mimetype of content from its filename, then from the
// data itself.
func DetectMimetype(filename string, data []byte) string {
	if mt, ok := extensionMimetypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return mt
	}
	if IsBinary(data) {
		return DefaultMimetype
	}
	return "text/plain"
}

// IsBinary checks if the content appears to be binary by looking for null bytes
// in the first 512 bytes. This is a heuristic used by git and other tools.
func IsBinary(content []byte) bool {
	checkLen := min(len(content), 512)

	for i := range checkLen {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
