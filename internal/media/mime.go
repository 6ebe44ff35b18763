package media

import (
	"path/filepath"
	"strings"
)

// Kind represents the category of a media type.
type Kind string

const (
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindUnknown  Kind = "unknown"
)

// supportedMIME lists the types the model backend accepts as uploaded files.
// Anything else is dropped from the turn without an error.
var supportedMIME = map[string]Kind{
	"image/png":  KindImage,
	"image/jpeg": KindImage,
	"image/webp": KindImage,
	"image/heic": KindImage,
	"image/heif": KindImage,

	"video/mp4":   KindVideo,
	"video/mpeg":  KindVideo,
	"video/avi":   KindVideo,
	"video/x-flv": KindVideo,
	"video/mpg":   KindVideo,
	"video/webm":  KindVideo,
	"video/wmv":   KindVideo,
	"video/3gpp":  KindVideo,

	"audio/wav":  KindAudio,
	"audio/mp3":  KindAudio,
	"audio/aiff": KindAudio,
	"audio/aac":  KindAudio,
	"audio/ogg":  KindAudio,
	"audio/flac": KindAudio,

	"application/pdf":          KindDocument,
	"application/x-javascript": KindDocument,
	"text/javascript":          KindDocument,
	"application/x-python":     KindDocument,
	"text/x-python":            KindDocument,
	"text/plain":               KindDocument,
	"text/html":                KindDocument,
	"text/css":                 KindDocument,
	"text/md":                  KindDocument,
	"text/csv":                 KindDocument,
	"text/xml":                 KindDocument,
	"text/rtf":                 KindDocument,
}

// extensionToMIME is consulted only when the platform reports no MIME type.
var extensionToMIME = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpg",
	".webm": "video/webm",
	".wmv":  "video/wmv",
	".3gp":  "video/3gpp",
	".flv":  "video/x-flv",
	".avi":  "video/avi",
	".wav":  "audio/wav",
	".mp3":  "audio/mp3",
	".aiff": "audio/aiff",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".pdf":  "application/pdf",
	".js":   "text/javascript",
	".py":   "text/x-python",
	".txt":  "text/plain",
	".html": "text/html",
	".css":  "text/css",
	".md":   "text/md",
	".csv":  "text/csv",
	".xml":  "text/xml",
	".rtf":  "text/rtf",
}

// NormalizeMIME lowercases mime and strips parameters such as charset.
func NormalizeMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

// ResolveMIME returns the normalized MIME type, falling back to the filename
// extension when mime is empty.
func ResolveMIME(mime, filename string) string {
	if normalized := NormalizeMIME(mime); normalized != "" {
		return normalized
	}
	return extensionToMIME[strings.ToLower(filepath.Ext(filename))]
}

// Supported reports whether mime can be uploaded to the model backend.
func Supported(mime string) bool {
	_, ok := supportedMIME[NormalizeMIME(mime)]
	return ok
}

// KindFromMIME returns the media kind for mime.
func KindFromMIME(mime string) Kind {
	if kind, ok := supportedMIME[NormalizeMIME(mime)]; ok {
		return kind
	}
	return KindUnknown
}

// IsAsync reports whether uploads of mime are processed asynchronously by the
// backend and must be polled before use.
func IsAsync(mime string) bool {
	return strings.HasPrefix(NormalizeMIME(mime), "video/")
}
