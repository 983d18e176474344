package imessage

import (
	"path/filepath"
	"strings"

	"github.com/hurttlocker/chatlift/internal/canonical"
)

var utiTypes = map[string]canonical.AttachmentType{
	"public.jpeg":             canonical.AttachmentImage,
	"public.png":              canonical.AttachmentImage,
	"public.heic":             canonical.AttachmentImage,
	"public.heif":             canonical.AttachmentImage,
	"public.tiff":             canonical.AttachmentImage,
	"public.image":            canonical.AttachmentImage,
	"public.webp":             canonical.AttachmentImage,
	"org.webmproject.webp":    canonical.AttachmentImage,
	"com.compuserve.gif":      canonical.AttachmentImage,
	"com.microsoft.bmp":       canonical.AttachmentImage,
	"public.camera-raw-image": canonical.AttachmentImage,

	"public.mpeg-4":             canonical.AttachmentVideo,
	"public.movie":              canonical.AttachmentVideo,
	"public.video":              canonical.AttachmentVideo,
	"public.avi":                canonical.AttachmentVideo,
	"public.3gpp":               canonical.AttachmentVideo,
	"com.apple.quicktime-movie": canonical.AttachmentVideo,
	"com.apple.m4v-video":       canonical.AttachmentVideo,

	"public.audio":                       canonical.AttachmentAudio,
	"public.mp3":                         canonical.AttachmentAudio,
	"public.mpeg-4-audio":                canonical.AttachmentAudio,
	"public.aiff-audio":                  canonical.AttachmentAudio,
	"public.aifc-audio":                  canonical.AttachmentAudio,
	"com.apple.m4a-audio":                canonical.AttachmentAudio,
	"com.apple.coreaudio-format":         canonical.AttachmentAudio,
	"com.microsoft.waveform-audio":       canonical.AttachmentAudio,
	"org.3gpp.adaptive-multi-rate-audio": canonical.AttachmentAudio,

	"com.adobe.pdf":          canonical.AttachmentFile,
	"public.plain-text":      canonical.AttachmentFile,
	"public.utf8-plain-text": canonical.AttachmentFile,
	"public.rtf":             canonical.AttachmentFile,
	"public.vcard":           canonical.AttachmentFile,
	"public.zip-archive":     canonical.AttachmentFile,
	"public.data":            canonical.AttachmentFile,
	"public.calendar-event":  canonical.AttachmentFile,
	"com.apple.pkpass":       canonical.AttachmentFile,
	"com.microsoft.word.doc": canonical.AttachmentFile,

	"org.openxmlformats.wordprocessingml.document":   canonical.AttachmentFile,
	"org.openxmlformats.spreadsheetml.sheet":         canonical.AttachmentFile,
	"org.openxmlformats.presentationml.presentation": canonical.AttachmentFile,
}

var mimeTypes = map[string]canonical.AttachmentType{
	"application/pdf":              canonical.AttachmentFile,
	"application/zip":              canonical.AttachmentFile,
	"application/msword":           canonical.AttachmentFile,
	"application/json":             canonical.AttachmentFile,
	"application/octet-stream":     canonical.AttachmentFile,
	"application/vnd.apple.pkpass": canonical.AttachmentFile,
	"text/plain":                   canonical.AttachmentFile,
	"text/vcard":                   canonical.AttachmentFile,
	"text/x-vcard":                 canonical.AttachmentFile,
	"text/calendar":                canonical.AttachmentFile,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   canonical.AttachmentFile,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         canonical.AttachmentFile,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": canonical.AttachmentFile,
}

var extTypes = map[string]canonical.AttachmentType{
	".jpg":  canonical.AttachmentImage,
	".jpeg": canonical.AttachmentImage,
	".png":  canonical.AttachmentImage,
	".gif":  canonical.AttachmentImage,
	".heic": canonical.AttachmentImage,
	".heif": canonical.AttachmentImage,
	".tif":  canonical.AttachmentImage,
	".tiff": canonical.AttachmentImage,
	".bmp":  canonical.AttachmentImage,
	".webp": canonical.AttachmentImage,

	".mov":  canonical.AttachmentVideo,
	".mp4":  canonical.AttachmentVideo,
	".m4v":  canonical.AttachmentVideo,
	".avi":  canonical.AttachmentVideo,
	".3gp":  canonical.AttachmentVideo,
	".mkv":  canonical.AttachmentVideo,
	".webm": canonical.AttachmentVideo,

	".caf":  canonical.AttachmentAudio,
	".m4a":  canonical.AttachmentAudio,
	".mp3":  canonical.AttachmentAudio,
	".wav":  canonical.AttachmentAudio,
	".aac":  canonical.AttachmentAudio,
	".amr":  canonical.AttachmentAudio,
	".aiff": canonical.AttachmentAudio,
	".aif":  canonical.AttachmentAudio,
	".ogg":  canonical.AttachmentAudio,
	".opus": canonical.AttachmentAudio,

	".pdf":    canonical.AttachmentFile,
	".txt":    canonical.AttachmentFile,
	".vcf":    canonical.AttachmentFile,
	".zip":    canonical.AttachmentFile,
	".doc":    canonical.AttachmentFile,
	".docx":   canonical.AttachmentFile,
	".xls":    canonical.AttachmentFile,
	".xlsx":   canonical.AttachmentFile,
	".ppt":    canonical.AttachmentFile,
	".pptx":   canonical.AttachmentFile,
	".pkpass": canonical.AttachmentFile,
	".ics":    canonical.AttachmentFile,
	".rtf":    canonical.AttachmentFile,
	".csv":    canonical.AttachmentFile,
}

// ClassifyAttachment maps a uniform type identifier, MIME type or filename to
// an attachment category. The UTI wins because Messages always records it;
// MIME types and extensions are progressively weaker hints.
func ClassifyAttachment(uti, mimeType, filename string) canonical.AttachmentType {
	if t, ok := utiTypes[strings.ToLower(strings.TrimSpace(uti))]; ok {
		return t
	}

	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if t, ok := mimeTypes[mt]; ok {
		return t
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return canonical.AttachmentImage
	case strings.HasPrefix(mt, "video/"):
		return canonical.AttachmentVideo
	case strings.HasPrefix(mt, "audio/"):
		return canonical.AttachmentAudio
	}

	if t, ok := extTypes[strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))]; ok {
		return t
	}
	return canonical.AttachmentUnknown
}
