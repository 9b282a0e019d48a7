// Package classifier assigns a category and threat level to a download
// from its filename, URL and content type.
package classifier

import (
	"context"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/vertextoedge/rangefetch/internal/domain"
	"github.com/vertextoedge/rangefetch/internal/port"
)

// Categories assigned by the heuristic classifier
const (
	CategoryVideo      = "video"
	CategoryAudio      = "audio"
	CategoryImage      = "image"
	CategoryDocument   = "document"
	CategoryArchive    = "archive"
	CategoryExecutable = "executable"
	CategoryDiskImage  = "disk_image"
)

var categoryByExt = map[string]string{
	".mp4": CategoryVideo, ".mkv": CategoryVideo, ".webm": CategoryVideo, ".mov": CategoryVideo,
	".avi": CategoryVideo, ".ts": CategoryVideo, ".m4v": CategoryVideo,
	".mp3": CategoryAudio, ".flac": CategoryAudio, ".wav": CategoryAudio, ".ogg": CategoryAudio,
	".m4a": CategoryAudio, ".aac": CategoryAudio, ".opus": CategoryAudio,
	".jpg": CategoryImage, ".jpeg": CategoryImage, ".png": CategoryImage, ".gif": CategoryImage,
	".webp": CategoryImage, ".svg": CategoryImage, ".heic": CategoryImage,
	".pdf": CategoryDocument, ".txt": CategoryDocument, ".doc": CategoryDocument, ".docx": CategoryDocument,
	".xls": CategoryDocument, ".xlsx": CategoryDocument, ".ppt": CategoryDocument, ".pptx": CategoryDocument,
	".odt": CategoryDocument, ".csv": CategoryDocument, ".epub": CategoryDocument,
	".docm": CategoryDocument, ".xlsm": CategoryDocument, ".pptm": CategoryDocument,
	".zip": CategoryArchive, ".rar": CategoryArchive, ".7z": CategoryArchive, ".tar": CategoryArchive,
	".gz": CategoryArchive, ".tgz": CategoryArchive, ".bz2": CategoryArchive, ".xz": CategoryArchive,
	".zst": CategoryArchive,
	".exe": CategoryExecutable, ".msi": CategoryExecutable, ".bat": CategoryExecutable, ".cmd": CategoryExecutable,
	".scr": CategoryExecutable, ".com": CategoryExecutable, ".ps1": CategoryExecutable, ".vbs": CategoryExecutable,
	".js": CategoryExecutable, ".jar": CategoryExecutable, ".apk": CategoryExecutable, ".sh": CategoryExecutable,
	".deb": CategoryExecutable, ".rpm": CategoryExecutable, ".appimage": CategoryExecutable,
	".iso": CategoryDiskImage, ".img": CategoryDiskImage, ".dmg": CategoryDiskImage, ".vhd": CategoryDiskImage,
}

// Extensions that run code when opened
var highRiskExt = map[string]bool{
	".exe": true, ".msi": true, ".bat": true, ".cmd": true, ".scr": true, ".com": true,
	".ps1": true, ".vbs": true, ".js": true, ".jar": true, ".apk": true,
}

// Containers and macro-enabled documents that can carry code
var mediumRiskExt = map[string]bool{
	".docm": true, ".xlsm": true, ".pptm": true,
	".zip": true, ".rar": true, ".7z": true,
	".iso": true, ".img": true, ".dmg": true, ".vhd": true,
	".sh": true, ".deb": true, ".rpm": true, ".appimage": true,
}

// Heuristic classifies by extension, double extension and content type
type Heuristic struct{}

var _ port.Classifier = Heuristic{}

// New creates a heuristic classifier
func New() Heuristic {
	return Heuristic{}
}

// Classify never fails; unknown resources are general/safe
func (Heuristic) Classify(ctx context.Context, rawURL, filename, contentType string) (domain.Classification, error) {
	if err := ctx.Err(); err != nil {
		return domain.Classification{}, err
	}

	name := strings.ToLower(filename)
	if name == "" {
		name = strings.ToLower(nameFromURL(rawURL))
	}

	result := domain.DefaultClassification()
	ext := path.Ext(name)

	if cat, ok := categoryByExt[ext]; ok {
		result.Category = cat
	} else if cat := categoryFromMIME(contentType); cat != "" {
		result.Category = cat
	}

	switch {
	case highRiskExt[ext] && hasDecoyExtension(name):
		result.ThreatLevel = domain.ThreatLevelHigh
		result.SuggestedActions = []string{
			"file disguises an executable behind a document or media extension",
			"do not open; delete unless the source is trusted",
		}
	case highRiskExt[ext]:
		result.ThreatLevel = domain.ThreatLevelHigh
		result.SuggestedActions = []string{
			"verify the publisher signature before running",
			"scan with antivirus software",
		}
	case mediumRiskExt[ext]:
		result.ThreatLevel = domain.ThreatLevelMedium
		result.SuggestedActions = []string{"scan contents before opening"}
	}

	return result, nil
}

// hasDecoyExtension reports names like "invoice.pdf.exe"
func hasDecoyExtension(name string) bool {
	inner := path.Ext(strings.TrimSuffix(name, path.Ext(name)))
	if inner == "" {
		return false
	}
	switch categoryByExt[inner] {
	case CategoryDocument, CategoryImage, CategoryVideo, CategoryAudio:
		return true
	}
	return false
}

func nameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

func categoryFromMIME(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	switch {
	case strings.HasPrefix(mt, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mt, "audio/"):
		return CategoryAudio
	case strings.HasPrefix(mt, "image/"):
		return CategoryImage
	case mt == "application/pdf", strings.HasPrefix(mt, "text/"):
		return CategoryDocument
	case mt == "application/zip", mt == "application/x-7z-compressed", mt == "application/gzip",
		mt == "application/x-tar", mt == "application/vnd.rar":
		return CategoryArchive
	case mt == "application/x-msdownload", mt == "application/vnd.microsoft.portable-executable":
		return CategoryExecutable
	}
	return ""
}
