package probe

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Kind is the media classification decided once per extraction attempt.
type Kind string

const (
	KindUnknown Kind = ""
	KindVideo   Kind = "video"
	KindAudio   Kind = "audio"
)

var audioExtensions = map[string]bool{
	".mp3": true, ".flac": true, ".m4a": true, ".aac": true,
	".ogg": true, ".wav": true, ".wma": true, ".opus": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true,
	".webm": true, ".ts": true, ".m2ts": true, ".wmv": true, ".flv": true,
}

// Classify picks a media kind for the locator. An explicit hint wins, then
// the file extension, then a content sniff for local paths. Anything still
// undecided is treated as video; the engine reclassifies to audio later if
// the decoded stream has no picture.
func Classify(locator string, hint Kind) Kind {
	if hint == KindAudio || hint == KindVideo {
		return hint
	}

	ext := strings.ToLower(filepath.Ext(stripQuery(locator)))
	if audioExtensions[ext] {
		return KindAudio
	}
	if videoExtensions[ext] {
		return KindVideo
	}

	if !strings.Contains(locator, "://") {
		if mt, err := mimetype.DetectFile(locator); err == nil {
			switch {
			case strings.HasPrefix(mt.String(), "audio/"):
				return KindAudio
			case strings.HasPrefix(mt.String(), "video/"):
				return KindVideo
			}
		}
	}

	return KindVideo
}

func stripQuery(locator string) string {
	if i := strings.IndexByte(locator, '?'); i >= 0 {
		return locator[:i]
	}
	return locator
}
