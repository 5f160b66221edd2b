package domain

import (
	"fmt"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Storage prefixes
const (
	AudioPrefix = "audio/"
	ImagePrefix = "images/"
)

// DurationMetaKey is the object metadata key holding audio length in seconds
const DurationMetaKey = "duration-seconds"

// AudioKey is audio/{subjectId}/{YYYY-MM-DD}/{jobId}.{ext}
func AudioKey(subjectID string, day time.Time, jobID, ext string) string {
	return fmt.Sprintf("%s%s/%s/%s.%s", AudioPrefix, subjectID, day.UTC().Format(time.DateOnly), jobID, ext)
}

// ImageKey is images/{YYYY}/{MM}/{DD}/{jobId}.{ext}
func ImageKey(day time.Time, jobID, ext string) string {
	return fmt.Sprintf("%s%s/%s.%s", ImagePrefix, day.UTC().Format("2006/01/02"), jobID, ext)
}

// JobIDFromKey extracts the job id from an audio or image key
func JobIDFromKey(key string) (string, error) {
	if !strings.HasPrefix(key, AudioPrefix) && !strings.HasPrefix(key, ImagePrefix) {
		return "", fmt.Errorf("unknown key prefix: %s", key)
	}

	base := path.Base(key)
	id := strings.TrimSuffix(base, path.Ext(base))
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("key %s does not end in a job id", key)
	}
	return id, nil
}

// ExtensionFor maps a MIME type to a file extension without the dot
func ExtensionFor(mimeType, fallback string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return fallback
	}

	switch mediaType {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg":
		return "ogg"
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return fallback
	}
}
