package audio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format is a container accepted at the upload boundary.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrDecode            = errors.New("decode audio")
)

var allowedExtensions = map[string]Format{
	".wav": FormatWAV,
	".mp3": FormatMP3,
}

// CheckFilename accepts a file by its declared extension only. It does not
// look at content; Decode is the authority on whether the bytes are audio.
func CheckFilename(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if format, ok := allowedExtensions[ext]; ok {
		return format, nil
	}
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, name)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}
