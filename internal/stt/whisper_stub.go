//go:build !whisper

package stt

import (
	"errors"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

func loadWhisperModel(config.STTConfig) (Model, error) {
	return nil, errors.New("whisper support not compiled in; rebuild with -tags whisper")
}
