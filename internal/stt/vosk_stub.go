//go:build !vosk

package stt

import (
	"errors"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

func loadVoskModel(config.STTConfig) (Model, error) {
	return nil, errors.New("vosk support not compiled in; rebuild with -tags vosk")
}
