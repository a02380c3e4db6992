package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

var (
	ErrModelLoad       = errors.New("load recognition model")
	ErrRecognition     = errors.New("recognition failed")
	ErrStreamFinalized = errors.New("recognition stream already finalized")
)

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Model is a loaded recognition model. One Model serves every request, so
// each session it opens must carry its own state.
type Model interface {
	NewSession(ctx context.Context, sampleRate int) (Session, error)
	Name() string
	Close() error
}

// Session is one incremental recognition pass. Audio is pushed as
// little-endian s16 mono PCM; FinalResult returns a JSON payload with at
// least a "text" field.
type Session interface {
	AcceptWaveform(pcm []byte) error
	FinalResult() ([]byte, error)
	Close() error
}

// Load opens the model selected by cfg.Engine. Failures wrap ErrModelLoad.
func Load(cfg config.STTConfig) (Model, error) {
	var (
		model Model
		err   error
	)
	switch cfg.Engine {
	case "", "mock":
		model = NewMockModel()
	case "exec":
		model, err = NewExecModel(cfg)
	case "vosk":
		model, err = loadVoskModel(cfg)
	case "whisper":
		model, err = loadWhisperModel(cfg)
	default:
		err = fmt.Errorf("unknown engine %q", cfg.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	return model, nil
}

func checkModelPath(path string) error {
	if path == "" {
		return errors.New("model path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("model not found at %s: %w", path, err)
	}
	return nil
}

type finalPayload struct {
	Text       *string  `json:"text"`
	Confidence *float64 `json:"confidence"`
	Result     []struct {
		Word string  `json:"word"`
		Conf float64 `json:"conf"`
	} `json:"result"`
}

// ParseFinalResult extracts the transcript from a session's final payload.
// A missing text field yields an empty transcript.
func ParseFinalResult(payload []byte) (TranscriptResult, error) {
	var final finalPayload
	if err := json.Unmarshal(payload, &final); err != nil {
		return TranscriptResult{}, fmt.Errorf("%w: decode final result: %w", ErrRecognition, err)
	}
	var result TranscriptResult
	if final.Text != nil {
		result.Text = *final.Text
	}
	switch {
	case final.Confidence != nil:
		result.Confidence = *final.Confidence
	case len(final.Result) > 0:
		var sum float64
		for _, w := range final.Result {
			sum += w.Conf
		}
		result.Confidence = sum / float64(len(final.Result))
	}
	return result, nil
}
