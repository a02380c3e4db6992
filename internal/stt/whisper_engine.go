//go:build whisper

package stt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-scribe/internal/config"
)

// whisper.cpp has no streaming decoder, so a session buffers samples and runs
// the model once in FinalResult. Contexts are per session.
type whisperModel struct {
	model    whisper.Model
	language string
}

func loadWhisperModel(cfg config.STTConfig) (Model, error) {
	if err := checkModelPath(cfg.ModelPath); err != nil {
		return nil, err
	}
	model, err := whisper.New(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	return &whisperModel{model: model, language: cfg.Language}, nil
}

func (m *whisperModel) Name() string { return "whisper" }

func (m *whisperModel) Close() error { return m.model.Close() }

func (m *whisperModel) NewSession(_ context.Context, sampleRate int) (Session, error) {
	if sampleRate != whisper.SampleRate {
		return nil, fmt.Errorf("whisper requires %d Hz audio, got %d", whisper.SampleRate, sampleRate)
	}
	wctx, err := m.model.NewContext()
	if err != nil {
		return nil, err
	}
	if m.language != "" {
		if err := wctx.SetLanguage(m.language); err != nil {
			return nil, err
		}
	}
	return &whisperSession{ctx: wctx}, nil
}

type whisperSession struct {
	ctx     whisper.Context
	samples []float32
}

func (s *whisperSession) AcceptWaveform(pcm []byte) error {
	if len(pcm)%2 != 0 {
		return errors.New("pcm payload not aligned")
	}
	for i := 0; i < len(pcm); i += 2 {
		s.samples = append(s.samples, float32(int16(binary.LittleEndian.Uint16(pcm[i:])))/32768)
	}
	return nil
}

func (s *whisperSession) FinalResult() ([]byte, error) {
	if err := s.ctx.Process(s.samples, nil, nil, nil); err != nil {
		return nil, err
	}
	var parts []string
	for {
		segment, err := s.ctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return json.Marshal(map[string]string{"text": strings.Join(parts, " ")})
}

func (s *whisperSession) Close() error {
	s.samples = nil
	return nil
}
