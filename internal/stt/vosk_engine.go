//go:build vosk

package stt

import (
	"context"
	"errors"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/loqalabs/loqa-scribe/internal/config"
)

// One VoskModel serves every session; each recognizer carries its own
// decoding state.
type voskModel struct {
	model *vosk.VoskModel
}

func loadVoskModel(cfg config.STTConfig) (Model, error) {
	if err := checkModelPath(cfg.ModelPath); err != nil {
		return nil, err
	}
	vosk.SetLogLevel(-1)
	model, err := vosk.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	return &voskModel{model: model}, nil
}

func (m *voskModel) Name() string { return "vosk" }

func (m *voskModel) Close() error {
	m.model.Free()
	return nil
}

func (m *voskModel) NewSession(_ context.Context, sampleRate int) (Session, error) {
	rec, err := vosk.NewRecognizer(m.model, float64(sampleRate))
	if err != nil {
		return nil, err
	}
	rec.SetWords(1)
	return &voskSession{rec: rec}, nil
}

type voskSession struct {
	rec *vosk.VoskRecognizer
}

func (s *voskSession) AcceptWaveform(pcm []byte) error {
	if s.rec.AcceptWaveform(pcm) < 0 {
		return errors.New("vosk rejected waveform")
	}
	return nil
}

func (s *voskSession) FinalResult() ([]byte, error) {
	return s.rec.FinalResult(), nil
}

func (s *voskSession) Close() error {
	s.rec.Free()
	return nil
}
