package stt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

type mockModel struct{}

// NewMockModel returns a model that reports how much audio it heard instead
// of recognizing speech. Silence yields an empty transcript.
func NewMockModel() Model {
	return &mockModel{}
}

func (m *mockModel) Name() string { return "mock" }

func (m *mockModel) Close() error { return nil }

func (m *mockModel) NewSession(_ context.Context, _ int) (Session, error) {
	return &mockSession{}, nil
}

type mockSession struct {
	length int
	loud   bool
}

func (s *mockSession) AcceptWaveform(pcm []byte) error {
	s.length += len(pcm)
	for i := 0; i+1 < len(pcm) && !s.loud; i += 2 {
		if binary.LittleEndian.Uint16(pcm[i:]) != 0 {
			s.loud = true
		}
	}
	return nil
}

func (s *mockSession) FinalResult() ([]byte, error) {
	text := ""
	if s.loud {
		text = fmt.Sprintf("[final transcript length=%d]", s.length)
	}
	return json.Marshal(map[string]string{"text": text})
}

func (s *mockSession) Close() error { return nil }
