package stt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// recordingModel keeps every session it opens so tests can inspect what the
// driver fed in.
type recordingModel struct {
	mu        sync.Mutex
	sessions  []*recordingSession
	openErr   error
	acceptErr error
	final     []byte
}

func (m *recordingModel) Name() string { return "recording" }

func (m *recordingModel) Close() error { return nil }

func (m *recordingModel) NewSession(_ context.Context, sampleRate int) (Session, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	s := &recordingSession{sampleRate: sampleRate, acceptErr: m.acceptErr, final: m.final}
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

func (m *recordingModel) last() *recordingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil
	}
	return m.sessions[len(m.sessions)-1]
}

type recordingSession struct {
	sampleRate int
	chunks     [][]byte
	finals     int
	closes     int
	acceptErr  error
	final      []byte
}

func (s *recordingSession) AcceptWaveform(pcm []byte) error {
	if s.acceptErr != nil {
		return s.acceptErr
	}
	s.chunks = append(s.chunks, append([]byte(nil), pcm...))
	return nil
}

func (s *recordingSession) FinalResult() ([]byte, error) {
	s.finals++
	if s.final != nil {
		return s.final, nil
	}
	var total int
	for _, c := range s.chunks {
		total += len(c)
	}
	return json.Marshal(map[string]any{"text": "", "bytes": total})
}

func (s *recordingSession) Close() error {
	s.closes++
	return nil
}

var errEngineFault = errors.New("engine fault")
