package stt

import (
	"context"
	"fmt"
)

// State is the lifecycle position of a recognition Stream.
type State int

const (
	StateCreated State = iota
	StateFeeding
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateFeeding:
		return "feeding"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateCreated:   {StateFeeding, StateFinalized},
	StateFeeding:   {StateFeeding, StateFinalized},
	StateFinalized: nil,
}

// Stream guards an engine Session with the Created -> Feeding -> Finalized
// lifecycle. It belongs to a single request and is not safe for concurrent use.
type Stream struct {
	session Session
	state   State
	fed     int64
	chunks  int
	closed  bool
}

// Open starts a session on model bound to sampleRate.
func Open(ctx context.Context, model Model, sampleRate int) (*Stream, error) {
	session, err := model.NewSession(ctx, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("%w: open session: %w", ErrRecognition, err)
	}
	return &Stream{session: session, state: StateCreated}, nil
}

func (s *Stream) State() State { return s.state }

// BytesFed is the total number of PCM bytes accepted so far.
func (s *Stream) BytesFed() int64 { return s.fed }

// Chunks is the number of windows accepted so far.
func (s *Stream) Chunks() int { return s.chunks }

func (s *Stream) transition(to State) error {
	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	if s.state == StateFinalized {
		return ErrStreamFinalized
	}
	return fmt.Errorf("invalid stream transition %s -> %s", s.state, to)
}

// Accept pushes one window of PCM into the session.
func (s *Stream) Accept(chunk []byte) error {
	if err := s.transition(StateFeeding); err != nil {
		return err
	}
	if err := s.session.AcceptWaveform(chunk); err != nil {
		return fmt.Errorf("%w: accept chunk %d: %w", ErrRecognition, s.chunks, err)
	}
	s.fed += int64(len(chunk))
	s.chunks++
	return nil
}

// Finalize requests the final result. It succeeds at most once; the stream
// accepts no audio afterwards.
func (s *Stream) Finalize() (TranscriptResult, error) {
	if err := s.transition(StateFinalized); err != nil {
		return TranscriptResult{}, err
	}
	payload, err := s.session.FinalResult()
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("%w: final result: %w", ErrRecognition, err)
	}
	return ParseFinalResult(payload)
}

// Close releases the engine session. It is safe to call more than once.
func (s *Stream) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.session.Close()
}
