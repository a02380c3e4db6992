package stt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/mattn/go-shellwords"
)

// execModel runs an external recognizer once per session. The command gets
// --audio <wav> [--model <path>] [--language <code>] and must print a JSON
// object with a "text" field.
type execModel struct {
	cmd []string
	cfg config.STTConfig
}

func NewExecModel(cfg config.STTConfig) (Model, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("stt command: %w", err)
	}
	if cfg.ModelPath != "" {
		if err := checkModelPath(cfg.ModelPath); err != nil {
			return nil, err
		}
	}
	return &execModel{cmd: args, cfg: cfg}, nil
}

func (m *execModel) Name() string { return "exec" }

func (m *execModel) Close() error { return nil }

func (m *execModel) NewSession(ctx context.Context, sampleRate int) (Session, error) {
	return &execSession{ctx: ctx, model: m, sampleRate: sampleRate}, nil
}

type execSession struct {
	ctx        context.Context
	model      *execModel
	sampleRate int
	pcm        bytes.Buffer
}

func (s *execSession) AcceptWaveform(pcm []byte) error {
	_, err := s.pcm.Write(pcm)
	return err
}

func (s *execSession) FinalResult() ([]byte, error) {
	file, err := os.CreateTemp("", "loqa_scribe_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.EncodeWAV(file, audio.FromBytes(s.pcm.Bytes(), 1, s.sampleRate)); err != nil {
		return nil, err
	}

	base := s.model.cmd[0]
	cmdArgs := append([]string{}, s.model.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if s.model.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", s.model.cfg.ModelPath)
	}
	if s.model.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", s.model.cfg.Language)
	}

	command := exec.CommandContext(s.ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (s *execSession) Close() error {
	s.pcm.Reset()
	return nil
}
