// Package transcribe runs one upload through gate, decode, normalization and
// chunked recognition.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const instrumentationName = "github.com/loqalabs/loqa-scribe/internal/transcribe"

// Outcomes reported on metrics and in the request journal.
const (
	OutcomeOK          = "ok"
	OutcomeUnsupported = "unsupported_format"
	OutcomeTooLarge    = "too_large"
	OutcomeDecode      = "decode_error"
	OutcomeRecognition = "recognition_error"
	OutcomeCanceled    = "canceled"
	OutcomeTimeout     = "timeout"
	OutcomeInternal    = "internal_error"
)

// Upload is one file received from a client. Body is read at most once and
// only after Filename has passed the format gate.
type Upload struct {
	RequestID string
	Filename  string
	Body      io.Reader
}

// Result is a finished transcription plus what was learned about the upload
// on the way.
type Result struct {
	Text          string
	Confidence    float64
	Format        audio.Format
	UploadBytes   int64
	AudioDuration time.Duration
}

// Publisher announces finished transcripts. *bus.Client satisfies it.
type Publisher interface {
	PublishTranscript(ctx context.Context, evt protocol.TranscriptEvent) error
}

// Service owns the loaded model handle and runs the pipeline for each
// request. It is safe for concurrent use; requests share nothing but the model.
type Service struct {
	model     stt.Model
	driver    *stt.Driver
	cfg       config.STTConfig
	log       *slog.Logger
	publisher Publisher
	sem       *semaphore.Weighted
	tracer    trace.Tracer
	metrics   instruments
	clock     func() time.Time
}

func NewService(model stt.Model, cfg config.STTConfig, log *slog.Logger) *Service {
	s := &Service{
		model:  model,
		driver: stt.NewDriver(model, cfg.SampleRate, cfg.ChunkBytes),
		cfg:    cfg,
		log:    log.With(slog.String("component", "transcribe")),
		tracer: otel.Tracer(instrumentationName),
		clock:  time.Now,
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	metrics, err := newInstruments(otel.Meter(instrumentationName))
	if err != nil {
		s.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	s.metrics = metrics
	return s
}

// WithPublisher sets where successful transcripts are announced.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// Engine names the loaded recognition engine.
func (s *Service) Engine() string {
	return s.model.Name()
}

// Transcribe runs an upload through the full pipeline. Errors wrap
// audio.ErrUnsupportedFormat, audio.ErrDecode, stt.ErrRecognition or a
// context error; a partially filled Result is returned alongside errors so
// callers can log what was known.
func (s *Service) Transcribe(ctx context.Context, up Upload) (Result, error) {
	start := s.clock()
	ctx, span := s.tracer.Start(ctx, "transcribe", trace.WithAttributes(
		attribute.String("request.id", up.RequestID),
		attribute.String("upload.extension", strings.ToLower(filepath.Ext(up.Filename))),
	))
	defer span.End()

	if s.cfg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	result, err := s.run(ctx, up)
	outcome := Outcome(err)
	s.metrics.record(ctx, outcome, s.clock().Sub(start))
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return result, err
	}

	s.publish(ctx, up, result)
	return result, nil
}

func (s *Service) run(ctx context.Context, up Upload) (Result, error) {
	var result Result

	format, err := audio.CheckFilename(up.Filename)
	if err != nil {
		return result, err
	}
	result.Format = format

	data, err := io.ReadAll(up.Body)
	result.UploadBytes = int64(len(data))
	if err != nil {
		return result, fmt.Errorf("read upload: %w", err)
	}

	pcm, err := s.decode(ctx, data, format)
	if err != nil {
		return result, err
	}
	result.AudioDuration = pcm.Duration()
	s.metrics.audioDuration.Record(ctx, pcm.Duration().Seconds())

	normalized := s.normalize(ctx, pcm)

	transcript, err := s.recognize(ctx, normalized)
	if err != nil {
		return result, err
	}
	result.Text = transcript.Text
	result.Confidence = transcript.Confidence
	return result, nil
}

func (s *Service) decode(ctx context.Context, data []byte, format audio.Format) (audio.PCM, error) {
	_, span := s.tracer.Start(ctx, "audio.decode", trace.WithAttributes(
		attribute.String("audio.format", string(format)),
		attribute.Int("upload.bytes", len(data)),
	))
	defer span.End()

	pcm, err := audio.Decode(data, format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return pcm, err
	}
	span.SetAttributes(
		attribute.Int("audio.channels", pcm.Channels),
		attribute.Int("audio.sample_rate", pcm.SampleRate),
		attribute.Int("audio.bit_depth", pcm.BitDepth),
	)
	return pcm, nil
}

func (s *Service) normalize(ctx context.Context, pcm audio.PCM) audio.PCM {
	_, span := s.tracer.Start(ctx, "audio.normalize", trace.WithAttributes(
		attribute.Int("audio.channels", pcm.Channels),
		attribute.Int("audio.sample_rate", pcm.SampleRate),
	))
	defer span.End()
	return audio.Normalize(pcm, s.driver.SampleRate())
}

func (s *Service) recognize(ctx context.Context, pcm audio.PCM) (stt.TranscriptResult, error) {
	ctx, span := s.tracer.Start(ctx, "stt.recognize", trace.WithAttributes(
		attribute.String("stt.engine", s.model.Name()),
		attribute.Int("stt.chunk_bytes", s.cfg.ChunkBytes),
	))
	defer span.End()

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return stt.TranscriptResult{}, err
		}
		defer s.sem.Release(1)
	}

	s.metrics.active.Add(ctx, 1)
	defer s.metrics.active.Add(context.WithoutCancel(ctx), -1)

	result, err := s.driver.Recognize(ctx, pcm)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recognition failed")
	}
	return result, err
}

func (s *Service) publish(ctx context.Context, up Upload, result Result) {
	if s.publisher == nil {
		return
	}
	evt := protocol.TranscriptEvent{
		RequestID:  up.RequestID,
		Filename:   filepath.Base(up.Filename),
		Format:     string(result.Format),
		Text:       result.Text,
		Confidence: result.Confidence,
		AudioMS:    result.AudioDuration.Milliseconds(),
		Engine:     s.model.Name(),
		Timestamp:  s.clock().UTC(),
	}
	if err := s.publisher.PublishTranscript(ctx, evt); err != nil {
		s.log.Warn("failed to publish transcript", slog.String("request_id", up.RequestID), slog.String("error", err.Error()))
	}
}

// Outcome classifies a Transcribe error for metrics and the request journal.
func Outcome(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return OutcomeUnsupported
	case errors.As(err, &tooLarge):
		return OutcomeTooLarge
	case errors.Is(err, audio.ErrDecode):
		return OutcomeDecode
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	case errors.Is(err, stt.ErrRecognition):
		return OutcomeRecognition
	default:
		return OutcomeInternal
	}
}
