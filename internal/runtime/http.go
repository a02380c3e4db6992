package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	detailUnsupported    = "Only .wav or .mp3 files are supported."
	detailUploadRequired = "A single audio file upload is required."
	detailTooLarge       = "Upload exceeds the maximum allowed size."
	detailProcessPrefix  = "Failed to process audio: "

	headerRequestID = "X-Request-ID"
)

var errNoFilePart = errors.New("no file part in upload")

type ctxKey int

const requestIDKey ctxKey = iota

type transcriptResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// api serves the transcription endpoint next to the runtime's health,
// metrics and journal endpoints.
type api struct {
	cfg         config.HTTPConfig
	log         *slog.Logger
	transcriber *transcribe.Service
	journal     *eventstore.Store
	metrics     http.Handler
	ready       func() bool
}

func (a *api) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(a.log))
	r.Use(middleware.Recoverer)

	r.Post("/", a.handleTranscribe)
	r.Get("/healthz", handleHealth)
	r.Get("/readyz", a.handleReady)
	r.Get("/requests", a.handleRequests)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}
	return otelhttp.NewHandler(r, "loqa-scribe")
}

func (a *api) handleTranscribe(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	id := requestIDFrom(req.Context())
	log := a.log.With(slog.String("request_id", id))

	if a.cfg.MaxUploadBytes > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, a.cfg.MaxUploadBytes)
	}

	part, err := firstFilePart(req)
	if err != nil {
		status, detail := http.StatusBadRequest, detailUploadRequired
		if isTooLarge(err) {
			status, detail = http.StatusRequestEntityTooLarge, detailTooLarge
		}
		log.Warn("rejected upload", slog.Int("status", status), slog.String("error", err.Error()))
		a.record(req.Context(), eventstore.Entry{RequestID: id, Status: status, ErrorKind: outcomeForStatus(status), LatencyMS: time.Since(start).Milliseconds()})
		writeJSON(w, status, errorResponse{Detail: detail})
		return
	}
	defer part.Close()

	filename := part.FileName()
	result, err := a.transcriber.Transcribe(req.Context(), transcribe.Upload{RequestID: id, Filename: filename, Body: part})
	status := http.StatusOK
	entry := eventstore.Entry{
		RequestID:   id,
		Extension:   strings.ToLower(filepath.Ext(filename)),
		Format:      string(result.Format),
		Engine:      a.transcriber.Engine(),
		UploadBytes: result.UploadBytes,
		AudioMS:     result.AudioDuration.Milliseconds(),
	}

	if err != nil {
		var detail string
		switch {
		case errors.Is(err, audio.ErrUnsupportedFormat):
			status, detail = http.StatusBadRequest, detailUnsupported
			log.Warn("unsupported upload", slog.String("filename", filename), slog.String("error", err.Error()))
		case isTooLarge(err):
			status, detail = http.StatusRequestEntityTooLarge, detailTooLarge
			log.Warn("upload too large", slog.String("filename", filename), slog.Int64("limit", a.cfg.MaxUploadBytes))
		default:
			status, detail = http.StatusInternalServerError, detailProcessPrefix+err.Error()
			log.Error("transcription failed", slog.String("filename", filename), slog.String("outcome", transcribe.Outcome(err)), slog.String("error", err.Error()))
		}
		entry.Status = status
		entry.ErrorKind = transcribe.Outcome(err)
		entry.LatencyMS = time.Since(start).Milliseconds()
		a.record(req.Context(), entry)
		writeJSON(w, status, errorResponse{Detail: detail})
		return
	}

	entry.Status = status
	entry.LatencyMS = time.Since(start).Milliseconds()
	a.record(req.Context(), entry)
	log.Info("transcribed upload",
		slog.String("format", string(result.Format)),
		slog.Int64("audio_ms", entry.AudioMS),
		slog.Int("text_len", len(result.Text)))
	writeJSON(w, status, transcriptResponse{Text: result.Text})
}

// firstFilePart returns the first multipart part that carries a filename.
// Nothing of that part's body has been read when it is returned.
func firstFilePart(req *http.Request) (*multipart.Part, error) {
	mr, err := req.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoFilePart
		}
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func outcomeForStatus(status int) string {
	if status == http.StatusRequestEntityTooLarge {
		return transcribe.OutcomeTooLarge
	}
	return "bad_request"
}

func (a *api) record(ctx context.Context, entry eventstore.Entry) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		a.log.Warn("failed to journal request", slog.String("request_id", entry.RequestID), slog.String("error", err.Error()))
	}
}

func (a *api) handleRequests(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries := []eventstore.Entry{}
	if a.journal != nil {
		recent, err := a.journal.ListRecent(req.Context(), limit)
		if err != nil {
			a.log.Error("list journal failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "Failed to read request journal."})
			return
		}
		if recent != nil {
			entries = recent
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": entries})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *api) handleReady(w http.ResponseWriter, _ *http.Request) {
	if a.ready != nil && a.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// requestID reuses a caller-supplied X-Request-ID or mints one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := strings.TrimSpace(req.Header.Get(headerRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, req)
			log.Info("http request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("request_id", requestIDFrom(req.Context())))
		})
	}
}
