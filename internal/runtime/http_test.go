package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAPI(t *testing.T, mutate func(*config.Config)) *api {
	t.Helper()
	cfg := config.Default()
	cfg.EventStore = config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "journal.db"), RetentionMode: "session"}
	if mutate != nil {
		mutate(&cfg)
	}
	journal, err := eventstore.Open(context.Background(), cfg.EventStore, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	return &api{
		cfg:         cfg.HTTP,
		log:         newLogger(),
		transcriber: transcribe.NewService(stt.NewMockModel(), cfg.STT, newLogger()),
		journal:     journal,
		ready:       func() bool { return true },
	}
}

func wavBytes(t *testing.T, p audio.PCM) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	if err := audio.EncodeWAV(f, p); err != nil {
		f.Close()
		t.Fatalf("encode wav: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return data
}

func tone(frames int) audio.PCM {
	samples := make([]int16, frames)
	for i := range samples {
		samples[i] = int16(5000*math.Sin(2*math.Pi*250*float64(i)/16000)) + 1
	}
	return audio.PCM{Channels: 1, SampleRate: 16000, BitDepth: 16, Samples: samples}
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := mw.WriteField("note", "ignored"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return body, mw.FormDataContentType()
}

func post(t *testing.T, handler http.Handler, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "file", filename, data)
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestTranscribeSuccess(t *testing.T) {
	handler := newTestAPI(t, nil).routes()
	rec := post(t, handler, "clip.wav", wavBytes(t, tone(8000)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := decodeBody(t, rec)
	if len(body) != 1 || body["text"] != "[final transcript length=16000]" {
		t.Fatalf("unexpected body %v", body)
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("expected request id header")
	}
}

func TestTranscribeSilence(t *testing.T) {
	handler := newTestAPI(t, nil).routes()
	silence := audio.PCM{Channels: 1, SampleRate: 16000, BitDepth: 16, Samples: make([]int16, 16000)}
	rec := post(t, handler, "silence.wav", wavBytes(t, silence))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); strings.TrimSpace(got) != `{"text":""}` {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestTranscribeUnsupportedFormat(t *testing.T) {
	handler := newTestAPI(t, nil).routes()
	for _, name := range []string{"voice.ogg", "voice", "voice.wav.txt"} {
		rec := post(t, handler, name, []byte("OggS not really"))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		if got := strings.TrimSpace(rec.Body.String()); got != `{"detail":"Only .wav or .mp3 files are supported."}` {
			t.Fatalf("%s: unexpected body %q", name, got)
		}
	}
}

func TestTranscribeUndecodableAudio(t *testing.T) {
	handler := newTestAPI(t, nil).routes()
	cases := map[string][]byte{
		"notes.wav": []byte("plain text pretending to be audio"),
		"empty.mp3": {},
	}
	for name, data := range cases {
		rec := post(t, handler, name, data)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", name, rec.Code)
		}
		detail := decodeBody(t, rec)["detail"]
		if !strings.HasPrefix(detail, "Failed to process audio: ") || len(detail) == len("Failed to process audio: ") {
			t.Fatalf("%s: unexpected detail %q", name, detail)
		}
	}
}

func TestTranscribeRequiresFilePart(t *testing.T) {
	handler := newTestAPI(t, nil).routes()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"file":"a.wav"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || decodeBody(t, rec)["detail"] != detailUploadRequired {
		t.Fatalf("non-multipart: got %d %s", rec.Code, rec.Body.String())
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("file", "not a file")
	_ = mw.Close()
	req = httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || decodeBody(t, rec)["detail"] != detailUploadRequired {
		t.Fatalf("no file part: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestTranscribeRejectsOversizedUpload(t *testing.T) {
	handler := newTestAPI(t, func(cfg *config.Config) { cfg.HTTP.MaxUploadBytes = 1024 }).routes()
	rec := post(t, handler, "long.wav", wavBytes(t, tone(32000)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["detail"] != detailTooLarge {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRequestJournal(t *testing.T) {
	a := newTestAPI(t, nil)
	handler := a.routes()

	post(t, handler, "one.wav", wavBytes(t, tone(1600)))
	post(t, handler, "two.ogg", []byte("x"))

	req := httptest.NewRequest(http.MethodGet, "/requests?limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Requests []eventstore.Entry `json:"requests"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Requests) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out.Requests))
	}
	byExt := map[string]eventstore.Entry{}
	for _, e := range out.Requests {
		byExt[e.Extension] = e
	}
	if e := byExt[".wav"]; e.Status != 200 || e.AudioMS != 100 || e.Format != "wav" || e.Engine != "mock" {
		t.Fatalf("unexpected wav entry %+v", e)
	}
	if e := byExt[".ogg"]; e.Status != 400 || e.ErrorKind != transcribe.OutcomeUnsupported {
		t.Fatalf("unexpected ogg entry %+v", e)
	}
	if strings.Contains(rec.Body.String(), "final transcript") {
		t.Fatal("journal must not expose transcript text")
	}

	req = httptest.NewRequest(http.MethodGet, "/requests?limit=zero", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	a := newTestAPI(t, nil)
	ready := false
	a.ready = func() bool { return ready }
	handler := a.routes()

	check := func(path string, want int) {
		t.Helper()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}
	check("/healthz", http.StatusOK)
	check("/readyz", http.StatusServiceUnavailable)
	ready = true
	check("/readyz", http.StatusOK)
}

func TestRequestIDPassthrough(t *testing.T) {
	handler := newTestAPI(t, nil).routes()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(headerRequestID); got != "abc-123" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestConcurrentUploads(t *testing.T) {
	srv := httptest.NewServer(newTestAPI(t, nil).routes())
	t.Cleanup(srv.Close)

	const n = 50
	type upload struct {
		body        *bytes.Buffer
		contentType string
	}
	uploads := make([]upload, n)
	for i := range uploads {
		// content is WAV regardless of the declared extension
		body, contentType := multipartBody(t, "file", fmt.Sprintf("clip-%d.mp3", i), wavBytes(t, tone(800+i*50)))
		uploads[i] = upload{body: body, contentType: contentType}
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := srv.Client().Post(srv.URL+"/", uploads[i].contentType, uploads[i].body)
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			var out map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				errs <- err
				return
			}
			want := fmt.Sprintf("[final transcript length=%d]", (800+i*50)*2)
			if resp.StatusCode != http.StatusOK || out["text"] != want {
				errs <- fmt.Errorf("upload %d: status %d text %q, want %q", i, resp.StatusCode, out["text"], want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestStartFailsWhenModelCannotLoad(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Telemetry.LogLevel = "error"
	cfg.STT.Engine = "vosk"
	cfg.STT.ModelPath = filepath.Join(t.TempDir(), "missing-model")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := New(cfg, newLogger()).Start(ctx)
	if !errors.Is(err, stt.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestStartAndStop(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Telemetry.LogLevel = "error"
	cfg.Bus = config.BusConfig{Enabled: true, Embedded: true, Port: -1, ConnectTimeout: 2000, Subject: "stt.text.final"}

	ctx, cancel := context.WithCancel(context.Background())
	rt := New(cfg, newLogger())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !rt.ready.Load() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("runtime did not become ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("start returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not stop")
	}
}
