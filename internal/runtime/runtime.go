package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/natsserver"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
)

const journalPruneInterval = time.Hour

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	metricsSrv *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup
	closers    []func()
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up telemetry, the recognition model, the request journal,
// the bus and finally the HTTP listener, then blocks until ctx is done.
// A model that fails to load aborts startup before anything listens.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.closeAll()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.onClose(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	})

	loadStart := time.Now()
	model, err := stt.Load(r.cfg.STT)
	if err != nil {
		return err
	}
	r.onClose(func() {
		if err := model.Close(); err != nil {
			r.logger.Warn("model close error", slog.String("error", err.Error()))
		}
	})
	r.logger.Info("recognition model loaded",
		slog.String("engine", model.Name()),
		slog.String("model_path", r.cfg.STT.ModelPath),
		slog.Int64("load_ms", time.Since(loadStart).Milliseconds()))

	journal, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("failed to open request journal: %w", err)
	}
	r.onClose(func() { _ = journal.Close() })
	if journal.Enabled() {
		r.wg.Add(1)
		go r.pruneJournal(ctx, journal)
	}

	svc := transcribe.NewService(model, r.cfg.STT, r.logger)

	if r.cfg.Bus.Enabled {
		busClient, err := r.startBus(ctx)
		if err != nil {
			return err
		}
		svc.WithPublisher(busClient)
	}

	a := &api{
		cfg:         r.cfg.HTTP,
		log:         r.logger.With(slog.String("component", "http")),
		transcriber: svc,
		journal:     journal,
		metrics:     metricHandler,
		ready:       r.ready.Load,
	}

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.httpServer = &http.Server{
		Handler:           a.routes(),
		ReadHeaderTimeout: time.Duration(r.cfg.HTTP.ReadHeaderTimeoutMS) * time.Millisecond,
	}

	serveErr := make(chan error, 2)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server failed: %w", err)
		}
	}()

	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricHandler)
		r.metricsSrv = &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", listener.Addr().String()), slog.String("engine", model.Name()))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		r.logger.Error("listener failed", slog.String("error", runErr.Error()))
	}

	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), time.Duration(r.cfg.HTTP.ShutdownTimeoutMS)*time.Millisecond)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	cancel()
	r.wg.Wait()

	return runErr
}

func (r *Runtime) startBus(ctx context.Context) (*bus.Client, error) {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats")))
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded nats: %w", err)
	}
	if embedded != nil {
		r.onClose(embedded.Shutdown)
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.onClose(client.Close)
	return client, nil
}

func (r *Runtime) pruneJournal(ctx context.Context, journal *eventstore.Store) {
	defer r.wg.Done()
	ticker := time.NewTicker(journalPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := journal.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("request journal prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// onClose registers cleanup to run in reverse order when Start returns.
func (r *Runtime) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

func (r *Runtime) closeAll() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
