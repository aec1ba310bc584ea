// Package server exposes the voxsplit HTTP API: recording upload, job status
// and transcript retrieval, cancellation, live progress over websockets, and
// the operational endpoints (/healthz, /readyz, /metrics).
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxsplit/voxsplit/internal/config"
	"github.com/voxsplit/voxsplit/internal/health"
	"github.com/voxsplit/voxsplit/internal/media"
	"github.com/voxsplit/voxsplit/internal/observe"
	"github.com/voxsplit/voxsplit/internal/store"
	"github.com/voxsplit/voxsplit/pkg/transcribe"
)

// defaultMaxUploadBytes caps uploaded recordings when the config does not
// set a limit.
const defaultMaxUploadBytes = 100 << 20 // 100 MiB

// Server is the voxsplit HTTP server. Create one with New.
type Server struct {
	cfg     config.ServerConfig
	pipeCfg config.PipelineConfig
	lang    string
	model   string

	client  transcribe.Client
	decoder *media.Decoder
	store   *store.Store // nil when persistence is disabled
	metrics *observe.Metrics
	jobs    *JobRegistry

	handler http.Handler
}

// Option is a functional option for New.
type Option func(*Server)

// WithStore enables PostgreSQL persistence of jobs and transcripts.
func WithStore(s *store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithDecoder injects a media decoder; the default uses ffmpeg from PATH.
func WithDecoder(d *media.Decoder) Option {
	return func(srv *Server) { srv.decoder = d }
}

// WithMetrics wires request and pipeline metrics. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// New creates a Server around the given transcription client. The client is
// shared across jobs and must be safe for concurrent use.
func New(cfg *config.Config, client transcribe.Client, opts ...Option) *Server {
	srv := &Server{
		cfg:     cfg.Server,
		pipeCfg: cfg.Pipeline,
		lang:    cfg.Transcriber.Language,
		model:   cfg.Transcriber.Model,
		client:  client,
		jobs:    NewJobRegistry(0),
	}
	for _, o := range opts {
		o(srv)
	}
	if srv.decoder == nil {
		var dopts []media.Option
		if cfg.Pipeline.FFmpegPath != "" {
			dopts = append(dopts, media.WithFFmpegPath(cfg.Pipeline.FFmpegPath))
		}
		srv.decoder = media.NewDecoder(dopts...)
	}
	if srv.metrics == nil {
		srv.metrics = observe.DefaultMetrics()
	}
	srv.handler = srv.routes()
	return srv
}

// routes builds the full handler chain: API routes, health probes, metrics,
// all wrapped in the observability middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/transcriptions", s.handleCreate)
	mux.HandleFunc("GET /api/transcriptions", s.handleList)
	mux.HandleFunc("GET /api/transcriptions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/transcriptions/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/transcriptions/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("GET /api/transcriptions/{id}/events", s.handleEvents)

	checkers := []health.Checker{}
	if s.store != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: s.store.Ping})
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// ServeHTTP implements [http.Handler], mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully with a
// 10 second drain deadline. Running jobs are cancelled on shutdown.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.cfg.TLS != nil {
			err = httpSrv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("http server listening", "addr", addr, "tls", s.cfg.TLS != nil)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.jobs.CancelAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// maxUploadBytes returns the configured upload cap or the default.
func (s *Server) maxUploadBytes() int64 {
	if s.cfg.MaxUploadBytes > 0 {
		return s.cfg.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}
