// Package api exposes the query service over HTTP. Handlers stay
// thin: parse parameters, call the service, encode the envelope it
// hands back. Statuses are chosen by the service, never here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quickparts/searchd/internal/health"
	"github.com/quickparts/searchd/internal/service"
	"github.com/quickparts/searchd/internal/telemetry"
)

// readHeaderTimeout bounds slow-header clients before the per-request
// read timeout starts counting.
const readHeaderTimeout = 5 * time.Second

// QueryAPI is the slice of the query service the transport consumes.
type QueryAPI interface {
	Search(ctx context.Context, req service.SearchRequest) service.Response
	Autocomplete(ctx context.Context, q string, limit int) service.Response
	Availability(ctx context.Context, req service.AvailabilityRequest) service.Response
	Test(ctx context.Context) service.Response
	GateSnapshot() health.Snapshot
	MetricsSnapshot() *telemetry.Snapshot
}

var _ QueryAPI = (*service.QueryService)(nil)

// Config holds the HTTP server settings. Zero values take the
// documented defaults.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the HTTP front of the query service.
type Server struct {
	cfg     Config
	svc     QueryAPI
	logger  *slog.Logger
	httpSrv *http.Server
}

// NewServer creates a Server around svc.
func NewServer(cfg Config, svc QueryAPI, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("query service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.setDefaults()

	s := &Server{cfg: cfg, svc: svc, logger: logger}
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

// routes wires the method-pattern mux and the middleware chain. The
// recovery layer sits inside the access log so panics still produce
// a logged 500.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/autocomplete", s.handleAutocomplete)
	mux.HandleFunc("GET /api/availability", s.handleAvailability)
	mux.HandleFunc("GET /api/test", s.handleTest)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	var h http.Handler = securityHeaders(mux)
	h = s.recoverPanics(h)
	h = s.accessLog(h)
	h = requestID(h)
	return h
}

// Handler returns the fully wired handler chain. Tests mount it on
// httptest servers.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// Start serves until ctx is cancelled, then drains open connections
// for the shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api_listening", slog.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("api_stopped")
	return <-errCh
}

// writeResponse encodes the service's envelope with its status.
func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, resp service.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if err := json.NewEncoder(w).Encode(resp.Envelope); err != nil {
		s.logger.Warn("response_encode_failed",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
		)
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	s.writeResponse(w, r, service.Response{
		Status:   http.StatusBadRequest,
		Envelope: service.Fail(service.CodeInvalidParameter, message),
	})
}
