package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/awscache/awscache/internal/config"
	"github.com/awscache/awscache/internal/invalidate"
	"github.com/awscache/awscache/internal/metrics"
	"github.com/awscache/awscache/internal/warming"
	cacheerr "github.com/awscache/awscache/pkg/errors"
	"github.com/awscache/awscache/pkg/types"
)

// Service is the cache surface the daemon exposes over the socket. The
// root cache type implements it.
type Service interface {
	Get(ctx context.Context, req types.Request) ([]byte, error)
	Invalidate(rules []invalidate.Rule) invalidate.BatchResult
	Snapshot() metrics.Snapshot
	Alerts() []metrics.Alert
	Stats() TierStats
	WarmNow(ctx context.Context) warming.CycleReport
	ResetMetrics()
}

// TierStats pairs both tiers' counters for the stats endpoint.
type TierStats struct {
	Resident   types.CacheStats `json:"resident"`
	Persistent types.CacheStats `json:"persistent"`
}

// Server exposes the cache to short-lived CLI invocations over a unix
// socket, so the LRU lives in one long-lived process instead of being
// serialized per command.
type Server struct {
	cfg  config.ServerConfig
	svc  Service
	log  zerolog.Logger
	http *http.Server
	ln   net.Listener
}

// New creates a server for the given service.
func New(cfg config.ServerConfig, svc Service, log zerolog.Logger) *Server {
	return &Server{
		cfg: cfg,
		svc: svc,
		log: log.With().Str("component", "server").Logger(),
	}
}

// Start binds the unix socket and begins serving. A stale socket file from
// a previous run is removed first; the listener errors if another daemon
// still holds it live on some platforms, which is the desired outcome.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0750); err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeServer, "failed to create socket directory", err).
			WithComponent("server").WithOperation("start")
	}
	_ = os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return cacheerr.Wrap(cacheerr.ErrCodeServer, "failed to bind socket", err).
			WithComponent("server").WithOperation("start").
			WithDetail("socket", s.cfg.SocketPath)
	}
	s.ln = ln

	s.http = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	s.log.Info().Str("socket", s.cfg.SocketPath).Msg("listening")
	return nil
}

// Shutdown drains in-flight requests and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	err := s.http.Shutdown(ctx)
	_ = os.Remove(s.cfg.SocketPath)
	return err
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/lookup", s.handleLookup)
	mux.HandleFunc("POST /v1/invalidate", s.handleInvalidate)
	mux.HandleFunc("POST /v1/warm", s.handleWarm)
	mux.HandleFunc("GET /v1/metrics/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /v1/metrics/reset", s.handleReset)
	mux.HandleFunc("GET /v1/alerts", s.handleAlerts)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

type lookupResponse struct {
	Payload []byte `json:"payload"`
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req types.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, cacheerr.Wrap(cacheerr.ErrCodeServer, "invalid request body", err))
		return
	}
	payload, err := s.svc.Get(r.Context(), req)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, lookupResponse{Payload: payload})
}

type invalidateRequest struct {
	Rules []invalidate.Rule `json:"rules"`
}

type invalidateResponse struct {
	Removed int      `json:"removed"`
	Errors  []string `json:"errors,omitempty"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, cacheerr.Wrap(cacheerr.ErrCodeServer, "invalid request body", err))
		return
	}
	result := s.svc.Invalidate(req.Rules)
	resp := invalidateResponse{Removed: result.Removed}
	for _, e := range result.Errors {
		resp.Errors = append(resp.Errors, e.Error())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWarm(w http.ResponseWriter, r *http.Request) {
	report := s.svc.WarmNow(r.Context())
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.svc.ResetMetrics()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.svc.Alerts()
	if alerts == nil {
		alerts = []metrics.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	var ce *cacheerr.CacheError
	if errors.As(err, &ce) {
		resp.Code = string(ce.Code)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("failed to write response")
	}
}

// statusFor maps cache error codes onto HTTP statuses: caller mistakes are
// 4xx, upstream fetch trouble is 502, the rest is 500.
func statusFor(err error) int {
	var ce *cacheerr.CacheError
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError
	}
	switch ce.Code {
	case cacheerr.ErrCodeKeyFormat, cacheerr.ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case cacheerr.ErrCodeNoRequest:
		return http.StatusNotFound
	case cacheerr.ErrCodeFetchFailed, cacheerr.ErrCodeJobTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
