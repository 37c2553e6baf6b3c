// Package api exposes a small HTTP status and dispatch surface over a worker
// pool. Handlers never touch pool state directly: every pool interaction is
// scheduled onto the pool's loop and awaited, keeping the single-threaded
// ownership model intact.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/warmpool/internal/events"
	"github.com/mattjoyce/warmpool/internal/log"
	"github.com/mattjoyce/warmpool/internal/pool"
)

// Server serves the pool status API.
type Server struct {
	pool      *pool.Pool
	hub       *events.Hub
	logger    *slog.Logger
	startedAt time.Time
	httpSrv   *http.Server
}

// NewServer builds a server for p listening on addr.
func NewServer(addr string, p *pool.Pool, hub *events.Hub) *Server {
	s := &Server{
		pool:      p,
		hub:       hub,
		logger:    log.WithComponent("api"),
		startedAt: time.Now().UTC(),
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes assembles the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/events", s.handleEvents)
	r.Post("/dispatch", s.handleDispatch)
	return r
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("api listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	type counts struct {
		running int
		idle    int
	}
	got, err := s.onLoop(r.Context(), func() any {
		return counts{running: s.pool.Count(), idle: s.pool.IdleCount()}
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "pool loop unavailable")
		return
	}
	c := got.(counts)

	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Running:       c.running,
		Idle:          c.idle,
	})
}

// handleEvents handles GET /events?since=<id>.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be an integer event id")
			return
		}
		since = parsed
	}

	s.writeJSON(w, http.StatusOK, EventsResponse{Events: s.hub.SnapshotSince(since)})
}

// handleDispatch handles POST /dispatch.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Payload) == 0 {
		s.writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	type outcome struct {
		workerID string
		err      error
	}
	got, err := s.onLoop(r.Context(), func() any {
		wk, dispatchErr := s.pool.Dispatch(r.Context(), req.Payload, req.Queue)
		if dispatchErr != nil {
			return outcome{err: dispatchErr}
		}
		return outcome{workerID: wk.ID()}
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "pool loop unavailable")
		return
	}

	res := got.(outcome)
	if res.err != nil {
		var confErr *pool.ConfigurationError
		if errors.As(res.err, &confErr) {
			s.writeError(w, http.StatusBadRequest, res.err.Error())
			return
		}
		s.logger.Error("dispatch failed", "error", res.err)
		s.writeError(w, http.StatusInternalServerError, res.err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, DispatchResponse{WorkerID: res.workerID})
}

// onLoop runs fn on the pool loop and waits for its result.
func (s *Server) onLoop(ctx context.Context, fn func() any) (any, error) {
	done := make(chan any, 1)
	s.pool.Loop().Schedule(func() {
		done <- fn()
	})
	select {
	case v := <-done:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
