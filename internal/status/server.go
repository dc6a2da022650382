// Package status serves the live presence snapshot over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Server exposes GET /healthz and GET /presence.
type Server struct {
	board      *presence.SnapshotBoard
	router     *chi.Mux
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a status server reading from board.
func NewServer(addr string, board *presence.SnapshotBoard) *Server {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(10 * time.Second))

	s := &Server{board: board, router: r}
	r.Get("/healthz", s.handleHealth)
	r.Get("/presence", s.handlePresence)
	r.Get("/presence/{identity}", s.handleIdentity)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Listen binds the configured address. Calling it before Run surfaces a
// busy or invalid address at startup.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("status: listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr is the bound address once Listen succeeded, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled, then shuts down gracefully. It binds
// first if Listen was not called.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("status: listening", "addr", s.Addr())
		errCh <- s.httpServer.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	snap := s.board.Latest()
	if snap.Records == nil {
		snap.Records = []presence.IdentityRecord{}
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	id := presence.Identity(chi.URLParam(r, "identity"))
	for _, rec := range s.board.Latest().Records {
		if rec.Identity == id {
			respondJSON(w, http.StatusOK, rec)
			return
		}
	}
	// Identities without a record are implicitly absent.
	respondJSON(w, http.StatusOK, presence.IdentityRecord{Identity: id, State: presence.Absent})
}
