// Package server exposes a session manager over a local HTTP API and
// streams its state to WebSocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pfctl/internal/session"
	"pfctl/pkg/logging"

	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// Controller is the part of session.Manager the server drives.
type Controller interface {
	Sessions() []session.Session
	GetSession(id string) (session.Session, bool)
	State() session.State
	StartSession(ctx context.Context, req session.StartRequest) (*session.Session, error)
	StopSession(ctx context.Context, id string) error
	StopAllSessions(ctx context.Context)
	CheckPortAvailable(ctx context.Context, port int) bool
	PendingBrowserOpen() (session.PendingBrowserOpen, bool)
	ConfirmOpenBrowser(remember bool)
	DismissBrowserDialog(remember bool)
}

var _ Controller = (*session.Manager)(nil)

type Server struct {
	ctrl     Controller
	hub      *Hub
	upgrader websocket.Upgrader
}

// New creates a server for ctrl. hub must also be registered with the
// manager as observer and notifier for /ws to see any updates.
func New(ctrl Controller, hub *Hub) *Server {
	s := &Server{ctrl: ctrl, hub: hub}
	s.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleStartSession)
	mux.HandleFunc("DELETE /api/sessions", s.handleStopAll)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleStopSession)
	mux.HandleFunc("GET /api/ports/{port}", s.handleCheckPort)
	mux.HandleFunc("GET /api/browser/pending", s.handlePendingBrowser)
	mux.HandleFunc("POST /api/browser/confirm", s.handleConfirmBrowser)
	mux.HandleFunc("POST /api/browser/dismiss", s.handleDismissBrowser)
	return mux
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
// and disconnects WebSocket clients.
func (s *Server) Run(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Server", "Listening on %s", l.Addr())
		errCh <- srv.Serve(l)
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("Server", "Shutting down")
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Server", "WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	logging.Debug("Server", "WebSocket client connected: %s", r.RemoteAddr)
	c := s.hub.AddClient(conn)

	go func() {
		defer func() {
			s.hub.RemoveClient(c)
			logging.Debug("Server", "WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.State()
	if st.Sessions == nil {
		st.Sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.ctrl.Sessions()
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req session.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	// The manager records invalid requests as its last error, so they go
	// through it as well.
	invalid := req.Validate()

	started, err := s.ctrl.StartSession(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if invalid != nil {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, started)
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	s.ctrl.StopAllSessions(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.ctrl.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.ctrl.GetSession(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("session %s not found", id))
		return
	}
	if err := s.ctrl.StopSession(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckPort(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil || port < 1 || port > 65535 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid port %q", r.PathValue("port")))
		return
	}
	writeJSON(w, http.StatusOK, portPayload{Port: port, Available: s.ctrl.CheckPortAvailable(r.Context(), port)})
}

func (s *Server) handlePendingBrowser(w http.ResponseWriter, r *http.Request) {
	p, ok := s.ctrl.PendingBrowserOpen()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		session.PendingBrowserOpen
		URL string `json:"url"`
	}{p, p.URL()})
}

func (s *Server) handleConfirmBrowser(w http.ResponseWriter, r *http.Request) {
	remember, err := decodeRemember(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.ctrl.ConfirmOpenBrowser(remember)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismissBrowser(w http.ResponseWriter, r *http.Request) {
	remember, err := decodeRemember(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.ctrl.DismissBrowserDialog(remember)
	w.WriteHeader(http.StatusNoContent)
}

// decodeRemember reads an optional {"remember": bool} body.
func decodeRemember(r *http.Request) (bool, error) {
	var body rememberPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("invalid request body: %w", err)
	}
	return body.Remember, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Server", "Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorPayload{Error: err.Error()})
}

// checkOrigin accepts same-host and loopback origins only.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	host := parsed.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1" || strings.HasSuffix(host, ".localhost")
}
