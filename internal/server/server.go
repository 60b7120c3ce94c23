// Package server implements the Shared Application Server: one net/http
// listener hosting every registered transport's verification endpoint, the
// OAuth callback receiver, the admin config API, and Prometheus metrics
// (spec §2 "Shared Application Server", §6 "HTTP surface"). Grounded on
// nexus/internal/gateway/http_server.go's mux-assembly and graceful
// shutdown shape.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ceedaragents/cyrus/internal/transport"
)

// Server owns the single HTTP listener every EventTransport registers
// against.
type Server struct {
	addr   string
	log    *slog.Logger
	mux    *http.ServeMux
	http   *http.Server
	listener net.Listener

	adminToken string
}

// Config configures the Shared Application Server.
type Config struct {
	Addr       string // host:port
	AdminToken string // Bearer token guarding /admin/* and /github-token
	Logger     *slog.Logger
}

// New assembles the mux with its always-present routes (/metrics,
// /healthz) and returns a Server ready for transports, admin handlers and
// the /callback handler (HandleCallback) to register against before Start
// is called.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{addr: cfg.Addr, log: log, mux: http.NewServeMux(), adminToken: cfg.AdminToken}

	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/healthz", s.handleHealthz)

	return s
}

// RegisterTransport attaches one EventTransport's verification endpoint(s)
// (spec §4.2 register()).
func (s *Server) RegisterTransport(t transport.Transport) {
	t.Register(s.mux)
}

// HandleCallback registers the OAuth redirect receiver at "/callback"
// (spec §6).
func (s *Server) HandleCallback(handler http.HandlerFunc) {
	s.mux.HandleFunc("/callback", handler)
}

// HandleAdmin registers a path under "/admin/" guarded by the Bearer admin
// token (spec §6 "/admin/* ... Bearer admin token").
func (s *Server) HandleAdmin(path string, handler http.HandlerFunc) {
	s.mux.HandleFunc(path, s.requireAdmin(handler))
}

// HandleGitHubToken registers the opt-in "/github-token" endpoint, also
// admin-token guarded (spec §6).
func (s *Server) HandleGitHubToken(handler http.HandlerFunc) {
	s.mux.HandleFunc("/github-token", s.requireAdmin(handler))
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !transport.VerifyBearer(s.adminToken, r.Header.Get("Authorization")) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Start begins serving in the background. It returns once the listener is
// bound; Serve errors after that are logged, not returned, matching
// nexus/internal/gateway/http_server.go's fire-and-log goroutine.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err)
		}
	}()

	s.log.Info("shared application server listening", "addr", s.addr)
	return nil
}

// Shutdown gracefully stops the listener (spec §5 graceful shutdown).
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
