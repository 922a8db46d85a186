// Package http provides the loopback HTTP API a UI process uses to drive dictation.
package http

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/roelfdiedericks/goscribe/internal/bus"
	"github.com/roelfdiedericks/goscribe/internal/config"
	"github.com/roelfdiedericks/goscribe/internal/dictation"
	"github.com/roelfdiedericks/goscribe/internal/history"
	. "github.com/roelfdiedericks/goscribe/internal/logging"
	"github.com/roelfdiedericks/goscribe/internal/metrics"
)

// maxRecordingBytes bounds an uploaded capture buffer.
const maxRecordingBytes = 100 << 20

// Server represents the HTTP server
type Server struct {
	server       *http.Server
	pipeline     *dictation.Pipeline
	history      *history.Store
	config       *config.Runtime
	events       *bus.Bus
	metrics      *metrics.MetricsManager
	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen string // e.g. "127.0.0.1:4310"

	Pipeline *dictation.Pipeline
	History  *history.Store
	Config   *config.Runtime
	Events   *bus.Bus                // defaults to bus.Default()
	Metrics  *metrics.MetricsManager // defaults to metrics.GetInstance()
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *ServerConfig) *Server {
	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:4310"
	}
	events := cfg.Events
	if events == nil {
		events = bus.Default()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.GetInstance()
	}

	s := &Server{
		pipeline:     cfg.Pipeline,
		history:      cfg.History,
		config:       cfg.Config,
		events:       events,
		metrics:      m,
		shutdownChan: make(chan struct{}),
	}

	s.server = &http.Server{
		Addr:        listen,
		Handler:     s.Handler(),
		ReadTimeout: 60 * time.Second,
		// no WriteTimeout: transcription with polling can outlast any fixed bound,
		// and websocket connections are long-lived
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(s.loopbackOnly(h))
	}

	mux.HandleFunc("POST /api/recordings", wrap(s.handleCreateRecording))
	mux.HandleFunc("POST /api/record-event", wrap(s.handleRecordEvent))
	mux.HandleFunc("GET /api/state", wrap(s.handleState))

	mux.HandleFunc("GET /api/history", wrap(s.handleListHistory))
	mux.HandleFunc("DELETE /api/history", wrap(s.handleDeleteAllHistory))
	mux.HandleFunc("DELETE /api/history/{id}", wrap(s.handleDeleteHistory))
	mux.HandleFunc("GET /api/history/{id}/audio", wrap(s.handleHistoryAudio))

	mux.HandleFunc("GET /api/config", wrap(s.handleGetConfig))
	mux.HandleFunc("PUT /api/config", wrap(s.handlePutConfig))
	mux.HandleFunc("GET /api/providers", wrap(s.handleProviders))

	mux.HandleFunc("GET /api/metrics", wrap(s.handleMetrics))
	mux.HandleFunc("GET /api/events", wrap(s.handleEvents))

	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", ln.Addr().String())

		err := s.server.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	close(s.shutdownChan)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		L_error("http: shutdown error", "error", err)
		return err
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log requests
func (s *Server) logRequest(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		L_trace("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker for the websocket upgrade.
func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response writer does not support hijacking")
	}
	lw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (lw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lw.ResponseWriter
}

// loopbackOnly rejects requests that did not originate on this machine: the peer must be
// loopback, the Host must name a loopback address (DNS rebinding), and a browser Origin,
// when present, must be a page served from this machine (cross-site form posts).
func (s *Server) loopbackOnly(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reason := ""
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			if ip := net.ParseIP(host); ip != nil && !ip.IsLoopback() {
				reason = "remote"
			}
		}
		switch {
		case reason != "":
		case !loopbackHost(r.Host):
			reason = "host"
		case !loopbackOrigin(r):
			reason = "origin"
		}
		if reason != "" {
			L_warn("http: rejected non-local request", "reason", reason,
				"remote", r.RemoteAddr, "host", r.Host, "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		handler(w, r)
	}
}

// loopbackHost reports whether a Host header (with or without port) names this machine.
func loopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
