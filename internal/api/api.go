// Package api provides the HTTP server for CicekTerapi.
//
// It exposes the survey, support chat, reference search and insight
// endpoints. Callers are identified by the X-User-ID header, which an
// upstream identity provider sets after authenticating the user.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CicekTerapi/internal/chat"
	"github.com/BTreeMap/CicekTerapi/internal/insights"
	"github.com/BTreeMap/CicekTerapi/internal/store"
)

// Default server settings.
const (
	DefaultAddr              = ":8080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
	// DefaultInsightsLimit is the page size of GET /insights.
	DefaultInsightsLimit = 20
)

// Opts holds configuration for the API server.
type Opts struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithReadHeaderTimeout sets the http.Server ReadHeaderTimeout.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ReadHeaderTimeout = d
	}
}

// WithShutdownTimeout sets how long Run waits for in-flight requests on
// shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// Store is the persistence the handlers read directly.
type Store interface {
	store.SurveyRepo
	store.InsightRepo
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	st       Store
	chat     *chat.Service
	analyzer *insights.Analyzer
	opts     Opts
}

// NewServer creates a Server.
func NewServer(st Store, chatSvc *chat.Service, analyzer *insights.Analyzer, opts ...Option) *Server {
	cfg := Opts{
		Addr:              DefaultAddr,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ShutdownTimeout:   DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{st: st, chat: chatSvc, analyzer: analyzer, opts: cfg}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)

	mux.Handle("GET /survey", requireUser(http.HandlerFunc(s.getSurveyHandler)))
	mux.Handle("PUT /survey", requireUser(http.HandlerFunc(s.putSurveyHandler)))
	mux.Handle("GET /chat/messages", requireUser(http.HandlerFunc(s.listMessagesHandler)))
	mux.Handle("POST /chat/messages", requireUser(http.HandlerFunc(s.postMessageHandler)))
	mux.Handle("POST /references/search", requireUser(http.HandlerFunc(s.searchReferencesHandler)))
	mux.Handle("POST /insights/analyze", requireUser(http.HandlerFunc(s.analyzeHandler)))
	mux.Handle("GET /insights", requireUser(http.HandlerFunc(s.listInsightsHandler)))

	var h http.Handler = mux
	h = recoverMiddleware(h)
	h = accessLogMiddleware(h)
	h = requestIDMiddleware(h)
	return h
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
