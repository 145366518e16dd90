// Package server exposes the sync/resummarize/digest pipeline and admin
// provider management over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/cryptoutil"
	"github.com/jonathan/bookmark-agent/internal/normalize"
	"github.com/jonathan/bookmark-agent/internal/store"
	"github.com/jonathan/bookmark-agent/internal/types"
)

// JobAPI is the ledgered pipeline surface the HTTP layer drives.
type JobAPI interface {
	RunSync(ctx context.Context, force bool) (*types.SyncResult, error)
	RunResummarize(ctx context.Context, filter types.ResummarizeFilter) (*types.ResummarizeResult, error)
	RunDigest(ctx context.Context, period types.DigestPeriod) (*types.DigestResult, error)
	ListRuns(ctx context.Context, limit int) ([]types.JobRun, error)
}

// VocabAPI is the vocabulary-lookup surface.
type VocabAPI interface {
	Vocabulary(ctx context.Context, term string) (*normalize.VocabEntry, error)
}

// Server is the HTTP front for the pipeline.
type Server struct {
	httpServer *http.Server
	jobs       JobAPI
	vocab      VocabAPI
	providers  store.ProviderStore
	digests    store.DigestStore
	box        *cryptoutil.Box
	jwt        *JWTService
	log        *zap.Logger
}

// Options configures a Server.
type Options struct {
	Port      int
	Jobs      JobAPI
	Vocab     VocabAPI
	Providers store.ProviderStore
	Digests   store.DigestStore
	Box       *cryptoutil.Box
	JWT       *JWTService
	Logger    *zap.Logger
}

// New builds a Server and wires its routes.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		jobs:      opts.Jobs,
		vocab:     opts.Vocab,
		providers: opts.Providers,
		digests:   opts.Digests,
		box:       opts.Box,
		jwt:       opts.JWT,
		log:       log,
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: s.withLogging(s.Routes()),
		// Sync runs hold the request for the duration of the pipeline.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes builds the route table. Exposed so tests can drive handlers through
// httptest without binding a port.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("POST /resummarize", s.handleResummarize)
	mux.HandleFunc("POST /digest/daily", s.handleDigest(types.PeriodDaily))
	mux.HandleFunc("POST /digest/weekly", s.handleDigest(types.PeriodWeekly))
	mux.HandleFunc("GET /digest/{period}/{key}", s.handleGetDigest)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /vocab", s.handleVocab)
	mux.HandleFunc("PUT /providers/{name}", s.requireAdmin(s.handleUpsertProvider))
	mux.HandleFunc("GET /providers/{name}", s.requireAdmin(s.handleGetProvider))
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start listens until SIGINT/SIGTERM, then drains in-flight requests.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	s.log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

// errorResponse maps a typed pipeline error onto its HTTP status.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	status := types.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	s.jsonResponse(w, status, map[string]string{"error": err.Error()})
}
