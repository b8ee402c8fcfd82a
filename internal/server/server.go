// Package server exposes classification, review and handoff over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ambrosia-alliance/processor/internal/accuracy"
	"github.com/ambrosia-alliance/processor/internal/handoff"
	"github.com/ambrosia-alliance/processor/internal/model"
	"github.com/ambrosia-alliance/processor/internal/pipeline"
	"github.com/ambrosia-alliance/processor/internal/review"
)

// Classifier evaluates a unit without persisting it
type Classifier interface {
	Evaluate(ctx context.Context, unit model.TextUnit) (*model.EnsembleResult, error)
}

// Ingester evaluates and persists a unit
type Ingester interface {
	ProcessWith(ctx context.Context, unit model.TextUnit, opts pipeline.Options) (*model.LabeledSample, error)
}

// Container holds the dependencies of the router
type Container struct {
	Classifier Classifier
	Ingester   Ingester
	Review     *review.Service
	Tracker    *accuracy.Tracker
	Policy     *handoff.Policy
	Auth       *Authenticator
}

// Server is the HTTP API
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server listening on cfg.Addr
func New(cfg model.ServerConfig, c *Container) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(c),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: slog.Default().With("component", "server"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.InfoContext(shutdownCtx, "http server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	if c.Auth == nil {
		c.Auth = NewAuthenticator("")
	}
	h := &handlers{c: c, logger: slog.Default().With("component", "server")}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(c.Auth.Require)

	v1.HandleFunc("/categories", h.categories).Methods("GET")
	v1.HandleFunc("/classify", h.classify).Methods("POST")
	v1.HandleFunc("/samples", h.ingest).Methods("POST")

	v1.HandleFunc("/reviews", h.pending).Methods("GET")
	v1.HandleFunc("/reviews/{id}", h.getSample).Methods("GET")
	v1.HandleFunc("/reviews/{id}/confirm", h.confirm).Methods("POST")
	v1.HandleFunc("/reviews/{id}/skip", h.skip).Methods("POST")

	v1.HandleFunc("/metrics", h.metrics).Methods("GET")
	v1.HandleFunc("/metrics/{category}", h.categoryMetrics).Methods("GET")

	v1.HandleFunc("/handoff", h.handoffStatus).Methods("GET")
	v1.HandleFunc("/handoff/evaluate", h.evaluate).Methods("POST")
	v1.HandleFunc("/handoff/{category}/revert", h.revert).Methods("POST")

	return r
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
