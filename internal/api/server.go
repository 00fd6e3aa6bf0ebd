// Package api exposes the job orchestrator and the stateless predictor over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/observability"
)

// JobService is the orchestrator surface the API needs.
type JobService interface {
	Submit(ctx context.Context, rawAddress string) (string, error)
	Status(ctx context.Context, jobID string) (*domain.Job, error)
	Watch(ctx context.Context, jobID string) (<-chan *domain.Job, error)
}

// Predictor scores a raw feature vector.
type Predictor interface {
	Predict(v domain.FeatureVector) (*domain.PersonaResult, error)
}

// Options configures the server.
type Options struct {
	Jobs      JobService
	Predictor Predictor
	Metrics   *observability.Metrics
	Logger    zerolog.Logger

	// WriteTimeout bounds each websocket frame write.
	WriteTimeout time.Duration
	// PingInterval is how often idle watch streams are pinged.
	PingInterval time.Duration
}

// Server is the HTTP API.
type Server struct {
	jobs      JobService
	predictor Predictor
	metrics   *observability.Metrics
	log       zerolog.Logger

	writeTimeout time.Duration
	pingInterval time.Duration
	upgrader     websocket.Upgrader

	router *mux.Router
}

// New creates a Server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		jobs:         opts.Jobs,
		predictor:    opts.Predictor,
		metrics:      opts.Metrics,
		log:          opts.Logger.With().Str("component", "api").Logger(),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		router: mux.NewRouter(),
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 10 * time.Second
	}
	if s.pingInterval <= 0 {
		s.pingInterval = 30 * time.Second
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.instrument)

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/jobs", s.handleSubmit).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/watch", s.handleWatch).Methods(http.MethodGet)
	v1.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
