// Package api serves read-only JSON views of the webstats store.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/withObsrvr/webstats/internal/config"
	"github.com/withObsrvr/webstats/internal/duckdb"
	"github.com/withObsrvr/webstats/internal/ledger"
	"github.com/withObsrvr/webstats/internal/logging"
)

type hitFilter = duckdb.HitFilter

// HitReader is the read side of daily_hits
type HitReader interface {
	DailyHits(ctx context.Context, f duckdb.HitFilter) ([]duckdb.StoredHit, error)
	TopPaths(ctx context.Context, f duckdb.HitFilter) ([]duckdb.PathTotal, error)
	MaxDate(ctx context.Context) (time.Time, bool, error)
}

// RunReader is the read side of ingest_run_log
type RunReader interface {
	Recent(ctx context.Context, limit int) ([]ledger.Record, error)
}

// Server is the HTTP query surface
type Server struct {
	cfg       config.APIConfig
	service   string
	hits      HitReader
	runs      RunReader
	logger    *zap.Logger
	startTime time.Time
}

// NewServer creates a server over the given readers
func NewServer(cfg config.APIConfig, service string, hits HitReader, runs RunReader, logger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		service:   service,
		hits:      hits,
		runs:      runs,
		logger:    logging.OrNop(logger).With(zap.String("component", "api")),
		startTime: time.Now(),
	}
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/hits/daily", s.handleDailyHits).Methods(http.MethodGet)
	v1.HandleFunc("/hits/top", s.handleTopPaths).Methods(http.MethodGet)
	v1.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)

	router.Use(s.logRequests)
	return router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down api")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(began)),
		)
	})
}
