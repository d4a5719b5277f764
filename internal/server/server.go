// Package server exposes the atlas HTTP API: uploads, project CRUD,
// structural and semantic queries, context assembly, visualization, and
// snippet analysis.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/analyzer"
	"github.com/codeatlas/atlas/internal/assemble"
	"github.com/codeatlas/atlas/internal/config"
	"github.com/codeatlas/atlas/internal/ingest"
	"github.com/codeatlas/atlas/internal/query"
	"github.com/codeatlas/atlas/internal/telemetry"
)

const (
	maxJSONBodyBytes = 8 << 20
	shutdownGrace    = 10 * time.Second
)

// Server wires the components behind the HTTP surface.
type Server struct {
	cfg         *config.Config
	coordinator *ingest.Coordinator
	engine      *query.Engine
	assembler   *assemble.Assembler
	analyzer    *analyzer.Analyzer
	metrics     *telemetry.Metrics
	version     string
	logger      *zap.Logger
}

// New builds the server. metrics may be nil.
func New(cfg *config.Config, coordinator *ingest.Coordinator, engine *query.Engine,
	assembler *assemble.Assembler, analyzer *analyzer.Analyzer,
	metrics *telemetry.Metrics, version string, logger *zap.Logger) *Server {
	return &Server{
		cfg:         cfg,
		coordinator: coordinator,
		engine:      engine,
		assembler:   assembler,
		analyzer:    analyzer,
		metrics:     metrics,
		version:     version,
		logger:      logger,
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload/project", s.handleUploadProject)
	mux.HandleFunc("POST /upload/from-source-control", s.handleUploadFromSourceControl)
	mux.HandleFunc("GET /upload/status/{session_id}", s.handleUploadStatus)

	mux.HandleFunc("GET /projects/", s.handleListProjects)
	mux.HandleFunc("GET /projects/{id}", s.handleGetProject)
	mux.HandleFunc("PUT /projects/{id}", s.handleUpdateProject)
	mux.HandleFunc("DELETE /projects/{id}", s.handleDeleteProject)

	mux.HandleFunc("POST /query/callers", s.handleQueryCallers)
	mux.HandleFunc("POST /query/dependencies", s.handleQueryDependencies)
	mux.HandleFunc("POST /query/impact", s.handleQueryImpact)
	mux.HandleFunc("POST /query/search", s.handleQuerySearch)
	mux.HandleFunc("POST /query/hotspots", s.handleQueryHotspots)
	mux.HandleFunc("POST /query/similar", s.handleQuerySimilar)
	mux.HandleFunc("POST /query/hierarchy", s.handleQueryHierarchy)
	mux.HandleFunc("POST /query/context", s.handleQueryContext)

	mux.HandleFunc("POST /visualization/graph", s.handleVisualizationGraph)
	mux.HandleFunc("POST /visualization/analyze", s.handleVisualizationAnalyze)

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.withRequestID(s.withObservability(mux))
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
