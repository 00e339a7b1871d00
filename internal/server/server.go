// Package server exposes the gap list, metadata write-back and export
// request interfaces over HTTP.
//
// Every request is a fresh, stateless run: the drawing is loaded from the
// [DrawingSource], the metadata snapshot is read from the runner's store and
// the pipeline resumes from there. Resolved models and artifacts are shared
// through the runner's cache, so repeated requests against unchanged
// metadata do not recompute anything.
//
// # Routes
//
//	GET  /healthz
//	GET  /projects/{id}/gaps
//	GET  /projects/{id}/metadata
//	POST /projects/{id}/metadata          body: {"version": n, "patch": {...}}
//	GET  /projects/{id}/exports/{format}  ?asset_type=gas&precision=7&include_properties=true&default_diameter=0.2&tubes=true
//
// Stale metadata answers 409, an export requested while gaps remain answers
// 412 with the gap list.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pipevision/pipevision/pkg/classify"
	"github.com/pipevision/pipevision/pkg/export"
	"github.com/pipevision/pipevision/pkg/pipeline"
)

// Options configures a Server.
type Options struct {
	// TargetCRS is used when a project's metadata names none.
	TargetCRS string

	// Table is the classification rule table. Nil means the built-in table.
	Table *classify.Table

	// Export holds defaults merged under each request's query parameters.
	Export export.Options

	Logger *log.Logger
}

// Server is the HTTP adapter around a pipeline runner.
type Server struct {
	runner   *pipeline.Runner
	drawings DrawingSource
	opts     Options
	logger   *log.Logger
}

// New creates a server. The runner's store is the metadata store the
// server reads and writes.
func New(runner *pipeline.Runner, drawings DrawingSource, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if opts.Table == nil {
		opts.Table = classify.DefaultTable()
	}
	return &Server{runner: runner, drawings: drawings, opts: opts, logger: opts.Logger}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(hooksMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Route("/projects/{id}", func(r chi.Router) {
		r.Get("/gaps", s.handleGaps)
		r.Get("/metadata", s.handleGetMetadata)
		r.Post("/metadata", s.handlePostMetadata)
		r.Get("/exports/{format}", s.handleExport)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
