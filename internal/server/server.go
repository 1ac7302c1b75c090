// Package server exposes recorded runs and live kernels over a JSON HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/ksched/internal/config"
	"github.com/me/ksched/internal/kernel"
	"github.com/me/ksched/internal/store"
	"github.com/me/ksched/internal/workload"
	"github.com/me/ksched/pkg/model"
)

// Server is the ksched monitor API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.SimConfig
	startTime time.Time
	version   string
	store     store.Store
	tracer    kernel.Tracer // optional; receives every event of every run
	live      *registry

	ctx      context.Context
	cancel   context.CancelFunc
	archives sync.WaitGroup
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithTracer forwards the events of every run started through the API.
func WithTracer(t kernel.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithRetention sets how many finished runs stay inspectable in memory.
func WithRetention(n int) Option {
	return func(s *Server) {
		s.live.keep = n
	}
}

// New creates a new Server with all routes registered. Runs started through
// the API use cfg for every setting the scenario does not override.
func New(cfg config.SimConfig, st store.Store, logger *slog.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		version:   "dev",
		store:     st,
		live:      newRegistry(defaultRetention),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until every finished run has been archived.
func (s *Server) Wait() {
	s.archives.Wait()
}

// Close cancels the runs still in progress and waits for them to be archived.
func (s *Server) Close() {
	s.cancel()
	s.archives.Wait()
}

// startRun boots a kernel for sc in the background and archives the report
// once the kernel halts.
func (s *Server) startRun(sc *workload.Scenario, policy model.Policy) *workload.Session {
	cfg := s.config
	cfg.Policy = workload.ResolvePolicy(policy, sc, s.config.Policy)

	ctx, cancel := context.WithCancel(s.ctx)
	sess := workload.Start(ctx, sc, cfg.KernelConfig(), s.logger, workload.Options{
		Clock:  cfg.NewClock(),
		Tracer: s.tracer,
	})
	s.live.add(sess, cancel)

	s.archives.Add(1)
	go func() {
		defer s.archives.Done()
		defer s.live.prune()
		defer cancel()
		rep, _ := sess.Wait()
		if s.store == nil {
			return
		}
		if err := workload.Archive(context.Background(), s.store, rep); err != nil {
			s.logger.Error("archive run", "run_id", rep.RunID, "error", err)
			return
		}
		s.logger.Debug("run archived", "run_id", rep.RunID, "events", len(rep.Events))
	}()
	return sess
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		// Recorded and in-flight runs
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleCreateRun)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Delete("/", s.handleDeleteRun)
				r.Put("/cancel", s.handleCancelRun)
				r.Get("/events", s.handleListEvents)
			})
		})

		// Live kernel inspection; ?run= selects a run, the latest by default.
		r.Route("/kernel", func(r chi.Router) {
			r.Get("/stats", s.handleKernelStats)
			r.Get("/threads", s.handleKernelThreads)
			r.Get("/threads/{tid}", s.handleKernelThread)
		})

		r.Route("/sse", func(r chi.Router) {
			r.Get("/runs/{id}", s.handleSSERun)
		})
	})
}
