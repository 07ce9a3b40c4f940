package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/itstheanurag/codearena/internal/api"
	config "github.com/itstheanurag/codearena/internal/config"
	"github.com/itstheanurag/codearena/internal/database"
	"github.com/itstheanurag/codearena/internal/executor"
	"github.com/itstheanurag/codearena/internal/languages"
	"github.com/itstheanurag/codearena/internal/limiter"
	"github.com/itstheanurag/codearena/internal/queue"
	"github.com/itstheanurag/codearena/internal/sandbox"
	"github.com/itstheanurag/codearena/internal/worker"
	"github.com/itstheanurag/codearena/internal/workspace"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

const limiterCleanupInterval = 5 * time.Minute

type Server struct {
	conf        *config.Config
	logger      *zerolog.Logger
	httpServer  *http.Server
	db          *database.Database
	registry    *languages.Registry
	sandbox     sandbox.Sandbox
	executor    *executor.Executor
	queue       *queue.Manager
	workers     []*worker.Worker
	rateLimiter *limiter.RateLimiter
	cancelFunc  context.CancelFunc
}

func New(
	conf *config.Config,
	logger *zerolog.Logger,
) (*Server, error) {

	var (
		db       *database.Database
		recorder worker.Recorder
	)
	if conf.Db.Enabled {
		var err error
		db, err = database.New(conf, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		recorder = db
	}

	// Initialize components
	registry := languages.NewRegistry()
	if conf.Executor.LanguagesFile != "" {
		if err := registry.LoadFile(conf.Executor.LanguagesFile); err != nil {
			return nil, fmt.Errorf("failed to load languages: %w", err)
		}
	}

	sb, err := sandbox.NewDockerSandbox(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	workspaces := workspace.NewManager(conf.Executor.WorkRoot, logger)
	exec := executor.NewExecutor(registry, sb, workspaces, executorConfig(conf.Executor), logger)
	q := queue.NewManager(conf.Executor.QueueCapacity)

	rl := limiter.NewRateLimiter(
		conf.Limiter.GlobalRPS,
		conf.Limiter.PerIPRPS,
		conf.Limiter.PerIPBurst,
		conf.Limiter.MaxConcurrent,
	)

	handler := api.NewHandler(q, registry, sb, time.Duration(conf.Server.RequestTimeout)*time.Second)

	httpServer := &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      NewRouter(handler, rl, logger, conf.Server.TrustProxy),
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}

	workers := make([]*worker.Worker, conf.Executor.Workers)
	for i := range workers {
		workers[i] = worker.NewWorker(i, exec, q, recorder, logger)
	}

	s := &Server{
		conf:        conf,
		logger:      logger,
		httpServer:  httpServer,
		db:          db,
		registry:    registry,
		sandbox:     sb,
		executor:    exec,
		queue:       q,
		workers:     workers,
		rateLimiter: rl,
	}

	return s, nil
}

// NewRouter mounts the HTTP API. Only /execute is rate limited. Forwarding headers are
// honoured only when trustProxy is set; otherwise rate limiting keys on the peer address.
func NewRouter(h *api.Handler, rl *limiter.RateLimiter, logger *zerolog.Logger, trustProxy bool) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(hlog.NewHandler(*logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request handled")
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)

	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
	r.Get("/languages", h.Languages)
	r.Handle("/metrics", promhttp.Handler())

	r.With(rl.Middleware).Post("/execute", h.Execute)

	return r
}

func executorConfig(conf config.ExecutorConfig) executor.Config {
	return executor.Config{
		RunTimeout:     time.Duration(conf.RunTimeoutMs) * time.Millisecond,
		CompileTimeout: time.Duration(conf.CompileTimeoutMs) * time.Millisecond,
		Limits: sandbox.Limits{
			MemoryBytes: int64(conf.MemoryLimitMb) * 1024 * 1024,
			CPUPeriod:   conf.CPUPeriod,
			CPUQuota:    conf.CPUQuota,
			PidsLimit:   conf.PidsLimit,
			OutputLimit: conf.OutputLimitBytes,
		},
	}
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("port", s.conf.Server.Port).
		Int("workers", len(s.workers)).
		Msg("starting HTTP server")

	if s.conf.Executor.PullImages {
		if err := s.ensureImages(context.Background()); err != nil {
			return fmt.Errorf("failed to ensure docker images: %w", err)
		}
	}

	// Start workers
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel

	for _, w := range s.workers {
		go w.Start(ctx)
	}
	s.rateLimiter.StartCleanup(ctx, limiterCleanupInterval)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

func (s *Server) ensureImages(ctx context.Context) error {
	for _, img := range s.registry.Images() {
		if err := s.sandbox.EnsureImage(ctx, img); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	if s.db != nil {
		s.db.Close()
	}

	return nil
}
