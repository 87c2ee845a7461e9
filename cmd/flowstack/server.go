package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/flowstack/internal/shell/api"
	"github.com/artpar/flowstack/internal/shell/dynamicconfig"
	"github.com/artpar/flowstack/internal/shell/engine"
	"github.com/artpar/flowstack/internal/shell/matcher"
	"github.com/artpar/flowstack/internal/shell/runtime"
	"github.com/artpar/flowstack/internal/shell/store"
	"github.com/artpar/flowstack/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server wires the store, engine, matcher, background workers and HTTP
// surface together.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	runtime    runtime.Client
	engine     *engine.Service
	timers     *workers.TimerWorker
	reaper     *workers.TaskReaper
	supervisor *workers.StackSupervisor
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	dyn, err := dynamicconfig.New(cfg.Dynamic.Path, logger)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	m := matcher.NewService(s, dyn, logger)
	e := engine.NewService(s, m, logger)

	timers := workers.NewTimerWorker(s, e, dyn, logger)
	reaper := workers.NewTaskReaper(s, e, dyn, logger)

	var (
		rt         runtime.Client
		launcher   *runtime.Launcher
		supervisor *workers.StackSupervisor
	)
	if cfg.Docker.Enabled {
		dockerClient, err := runtime.NewDockerClient(cfg.Docker.Host)
		if err != nil {
			s.Close()
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitDockerError,
			}
		}
		if err := dockerClient.Ping(context.Background()); err != nil {
			s.Close()
			dockerClient.Close()
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitDockerError,
			}
		}
		rt = dockerClient
		launcher = runtime.NewLauncher(dockerClient, s, logger)
		supervisor = workers.NewStackSupervisor(s, launcher, dyn, logger)
	} else {
		logger.Info("container runtime disabled, running workflow-only")
	}

	handler := api.SetupAPI(api.APIConfig{
		Store:              s,
		Engine:             e,
		Matcher:            m,
		Launcher:           launcher,
		Runtime:            rt,
		Logger:             logger,
		APITokenHashes:     cfg.Auth.TokenHashes,
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: handler,
		// WriteTimeout must outlast the worker long-poll window.
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		runtime:    rt,
		engine:     e,
		timers:     timers,
		reaper:     reaper,
		supervisor: supervisor,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Requeue orphaned leases and re-arm timers from before the restart.
	if err := s.engine.Recover(ctx); err != nil {
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	s.timers.Start()
	s.reaper.Start()
	if s.supervisor != nil {
		s.supervisor.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.supervisor != nil {
		s.supervisor.Stop()
	}
	s.reaper.Stop()
	s.timers.Stop()

	if s.runtime != nil {
		if err := s.runtime.Close(); err != nil {
			s.logger.Error("runtime client close error", "error", err)
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
