package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/turbo-run/turbo/api/internal/cache"
	"github.com/turbo-run/turbo/api/internal/config"
	"github.com/turbo-run/turbo/api/internal/gc"
	"github.com/turbo-run/turbo/api/internal/handler"
	"github.com/turbo-run/turbo/api/internal/installer"
	"github.com/turbo-run/turbo/api/internal/metadata"
	"github.com/turbo-run/turbo/api/internal/middleware"
	"github.com/turbo-run/turbo/api/internal/pkgrepo"
	"github.com/turbo-run/turbo/api/internal/queue"
	"github.com/turbo-run/turbo/api/internal/sandbox"
	"github.com/turbo-run/turbo/api/internal/types"
	"github.com/turbo-run/turbo/api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := logrus.New()
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logger.Info("Starting turbo API server")

	if err := ensureDataDirectories(cfg); err != nil {
		logger.WithError(err).Fatal("Failed to create data directories")
	}

	repo := pkgrepo.NewRepository(cfg.RuntimesDir(), logger)

	cacheStore, err := cache.New(cfg.CacheRoot(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize compile cache")
	}

	meta, err := metadata.Open(cfg.MetadataDBPath())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open metadata store")
	}
	defer meta.Close()

	pkgInstaller := installer.New(cfg.PackagesPath, cfg.RuntimesDir(), logger)

	jobQueue, err := queue.New(cfg.RedisURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to broker")
	}
	defer jobQueue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := jobQueue.Ping(ctx); err != nil {
		logger.WithError(err).Fatal("Broker is unreachable")
	}

	scavenger := gc.New(cfg.CacheRoot(), cfg.CacheMaxEntries, time.Duration(cfg.CacheGCIntervalSecs)*time.Second, logger)
	go scavenger.Start(ctx)

	box := sandbox.New(logger)

	baseLimits := types.DefaultExecutionLimits()
	baseLimits.MemoryLimitBytes = cfg.MemoryLimitBytes()

	scratchRoot := filepath.Join(os.TempDir(), fmt.Sprintf("turbo-%d", os.Getuid()))
	workerPool := worker.New(cfg.Workers, jobQueue, repo, box, cacheStore, scratchRoot, baseLimits, logger)
	go workerPool.Run(ctx)

	h := handler.NewHandler(jobQueue, repo, meta, logger, 60*time.Second)
	packageHandler := handler.NewPackageHandler(pkgInstaller, repo, meta, cfg.PackagesPath, logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.BodyLimit(cfg.RequestBodyLimit))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.JSON)

			r.Group(func(r chi.Router) {
				r.Use(chiMiddleware.Timeout(60 * time.Second))
				r.Post("/execute", h.ExecuteCode)
			})

			r.Group(func(r chi.Router) {
				r.Use(chiMiddleware.Timeout(10 * time.Minute))
				packageHandler.RegisterRoutes(r)
			})
		})

		r.Get("/runtimes", h.GetRuntimes)
	})

	r.Get("/", h.GetVersion)

	r.Get("/health", h.Health)

	server := &http.Server{
		Addr:              cfg.GetBindAddress(),
		Handler:           r,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("API server starting on %s", cfg.GetBindAddress())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited")
}

// ensureDataDirectories creates the turbo home, runtimes, and packages
// directories if they do not already exist.
func ensureDataDirectories(cfg *config.Config) error {
	directories := []string{
		cfg.TurboHome,
		cfg.RuntimesDir(),
		cfg.PackagesPath,
		cfg.CacheRoot(),
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
