package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/config"
	handler "github.com/Harsh-BH/brewgate/internal/delivery/http"
	"github.com/Harsh-BH/brewgate/internal/delivery/http/middleware"
	"github.com/Harsh-BH/brewgate/internal/executor"
	"github.com/Harsh-BH/brewgate/internal/tool"
	"github.com/Harsh-BH/brewgate/internal/usecase"
)

const (
	shutdownGrace = 10 * time.Second
	drainTimeout  = 30 * time.Second
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting brewgate API server")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Set Gin mode
	gin.SetMode(cfg.Server.GinMode)

	pipeline, err := usecase.BuildPipeline(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build pipeline", zap.Error(err))
	}

	checker := tool.NewChecker(tool.Requirements{
		Executable:    cfg.Tool.Executable,
		Interpreters:  cfg.Tool.Profile.Interpreters,
		InstallDir:    cfg.Tool.InstallDir,
		MinifierDir:   cfg.Tool.Profile.MinifierDir,
		MinifierFiles: cfg.Tool.Profile.MinifierFiles,
	}, executor.NewProcessInvoker(cfg.Limits.MaxStreamBytes, logger), logger)

	// Every request context derives from baseCtx; cancelling it kills the
	// tool runs still in progress and lets them clean up.
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	inFlight := middleware.NewInFlight()

	router := handler.NewRouter(&handler.RouterDeps{
		Pipeline:          pipeline,
		Checker:           checker,
		Logger:            logger,
		RateLimitPerMin:   cfg.Server.RateLimit,
		MaxInputBytes:     cfg.Limits.MaxInputBytes,
		MaxConcurrentJobs: cfg.Limits.MaxConcurrentJobs,
		InFlight:          inFlight,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	// Start server in a goroutine
	go func() {
		logger.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down API server...")

	// Let short runs finish; anything still running after the grace period
	// is cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Graceful shutdown timed out, cancelling in-flight runs", zap.Error(err))
	}
	cancelRequests()

	// Cancelled runs kill their process group and remove their workspace
	// before the handler returns.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := inFlight.Wait(drainCtx); err != nil {
		logger.Error("In-flight requests did not finish", zap.Int("active", inFlight.Active()), zap.Error(err))
	}

	logger.Info("API server stopped")
}
