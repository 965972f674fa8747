package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Harsh-BH/brewgate/internal/config"
	amqpdelivery "github.com/Harsh-BH/brewgate/internal/delivery/amqp"
	"github.com/Harsh-BH/brewgate/internal/domain"
	"github.com/Harsh-BH/brewgate/internal/executor"
	"github.com/Harsh-BH/brewgate/internal/pool"
	redisrepo "github.com/Harsh-BH/brewgate/internal/repository/redis"
	"github.com/Harsh-BH/brewgate/internal/tool"
	"github.com/Harsh-BH/brewgate/internal/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting brewgate worker")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Startup dependency report; problems are logged, not fatal.
	tool.NewChecker(tool.Requirements{
		Executable:    cfg.Tool.Executable,
		Interpreters:  cfg.Tool.Profile.Interpreters,
		InstallDir:    cfg.Tool.InstallDir,
		MinifierDir:   cfg.Tool.Profile.MinifierDir,
		MinifierFiles: cfg.Tool.Profile.MinifierFiles,
	}, executor.NewProcessInvoker(cfg.Limits.MaxStreamBytes, logger), logger).Check(ctx)

	// Connect to Redis
	redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Invalid Redis URL", zap.Error(err))
	}
	redisClient := goredis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis")

	idempotencyStore := redisrepo.NewRedisIdempotencyStore(redisClient)

	pipeline, err := usecase.BuildPipeline(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build pipeline", zap.Error(err))
	}
	processUC := usecase.NewProcessRequestUsecase(pipeline, idempotencyStore, logger)

	// Create buffered job channel
	jobsChan := make(chan *domain.JobMessage, cfg.Worker.PoolSize*2)

	// Initialize AMQP consumer
	consumer, err := amqpdelivery.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, jobsChan, logger)
	if err != nil {
		logger.Fatal("Failed to initialize AMQP consumer", zap.Error(err))
	}
	defer consumer.Close()
	logger.Info("Connected to RabbitMQ", zap.String("queue", cfg.RabbitMQ.Queue))

	// Start worker pool
	workerPool := pool.NewWorkerPool(cfg.Worker.PoolSize, jobsChan, processUC, logger)
	workerPool.Start(ctx)

	// Start AMQP consumer in a goroutine
	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Error("AMQP consumer error", zap.Error(err))
			cancel()
		}
	}()

	// Start Prometheus metrics server
	go func() {
		metricsAddr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics server listening", zap.String("addr", metricsAddr))
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()

	// In-flight runs are cancelled, cleaned up and requeued.
	workerPool.Stop()

	logger.Info("Worker stopped")
}
