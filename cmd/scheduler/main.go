/**
 * @description
 * Entry point for the satellite migration scheduler. It is a non-HTTP, long-running
 * process that runs the balance migration sweep on MIGRATION_SWEEP_SCHEDULE.
 */
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/harvain/satellite-service/internal/app"
	"github.com/harvain/satellite-service/internal/config"
	"github.com/harvain/satellite-service/internal/store"
	"github.com/harvain/satellite-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dbpool, err := store.NewPool(ctx, cfg.DatabaseURL, 10)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	var publisher rabbitmq.Publisher = rabbitmq.NoopProducer{}
	if cfg.RabbitMQURL != "" {
		if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err == nil {
			publisher = producer
			defer producer.Close()
		} else {
			logger.Warn("failed to connect to RabbitMQ, migration events disabled", "error", err)
		}
	}

	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(repository, publisher, logger, *cfg)
	jobs := app.NewJobs(repository, service, logger, *cfg)
	scheduler := app.NewScheduler(jobs, logger, *cfg)

	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	// Wait for termination signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped gracefully")
}
