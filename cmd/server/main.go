/**
 * @description
 * Entry point for the satellite-service HTTP server. It serves the account API and
 * the Veriff webhook, consumes verification outcomes from RabbitMQ and, when
 * enabled, runs the startup profile sync in the background after boot.
 *
 * @dependencies
 * - pgxpool for the database, go-redis for the startup sync lock, rabbitmq for
 *   events, godotenv for local config.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/harvain/satellite-service/internal/api"
	"github.com/harvain/satellite-service/internal/app"
	"github.com/harvain/satellite-service/internal/config"
	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/store"
	"github.com/harvain/satellite-service/pkg/middleware"
	"github.com/harvain/satellite-service/pkg/rabbitmq"
	"github.com/harvain/satellite-service/pkg/veriffclient"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	dbpool, err := store.NewPool(ctx, cfg.DatabaseURL, 50)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	repository := store.NewPostgresRepository(dbpool)

	var publisher rabbitmq.Publisher = rabbitmq.NoopProducer{}
	if cfg.RabbitMQURL != "" {
		if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL); err == nil {
			publisher = producer
			defer producer.Close()
		} else {
			logger.Warn("failed to connect to RabbitMQ, events disabled", "error", err)
		}
	} else {
		logger.Warn("RABBITMQ_URL not set, events disabled")
	}

	service := app.NewService(repository, publisher, logger, *cfg)
	jobs := app.NewJobs(repository, service, logger, *cfg)

	var syncRunner api.SyncRunner
	var startupSync *app.StartupSync
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set, startup sync disabled")
	} else if redisClient, err := app.OpenRedis(ctx, cfg.RedisURL); err != nil {
		logger.Warn("redis unavailable, startup sync disabled", "error", err)
	} else {
		defer redisClient.Close()
		startupSync = app.NewStartupSync(repository, app.NewRedisSyncLock(redisClient), logger, *cfg)
		syncRunner = startupSync
	}

	var sessions api.SessionCreator
	if cfg.VeriffAPIKey != "" {
		sessions = veriffclient.NewClient(cfg.VeriffBaseURL, cfg.VeriffAPIKey, cfg.VeriffCallbackURL)
	} else {
		logger.Warn("VERIFF_API_KEY not set, verification sessions disabled")
	}

	if cfg.RabbitMQURL != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("failed to start verification outcome consumer", "error", err)
		} else {
			defer consumer.Close()
			eventHandler := app.NewVerificationEventHandler(service, logger)
			go func() {
				logger.Info("starting consumer", "routing_key", domain.RoutingVerificationOutcome)
				err := consumer.Consume(ctx, cfg.SatelliteEventsExchange, cfg.VerificationEventQueue, domain.RoutingVerificationOutcome, eventHandler.HandleVerificationOutcome)
				if err != nil {
					logger.Error("consumer stopped", "error", err)
				}
			}()
		}
	}

	if cfg.StartupSyncOnBoot && startupSync != nil {
		go func() {
			stats, err := startupSync.Run(ctx, app.SyncOptions{})
			switch {
			case errors.Is(err, domain.ErrLockContention):
				logger.Info("startup sync running on another instance, skipped")
			case err != nil:
				logger.Error("startup sync failed", "error", err)
			default:
				logger.Info("startup sync finished", "clients_updated", stats.ClientsUpdated, "satellites_updated", stats.SatellitesUpdated, "errors", stats.Errors)
			}
		}()
	}

	limiter := middleware.NewRateLimiter(cfg.WebhookRateLimitPerMinute)
	defer limiter.Close()

	handler := api.NewHandler(service, sessions, syncRunner, jobs, cfg.EmailRedirectURL, logger)
	webhook := api.NewVeriffWebhookHandler(service, cfg.VeriffSharedSecret, logger)
	router := api.NewRouter(handler, webhook, limiter.Middleware, cfg.InternalAPIKey)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
