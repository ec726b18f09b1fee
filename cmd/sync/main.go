/**
 * @description
 * One-shot command running the startup profile sync between satellites and their
 * clients. Only one instance runs at a time; a completed sync version is skipped
 * unless -force is given.
 *
 * Usage:
 *   sync [-reset] [-force] [-satellite-to-client] [-client-to-satellites]
 */
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/harvain/satellite-service/internal/app"
	"github.com/harvain/satellite-service/internal/config"
	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/store"
)

func main() {
	reset := flag.Bool("reset", false, "clear the sync lock and version marker, then exit")
	force := flag.Bool("force", false, "run even if the current sync version already completed")
	satToClient := flag.Bool("satellite-to-client", false, "only copy satellite profiles onto their clients")
	clientToSats := flag.Bool("client-to-satellites", false, "only push client verification onto their satellites")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.RedisURL == "" {
		logger.Error("REDIS_URL is required for the sync lock")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, logger, *cfg, *reset, app.SyncOptions{
		Force:              *force,
		SatelliteToClient:  *satToClient,
		ClientToSatellites: *clientToSats,
	}))
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, reset bool, opts app.SyncOptions) int {
	redisClient, err := app.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("unable to connect to redis", "error", err)
		return 1
	}
	defer redisClient.Close()

	dbpool, err := store.NewPool(ctx, cfg.DatabaseURL, 5)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		return 1
	}
	defer dbpool.Close()

	runner := app.NewStartupSync(store.NewPostgresRepository(dbpool), app.NewRedisSyncLock(redisClient), logger, cfg)

	if reset {
		if err := runner.Reset(ctx); err != nil {
			logger.Error("failed to reset sync state", "error", err)
			return 1
		}
		logger.Info("sync lock and version marker cleared")
		return 0
	}

	stats, err := runner.Run(ctx, opts)
	switch {
	case errors.Is(err, domain.ErrLockContention):
		logger.Info("sync is already running on another instance, skipping")
		return 0
	case err != nil:
		logger.Error("sync failed", "error", err)
		return 1
	}

	logger.Info("sync finished",
		"satellites_processed", stats.SatellitesProcessed,
		"clients_updated", stats.ClientsUpdated,
		"clients_processed", stats.ClientsProcessed,
		"satellites_updated", stats.SatellitesUpdated,
		"total_changes", stats.TotalChanges,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)
	if stats.Errors > 0 {
		return 2
	}
	return 0
}
