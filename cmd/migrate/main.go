package main

import (
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/harvain/satellite-service/internal/config"
	"github.com/harvain/satellite-service/migrations"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration instead of migrating up")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("goose: failed to set dialect", "error", err)
		os.Exit(1)
	}

	if *down {
		logger.Info("rolling back last migration")
		if err := goose.Down(db, "."); err != nil {
			logger.Error("goose rollback failed", "error", err)
			os.Exit(1)
		}
		logger.Info("rollback completed")
		return
	}

	logger.Info("running database migrations")
	if err := goose.Up(db, "."); err != nil {
		logger.Error("goose migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations completed successfully")
}
