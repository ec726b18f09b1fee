/**
 * @description
 * This package handles configuration management for the satellite-service binaries.
 * It uses Viper to read settings from environment variables (and an optional .env
 * file), applies defaults, and normalizes values before handing them to main.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading and env binding.
 */
package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the satellite-service.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	SatelliteEventsExchange string `mapstructure:"SATELLITE_EVENTS_EXCHANGE"`
	VerificationEventQueue  string `mapstructure:"VERIFICATION_EVENT_QUEUE"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`

	VeriffBaseURL      string `mapstructure:"VERIFF_BASE_URL"`
	VeriffAPIKey       string `mapstructure:"VERIFF_API_KEY"`
	VeriffSharedSecret string `mapstructure:"VERIFF_SHARED_SECRET"`
	VeriffCallbackURL  string `mapstructure:"VERIFF_CALLBACK_URL"`

	SecretKey          string `mapstructure:"SECRET_KEY"`
	EmailTokenTTLHours int    `mapstructure:"EMAIL_TOKEN_TTL_HOURS"`
	EmailRedirectURL   string `mapstructure:"EMAIL_VERIFIED_REDIRECT_URL"`

	MigrationSweepSchedule       string `mapstructure:"MIGRATION_SWEEP_SCHEDULE"`
	MigrationSweepTimeoutSeconds int    `mapstructure:"MIGRATION_SWEEP_TIMEOUT_SECONDS"`

	SyncLockKey         string `mapstructure:"SYNC_LOCK_KEY"`
	SyncVersionKey      string `mapstructure:"SYNC_VERSION_KEY"`
	SyncLockTTLSeconds  int    `mapstructure:"SYNC_LOCK_TTL_SECONDS"`
	SyncVersionTTLHours int    `mapstructure:"SYNC_VERSION_TTL_HOURS"`
	SyncBatchSize       int    `mapstructure:"SYNC_BATCH_SIZE"`
	StartupSyncOnBoot   bool   `mapstructure:"STARTUP_SYNC_ON_BOOT"`

	WebhookRateLimitPerMinute int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
	DefaultCommission         string `mapstructure:"DEFAULT_COMMISSION"`
}

// LoadConfig reads configuration from environment variables and an optional .env file.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SATELLITE_EVENTS_EXCHANGE", "satellite_events")
	viper.SetDefault("VERIFICATION_EVENT_QUEUE", "satellite_service.verification_outcomes")
	viper.SetDefault("VERIFF_BASE_URL", "https://stationapi.veriff.com")
	viper.SetDefault("EMAIL_TOKEN_TTL_HOURS", 72)
	viper.SetDefault("MIGRATION_SWEEP_SCHEDULE", "@every 60s")
	viper.SetDefault("MIGRATION_SWEEP_TIMEOUT_SECONDS", 300)
	viper.SetDefault("SYNC_LOCK_KEY", "satellite_client_sync_lock")
	viper.SetDefault("SYNC_VERSION_KEY", "satellite_client_sync_version")
	viper.SetDefault("SYNC_LOCK_TTL_SECONDS", 300)
	viper.SetDefault("SYNC_VERSION_TTL_HOURS", 24*30)
	viper.SetDefault("SYNC_BATCH_SIZE", 50)
	viper.SetDefault("STARTUP_SYNC_ON_BOOT", false)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("DEFAULT_COMMISSION", "0.00025")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SATELLITE_REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SATELLITE_EVENTS_EXCHANGE")
	_ = viper.BindEnv("VERIFICATION_EVENT_QUEUE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SATELLITE_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("VERIFF_BASE_URL")
	_ = viper.BindEnv("VERIFF_API_KEY")
	_ = viper.BindEnv("VERIFF_SHARED_SECRET", "VERIFF_SHARED_SECRET", "SHARED_SECRET")
	_ = viper.BindEnv("VERIFF_CALLBACK_URL")
	_ = viper.BindEnv("SECRET_KEY")
	_ = viper.BindEnv("EMAIL_TOKEN_TTL_HOURS")
	_ = viper.BindEnv("EMAIL_VERIFIED_REDIRECT_URL")
	_ = viper.BindEnv("MIGRATION_SWEEP_SCHEDULE")
	_ = viper.BindEnv("MIGRATION_SWEEP_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SYNC_LOCK_KEY")
	_ = viper.BindEnv("SYNC_VERSION_KEY")
	_ = viper.BindEnv("SYNC_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("SYNC_VERSION_TTL_HOURS")
	_ = viper.BindEnv("SYNC_BATCH_SIZE")
	_ = viper.BindEnv("STARTUP_SYNC_ON_BOOT")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("DEFAULT_COMMISSION")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.VeriffBaseURL = strings.TrimSuffix(strings.TrimSpace(config.VeriffBaseURL), "/")
	config.VeriffSharedSecret = strings.TrimSpace(config.VeriffSharedSecret)
	config.EmailRedirectURL = strings.TrimSpace(config.EmailRedirectURL)

	if config.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if strings.TrimSpace(config.MigrationSweepSchedule) == "" {
		config.MigrationSweepSchedule = "@every 60s"
	}
	if config.MigrationSweepTimeoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive sweep timeout; using default\" value=%d", config.MigrationSweepTimeoutSeconds)
		config.MigrationSweepTimeoutSeconds = 300
	}
	if config.SyncLockTTLSeconds <= 0 {
		config.SyncLockTTLSeconds = 300
	}
	if config.SyncBatchSize <= 0 {
		config.SyncBatchSize = 50
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(config.DefaultCommission)); err != nil {
		log.Printf("level=warn component=config msg=\"invalid DEFAULT_COMMISSION; using 0.00025\" value=%q err=%v", config.DefaultCommission, err)
		config.DefaultCommission = "0.00025"
	}

	return &config, nil
}

// SweepTimeout is the time budget of one migration sweep.
func (c Config) SweepTimeout() time.Duration {
	return time.Duration(c.MigrationSweepTimeoutSeconds) * time.Second
}

// SyncLockTTL is the hard expiry of the startup sync lock.
func (c Config) SyncLockTTL() time.Duration {
	return time.Duration(c.SyncLockTTLSeconds) * time.Second
}

// SyncVersionTTL is how long a completed sync version marker is kept.
func (c Config) SyncVersionTTL() time.Duration {
	return time.Duration(c.SyncVersionTTLHours) * time.Hour
}

// EmailTokenTTL is the lifetime of an email activation token.
func (c Config) EmailTokenTTL() time.Duration {
	return time.Duration(c.EmailTokenTTLHours) * time.Hour
}

// Commission returns the default commission for new clients.
func (c Config) Commission() decimal.Decimal {
	return decimal.RequireFromString(strings.TrimSpace(c.DefaultCommission))
}
