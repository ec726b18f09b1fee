/**
 * @description
 * Scheduled job implementations for the satellite-service.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/harvain/satellite-service/internal/config"
	"github.com/harvain/satellite-service/internal/domain"
)

// SweepRepository lists the satellites a migration sweep has to visit.
type SweepRepository interface {
	ListSatellitesNeedingMigration(ctx context.Context) ([]*domain.Satellite, error)
}

// SatelliteMigrator advances one satellite through its migration stages.
type SatelliteMigrator interface {
	MigrateSatellite(ctx context.Context, satelliteID int64) (MigrationOutcome, error)
}

// SweepResult counts what a migration sweep did.
type SweepResult struct {
	Visited            int  `json:"visited"`
	Bootstrapped       int  `json:"bootstrapped"`
	BlockToActive      int  `json:"block_to_active"`
	ActiveToWithdrawal int  `json:"active_to_withdrawal"`
	Failed             int  `json:"failed"`
	Interrupted        bool `json:"interrupted"`
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo     SweepRepository
	migrator SatelliteMigrator
	logger   *slog.Logger
	config   config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo SweepRepository, migrator SatelliteMigrator, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		repo:     repo,
		migrator: migrator,
		logger:   logger,
		config:   cfg,
	}
}

// MigrateSatelliteBalances is the cron entry point of the migration sweep.
func (j *Jobs) MigrateSatelliteBalances() {
	j.logger.Info("starting satellite balance migration job")

	ctx := context.Background()
	if timeout := j.config.SweepTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := j.RunMigrationSweep(ctx)
	if err != nil {
		j.logger.Error("failed to run satellite balance migration", "error", err)
		return
	}

	j.logger.Info("satellite balance migration job finished",
		"visited", res.Visited,
		"bootstrapped", res.Bootstrapped,
		"block_to_active", res.BlockToActive,
		"active_to_withdrawal", res.ActiveToWithdrawal,
		"failed", res.Failed,
		"interrupted", res.Interrupted,
	)
}

// RunMigrationSweep visits every bound system satellite once. A failure on one
// satellite is logged and does not stop the sweep; running out of time does.
func (j *Jobs) RunMigrationSweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	sats, err := j.repo.ListSatellitesNeedingMigration(ctx)
	if err != nil {
		return res, err
	}
	if len(sats) == 0 {
		j.logger.Info("no satellites to migrate")
		return res, nil
	}

	for _, sat := range sats {
		if ctx.Err() != nil {
			j.logger.Warn("migration sweep stopped before visiting every satellite", "remaining", len(sats)-res.Visited)
			res.Interrupted = true
			break
		}
		res.Visited++

		out, err := j.migrator.MigrateSatellite(ctx, sat.ID)
		if err != nil {
			res.Failed++
			j.logger.Error("failed to migrate satellite", "satellite_id", sat.ID, "error", err)
			continue
		}
		if out.Bootstrapped {
			res.Bootstrapped++
		}
		if out.ActiveToWithdrawal.Valid {
			res.ActiveToWithdrawal++
			j.logger.Info("migrated active balance to withdrawal", "satellite_id", sat.ID, "amount", out.ActiveToWithdrawal.Decimal)
		}
		if out.BlockToActive.Valid {
			res.BlockToActive++
			j.logger.Info("migrated blocked balance to active", "satellite_id", sat.ID, "amount", out.BlockToActive.Decimal)
		}
	}
	return res, nil
}
