/**
 * @description
 * One-shot batch repair of client profiles from their satellites. It is guarded
 * by a distributed lock and a version marker so that only one instance runs it
 * per sync version. Per-record failures are counted and skipped.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harvain/satellite-service/internal/config"
	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/profile"
	"github.com/harvain/satellite-service/internal/store"
)

// CurrentSyncVersion is bumped whenever the batch sync rules change.
const CurrentSyncVersion = 2

// SyncLock is the coordination store used by StartupSync.
type SyncLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	ForceRelease(ctx context.Context, key string) error
	Version(ctx context.Context, key string) (int, bool, error)
	SetVersion(ctx context.Context, key string, version int, ttl time.Duration) error
	ClearVersion(ctx context.Context, key string) error
}

// SyncOptions selects what a run does. With neither direction set both run.
type SyncOptions struct {
	Force              bool
	SatelliteToClient  bool
	ClientToSatellites bool
}

// SyncStats summarizes a run.
type SyncStats struct {
	SatellitesProcessed int           `json:"satellites_processed"`
	ClientsUpdated      int           `json:"clients_updated"`
	ClientsProcessed    int           `json:"clients_processed"`
	SatellitesUpdated   int           `json:"satellites_updated"`
	TotalChanges        int           `json:"total_changes"`
	Errors              int           `json:"errors"`
	Duration            time.Duration `json:"duration"`
}

// StartupSync runs the batch profile sync.
type StartupSync struct {
	repo   store.Repository
	lock   SyncLock
	logger *slog.Logger
	config config.Config
}

func NewStartupSync(repo store.Repository, lock SyncLock, logger *slog.Logger, cfg config.Config) *StartupSync {
	return &StartupSync{
		repo:   repo,
		lock:   lock,
		logger: logger,
		config: cfg,
	}
}

// Run performs the sync unless it already completed for CurrentSyncVersion.
// It returns domain.ErrLockContention when another instance holds the lock;
// callers treat that as a skip, not a failure.
func (s *StartupSync) Run(ctx context.Context, opts SyncOptions) (SyncStats, error) {
	var stats SyncStats
	start := time.Now()

	if !opts.Force {
		version, ok, err := s.lock.Version(ctx, s.config.SyncVersionKey)
		if err != nil {
			return stats, err
		}
		if ok && version == CurrentSyncVersion {
			s.logger.Info("startup sync already completed", "version", CurrentSyncVersion)
			return stats, nil
		}
	}

	acquired, err := s.lock.Acquire(ctx, s.config.SyncLockKey, s.lockTTL())
	if err != nil {
		return stats, err
	}
	if !acquired {
		s.logger.Info("startup sync already in progress, skipping")
		return stats, domain.ErrLockContention
	}
	defer func() {
		if err := s.lock.Release(context.Background(), s.config.SyncLockKey); err != nil {
			s.logger.Error("failed to release startup sync lock", "error", err)
		} else {
			s.logger.Info("released startup sync lock")
		}
	}()
	s.logger.Info("acquired startup sync lock")

	both := !opts.SatelliteToClient && !opts.ClientToSatellites
	if both || opts.SatelliteToClient {
		if err := s.syncSatellitesToClients(ctx, &stats); err != nil {
			return stats, err
		}
	}
	if both || opts.ClientToSatellites {
		if err := s.syncClientsToSatellites(ctx, &stats); err != nil {
			return stats, err
		}
	}

	if err := s.lock.SetVersion(ctx, s.config.SyncVersionKey, CurrentSyncVersion, s.versionTTL()); err != nil {
		s.logger.Error("failed to record startup sync version", "error", err)
	}

	stats.Duration = time.Since(start)
	s.logger.Info("startup sync completed",
		"duration", stats.Duration,
		"satellites_processed", stats.SatellitesProcessed,
		"clients_updated", stats.ClientsUpdated,
		"clients_processed", stats.ClientsProcessed,
		"satellites_updated", stats.SatellitesUpdated,
		"total_changes", stats.TotalChanges,
		"errors", stats.Errors,
	)
	return stats, nil
}

// Reset clears the lock and the version marker so the next run starts fresh.
func (s *StartupSync) Reset(ctx context.Context) error {
	if err := s.lock.ForceRelease(ctx, s.config.SyncLockKey); err != nil {
		return fmt.Errorf("clear sync lock: %w", err)
	}
	if err := s.lock.ClearVersion(ctx, s.config.SyncVersionKey); err != nil {
		return fmt.Errorf("clear sync version: %w", err)
	}
	s.logger.Info("startup sync state reset")
	return nil
}

// syncSatellitesToClients overwrites each client with the values of its satellites.
// Clients are cached so that with several satellites the last one wins, and dirty
// clients are flushed in batches.
func (s *StartupSync) syncSatellitesToClients(ctx context.Context, stats *SyncStats) error {
	sats, err := s.repo.ListSatellitesWithClient(ctx)
	if err != nil {
		return fmt.Errorf("list satellites with client: %w", err)
	}
	s.logger.Info("starting satellite to client sync", "satellites", len(sats))

	clients := make(map[int64]*domain.Client)
	dirty := make(map[int64]*domain.Client)
	updated := make(map[int64]bool)
	var order []int64

	flush := func() {
		for _, id := range order {
			client := dirty[id]
			if err := s.repo.SaveClient(ctx, client); err != nil {
				stats.Errors++
				s.logger.Error("failed to save synced client", "client_id", id, "error", err)
				delete(clients, id)
			}
		}
		if len(order) > 0 {
			s.logger.Info("batch saved clients", "count", len(order), "processed", stats.SatellitesProcessed, "total", len(sats))
		}
		dirty = make(map[int64]*domain.Client)
		order = order[:0]
	}

	for _, sat := range sats {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.SatellitesProcessed++

		client, ok := clients[*sat.ClientID]
		if !ok {
			client, err = s.repo.GetClient(ctx, *sat.ClientID)
			if err != nil {
				stats.Errors++
				s.logger.Error("failed to load client for satellite", "satellite_id", sat.ID, "client_id", *sat.ClientID, "error", err)
				continue
			}
			clients[client.ID] = client
		}

		changes := profile.AggressiveOverwriteSync(sat, client)
		if len(changes) == 0 {
			continue
		}
		stats.TotalChanges += len(changes)
		if _, seen := dirty[client.ID]; !seen {
			dirty[client.ID] = client
			order = append(order, client.ID)
		}
		if !updated[client.ID] {
			updated[client.ID] = true
			stats.ClientsUpdated++
		}
		s.logger.Debug("prepared client sync", "satellite", sat.Username, "client", client.Username, "changes", changes)

		if len(order) >= s.batchSize() {
			flush()
		}
	}
	flush()
	return nil
}

// syncClientsToSatellites pushes each client's verification flags onto its satellites.
func (s *StartupSync) syncClientsToSatellites(ctx context.Context, stats *SyncStats) error {
	clients, err := s.repo.ListClientsWithSatellites(ctx)
	if err != nil {
		return fmt.Errorf("list clients with satellites: %w", err)
	}
	s.logger.Info("starting client to satellites sync", "clients", len(clients))

	for _, client := range clients {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.ClientsProcessed++

		sats, err := s.repo.ListSatellitesByClient(ctx, client.ID)
		if err != nil {
			stats.Errors++
			s.logger.Error("failed to list client satellites", "client_id", client.ID, "error", err)
			continue
		}
		for _, sat := range sats {
			changes := profile.PushVerificationToSatellite(client, sat)
			if len(changes) == 0 {
				continue
			}
			if err := s.repo.SaveSatellite(ctx, sat); err != nil {
				stats.Errors++
				s.logger.Error("failed to save synced satellite", "satellite_id", sat.ID, "error", err)
				continue
			}
			stats.SatellitesUpdated++
			stats.TotalChanges += len(changes)
		}
	}
	return nil
}

func (s *StartupSync) lockTTL() time.Duration {
	if ttl := s.config.SyncLockTTL(); ttl > 0 {
		return ttl
	}
	return 5 * time.Minute
}

func (s *StartupSync) versionTTL() time.Duration {
	if ttl := s.config.SyncVersionTTL(); ttl > 0 {
		return ttl
	}
	return 30 * 24 * time.Hour
}

func (s *StartupSync) batchSize() int {
	if s.config.SyncBatchSize > 0 {
		return s.config.SyncBatchSize
	}
	return 50
}

// IsSkip reports whether err only means the run was skipped.
func IsSkip(err error) bool {
	return errors.Is(err, domain.ErrLockContention)
}
