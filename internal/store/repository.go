/**
 * @description
 * This file defines the data access contract for the satellite-service. Use cases
 * depend on this interface so that they can be exercised against an in-memory fake.
 */
package store

import (
	"context"

	"github.com/harvain/satellite-service/internal/domain"
)

// Repository defines persistence operations over clients, satellites and history.
type Repository interface {
	GetClient(ctx context.Context, id int64) (*domain.Client, error)
	GetSatellite(ctx context.Context, id int64) (*domain.Satellite, error)

	// LockClient and LockSatellite read the row with SELECT ... FOR UPDATE. Inside
	// WithTx the lock is held until the transaction ends. Lock a satellite's client
	// before the satellite itself.
	LockClient(ctx context.Context, id int64) (*domain.Client, error)
	LockSatellite(ctx context.Context, id int64) (*domain.Satellite, error)

	ListSatellitesByClient(ctx context.Context, clientID int64) ([]*domain.Satellite, error)
	// ListSatellitesNeedingMigration returns system satellites bound to a client.
	ListSatellitesNeedingMigration(ctx context.Context) ([]*domain.Satellite, error)
	ListSystemTemplates(ctx context.Context) ([]*domain.Satellite, error)
	ListSatellitesWithClient(ctx context.Context) ([]*domain.Satellite, error)
	ListClientsWithSatellites(ctx context.Context) ([]*domain.Client, error)

	CreateClient(ctx context.Context, client *domain.Client) error
	CreateSatellite(ctx context.Context, sat *domain.Satellite) error
	// SaveClient and SaveSatellite update the row only if its version still matches
	// and bump the version on success; a mismatch yields domain.ErrConcurrentModification.
	SaveClient(ctx context.Context, client *domain.Client) error
	SaveSatellite(ctx context.Context, sat *domain.Satellite) error
	SetSatellitesEmailVerified(ctx context.Context, clientID, excludeID int64, verified bool) (int64, error)
	DeleteClient(ctx context.Context, id int64) error

	InsertHistory(ctx context.Context, entry *domain.HistoryEntry) error
	ListHistory(ctx context.Context, clientID int64, limit int) ([]domain.HistoryEntry, error)

	// WithTx runs fn inside a single database transaction. Nested calls reuse it.
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}
