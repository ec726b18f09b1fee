/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Balance rows are updated under row locks and an optimistic version column so
 * concurrent sweeps and API writes never apply a stale read.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: NUMERIC columns are scanned into decimals.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harvain/satellite-service/internal/domain"
)

var (
	ErrDuplicateUsername = errors.New("username already exists")
)

const uniqueViolation = "23505"

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	db   dbtx
	inTx bool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, db: pool}
}

// WithTx runs fn in a transaction and commits when it returns nil.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresRepository{pool: r.pool, db: tx, inTx: true}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const clientColumns = `
	id, username, full_name, name, last_name, email, phone, country, city, address, born,
	email_verified, document_verified, document_verified_at, blocked, invitation_code,
	shoulder, growth_rate, commission, total_balance, version, created_at, updated_at`

const satelliteColumns = `
	id, username, name, last_name, email, phone, country, city, address, born,
	email_verified, document_verified, document_verified_at, blocked, invitation_code,
	uuid, system, is_original, block_balance, active_balance, withdrawal, deposit, deposit_time,
	interval_seconds, second_interval_seconds, migration_time, second_migration_time,
	client_id, "order", version, created_at, updated_at`

func scanClient(row rowScanner) (*domain.Client, error) {
	var c domain.Client
	err := row.Scan(
		&c.ID, &c.Username, &c.FullName, &c.Name, &c.LastName, &c.Email, &c.Phone, &c.Country, &c.City, &c.Address, &c.Born,
		&c.EmailVerified, &c.DocumentVerified, &c.DocumentVerifiedAt, &c.Blocked, &c.InvitationCode,
		&c.Shoulder, &c.GrowthRate, &c.Commission, &c.TotalBalance, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanSatellite(row rowScanner) (*domain.Satellite, error) {
	var (
		s                           domain.Satellite
		intervalSecs, secondIntSecs *int64
	)
	err := row.Scan(
		&s.ID, &s.Username, &s.Name, &s.LastName, &s.Email, &s.Phone, &s.Country, &s.City, &s.Address, &s.Born,
		&s.EmailVerified, &s.DocumentVerified, &s.DocumentVerifiedAt, &s.Blocked, &s.InvitationCode,
		&s.UUID, &s.System, &s.IsOriginal, &s.BlockBalance, &s.ActiveBalance, &s.Withdrawal, &s.Deposit, &s.DepositTime,
		&intervalSecs, &secondIntSecs, &s.MigrationTime, &s.SecondMigrationTime,
		&s.ClientID, &s.Order, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Interval = secondsToDuration(intervalSecs)
	s.SecondInterval = secondsToDuration(secondIntSecs)
	return &s, nil
}

func (r *PostgresRepository) getClient(ctx context.Context, id int64, lock bool) (*domain.Client, error) {
	query := "SELECT" + clientColumns + " FROM clients WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	c, err := scanClient(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepository) getSatellite(ctx context.Context, id int64, lock bool) (*domain.Satellite, error) {
	query := "SELECT" + satelliteColumns + " FROM satellites WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	s, err := scanSatellite(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	return r.getClient(ctx, id, false)
}

func (r *PostgresRepository) GetSatellite(ctx context.Context, id int64) (*domain.Satellite, error) {
	return r.getSatellite(ctx, id, false)
}

// LockClient reads a client row and locks it for the rest of the transaction.
func (r *PostgresRepository) LockClient(ctx context.Context, id int64) (*domain.Client, error) {
	return r.getClient(ctx, id, true)
}

// LockSatellite reads a satellite row and locks it for the rest of the transaction.
func (r *PostgresRepository) LockSatellite(ctx context.Context, id int64) (*domain.Satellite, error) {
	return r.getSatellite(ctx, id, true)
}

func (r *PostgresRepository) listSatellites(ctx context.Context, where string, args ...any) ([]*domain.Satellite, error) {
	rows, err := r.db.Query(ctx, "SELECT"+satelliteColumns+" FROM satellites "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sats []*domain.Satellite
	for rows.Next() {
		s, err := scanSatellite(rows)
		if err != nil {
			return nil, err
		}
		sats = append(sats, s)
	}
	return sats, rows.Err()
}

func (r *PostgresRepository) ListSatellitesByClient(ctx context.Context, clientID int64) ([]*domain.Satellite, error) {
	return r.listSatellites(ctx, `WHERE client_id = $1 ORDER BY "order", id`, clientID)
}

// ListSatellitesNeedingMigration returns every system satellite bound to a client.
func (r *PostgresRepository) ListSatellitesNeedingMigration(ctx context.Context) ([]*domain.Satellite, error) {
	return r.listSatellites(ctx, `WHERE system = TRUE AND client_id IS NOT NULL ORDER BY id`)
}

// ListSystemTemplates returns the unbound system satellites cloned for new clients.
func (r *PostgresRepository) ListSystemTemplates(ctx context.Context) ([]*domain.Satellite, error) {
	return r.listSatellites(ctx, `WHERE system = TRUE AND client_id IS NULL ORDER BY "order", id`)
}

func (r *PostgresRepository) ListSatellitesWithClient(ctx context.Context) ([]*domain.Satellite, error) {
	return r.listSatellites(ctx, `WHERE client_id IS NOT NULL ORDER BY id`)
}

func (r *PostgresRepository) ListClientsWithSatellites(ctx context.Context) ([]*domain.Client, error) {
	query := "SELECT" + clientColumns + ` FROM clients c
		WHERE EXISTS (SELECT 1 FROM satellites s WHERE s.client_id = c.id)
		ORDER BY id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// CreateClient inserts a client and fills in its generated fields.
func (r *PostgresRepository) CreateClient(ctx context.Context, c *domain.Client) error {
	query := `
		INSERT INTO clients (
			username, full_name, name, last_name, email, phone, country, city, address, born,
			email_verified, document_verified, document_verified_at, blocked, invitation_code,
			shoulder, growth_rate, commission, total_balance
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id, version, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		c.Username, c.FullName, c.Name, c.LastName, c.Email, c.Phone, c.Country, c.City, c.Address, c.Born,
		c.EmailVerified, c.DocumentVerified, c.DocumentVerifiedAt, c.Blocked, c.InvitationCode,
		c.Shoulder, c.GrowthRate, c.Commission, c.TotalBalance,
	).Scan(&c.ID, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	return mapWriteError(err)
}

// CreateSatellite inserts a satellite and fills in its generated fields.
func (r *PostgresRepository) CreateSatellite(ctx context.Context, s *domain.Satellite) error {
	query := `
		INSERT INTO satellites (
			username, name, last_name, email, phone, country, city, address, born,
			email_verified, document_verified, document_verified_at, blocked, invitation_code,
			uuid, system, is_original, block_balance, active_balance, withdrawal, deposit, deposit_time,
			interval_seconds, second_interval_seconds, migration_time, second_migration_time, client_id, "order"
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28)
		RETURNING id, version, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		s.Username, s.Name, s.LastName, s.Email, s.Phone, s.Country, s.City, s.Address, s.Born,
		s.EmailVerified, s.DocumentVerified, s.DocumentVerifiedAt, s.Blocked, s.InvitationCode,
		s.UUID, s.System, s.IsOriginal, s.BlockBalance, s.ActiveBalance, s.Withdrawal, s.Deposit, s.DepositTime,
		durationToSeconds(s.Interval), durationToSeconds(s.SecondInterval), s.MigrationTime, s.SecondMigrationTime,
		s.ClientID, s.Order,
	).Scan(&s.ID, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	return mapWriteError(err)
}

// SaveClient persists every mutable client column guarded by the version check.
func (r *PostgresRepository) SaveClient(ctx context.Context, c *domain.Client) error {
	query := `
		UPDATE clients SET
			username = $3, full_name = $4, name = $5, last_name = $6, email = $7, phone = $8,
			country = $9, city = $10, address = $11, born = $12,
			email_verified = $13, document_verified = $14, document_verified_at = $15,
			blocked = $16, invitation_code = $17, shoulder = $18, growth_rate = $19,
			commission = $20, total_balance = $21,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`
	err := r.db.QueryRow(ctx, query,
		c.ID, c.Version,
		c.Username, c.FullName, c.Name, c.LastName, c.Email, c.Phone,
		c.Country, c.City, c.Address, c.Born,
		c.EmailVerified, c.DocumentVerified, c.DocumentVerifiedAt,
		c.Blocked, c.InvitationCode, c.Shoulder, c.GrowthRate,
		c.Commission, c.TotalBalance,
	).Scan(&c.Version, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.versionConflict(ctx, "clients", c.ID)
	}
	return mapWriteError(err)
}

// SaveSatellite persists every mutable satellite column guarded by the version check.
func (r *PostgresRepository) SaveSatellite(ctx context.Context, s *domain.Satellite) error {
	query := `
		UPDATE satellites SET
			username = $3, name = $4, last_name = $5, email = $6, phone = $7, country = $8,
			city = $9, address = $10, born = $11,
			email_verified = $12, document_verified = $13, document_verified_at = $14,
			blocked = $15, invitation_code = $16, uuid = $17, system = $18, is_original = $19,
			block_balance = $20, active_balance = $21, withdrawal = $22, deposit = $23, deposit_time = $24,
			interval_seconds = $25, second_interval_seconds = $26,
			migration_time = $27, second_migration_time = $28, client_id = $29, "order" = $30,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`
	err := r.db.QueryRow(ctx, query,
		s.ID, s.Version,
		s.Username, s.Name, s.LastName, s.Email, s.Phone, s.Country,
		s.City, s.Address, s.Born,
		s.EmailVerified, s.DocumentVerified, s.DocumentVerifiedAt,
		s.Blocked, s.InvitationCode, s.UUID, s.System, s.IsOriginal,
		s.BlockBalance, s.ActiveBalance, s.Withdrawal, s.Deposit, s.DepositTime,
		durationToSeconds(s.Interval), durationToSeconds(s.SecondInterval),
		s.MigrationTime, s.SecondMigrationTime, s.ClientID, s.Order,
	).Scan(&s.Version, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.versionConflict(ctx, "satellites", s.ID)
	}
	return mapWriteError(err)
}

// SetSatellitesEmailVerified sets email_verified on every satellite of a client except excludeID.
func (r *PostgresRepository) SetSatellitesEmailVerified(ctx context.Context, clientID, excludeID int64, verified bool) (int64, error) {
	query := `
		UPDATE satellites
		SET email_verified = $3, version = version + 1, updated_at = NOW()
		WHERE client_id = $1 AND id <> $2 AND email_verified <> $3`
	tag, err := r.db.Exec(ctx, query, clientID, excludeID, verified)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteClient removes a client together with its satellites.
func (r *PostgresRepository) DeleteClient(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM clients WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) InsertHistory(ctx context.Context, e *domain.HistoryEntry) error {
	if e.ActionTime.IsZero() {
		e.ActionTime = time.Now().UTC()
	}
	query := `
		INSERT INTO history_logs (action_time, type, change_message, actor, client_id, additional_info)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	return r.db.QueryRow(ctx, query, e.ActionTime, e.Type, e.ChangeMessage, e.Actor, e.ClientID, e.AdditionalInfo).Scan(&e.ID)
}

func (r *PostgresRepository) ListHistory(ctx context.Context, clientID int64, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, action_time, type, change_message, actor, client_id, additional_info
		FROM history_logs
		WHERE client_id = $1
		ORDER BY action_time DESC, id DESC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.ID, &e.ActionTime, &e.Type, &e.ChangeMessage, &e.Actor, &e.ClientID, &e.AdditionalInfo); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// versionConflict distinguishes a stale version from a missing row after an UPDATE matched nothing.
func (r *PostgresRepository) versionConflict(ctx context.Context, table string, id int64) error {
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", table)
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConcurrentModification
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateUsername
	}
	return err
}

func secondsToDuration(secs *int64) *time.Duration {
	if secs == nil {
		return nil
	}
	d := time.Duration(*secs) * time.Second
	return &d
}

func durationToSeconds(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	secs := int64(*d / time.Second)
	return &secs
}
