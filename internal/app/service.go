/**
 * @description
 * This file contains the core application service of the satellite-service. Every
 * mutation of a Client or Satellite enters through one use-case function that runs
 * a fixed sequence of reconciliation steps inside a single database transaction:
 *
 *   1. lock the owning client row, then the satellite row
 *   2. apply the requested change to a copy of the stored record
 *   3. ledger: deposit detection and stage stamps
 *   4. profile: push changed fields to the client
 *   5. growth projection for system satellites whose deposit changed
 *   6. persist the satellite and its history entries
 *   7. email-reset cascade and client total recomputation
 *
 * Events are published only after the transaction commits.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/harvain/satellite-service/internal/config"
	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/ledger"
	"github.com/harvain/satellite-service/internal/profile"
	"github.com/harvain/satellite-service/internal/store"
)

const maxWriteAttempts = 3

// EventPublisher publishes domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error
}

// Service implements the account use cases.
type Service struct {
	repo       store.Repository
	publisher  EventPublisher
	exchange   string
	tokens     *EmailTokens
	commission decimal.Decimal
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates the account service. publisher may be nil, in which case no
// events are emitted. Email verification is disabled when cfg.SecretKey is empty.
func NewService(repo store.Repository, publisher EventPublisher, logger *slog.Logger, cfg config.Config) *Service {
	s := &Service{
		repo:       repo,
		publisher:  publisher,
		exchange:   cfg.SatelliteEventsExchange,
		commission: decimal.RequireFromString("0.00025"),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if cfg.DefaultCommission != "" {
		if c, err := decimal.NewFromString(cfg.DefaultCommission); err == nil {
			s.commission = c
		}
	}
	if cfg.SecretKey != "" {
		tokens, err := NewEmailTokens(cfg.SecretKey, cfg.EmailTokenTTL())
		if err != nil {
			logger.Error("email verification disabled", "error", err)
		} else {
			s.tokens = tokens
		}
	}
	return s
}

// GetClient returns a client by id.
func (s *Service) GetClient(ctx context.Context, id int64) (*domain.Client, error) {
	return s.repo.GetClient(ctx, id)
}

// GetSatellite returns a satellite by id.
func (s *Service) GetSatellite(ctx context.Context, id int64) (*domain.Satellite, error) {
	return s.repo.GetSatellite(ctx, id)
}

// ListClientSatellites returns the satellites bound to a client.
func (s *Service) ListClientSatellites(ctx context.Context, clientID int64) ([]*domain.Satellite, error) {
	if _, err := s.repo.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.repo.ListSatellitesByClient(ctx, clientID)
}

// ListHistory returns the most recent audit entries of a client.
func (s *Service) ListHistory(ctx context.Context, clientID int64, limit int) ([]domain.HistoryEntry, error) {
	return s.repo.ListHistory(ctx, clientID, limit)
}

// LoadAccount resolves an account of the given kind.
func (s *Service) LoadAccount(ctx context.Context, kind domain.AccountKind, id int64) (domain.Account, error) {
	switch kind {
	case domain.KindClient:
		return s.repo.GetClient(ctx, id)
	case domain.KindSatellite:
		return s.repo.GetSatellite(ctx, id)
	default:
		return nil, fmt.Errorf("%w: unknown account kind %q", domain.ErrInvalidState, kind)
	}
}

// OnProfileWrite persists next as the successor of old through the pipeline of its
// kind. old is nil for a new record; otherwise its version must still be current.
func (s *Service) OnProfileWrite(ctx context.Context, old, next domain.Account) (domain.Account, error) {
	if old != nil && old.Kind() != next.Kind() {
		return nil, fmt.Errorf("%w: cannot change account kind", domain.ErrInvalidState)
	}

	switch acc := next.(type) {
	case *domain.Satellite:
		var (
			sat *domain.Satellite
			err error
		)
		if old == nil {
			sat, err = s.createSatellite(ctx, acc.Clone())
		} else {
			version := old.Base().Version
			sat, err = s.updateSatellite(ctx, old.Base().ID, &version, func(stored *domain.Satellite) {
				replaceSatellite(stored, acc)
			})
		}
		if err != nil {
			return nil, err
		}
		return sat, nil
	case *domain.Client:
		if old == nil {
			res, err := s.CreateClient(ctx, newClientFrom(acc))
			if err != nil {
				return nil, err
			}
			return res.Client, nil
		}
		version := old.Base().Version
		client, err := s.updateClient(ctx, old.Base().ID, &version, func(stored *domain.Client) {
			replaceClient(stored, acc)
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unsupported account type %T", domain.ErrInvalidState, next)
	}
}

// lockSatelliteWithClient locks the satellite's client before the satellite so that
// every writer acquires row locks in the same order.
func lockSatelliteWithClient(ctx context.Context, tx store.Repository, id int64) (*domain.Satellite, *domain.Client, error) {
	peek, err := tx.GetSatellite(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	var client *domain.Client
	if peek.ClientID != nil {
		client, err = tx.LockClient(ctx, *peek.ClientID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, nil, domain.ErrConcurrentModification
			}
			return nil, nil, err
		}
	}

	sat, err := tx.LockSatellite(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !sameClientID(peek.ClientID, sat.ClientID) {
		return nil, nil, domain.ErrConcurrentModification
	}
	return sat, client, nil
}

// satelliteWrite reports what the pipeline derived for one satellite write.
type satelliteWrite struct {
	ledger    ledger.Result
	profile   profile.Changes
	projected bool
}

// writeSatellite runs next through the reconciliation pipeline and persists it.
// prev is the stored state (nil on creation); client is the locked owner, if any.
func (s *Service) writeSatellite(ctx context.Context, tx store.Repository, prev, next *domain.Satellite, client *domain.Client) (satelliteWrite, error) {
	var w satelliteWrite
	now := s.now()

	var old *ledger.Balances
	if prev != nil {
		b := balancesOf(prev)
		old = &b
	}
	w.ledger = ledger.Reconcile(old, stateOf(next), now)
	applyLedger(next, w.ledger)

	if prev != nil && client != nil {
		w.profile = profile.SyncSatelliteToClient(prev, next, client)
	}

	if prev != nil && next.System && client != nil && client.HasGrowthParameters() &&
		next.Deposit.Valid && !ledger.SameDeposit(prev.Deposit, next.Deposit) {
		amount := ledger.ProjectGrowth(next.Deposit.Decimal, client.Shoulder.Decimal, client.GrowthRate.Decimal, client.Commission)
		setBalances(next, ledger.ApplyProjection(balancesOf(next), amount))
		w.projected = true
	}

	var err error
	if prev == nil {
		err = tx.CreateSatellite(ctx, next)
	} else {
		err = tx.SaveSatellite(ctx, next)
	}
	if err != nil {
		return w, err
	}

	if prev != nil {
		kind := domain.HistorySatelliteBalanceChange
		if w.ledger.Transition != ledger.TransitionNone {
			kind = domain.HistoryBalanceMigration
		}
		for _, entry := range satelliteHistory(ctx, prev, next, now, kind) {
			entry := entry
			if err := tx.InsertHistory(ctx, &entry); err != nil {
				return w, fmt.Errorf("record history: %w", err)
			}
		}
	}

	if client == nil {
		return w, nil
	}
	if w.profile.EmailReset {
		if _, err := tx.SetSatellitesEmailVerified(ctx, client.ID, next.ID, false); err != nil {
			return w, fmt.Errorf("reset sibling email verification: %w", err)
		}
	}
	if err := refreshClientTotal(ctx, tx, client, !w.profile.Empty()); err != nil {
		return w, err
	}
	return w, nil
}

// refreshClientTotal recomputes the client's total from all of its satellites and
// saves the client when the total moved or dirty is set.
func refreshClientTotal(ctx context.Context, tx store.Repository, client *domain.Client, dirty bool) error {
	sats, err := tx.ListSatellitesByClient(ctx, client.ID)
	if err != nil {
		return fmt.Errorf("list client satellites: %w", err)
	}
	blocks := make([]decimal.Decimal, 0, len(sats))
	for _, sat := range sats {
		blocks = append(blocks, sat.BlockBalance)
	}

	total := ledger.ClientTotal(blocks)
	if !dirty && total.Equal(client.TotalBalance) {
		return nil
	}
	client.TotalBalance = total
	return tx.SaveClient(ctx, client)
}

func (s *Service) publish(ctx context.Context, routingKey string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, s.exchange, routingKey, payload); err != nil {
		s.logger.Error("failed to publish event", "routing_key", routingKey, "error", err)
	}
}

// withRetry re-runs a single-record operation when it lost an optimistic version race.
func withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(maxWriteAttempts-1, retry.WithJitter(5*time.Millisecond, retry.NewExponential(10*time.Millisecond)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if errors.Is(err, domain.ErrConcurrentModification) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func balancesOf(s *domain.Satellite) ledger.Balances {
	return ledger.Balances{Block: s.BlockBalance, Active: s.ActiveBalance, Withdrawal: s.Withdrawal}
}

func setBalances(s *domain.Satellite, b ledger.Balances) {
	s.BlockBalance = b.Block
	s.ActiveBalance = b.Active
	s.Withdrawal = b.Withdrawal
}

func stateOf(s *domain.Satellite) ledger.State {
	return ledger.State{
		Balances:            balancesOf(s),
		Deposit:             s.Deposit,
		DepositTime:         s.DepositTime,
		MigrationTime:       s.MigrationTime,
		SecondMigrationTime: s.SecondMigrationTime,
	}
}

func applyLedger(s *domain.Satellite, res ledger.Result) {
	setBalances(s, res.Balances)
	s.Deposit = res.Deposit
	s.DepositTime = res.DepositTime
	s.MigrationTime = res.MigrationTime
	s.SecondMigrationTime = res.SecondMigrationTime
}

func sameBalances(a, b ledger.Balances) bool {
	return a.Block.Equal(b.Block) && a.Active.Equal(b.Active) && a.Withdrawal.Equal(b.Withdrawal)
}

func sameClientID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
