package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/store"
)

type migrationStep int

const (
	stepBootstrap migrationStep = iota
	stepActiveToWithdrawal
	stepBlockToActive
)

// sweepOrder runs the second stage before the first so that funds advance at most
// one stage per sweep.
var sweepOrder = []migrationStep{stepBootstrap, stepActiveToWithdrawal, stepBlockToActive}

// MigrationOutcome reports what one sweep did to a satellite.
type MigrationOutcome struct {
	Bootstrapped       bool
	BlockToActive      decimal.NullDecimal
	ActiveToWithdrawal decimal.NullDecimal
}

// Moved reports whether any stage transition fired.
func (o MigrationOutcome) Moved() bool {
	return o.BlockToActive.Valid || o.ActiveToWithdrawal.Valid
}

// applyMigrationStep advances sat by one step if its timer has elapsed. It returns
// the moved amount and whether anything was written.
func applyMigrationStep(sat *domain.Satellite, step migrationStep, now time.Time) (decimal.Decimal, bool) {
	switch step {
	case stepBootstrap:
		changed := false
		if sat.SecondInterval == nil && sat.Interval != nil {
			// A freshly derived second interval always restarts the withdrawal wait.
			d := *sat.Interval
			sat.SecondInterval = &d
			sat.SecondMigrationTime = timePtr(now)
			changed = true
		} else if sat.SecondInterval != nil && sat.SecondMigrationTime == nil {
			sat.SecondMigrationTime = timePtr(now)
			changed = true
		}
		if sat.Interval != nil && sat.MigrationTime == nil {
			sat.MigrationTime = timePtr(now)
			changed = true
		}
		return decimal.Zero, changed

	case stepActiveToWithdrawal:
		if !due(sat.SecondMigrationTime, sat.SecondInterval, now) {
			return decimal.Zero, false
		}
		moved := sat.ActiveBalance
		if !moved.IsZero() {
			sat.Withdrawal = sat.Withdrawal.Add(moved)
			sat.ActiveBalance = decimal.Zero
		}
		sat.SecondMigrationTime = timePtr(now)
		return moved, true

	case stepBlockToActive:
		if !due(sat.MigrationTime, sat.Interval, now) {
			return decimal.Zero, false
		}
		moved := sat.BlockBalance
		if !moved.IsZero() {
			sat.ActiveBalance = sat.ActiveBalance.Add(moved)
			sat.BlockBalance = decimal.Zero
		}
		sat.MigrationTime = timePtr(now)
		return moved, true
	}
	return decimal.Zero, false
}

func due(last *time.Time, interval *time.Duration, now time.Time) bool {
	if last == nil || interval == nil {
		return false
	}
	return !now.Before(last.Add(*interval))
}

// MigrateSatellite runs one sweep over a satellite. Every step re-reads and locks
// the row and commits on its own, so a concurrent sweep sees the new stamps and
// skips the satellite.
func (s *Service) MigrateSatellite(ctx context.Context, satelliteID int64) (MigrationOutcome, error) {
	var out MigrationOutcome
	now := s.now()

	for _, step := range sweepOrder {
		var (
			moved   decimal.Decimal
			applied bool
			event   *domain.BalanceMigratedEvent
		)
		err := withRetry(ctx, func() error {
			return s.repo.WithTx(ctx, func(tx store.Repository) error {
				sat, client, err := lockSatelliteWithClient(ctx, tx, satelliteID)
				if err != nil {
					return err
				}
				if !sat.System || client == nil {
					applied = false
					return nil
				}

				prev := sat.Clone()
				moved, applied = applyMigrationStep(sat, step, now)
				if !applied {
					return nil
				}
				if _, err := s.writeSatellite(ctx, tx, prev, sat, client); err != nil {
					return err
				}

				event = nil
				if step != stepBootstrap && moved.IsPositive() {
					stage := domain.StageBlockToActive
					if step == stepActiveToWithdrawal {
						stage = domain.StageActiveToWithdrawal
					}
					event = &domain.BalanceMigratedEvent{
						SatelliteID: sat.ID,
						ClientID:    client.ID,
						UUID:        sat.UUID,
						Stage:       stage,
						Amount:      moved,
						MigratedAt:  now,
					}
				}
				return nil
			})
		})
		if err != nil {
			return out, err
		}
		if !applied {
			continue
		}

		switch step {
		case stepBootstrap:
			out.Bootstrapped = true
		case stepActiveToWithdrawal:
			out.ActiveToWithdrawal = decimal.NewNullDecimal(moved)
		case stepBlockToActive:
			out.BlockToActive = decimal.NewNullDecimal(moved)
		}
		if event != nil {
			s.publish(ctx, domain.RoutingBalanceMigrated, *event)
		}
	}
	return out, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
