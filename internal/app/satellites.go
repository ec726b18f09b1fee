package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/store"
)

// SatelliteUpdate is a partial update of a satellite. Nil fields are left unchanged.
// When Version is set the update is rejected unless it matches the stored version.
type SatelliteUpdate struct {
	Version               *int64           `json:"version,omitempty"`
	Username              *string          `json:"username,omitempty"`
	Name                  *string          `json:"name,omitempty"`
	LastName              *string          `json:"last_name,omitempty"`
	Email                 *string          `json:"email,omitempty"`
	Phone                 *string          `json:"phone,omitempty"`
	Country               *string          `json:"country,omitempty"`
	City                  *string          `json:"city,omitempty"`
	Address               *string          `json:"address,omitempty"`
	Born                  *time.Time       `json:"born,omitempty"`
	EmailVerified         *bool            `json:"email_verified,omitempty"`
	DocumentVerified      *bool            `json:"document_verified,omitempty"`
	Blocked               *bool            `json:"blocked,omitempty"`
	InvitationCode        *string          `json:"invitation_code,omitempty"`
	UUID                  *string          `json:"uuid,omitempty"`
	System                *bool            `json:"system,omitempty"`
	BlockBalance          *decimal.Decimal `json:"block_balance,omitempty"`
	ActiveBalance         *decimal.Decimal `json:"active_balance,omitempty"`
	Withdrawal            *decimal.Decimal `json:"withdrawal,omitempty"`
	Deposit               *decimal.Decimal `json:"deposit,omitempty"`
	IntervalSeconds       *int64           `json:"interval_seconds,omitempty"`
	SecondIntervalSeconds *int64           `json:"second_interval_seconds,omitempty"`
	Order                 *int             `json:"order,omitempty"`
}

func (u SatelliteUpdate) apply(sat *domain.Satellite, now time.Time) {
	setString(&sat.Username, u.Username)
	setString(&sat.Name, u.Name)
	setString(&sat.LastName, u.LastName)
	setString(&sat.Email, u.Email)
	setString(&sat.Phone, u.Phone)
	setString(&sat.Country, u.Country)
	setString(&sat.City, u.City)
	setString(&sat.Address, u.Address)
	setString(&sat.InvitationCode, u.InvitationCode)
	setString(&sat.UUID, u.UUID)
	if u.Born != nil {
		born := *u.Born
		sat.Born = &born
	}
	if u.EmailVerified != nil {
		sat.EmailVerified = *u.EmailVerified
	}
	if u.DocumentVerified != nil {
		setDocumentVerified(&sat.AccountBase, *u.DocumentVerified, now)
	}
	if u.Blocked != nil {
		sat.Blocked = *u.Blocked
	}
	if u.System != nil {
		sat.System = *u.System
	}
	if u.BlockBalance != nil {
		sat.BlockBalance = *u.BlockBalance
	}
	if u.ActiveBalance != nil {
		sat.ActiveBalance = *u.ActiveBalance
	}
	if u.Withdrawal != nil {
		sat.Withdrawal = *u.Withdrawal
	}
	if u.Deposit != nil {
		sat.Deposit = decimal.NewNullDecimal(*u.Deposit)
	}
	if u.IntervalSeconds != nil {
		sat.Interval = secondsPtr(*u.IntervalSeconds)
	}
	if u.SecondIntervalSeconds != nil {
		sat.SecondInterval = secondsPtr(*u.SecondIntervalSeconds)
	}
	if u.Order != nil {
		sat.Order = *u.Order
	}
}

// ApplySatelliteUpdate applies a partial update to a satellite and runs the write
// pipeline in one transaction. Lost version races are retried.
func (s *Service) ApplySatelliteUpdate(ctx context.Context, id int64, upd SatelliteUpdate) (*domain.Satellite, error) {
	return s.updateSatellite(ctx, id, upd.Version, func(sat *domain.Satellite) {
		upd.apply(sat, s.now())
	})
}

func (s *Service) updateSatellite(ctx context.Context, id int64, expectedVersion *int64, mutate func(*domain.Satellite)) (*domain.Satellite, error) {
	var saved *domain.Satellite
	err := withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(tx store.Repository) error {
			sat, client, err := lockSatelliteWithClient(ctx, tx, id)
			if err != nil {
				return err
			}
			if expectedVersion != nil && *expectedVersion != sat.Version {
				return domain.ErrConcurrentModification
			}

			prev := sat.Clone()
			mutate(sat)
			if strings.TrimSpace(sat.Username) == "" {
				return fmt.Errorf("%w: username is required", domain.ErrInvalidState)
			}
			if _, err := s.writeSatellite(ctx, tx, prev, sat, client); err != nil {
				return err
			}
			saved = sat
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// CreateSatellite stores a new satellite. A positive opening balance becomes the
// deposit. When the satellite is bound to a client the client total is refreshed.
func (s *Service) CreateSatellite(ctx context.Context, sat *domain.Satellite) (*domain.Satellite, error) {
	return s.createSatellite(ctx, sat)
}

func (s *Service) createSatellite(ctx context.Context, sat *domain.Satellite) (*domain.Satellite, error) {
	sat.Username = strings.TrimSpace(sat.Username)
	if sat.Username == "" {
		return nil, fmt.Errorf("%w: username is required", domain.ErrInvalidState)
	}
	if sat.DocumentVerified && sat.DocumentVerifiedAt == nil {
		setDocumentVerified(&sat.AccountBase, true, s.now())
	}

	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		var client *domain.Client
		if sat.ClientID != nil {
			c, err := tx.LockClient(ctx, *sat.ClientID)
			if err != nil {
				return err
			}
			client = c
		}
		_, err := s.writeSatellite(ctx, tx, nil, sat, client)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sat, nil
}

// replaceSatellite copies every caller-editable field of src onto dst.
func replaceSatellite(dst, src *domain.Satellite) {
	id, version, created, clientID := dst.ID, dst.Version, dst.CreatedAt, dst.ClientID
	*dst = *src.Clone()
	dst.ID, dst.Version, dst.CreatedAt, dst.ClientID = id, version, created, clientID
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setDocumentVerified(base *domain.AccountBase, verified bool, now time.Time) {
	switch {
	case verified && (!base.DocumentVerified || base.DocumentVerifiedAt == nil):
		stamp := now
		base.DocumentVerifiedAt = &stamp
	case !verified:
		base.DocumentVerifiedAt = nil
	}
	base.DocumentVerified = verified
}

func secondsPtr(seconds int64) *time.Duration {
	if seconds <= 0 {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}
