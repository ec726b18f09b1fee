package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/profile"
	"github.com/harvain/satellite-service/internal/store"
	"github.com/harvain/satellite-service/internal/verification"
)

// VerificationResult is what the verification webhook reports back.
type VerificationResult struct {
	SatelliteID            int64                     `json:"satellite_id"`
	Outcome                domain.Outcome            `json:"outcome"`
	VerificationSuccessful bool                      `json:"verification_successful"`
	AutoUnblocked          bool                      `json:"auto_unblocked"`
	UserStatus             verification.StatusColour `json:"user_status,omitempty"`
	Blocked                *bool                     `json:"blocked,omitempty"`
	CanAutoUnblock         *bool                     `json:"can_auto_unblock,omitempty"`
}

// VerificationStatusView summarizes a satellite's verification state.
type VerificationStatusView struct {
	SatelliteID      int64                     `json:"satellite_id"`
	Status           verification.StatusColour `json:"status"`
	EmailVerified    bool                      `json:"email_verified"`
	DocumentVerified bool                      `json:"document_verified"`
	Blocked          bool                      `json:"blocked"`
	CanAutoUnblock   bool                      `json:"can_auto_unblock"`
	SyncedFields     []string                  `json:"synced_fields,omitempty"`
}

// HandleVerification applies a provider outcome to a satellite and cascades an
// approval to its client and sibling satellites. Redelivered outcomes are no-ops
// apart from re-reporting the result.
func (s *Service) HandleVerification(ctx context.Context, satelliteID int64, outcome domain.Outcome, occurredAt time.Time) (VerificationResult, error) {
	var (
		result   VerificationResult
		clientID *int64
	)
	err := withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(tx store.Repository) error {
			sat, client, err := lockSatelliteWithClient(ctx, tx, satelliteID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%w: verification for unknown satellite %d: %w", domain.ErrInvalidState, satelliteID, err)
				}
				return err
			}

			d := verification.ApplyOutcome(sat, outcome, s.now())
			result = VerificationResult{
				SatelliteID:            sat.ID,
				Outcome:                outcome,
				VerificationSuccessful: d.Verified,
				AutoUnblocked:          d.AutoUnblocked,
				CanAutoUnblock:         d.CanAutoUnblock(),
			}
			clientID = sat.ClientID
			if !d.Verified {
				return nil
			}

			status := verification.Status(sat)
			blocked := sat.Blocked
			result.UserStatus = status
			result.Blocked = &blocked

			if err := tx.SaveSatellite(ctx, sat); err != nil {
				return err
			}
			if client == nil {
				return nil
			}

			all, err := tx.ListSatellitesByClient(ctx, client.ID)
			if err != nil {
				return fmt.Errorf("list client satellites: %w", err)
			}
			siblings := make([]*domain.Satellite, 0, len(all))
			for _, sib := range all {
				if sib.ID != sat.ID {
					siblings = append(siblings, sib)
				}
			}

			clientChanged, touched := verification.Cascade(d, client, siblings)
			for _, sib := range touched {
				if err := tx.SaveSatellite(ctx, sib); err != nil {
					return fmt.Errorf("save sibling %d: %w", sib.ID, err)
				}
			}
			if clientChanged {
				return tx.SaveClient(ctx, client)
			}
			return nil
		})
	})
	if err != nil {
		return VerificationResult{}, err
	}

	s.logger.Info("verification outcome applied",
		"satellite_id", satelliteID,
		"outcome", outcome,
		"verified", result.VerificationSuccessful,
		"auto_unblocked", result.AutoUnblocked,
		"occurred_at", occurredAt,
	)
	s.publish(ctx, domain.RoutingVerificationProcessed, domain.VerificationProcessedEvent{
		SatelliteID:   satelliteID,
		ClientID:      clientID,
		Outcome:       outcome,
		Verified:      result.VerificationSuccessful,
		AutoUnblocked: result.AutoUnblocked,
		ProcessedAt:   s.now(),
	})
	return result, nil
}

// VerificationStatus reports a satellite's verification colour. Reading the status
// first fills empty client fields from the satellite.
func (s *Service) VerificationStatus(ctx context.Context, satelliteID int64) (VerificationStatusView, error) {
	var view VerificationStatusView
	err := withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(tx store.Repository) error {
			sat, client, err := lockSatelliteWithClient(ctx, tx, satelliteID)
			if err != nil {
				return err
			}
			view = VerificationStatusView{
				SatelliteID:      sat.ID,
				Status:           verification.Status(sat),
				EmailVerified:    sat.EmailVerified,
				DocumentVerified: sat.DocumentVerified,
				Blocked:          sat.Blocked,
				CanAutoUnblock:   verification.CanAutoUnblock(sat),
			}
			if client == nil {
				return nil
			}
			view.SyncedFields = profile.FillMissing(sat, client, false)
			if len(view.SyncedFields) == 0 {
				return nil
			}
			return tx.SaveClient(ctx, client)
		})
	})
	return view, err
}

// IssueEmailVerification creates an activation token for the satellite's email and
// publishes it for delivery.
func (s *Service) IssueEmailVerification(ctx context.Context, satelliteID int64) (string, error) {
	if s.tokens == nil {
		return "", errors.New("email verification is not configured")
	}
	sat, err := s.repo.GetSatellite(ctx, satelliteID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(sat.Email) == "" {
		return "", fmt.Errorf("%w: satellite %d has no email", domain.ErrInvalidState, satelliteID)
	}

	token, expires, err := s.tokens.Issue(sat.ID, sat.Email)
	if err != nil {
		return "", err
	}
	s.publish(ctx, domain.RoutingEmailVerificationRequest, domain.EmailVerificationRequestedEvent{
		SatelliteID: sat.ID,
		Email:       sat.Email,
		Token:       token,
		ExpiresAt:   expires,
	})
	return token, nil
}

// VerifyEmail consumes an activation token. The satellite, its client and every
// sibling satellite are marked email-verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*domain.Satellite, error) {
	if s.tokens == nil {
		return nil, errors.New("email verification is not configured")
	}
	satelliteID, email, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	var saved *domain.Satellite
	err = withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(tx store.Repository) error {
			sat, client, err := lockSatelliteWithClient(ctx, tx, satelliteID)
			if err != nil {
				return err
			}
			if domain.NormalizeEmail(sat.Email) != email {
				return fmt.Errorf("%w: email changed since the token was issued", domain.ErrInvalidToken)
			}

			if verification.MarkEmailVerified(sat) {
				if err := tx.SaveSatellite(ctx, sat); err != nil {
					return err
				}
			}
			saved = sat
			if client == nil {
				return nil
			}
			if verification.MarkEmailVerified(client) {
				if err := tx.SaveClient(ctx, client); err != nil {
					return err
				}
			}
			_, err = tx.SetSatellitesEmailVerified(ctx, client.ID, sat.ID, true)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}
