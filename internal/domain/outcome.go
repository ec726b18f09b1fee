package domain

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the result reported by the identity verification provider.
type Outcome string

const (
	OutcomeApproved              Outcome = "approved"
	OutcomeDeclined              Outcome = "declined"
	OutcomeResubmissionRequested Outcome = "resubmission_requested"
)

// ParseOutcome accepts the provider's status strings.
func ParseOutcome(raw string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "success":
		return OutcomeApproved, nil
	case "declined":
		return OutcomeDeclined, nil
	case "resubmission_requested", "resubmission-requested", "resubmission":
		return OutcomeResubmissionRequested, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, raw)
	}
}

// VerificationOutcomeEvent is the broker message carrying a verification outcome.
type VerificationOutcomeEvent struct {
	SatelliteID int64     `json:"satellite_id"`
	Status      string    `json:"status"`
	Code        int       `json:"code,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
