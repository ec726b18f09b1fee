/**
 * @description
 * Event payloads published to the satellite_events exchange.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Routing keys.
const (
	RoutingBalanceMigrated          = "satellite.balance.migrated"
	RoutingVerificationProcessed    = "satellite.verification.processed"
	RoutingEmailVerificationRequest = "satellite.email.verification_requested"
	RoutingClientCreated            = "client.created"
	RoutingVerificationOutcome      = "verification.outcome"
)

// Migration stages reported in BalanceMigratedEvent.
const (
	StageBlockToActive      = "block_to_active"
	StageActiveToWithdrawal = "active_to_withdrawal"
)

// BalanceMigratedEvent is published after a scheduled stage transition.
type BalanceMigratedEvent struct {
	SatelliteID int64           `json:"satellite_id"`
	ClientID    int64           `json:"client_id"`
	UUID        string          `json:"uuid"`
	Stage       string          `json:"stage"`
	Amount      decimal.Decimal `json:"amount"`
	MigratedAt  time.Time       `json:"migrated_at"`
}

// VerificationProcessedEvent is published after a verification outcome is applied.
type VerificationProcessedEvent struct {
	SatelliteID   int64     `json:"satellite_id"`
	ClientID      *int64    `json:"client_id,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	Verified      bool      `json:"verified"`
	AutoUnblocked bool      `json:"auto_unblocked"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// EmailVerificationRequestedEvent carries the activation token for the mailer.
type EmailVerificationRequestedEvent struct {
	SatelliteID int64     `json:"satellite_id"`
	Email       string    `json:"email"`
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ClientCreatedEvent is published once the client and its cloned satellites are stored.
type ClientCreatedEvent struct {
	ClientID     int64   `json:"client_id"`
	Username     string  `json:"username"`
	SatelliteIDs []int64 `json:"satellite_ids"`
}
