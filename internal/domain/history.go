package domain

import (
	"context"
	"time"
)

// History entry types.
const (
	HistorySatelliteIDChange      = "satellite id change"
	HistorySatelliteLoginChange   = "satellite login change"
	HistorySatelliteBalanceChange = "satellite balance change"
	HistoryBalanceMigration       = "balance migration"
	HistoryClientRemoval          = "client removal"
)

// SystemActor is recorded when no operator is attached to the context.
const SystemActor = "system"

// HistoryEntry is an audit record of an account mutation.
type HistoryEntry struct {
	ID             int64     `json:"id"`
	ActionTime     time.Time `json:"action_time"`
	Type           string    `json:"type"`
	ChangeMessage  string    `json:"change_message"`
	Actor          string    `json:"actor"`
	ClientID       *int64    `json:"client_id,omitempty"`
	AdditionalInfo string    `json:"additional_info,omitempty"`
}

type actorKey struct{}

// WithActor attaches the operator responsible for the mutations made with ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the operator attached to ctx, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}
