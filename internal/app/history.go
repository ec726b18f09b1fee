package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harvain/satellite-service/internal/domain"
)

// satelliteHistory builds the audit entries for a satellite write: uuid, login and
// balance changes each get their own entry. balanceKind is the entry type used for
// the balance lines.
func satelliteHistory(ctx context.Context, prev, next *domain.Satellite, now time.Time, balanceKind string) []domain.HistoryEntry {
	actor := domain.ActorFrom(ctx)
	header := fmt.Sprintf("satellite %d:\n", next.ID)

	var entries []domain.HistoryEntry
	add := func(kind, msg string) {
		entries = append(entries, domain.HistoryEntry{
			ActionTime:    now,
			Type:          kind,
			ChangeMessage: header + msg,
			Actor:         actor,
			ClientID:      next.ClientID,
		})
	}

	if prev.UUID != next.UUID {
		add(domain.HistorySatelliteIDChange, fmt.Sprintf("uuid change '%s' -> '%s'", prev.UUID, next.UUID))
	}
	if prev.Username != next.Username {
		add(domain.HistorySatelliteLoginChange, fmt.Sprintf("login change '%s' -> '%s'", prev.Username, next.Username))
	}

	var lines []string
	if !prev.BlockBalance.Equal(next.BlockBalance) {
		lines = append(lines, fmt.Sprintf("block balance %s -> %s", prev.BlockBalance, next.BlockBalance))
	}
	if !prev.ActiveBalance.Equal(next.ActiveBalance) {
		lines = append(lines, fmt.Sprintf("active balance %s -> %s", prev.ActiveBalance, next.ActiveBalance))
	}
	if !prev.Withdrawal.Equal(next.Withdrawal) {
		lines = append(lines, fmt.Sprintf("withdrawal %s -> %s", prev.Withdrawal, next.Withdrawal))
	}
	if len(lines) > 0 {
		add(balanceKind, strings.Join(lines, "\n"))
	}
	return entries
}
