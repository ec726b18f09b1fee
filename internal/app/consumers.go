/**
 * @description
 * Event handler for verification outcomes delivered through RabbitMQ. The same
 * outcome may be delivered more than once; applying it again is harmless.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/harvain/satellite-service/internal/domain"
)

// VerificationApplier applies a verification outcome to a satellite.
type VerificationApplier interface {
	HandleVerification(ctx context.Context, satelliteID int64, outcome domain.Outcome, occurredAt time.Time) (VerificationResult, error)
}

// VerificationEventHandler handles verification.outcome messages.
type VerificationEventHandler struct {
	service VerificationApplier
	logger  *slog.Logger
}

func NewVerificationEventHandler(service VerificationApplier, logger *slog.Logger) *VerificationEventHandler {
	return &VerificationEventHandler{service: service, logger: logger}
}

// HandleVerificationOutcome processes one message. It returns true when the message
// should be acknowledged and false when it should be requeued.
func (h *VerificationEventHandler) HandleVerificationOutcome(body []byte) bool {
	var event domain.VerificationOutcomeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to unmarshal verification outcome", "error", err)
		return true
	}
	if event.SatelliteID <= 0 {
		h.logger.Error("verification outcome without satellite id")
		return true
	}

	outcome, err := domain.ParseOutcome(event.Status)
	if err != nil {
		h.logger.Error("unknown verification outcome", "satellite_id", event.SatelliteID, "status", event.Status)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := h.service.HandleVerification(ctx, event.SatelliteID, outcome, event.OccurredAt)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.logger.Warn("verification outcome for unknown satellite", "satellite_id", event.SatelliteID)
		return true
	case err != nil:
		h.logger.Error("failed to apply verification outcome", "satellite_id", event.SatelliteID, "error", err)
		return false
	}

	h.logger.Info("processed verification outcome",
		"satellite_id", event.SatelliteID,
		"outcome", outcome,
		"auto_unblocked", res.AutoUnblocked,
	)
	return true
}
