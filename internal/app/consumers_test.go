package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/harvain/satellite-service/internal/domain"
)

type verificationApplierStub struct {
	err     error
	calls   int
	outcome domain.Outcome
	id      int64
}

func (s *verificationApplierStub) HandleVerification(ctx context.Context, id int64, outcome domain.Outcome, occurredAt time.Time) (VerificationResult, error) {
	s.calls++
	s.id = id
	s.outcome = outcome
	return VerificationResult{SatelliteID: id, Outcome: outcome}, s.err
}

func TestHandleVerificationOutcome(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		err       error
		wantAck   bool
		wantCalls int
	}{
		{"malformed json", `{"satellite_id":`, nil, true, 0},
		{"missing satellite id", `{"status":"approved"}`, nil, true, 0},
		{"unknown status", `{"satellite_id":1,"status":"maybe"}`, nil, true, 0},
		{"applied", `{"satellite_id":1,"status":"success"}`, nil, true, 1},
		{"unknown satellite", `{"satellite_id":1,"status":"approved"}`, fmt.Errorf("%w: %w", domain.ErrInvalidState, domain.ErrNotFound), true, 1},
		{"transient failure", `{"satellite_id":1,"status":"declined"}`, errors.New("connection reset"), false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &verificationApplierStub{err: tt.err}
			handler := NewVerificationEventHandler(stub, testLogger())

			if ack := handler.HandleVerificationOutcome([]byte(tt.body)); ack != tt.wantAck {
				t.Fatalf("expected ack=%t, got %t", tt.wantAck, ack)
			}
			if stub.calls != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, stub.calls)
			}
		})
	}
}

func TestHandleVerificationOutcome_ParsesProviderStatus(t *testing.T) {
	stub := &verificationApplierStub{}
	handler := NewVerificationEventHandler(stub, testLogger())

	handler.HandleVerificationOutcome([]byte(`{"satellite_id":42,"status":"success","occurred_at":"2025-03-01T12:00:00Z"}`))

	if stub.id != 42 || stub.outcome != domain.OutcomeApproved {
		t.Fatalf("expected approved outcome for 42, got %s for %d", stub.outcome, stub.id)
	}
}
