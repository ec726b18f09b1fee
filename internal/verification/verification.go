/**
 * @description
 * Package verification interprets identity verification outcomes and decides the
 * blocked status of a Satellite. A satellite blocked before it was ever verified is
 * released by its first approval; one that was already verified when it got blocked
 * stays blocked until support clears it.
 */
package verification

import (
	"time"

	"github.com/harvain/satellite-service/internal/domain"
)

// StatusColour summarises email and document verification.
type StatusColour string

const (
	StatusGreen  StatusColour = "green"
	StatusYellow StatusColour = "yellow"
	StatusRed    StatusColour = "red"
)

// Decision records what ApplyOutcome did. WasBlocked and WasVerified are captured
// before any field is touched.
type Decision struct {
	Outcome       domain.Outcome
	WasBlocked    bool
	WasVerified   bool
	Verified      bool
	AutoUnblocked bool
	VerifiedAt    *time.Time
}

// CanAutoUnblock mirrors the rule used for the webhook response: only meaningful
// for a blocked satellite, true when it had not been verified before.
func (d Decision) CanAutoUnblock() *bool {
	if !d.WasBlocked {
		return nil
	}
	v := !d.WasVerified
	return &v
}

// ApplyOutcome applies a provider outcome to sat. Declined and resubmission
// outcomes leave the satellite untouched.
func ApplyOutcome(sat *domain.Satellite, outcome domain.Outcome, at time.Time) Decision {
	d := Decision{
		Outcome:     outcome,
		WasBlocked:  sat.Blocked,
		WasVerified: sat.DocumentVerified,
	}
	if outcome != domain.OutcomeApproved {
		return d
	}

	d.Verified = true
	if !d.WasVerified || sat.DocumentVerifiedAt == nil {
		stamp := at
		sat.DocumentVerifiedAt = &stamp
	}
	sat.DocumentVerified = true
	d.VerifiedAt = sat.DocumentVerifiedAt

	if d.WasBlocked && !d.WasVerified {
		sat.Blocked = false
		d.AutoUnblocked = true
	}
	return d
}

// Cascade propagates an approval to the owning client and every sibling satellite.
// Sibling blocked flags are never changed. It reports whether the client changed
// and which siblings did.
func Cascade(d Decision, client *domain.Client, siblings []*domain.Satellite) (bool, []*domain.Satellite) {
	if !d.Verified || d.VerifiedAt == nil {
		return false, nil
	}

	clientChanged := false
	if client != nil && (!client.DocumentVerified || client.DocumentVerifiedAt == nil) {
		client.DocumentVerified = true
		client.DocumentVerifiedAt = copyTime(d.VerifiedAt)
		clientChanged = true
	}

	var touched []*domain.Satellite
	for _, sib := range siblings {
		if sib.DocumentVerified && sib.DocumentVerifiedAt != nil {
			continue
		}
		sib.DocumentVerified = true
		sib.DocumentVerifiedAt = copyTime(d.VerifiedAt)
		touched = append(touched, sib)
	}
	return clientChanged, touched
}

// MarkEmailVerified flips email_verified on. It returns false when nothing changed.
func MarkEmailVerified(acc domain.Account) bool {
	base := acc.Base()
	if base.EmailVerified {
		return false
	}
	base.EmailVerified = true
	return true
}

// Status returns green when both checks passed, yellow when one did and red otherwise.
func Status(acc domain.Account) StatusColour {
	base := acc.Base()
	switch {
	case base.EmailVerified && base.DocumentVerified:
		return StatusGreen
	case base.EmailVerified || base.DocumentVerified:
		return StatusYellow
	default:
		return StatusRed
	}
}

// CanAutoUnblock reports whether an approval would release sat.
func CanAutoUnblock(sat *domain.Satellite) bool {
	return sat.Blocked && !sat.DocumentVerified
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
