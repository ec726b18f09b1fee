/**
 * @description
 * Package profile keeps profile and verification fields consistent between a Client
 * and the Satellites bound to it. Three policies exist side by side and are kept
 * deliberately separate:
 *   - SyncSatelliteToClient pushes only the fields a satellite write actually changed.
 *   - FillMissing copies satellite values onto a client only where the client has none.
 *   - AggressiveOverwriteSync overwrites every client field the satellite has a value for.
 * The functions mutate the structs they are given and report what changed; callers persist.
 */
package profile

import (
	"fmt"
	"time"

	"github.com/harvain/satellite-service/internal/domain"
)

type textField struct {
	name string
	ref  func(p *domain.Profile) *string
}

// contactFields are the plain text profile fields, email excluded.
var contactFields = []textField{
	{"name", func(p *domain.Profile) *string { return &p.Name }},
	{"last_name", func(p *domain.Profile) *string { return &p.LastName }},
	{"phone", func(p *domain.Profile) *string { return &p.Phone }},
	{"country", func(p *domain.Profile) *string { return &p.Country }},
	{"city", func(p *domain.Profile) *string { return &p.City }},
	{"address", func(p *domain.Profile) *string { return &p.Address }},
}

var emailField = textField{"email", func(p *domain.Profile) *string { return &p.Email }}

// Changes describes what a satellite write pushed onto its client.
type Changes struct {
	Fields []string
	// EmailReset is set when the email really changed; the client and every
	// sibling satellite must drop email_verified.
	EmailReset bool
}

// Empty reports whether the client needs to be persisted.
func (c Changes) Empty() bool {
	return len(c.Fields) == 0 && !c.EmailReset
}

// EmailChanged reports whether two addresses differ after normalization and both are set.
// Empty-to-value and case-only edits do not count.
func EmailChanged(before, after string) bool {
	b := domain.NormalizeEmail(before)
	a := domain.NormalizeEmail(after)
	return b != "" && a != "" && b != a
}

// SyncSatelliteToClient pushes every profile field that differs between the
// satellite's stored state (prev) and its proposed state (next) onto client.
func SyncSatelliteToClient(prev, next *domain.Satellite, client *domain.Client) Changes {
	var ch Changes
	if prev == nil || next == nil || client == nil {
		return ch
	}

	for _, f := range contactFields {
		after := *f.ref(&next.Profile)
		if *f.ref(&prev.Profile) != after {
			*f.ref(&client.Profile) = after
			ch.Fields = append(ch.Fields, f.name)
		}
	}
	if !sameDate(prev.Born, next.Born) {
		client.Born = copyTime(next.Born)
		ch.Fields = append(ch.Fields, "born")
	}

	switch {
	case EmailChanged(prev.Email, next.Email):
		client.Email = next.Email
		client.EmailVerified = false
		next.EmailVerified = false
		ch.EmailReset = true
		ch.Fields = append(ch.Fields, "email", "email_verified")
	case prev.Email != next.Email:
		client.Email = next.Email
		ch.Fields = append(ch.Fields, "email")
	}

	return ch
}

// SyncClientToSatellites applies a client write to its satellites: an email change
// resets email verification everywhere, and changed verification flags are pushed
// onto every satellite. It returns the satellites that were modified.
func SyncClientToSatellites(prev, next *domain.Client, sats []*domain.Satellite) []*domain.Satellite {
	if prev == nil || next == nil {
		return nil
	}

	emailReset := EmailChanged(prev.Email, next.Email)
	if emailReset {
		next.EmailVerified = false
	}
	pushEmail := prev.EmailVerified != next.EmailVerified
	pushDocument := prev.DocumentVerified != next.DocumentVerified

	var touched []*domain.Satellite
	for _, sat := range sats {
		changed := false
		if (emailReset || pushEmail) && sat.EmailVerified != next.EmailVerified {
			sat.EmailVerified = next.EmailVerified
			changed = true
		}
		if pushDocument {
			sat.DocumentVerified = next.DocumentVerified
			sat.DocumentVerifiedAt = copyTime(next.DocumentVerifiedAt)
			changed = true
		}
		if changed {
			touched = append(touched, sat)
		}
	}
	return touched
}

// PushVerificationToSatellite copies the client's verification flags onto one satellite.
func PushVerificationToSatellite(client *domain.Client, sat *domain.Satellite) []string {
	var changes []string
	if client.EmailVerified != sat.EmailVerified {
		changes = append(changes, fmt.Sprintf("email_verified: %t -> %t", sat.EmailVerified, client.EmailVerified))
		sat.EmailVerified = client.EmailVerified
	}
	if client.DocumentVerified != sat.DocumentVerified {
		changes = append(changes, fmt.Sprintf("document_verified: %t -> %t", sat.DocumentVerified, client.DocumentVerified))
		sat.DocumentVerified = client.DocumentVerified
		sat.DocumentVerifiedAt = copyTime(client.DocumentVerifiedAt)
	}
	return changes
}

// AggressiveOverwriteSync overwrites client fields with every non-empty satellite
// value that differs, regardless of what the client already holds. Verification
// flags are always taken from the satellite. Used only by the batch startup sync.
func AggressiveOverwriteSync(sat *domain.Satellite, client *domain.Client) []string {
	var changes []string

	fields := append([]textField{contactFields[0], contactFields[1], emailField}, contactFields[2:]...)
	for _, f := range fields {
		src := *f.ref(&sat.Profile)
		dst := f.ref(&client.Profile)
		if src != "" && src != *dst {
			changes = append(changes, fmt.Sprintf("%s: '%s' -> '%s'", f.name, *dst, src))
			*dst = src
		}
	}
	if sat.Born != nil && !sameDate(sat.Born, client.Born) {
		changes = append(changes, fmt.Sprintf("born: '%s' -> '%s'", formatDate(client.Born), formatDate(sat.Born)))
		client.Born = copyTime(sat.Born)
	}

	if sat.EmailVerified != client.EmailVerified {
		changes = append(changes, fmt.Sprintf("email_verified: %t -> %t", client.EmailVerified, sat.EmailVerified))
		client.EmailVerified = sat.EmailVerified
	}
	if sat.DocumentVerified != client.DocumentVerified {
		changes = append(changes, fmt.Sprintf("document_verified: %t -> %t", client.DocumentVerified, sat.DocumentVerified))
		client.DocumentVerified = sat.DocumentVerified
		switch {
		case sat.DocumentVerified && sat.DocumentVerifiedAt != nil:
			client.DocumentVerifiedAt = copyTime(sat.DocumentVerifiedAt)
		case !sat.DocumentVerified:
			client.DocumentVerifiedAt = nil
		}
	}

	return changes
}

// FillMissing copies satellite values onto client fields that are empty. With
// force set it behaves like an overwrite for every non-empty satellite value.
// Verification flags are only ever raised, never cleared.
func FillMissing(sat *domain.Satellite, client *domain.Client, force bool) []string {
	var changes []string

	fields := append([]textField{emailField}, contactFields...)
	for _, f := range fields {
		src := *f.ref(&sat.Profile)
		dst := f.ref(&client.Profile)
		if src != "" && (*dst == "" || force) && src != *dst {
			*dst = src
			changes = append(changes, f.name)
		}
	}
	if sat.Born != nil && (client.Born == nil || force) && !sameDate(sat.Born, client.Born) {
		client.Born = copyTime(sat.Born)
		changes = append(changes, "born")
	}

	if sat.EmailVerified && !client.EmailVerified {
		client.EmailVerified = true
		changes = append(changes, "email_verified")
	}
	if sat.DocumentVerified && !client.DocumentVerified {
		client.DocumentVerified = true
		client.DocumentVerifiedAt = copyTime(sat.DocumentVerifiedAt)
		changes = append(changes, "document_verified")
	}

	return changes
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
