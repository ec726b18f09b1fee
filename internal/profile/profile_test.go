package profile

import (
	"testing"
	"time"

	"github.com/harvain/satellite-service/internal/domain"
)

func newSatellite(email string) *domain.Satellite {
	sat := &domain.Satellite{}
	sat.ID = 10
	sat.Name = "Ann"
	sat.LastName = "Lee"
	sat.Email = email
	sat.Phone = "+100"
	sat.EmailVerified = true
	return sat
}

func newClient(email string) *domain.Client {
	client := &domain.Client{}
	client.ID = 1
	client.Name = "Ann"
	client.LastName = "Lee"
	client.Email = email
	client.EmailVerified = true
	return client
}

func TestSyncSatelliteToClient_EmailChangePolicy(t *testing.T) {
	tests := []struct {
		name       string
		before     string
		after      string
		wantReset  bool
		wantEmail  string
		wantFields int
	}{
		{name: "case-only change keeps verification", before: "a@x.com", after: "A@X.com", wantReset: false, wantEmail: "A@X.com", wantFields: 1},
		{name: "real change resets verification", before: "a@x.com", after: "b@x.com", wantReset: true, wantEmail: "b@x.com", wantFields: 2},
		{name: "empty to value propagates without reset", before: "", after: "c@x.com", wantReset: false, wantEmail: "c@x.com", wantFields: 1},
		{name: "whitespace is normalized", before: "a@x.com", after: "  a@x.com ", wantReset: false, wantEmail: "  a@x.com ", wantFields: 1},
		{name: "unchanged email is not pushed", before: "a@x.com", after: "a@x.com", wantReset: false, wantEmail: "old@x.com", wantFields: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := newSatellite(tt.before)
			next := prev.Clone()
			next.Email = tt.after
			client := newClient("old@x.com")

			ch := SyncSatelliteToClient(prev, next, client)

			if ch.EmailReset != tt.wantReset {
				t.Fatalf("expected EmailReset=%t, got %t", tt.wantReset, ch.EmailReset)
			}
			if client.Email != tt.wantEmail {
				t.Fatalf("expected client email %q, got %q", tt.wantEmail, client.Email)
			}
			if client.EmailVerified == tt.wantReset {
				t.Fatalf("expected client email_verified=%t", !tt.wantReset)
			}
			if next.EmailVerified == tt.wantReset {
				t.Fatalf("expected satellite email_verified=%t", !tt.wantReset)
			}
			if len(ch.Fields) != tt.wantFields {
				t.Fatalf("expected %d changed fields, got %v", tt.wantFields, ch.Fields)
			}
		})
	}
}

func TestSyncSatelliteToClient_PushesOnlyChangedFields(t *testing.T) {
	prev := newSatellite("a@x.com")
	next := prev.Clone()
	next.City = "Kyiv"
	born := time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)
	next.Born = &born

	client := newClient("a@x.com")
	client.Phone = "+999"

	ch := SyncSatelliteToClient(prev, next, client)

	if client.City != "Kyiv" || client.Born == nil || !client.Born.Equal(born) {
		t.Fatalf("expected city and born pushed, got %+v", client.Profile)
	}
	if client.Phone != "+999" {
		t.Fatalf("expected unchanged phone to stay on client, got %q", client.Phone)
	}
	if len(ch.Fields) != 2 {
		t.Fatalf("expected 2 changed fields, got %v", ch.Fields)
	}
}

func TestSyncClientToSatellites(t *testing.T) {
	at := time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)

	prev := newClient("a@x.com")
	next := prev.Clone()
	next.DocumentVerified = true
	next.DocumentVerifiedAt = &at

	s1 := newSatellite("a@x.com")
	s2 := newSatellite("a@x.com")
	s2.ID = 11
	s2.Blocked = true

	touched := SyncClientToSatellites(prev, next, []*domain.Satellite{s1, s2})

	if len(touched) != 2 {
		t.Fatalf("expected both satellites touched, got %d", len(touched))
	}
	for _, s := range []*domain.Satellite{s1, s2} {
		if !s.DocumentVerified || s.DocumentVerifiedAt == nil || !s.DocumentVerifiedAt.Equal(at) {
			t.Fatalf("expected document verification pushed to satellite %d", s.ID)
		}
	}
	if !s2.Blocked {
		t.Fatal("verification push must not change blocked state")
	}
}

func TestSyncClientToSatellites_EmailChangeResetsAll(t *testing.T) {
	prev := newClient("a@x.com")
	next := prev.Clone()
	next.Email = "b@x.com"

	s1 := newSatellite("a@x.com")
	touched := SyncClientToSatellites(prev, next, []*domain.Satellite{s1})

	if next.EmailVerified {
		t.Fatal("expected client email_verified reset")
	}
	if s1.EmailVerified || len(touched) != 1 {
		t.Fatal("expected satellite email_verified reset")
	}
}

func TestAggressiveOverwriteSync(t *testing.T) {
	sat := newSatellite("sat@x.com")
	sat.Name = "Satellite Name"
	sat.City = ""
	sat.DocumentVerified = false

	verifiedAt := time.Now()
	client := newClient("client@x.com")
	client.Name = "Client Name"
	client.City = "Lviv"
	client.EmailVerified = false
	client.DocumentVerified = true
	client.DocumentVerifiedAt = &verifiedAt

	changes := AggressiveOverwriteSync(sat, client)

	if client.Name != "Satellite Name" || client.Email != "sat@x.com" {
		t.Fatalf("expected satellite values to overwrite client, got %+v", client.Profile)
	}
	if client.City != "Lviv" {
		t.Fatalf("expected empty satellite city to leave client value, got %q", client.City)
	}
	if !client.EmailVerified {
		t.Fatal("expected email_verified copied from satellite")
	}
	if client.DocumentVerified || client.DocumentVerifiedAt != nil {
		t.Fatal("expected document verification cleared from satellite")
	}
	// name, email, phone, email_verified, document_verified
	if len(changes) != 5 {
		t.Fatalf("expected 5 changes, got %d: %v", len(changes), changes)
	}
}

func TestAggressiveOverwriteSync_LastSatelliteWins(t *testing.T) {
	client := newClient("c@x.com")
	first := newSatellite("first@x.com")
	second := newSatellite("second@x.com")

	AggressiveOverwriteSync(first, client)
	AggressiveOverwriteSync(second, client)

	if client.Email != "second@x.com" {
		t.Fatalf("expected last satellite to win, got %q", client.Email)
	}
}

func TestFillMissing(t *testing.T) {
	sat := newSatellite("sat@x.com")
	sat.City = "Odesa"
	sat.DocumentVerified = true

	client := newClient("client@x.com")
	client.EmailVerified = false

	changes := FillMissing(sat, client, false)

	if client.Email != "client@x.com" {
		t.Fatalf("expected existing client email kept, got %q", client.Email)
	}
	if client.City != "Odesa" || client.Phone != "+100" {
		t.Fatalf("expected missing fields filled, got %+v", client.Profile)
	}
	if !client.EmailVerified || !client.DocumentVerified {
		t.Fatal("expected verification raised from satellite")
	}
	if len(changes) != 4 {
		t.Fatalf("expected 4 changes, got %v", changes)
	}

	FillMissing(sat, client, true)
	if client.Email != "sat@x.com" {
		t.Fatalf("expected force to overwrite email, got %q", client.Email)
	}
}
