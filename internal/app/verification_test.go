package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/verification"
)

func TestHandleVerification_ApprovalCascades(t *testing.T) {
	repo := newMemoryRepo()
	sat := &domain.Satellite{AccountBase: domain.AccountBase{Username: "sat", Blocked: true}}
	sibling := &domain.Satellite{AccountBase: domain.AccountBase{Username: "sib", Blocked: true}}
	client := &domain.Client{AccountBase: domain.AccountBase{Username: "client"}}
	seedClientWithSatellites(repo, client, sat, sibling)
	svc, pub := newTestService(repo, t0)

	res, err := svc.HandleVerification(context.Background(), sat.ID, domain.OutcomeApproved, t0.Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !res.VerificationSuccessful || !res.AutoUnblocked {
		t.Fatalf("expected successful auto-unblocking approval, got %+v", res)
	}
	if res.UserStatus != verification.StatusYellow || res.Blocked == nil || *res.Blocked {
		t.Fatalf("expected yellow unblocked status, got %+v", res)
	}
	if res.CanAutoUnblock == nil || !*res.CanAutoUnblock {
		t.Fatalf("expected can_auto_unblock true, got %v", res.CanAutoUnblock)
	}

	got := repo.satellite(sat.ID)
	if got.Blocked || !got.DocumentVerified || got.DocumentVerifiedAt == nil || !got.DocumentVerifiedAt.Equal(t0) {
		t.Fatalf("expected satellite verified at %v and unblocked, got %+v", t0, got.AccountBase)
	}
	sib := repo.satellite(sibling.ID)
	if !sib.DocumentVerified || !sib.DocumentVerifiedAt.Equal(t0) {
		t.Fatalf("expected sibling verified at %v, got %+v", t0, sib.Verification)
	}
	if !sib.Blocked {
		t.Fatal("expected sibling to stay blocked")
	}
	if c := repo.client(client.ID); !c.DocumentVerified || !c.DocumentVerifiedAt.Equal(t0) {
		t.Fatalf("expected client verified at %v, got %+v", t0, c.Verification)
	}
	if len(pub.byKey(domain.RoutingVerificationProcessed)) != 1 {
		t.Fatal("expected verification processed event")
	}
}

func TestHandleVerification_VerifiedThenBlockedStaysBlocked(t *testing.T) {
	repo := newMemoryRepo()
	stamp := t0.Add(-48 * time.Hour)
	sat := repo.seedSatellite(&domain.Satellite{AccountBase: domain.AccountBase{
		Username:     "sat",
		Blocked:      true,
		Verification: domain.Verification{DocumentVerified: true, DocumentVerifiedAt: &stamp},
	}})
	svc, _ := newTestService(repo, t0)

	res, err := svc.HandleVerification(context.Background(), sat.ID, domain.OutcomeApproved, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.AutoUnblocked || res.CanAutoUnblock == nil || *res.CanAutoUnblock {
		t.Fatalf("expected no auto-unblock, got %+v", res)
	}
	got := repo.satellite(sat.ID)
	if !got.Blocked || !got.DocumentVerifiedAt.Equal(stamp) {
		t.Fatalf("expected blocked satellite with original stamp, got %+v", got.AccountBase)
	}
}

func TestHandleVerification_RedeliveredApprovalKeepsStamp(t *testing.T) {
	repo := newMemoryRepo()
	sat := &domain.Satellite{AccountBase: domain.AccountBase{Username: "sat", Blocked: true}}
	seedClientWithSatellites(repo, &domain.Client{AccountBase: domain.AccountBase{Username: "client"}}, sat)

	first, _ := newTestService(repo, t0)
	if _, err := first.HandleVerification(context.Background(), sat.ID, domain.OutcomeApproved, t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, _ := newTestService(repo, t0.Add(time.Hour))
	res, err := second.HandleVerification(context.Background(), sat.ID, domain.OutcomeApproved, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.AutoUnblocked || res.CanAutoUnblock != nil {
		t.Fatalf("expected redelivery to be a no-op, got %+v", res)
	}
	if got := repo.satellite(sat.ID); !got.DocumentVerifiedAt.Equal(t0) || got.Blocked {
		t.Fatalf("expected first stamp kept, got %+v", got.AccountBase)
	}
}

func TestHandleVerification_DeclinedLeavesSatellite(t *testing.T) {
	repo := newMemoryRepo()
	sat := repo.seedSatellite(&domain.Satellite{AccountBase: domain.AccountBase{Username: "sat", Blocked: true}})
	svc, _ := newTestService(repo, t0)

	for _, outcome := range []domain.Outcome{domain.OutcomeDeclined, domain.OutcomeResubmissionRequested} {
		res, err := svc.HandleVerification(context.Background(), sat.ID, outcome, t0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.VerificationSuccessful || res.AutoUnblocked || res.Blocked != nil || res.UserStatus != "" {
			t.Fatalf("expected %s to report nothing, got %+v", outcome, res)
		}
		if res.CanAutoUnblock == nil || !*res.CanAutoUnblock {
			t.Fatalf("expected can_auto_unblock for blocked unverified satellite, got %v", res.CanAutoUnblock)
		}
	}

	if got := repo.satellite(sat.ID); got.Version != 1 || got.DocumentVerified || !got.Blocked {
		t.Fatalf("expected satellite untouched, got %+v", got.AccountBase)
	}
}

func TestHandleVerification_UnknownSatellite(t *testing.T) {
	svc, pub := newTestService(newMemoryRepo(), t0)

	_, err := svc.HandleVerification(context.Background(), 404, domain.OutcomeApproved, t0)
	if !errors.Is(err, domain.ErrInvalidState) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected invalid state wrapping not found, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatal("expected no events for a failed outcome")
	}
}

func TestVerificationStatus_FillsMissingClientFields(t *testing.T) {
	repo := newMemoryRepo()
	sat := &domain.Satellite{AccountBase: domain.AccountBase{
		Username:     "sat",
		Profile:      domain.Profile{City: "Kyiv", Phone: "+380"},
		Verification: domain.Verification{EmailVerified: true},
	}}
	client := &domain.Client{AccountBase: domain.AccountBase{Username: "client", Profile: domain.Profile{Phone: "+1"}}}
	seedClientWithSatellites(repo, client, sat)
	svc, _ := newTestService(repo, t0)

	view, err := svc.VerificationStatus(context.Background(), sat.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if view.Status != verification.StatusYellow || !view.EmailVerified || view.DocumentVerified {
		t.Fatalf("unexpected view %+v", view)
	}
	c := repo.client(client.ID)
	if c.City != "Kyiv" || c.Phone != "+1" || !c.EmailVerified {
		t.Fatalf("expected only empty client fields filled, got %+v", c.AccountBase)
	}
	if len(view.SyncedFields) != 2 {
		t.Fatalf("expected city and email_verified synced, got %v", view.SyncedFields)
	}
}

func TestEmailVerification_IssueAndVerify(t *testing.T) {
	repo := newMemoryRepo()
	sat := &domain.Satellite{AccountBase: domain.AccountBase{Username: "sat", Profile: domain.Profile{Email: "User@Example.com"}}}
	sibling := &domain.Satellite{AccountBase: domain.AccountBase{Username: "sib"}}
	client := &domain.Client{AccountBase: domain.AccountBase{Username: "client"}}
	seedClientWithSatellites(repo, client, sat, sibling)
	svc, pub := newTestService(repo, t0)

	token, err := svc.IssueEmailVerification(context.Background(), sat.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events := pub.byKey(domain.RoutingEmailVerificationRequest)
	if len(events) != 1 || events[0].payload.(domain.EmailVerificationRequestedEvent).Token != token {
		t.Fatalf("expected token published for delivery, got %+v", events)
	}

	got, err := svc.VerifyEmail(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.EmailVerified {
		t.Fatal("expected satellite email verified")
	}
	if !repo.client(client.ID).EmailVerified || !repo.satellite(sibling.ID).EmailVerified {
		t.Fatal("expected client and sibling email verified")
	}
}

func TestEmailVerification_RejectsTokenAfterEmailChange(t *testing.T) {
	repo := newMemoryRepo()
	sat := repo.seedSatellite(&domain.Satellite{AccountBase: domain.AccountBase{Username: "sat", Profile: domain.Profile{Email: "a@example.com"}}})
	svc, _ := newTestService(repo, t0)

	token, err := svc.IssueEmailVerification(context.Background(), sat.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.ApplySatelliteUpdate(context.Background(), sat.ID, SatelliteUpdate{Email: strPtr("b@example.com")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.VerifyEmail(context.Background(), token); !errors.Is(err, domain.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if repo.satellite(sat.ID).EmailVerified {
		t.Fatal("expected satellite to stay unverified")
	}
}

func TestIssueEmailVerification_RequiresEmail(t *testing.T) {
	repo := newMemoryRepo()
	sat := repo.seedSatellite(&domain.Satellite{AccountBase: domain.AccountBase{Username: "sat"}})
	svc, _ := newTestService(repo, t0)

	if _, err := svc.IssueEmailVerification(context.Background(), sat.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}
