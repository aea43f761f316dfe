package otp

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/reservio/internal/clock"
	identitydomain "github.com/smallbiznis/reservio/internal/identity/domain"
	identityrepo "github.com/smallbiznis/reservio/internal/identity/repository"
	identityservice "github.com/smallbiznis/reservio/internal/identity/service"
	"github.com/smallbiznis/reservio/pkg/db"
)

type captureDelivery struct {
	to   string
	code string
}

func (d *captureDelivery) Deliver(ctx context.Context, to, code string) error {
	d.to = to
	d.code = code
	return nil
}

func newTestManager(t *testing.T) (*Manager, identitydomain.Gateway, *captureDelivery, *clock.FakeClock) {
	t.Helper()

	conn := db.NewTest(t)
	if err := conn.AutoMigrate(&identitydomain.Identity{}, &identitydomain.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	repo, sessionRepo := identityrepo.New(conn)
	gateway := identityservice.New(zap.NewNop(), repo, sessionRepo, node, clk)

	delivery := &captureDelivery{}
	return NewManager(zap.NewNop(), gateway, delivery, clk), gateway, delivery, clk
}

func newTestIdentity(t *testing.T, gateway identitydomain.Gateway) *identitydomain.Identity {
	t.Helper()

	identity, err := gateway.CreateIdentity(context.Background(), identitydomain.CreateIdentityRequest{
		Email:    "alice@example.com",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("failed to create identity: %v", err)
	}
	return identity
}

func TestIssueAndVerify(t *testing.T) {
	mgr, gateway, delivery, _ := newTestManager(t)
	identity := newTestIdentity(t, gateway)

	if err := mgr.Issue(context.Background(), identity.ID); err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	if delivery.to != "alice@example.com" {
		t.Fatalf("expected delivery to alice@example.com, got %s", delivery.to)
	}
	if len(delivery.code) != 6 {
		t.Fatalf("expected 6 digit code, got %q", delivery.code)
	}

	if err := mgr.Verify(context.Background(), identity.ID, delivery.code); err != nil {
		t.Fatalf("failed to verify: %v", err)
	}
}

func TestVerifyClearsChallenge(t *testing.T) {
	mgr, gateway, delivery, _ := newTestManager(t)
	identity := newTestIdentity(t, gateway)

	if err := mgr.Issue(context.Background(), identity.ID); err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	if err := mgr.Verify(context.Background(), identity.ID, delivery.code); err != nil {
		t.Fatalf("failed to verify: %v", err)
	}

	// The same code must not verify twice.
	if err := mgr.Verify(context.Background(), identity.ID, delivery.code); err != ErrNoChallenge {
		t.Fatalf("expected ErrNoChallenge, got %v", err)
	}
}

func TestVerifyMismatch(t *testing.T) {
	mgr, gateway, delivery, _ := newTestManager(t)
	identity := newTestIdentity(t, gateway)

	if err := mgr.Issue(context.Background(), identity.ID); err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	wrong := "000000"
	if wrong == delivery.code {
		wrong = "000001"
	}
	if err := mgr.Verify(context.Background(), identity.ID, wrong); err != ErrMismatch {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}

	// A mismatch does not consume the challenge.
	if err := mgr.Verify(context.Background(), identity.ID, delivery.code); err != nil {
		t.Fatalf("failed to verify after mismatch: %v", err)
	}
}

func TestVerifyNoChallenge(t *testing.T) {
	mgr, gateway, _, _ := newTestManager(t)
	identity := newTestIdentity(t, gateway)

	if err := mgr.Verify(context.Background(), identity.ID, "123456"); err != ErrNoChallenge {
		t.Fatalf("expected ErrNoChallenge, got %v", err)
	}
}

func TestVerifyExpiryBoundary(t *testing.T) {
	mgr, gateway, delivery, clk := newTestManager(t)
	identity := newTestIdentity(t, gateway)

	if err := mgr.Issue(context.Background(), identity.ID); err != nil {
		t.Fatalf("failed to issue: %v", err)
	}

	// Exactly at the TTL the code still verifies; one tick past it does not.
	clk.Advance(5 * time.Minute)
	if err := mgr.Verify(context.Background(), identity.ID, delivery.code); err != nil {
		t.Fatalf("expected code valid at ttl, got %v", err)
	}

	if err := mgr.Issue(context.Background(), identity.ID); err != nil {
		t.Fatalf("failed to reissue: %v", err)
	}
	clk.Advance(5*time.Minute + time.Second)
	if err := mgr.Verify(context.Background(), identity.ID, delivery.code); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestReissueReplacesCode(t *testing.T) {
	mgr, gateway, delivery, _ := newTestManager(t)
	identity := newTestIdentity(t, gateway)

	if err := mgr.Issue(context.Background(), identity.ID); err != nil {
		t.Fatalf("failed to issue: %v", err)
	}
	first := delivery.code

	for i := 0; i < 20 && delivery.code == first; i++ {
		if err := mgr.Issue(context.Background(), identity.ID); err != nil {
			t.Fatalf("failed to reissue: %v", err)
		}
	}
	if delivery.code == first {
		t.Skip("generated the same code repeatedly")
	}

	if err := mgr.Verify(context.Background(), identity.ID, first); err != ErrMismatch {
		t.Fatalf("expected old code rejected, got %v", err)
	}
	if err := mgr.Verify(context.Background(), identity.ID, delivery.code); err != nil {
		t.Fatalf("expected newest code valid, got %v", err)
	}
}
