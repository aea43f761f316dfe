package signup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/reservio/internal/clock"
	"github.com/smallbiznis/reservio/internal/idempotency"
	identitydomain "github.com/smallbiznis/reservio/internal/identity/domain"
	"github.com/smallbiznis/reservio/internal/identity/oauth"
	identityrepo "github.com/smallbiznis/reservio/internal/identity/repository"
	identityservice "github.com/smallbiznis/reservio/internal/identity/service"
	"github.com/smallbiznis/reservio/internal/otp"
	"github.com/smallbiznis/reservio/internal/pending"
	"github.com/smallbiznis/reservio/internal/saga"
	"github.com/smallbiznis/reservio/internal/signup/domain"
	tenantdomain "github.com/smallbiznis/reservio/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/reservio/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/reservio/internal/tenant/service"
	"github.com/smallbiznis/reservio/pkg/db"
)

type captureDelivery struct {
	code string
}

func (d *captureDelivery) Deliver(ctx context.Context, to, code string) error {
	d.code = code
	return nil
}

type fakeOAuth struct {
	profile oauth.Profile
	err     error
}

func (f *fakeOAuth) RedirectURL(ctx context.Context, providerName string, req oauth.RedirectRequest) (*oauth.RedirectResult, error) {
	return &oauth.RedirectResult{
		URL:          "https://idp.example/authorize",
		State:        "state-1",
		CodeVerifier: "verifier-1",
	}, nil
}

func (f *fakeOAuth) Exchange(ctx context.Context, providerName string, req oauth.ExchangeRequest) (*oauth.ExchangeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &oauth.ExchangeResult{ProviderName: providerName, Profile: f.profile}, nil
}

type fixture struct {
	svc       domain.Service
	gateway   identitydomain.Gateway
	tenantSvc *tenantservice.Service
	idemStore idempotency.Store
	delivery  *captureDelivery
	oauthSvc  *fakeOAuth
	clk       *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn := db.NewTest(t)
	if err := conn.AutoMigrate(
		&identitydomain.Identity{},
		&identitydomain.Session{},
		&tenantdomain.Organization{},
		&tenantdomain.UserProfile{},
		&tenantdomain.Membership{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	repo, sessionRepo := identityrepo.New(conn)
	gateway := identityservice.New(zap.NewNop(), repo, sessionRepo, node, clk)
	tenantSvc := tenantservice.New(zap.NewNop(), tenantrepo.New(conn), node, clk)

	delivery := &captureDelivery{}
	otpMgr := otp.NewManager(zap.NewNop(), gateway, delivery, clk)

	codec, err := pending.NewCodec("test-secret", clk)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}

	oauthSvc := &fakeOAuth{}
	idemStore := idempotency.NewMemoryStore(clk)

	svc := NewService(Params{
		Log:       zap.NewNop(),
		Gateway:   gateway,
		OAuthSvc:  oauthSvc,
		OTPMgr:    otpMgr,
		Codec:     codec,
		TenantSvc: tenantSvc,
		Runner:    saga.NewRunner(zap.NewNop()),
		IdemStore: idemStore,
		Metrics:   nil,
		Clock:     clk,
	})

	return &fixture{
		svc:       svc,
		gateway:   gateway,
		tenantSvc: tenantSvc,
		idemStore: idemStore,
		delivery:  delivery,
		oauthSvc:  oauthSvc,
		clk:       clk,
	}
}

func (f *fixture) verifiedToken(t *testing.T, email string) string {
	t.Helper()

	begun, err := f.svc.Begin(context.Background(), domain.BeginRequest{
		Email:     email,
		Password:  "correct-horse-battery",
		FirstName: "Alice",
		LastName:  "Smith",
	})
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}

	verified, err := f.svc.VerifyCode(context.Background(), begun.Token, f.delivery.code)
	if err != nil {
		t.Fatalf("failed to verify code: %v", err)
	}
	if verified.State != pending.StateSessionVerified {
		t.Fatalf("expected verified state, got %s", verified.State)
	}
	return verified.Token
}

func TestBeginIssuesChallenge(t *testing.T) {
	f := newFixture(t)

	token, err := f.svc.Begin(context.Background(), domain.BeginRequest{
		Email:    "alice@example.com",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	if token.State != pending.StateIdentityPending {
		t.Fatalf("expected identity_pending, got %s", token.State)
	}
	if len(f.delivery.code) != 6 {
		t.Fatalf("expected challenge delivered, got %q", f.delivery.code)
	}
}

func TestBeginRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Begin(context.Background(), domain.BeginRequest{
		Email:    "not-an-email",
		Password: "correct-horse-battery",
	}); err != domain.ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	if _, err := f.svc.Begin(context.Background(), domain.BeginRequest{
		Email:    "alice@example.com",
		Password: "short",
	}); err != domain.ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest for short password, got %v", err)
	}
}

func TestBeginConfirmedEmailTaken(t *testing.T) {
	f := newFixture(t)

	f.verifiedToken(t, "alice@example.com")

	if _, err := f.svc.Begin(context.Background(), domain.BeginRequest{
		Email:    "alice@example.com",
		Password: "another-password",
	}); err != domain.ErrEmailTaken {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestBeginReplacesAbandonedSignup(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Begin(context.Background(), domain.BeginRequest{
		Email:    "alice@example.com",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}

	// Starting over before confirming replaces the identity; the old
	// pending token no longer references a live signup.
	second, err := f.svc.Begin(context.Background(), domain.BeginRequest{
		Email:    "alice@example.com",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("expected restart to succeed, got %v", err)
	}
	if first.Token == second.Token {
		t.Fatal("expected a fresh pending token")
	}

	if _, err := f.svc.VerifyCode(context.Background(), second.Token, f.delivery.code); err != nil {
		t.Fatalf("failed to verify restarted signup: %v", err)
	}
}

func TestVerifyCodeAlreadyVerifiedIsNoOp(t *testing.T) {
	f := newFixture(t)

	token := f.verifiedToken(t, "alice@example.com")

	// Re-submitting verify, even with a stale code, hands back the verified
	// state instead of consulting the challenge again.
	result, err := f.svc.VerifyCode(context.Background(), token, f.delivery.code)
	if err != nil {
		t.Fatalf("re-verify should be a no-op: %v", err)
	}
	if result.State != pending.StateSessionVerified {
		t.Fatalf("expected verified state, got %s", result.State)
	}
	if result.Token != token {
		t.Fatal("expected the same token back")
	}
}

func TestCompleteOnboardingHappyPath(t *testing.T) {
	f := newFixture(t)
	token := f.verifiedToken(t, "alice@example.com")

	result, err := f.svc.CompleteOnboarding(context.Background(), token, domain.CompleteRequest{
		OrganizationName: "Acme Salon",
		Country:          "US",
	})
	if err != nil {
		t.Fatalf("failed to complete onboarding: %v", err)
	}
	if result.Organization.Handle != "acme-salon" {
		t.Fatalf("expected handle acme-salon, got %s", result.Organization.Handle)
	}
	if result.Grant == nil || result.Grant.RawToken == "" {
		t.Fatal("expected session grant")
	}

	identityID := result.Grant.Identity.ID
	membership, err := f.tenantSvc.Store().FindMembershipByUser(context.Background(), identityID)
	if err != nil {
		t.Fatalf("expected membership: %v", err)
	}
	if membership.Role != tenantdomain.RoleOwner {
		t.Fatalf("expected owner role, got %s", membership.Role)
	}
	if membership.OrganizationID != result.Organization.ID {
		t.Fatalf("membership points at wrong organization")
	}

	profile, err := f.tenantSvc.Store().FindProfileByIdentity(context.Background(), identityID)
	if err != nil {
		t.Fatalf("expected profile: %v", err)
	}
	if profile.FirstName != "Alice" || profile.LastName != "Smith" {
		t.Fatalf("expected profile from pending session, got %s %s", profile.FirstName, profile.LastName)
	}

	identity, err := f.gateway.GetIdentity(context.Background(), identityID)
	if err != nil {
		t.Fatalf("failed to load identity: %v", err)
	}
	if identity.Metadata["org_id"] != result.Organization.ID.String() {
		t.Fatalf("expected tenant claims written, got %v", identity.Metadata)
	}
	if identity.Metadata["role"] != tenantdomain.RoleOwner {
		t.Fatalf("expected owner claim, got %v", identity.Metadata)
	}
}

func TestCompleteOnboardingNotVerified(t *testing.T) {
	f := newFixture(t)

	begun, err := f.svc.Begin(context.Background(), domain.BeginRequest{
		Email:    "alice@example.com",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}

	if _, err := f.svc.CompleteOnboarding(context.Background(), begun.Token, domain.CompleteRequest{
		OrganizationName: "Acme",
	}); err != domain.ErrNotVerified {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
}

func TestCompleteOnboardingAlreadyProvisioned(t *testing.T) {
	f := newFixture(t)
	token := f.verifiedToken(t, "alice@example.com")

	if _, err := f.svc.CompleteOnboarding(context.Background(), token, domain.CompleteRequest{
		OrganizationName: "Acme",
	}); err != nil {
		t.Fatalf("failed to complete onboarding: %v", err)
	}

	// Replaying the same token must not provision a second tenant.
	if _, err := f.svc.CompleteOnboarding(context.Background(), token, domain.CompleteRequest{
		OrganizationName: "Acme",
	}); err != domain.ErrAlreadyProvisioned {
		t.Fatalf("expected ErrAlreadyProvisioned, got %v", err)
	}
}

func TestCompleteOnboardingConcurrentRequests(t *testing.T) {
	f := newFixture(t)
	token := f.verifiedToken(t, "alice@example.com")

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.svc.CompleteOnboarding(context.Background(), token, domain.CompleteRequest{
				OrganizationName: "Acme Salon",
				Country:          "US",
			})
			errs <- err
		}()
	}

	// Exactly one request provisions; the other loses either the idempotency
	// claim or the membership race.
	var completed, rejected int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			completed++
		case errors.Is(err, domain.ErrProvisioningInFlight),
			errors.Is(err, domain.ErrAlreadyProvisioned):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if completed != 1 || rejected != 1 {
		t.Fatalf("expected one winner and one loser, got %d completed, %d rejected", completed, rejected)
	}

	identity, err := f.gateway.FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("failed to load identity: %v", err)
	}
	membership, err := f.tenantSvc.Store().FindMembershipByUser(context.Background(), identity.ID)
	if err != nil {
		t.Fatalf("expected exactly one membership: %v", err)
	}
	if membership.Role != tenantdomain.RoleOwner {
		t.Fatalf("expected owner role, got %s", membership.Role)
	}
}

func TestCompleteOnboardingInFlightClaim(t *testing.T) {
	f := newFixture(t)
	token := f.verifiedToken(t, "alice@example.com")

	// Simulate a concurrent execution holding the idempotency lease.
	if err := f.idemStore.Claim(context.Background(), "custom-key", idempotency.DefaultTTL); err != nil {
		t.Fatalf("failed to claim: %v", err)
	}

	if _, err := f.svc.CompleteOnboarding(context.Background(), token, domain.CompleteRequest{
		OrganizationName: "Acme",
		IdempotencyKey:   "custom-key",
	}); err != domain.ErrProvisioningInFlight {
		t.Fatalf("expected ErrProvisioningInFlight, got %v", err)
	}
}

func TestCompleteOnboardingCompensatesOnFailure(t *testing.T) {
	f := newFixture(t)
	token := f.verifiedToken(t, "alice@example.com")

	session, err := pendingSessionIdentity(f, token)
	if err != nil {
		t.Fatalf("failed to inspect token: %v", err)
	}

	// Deleting the identity makes the final saga step fail, which must roll
	// back the organization, profile and membership created before it.
	if err := f.gateway.DeleteIdentity(context.Background(), session); err != nil {
		t.Fatalf("failed to delete identity: %v", err)
	}

	_, err = f.svc.CompleteOnboarding(context.Background(), token, domain.CompleteRequest{
		OrganizationName: "Acme",
	})
	var aborted *saga.AbortedError
	if !errors.As(err, &aborted) {
		t.Fatalf("expected AbortedError, got %v", err)
	}

	// The handle is reusable, so the organization row is gone.
	org, err := f.tenantSvc.CreateOrganization(context.Background(), tenantservice.CreateOrganizationRequest{Name: "Acme"})
	if err != nil {
		t.Fatalf("failed to recreate organization: %v", err)
	}
	if org.Handle != "acme" {
		t.Fatalf("expected handle acme free again, got %s", org.Handle)
	}

	if _, err := f.tenantSvc.Store().FindProfileByIdentity(context.Background(), session); !errors.Is(err, tenantdomain.ErrProfileNotFound) {
		t.Fatalf("expected profile rolled back, got %v", err)
	}
	if _, err := f.tenantSvc.Store().FindMembershipByUser(context.Background(), session); !errors.Is(err, tenantdomain.ErrMembershipNotFound) {
		t.Fatalf("expected membership rolled back, got %v", err)
	}
}

func TestLoginFlow(t *testing.T) {
	f := newFixture(t)
	token := f.verifiedToken(t, "alice@example.com")
	if _, err := f.svc.CompleteOnboarding(context.Background(), token, domain.CompleteRequest{
		OrganizationName: "Acme",
	}); err != nil {
		t.Fatalf("failed to complete onboarding: %v", err)
	}

	begun, err := f.svc.BeginLogin(context.Background(), domain.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-horse-battery",
	})
	if err != nil {
		t.Fatalf("failed to begin login: %v", err)
	}

	grant, err := f.svc.VerifyLoginCode(context.Background(), begun.Token, f.delivery.code)
	if err != nil {
		t.Fatalf("failed to verify login code: %v", err)
	}
	if grant.Identity.Email != "alice@example.com" {
		t.Fatalf("unexpected identity %s", grant.Identity.Email)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	token := f.verifiedToken(t, "alice@example.com")
	if _, err := f.svc.CompleteOnboarding(context.Background(), token, domain.CompleteRequest{
		OrganizationName: "Acme",
	}); err != nil {
		t.Fatalf("failed to complete onboarding: %v", err)
	}

	if _, err := f.svc.BeginLogin(context.Background(), domain.LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong-password",
	}); err != identitydomain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestOAuthCallbackNewUser(t *testing.T) {
	f := newFixture(t)
	f.oauthSvc.profile = oauth.Profile{
		ExternalID:  "ext-1",
		Email:       "carol@example.com",
		DisplayName: "Carol De Vries",
	}

	result, err := f.svc.OAuthCallback(context.Background(), "google", domain.OAuthCallbackRequest{Code: "code-1"})
	if err != nil {
		t.Fatalf("failed oauth callback: %v", err)
	}
	if result.Grant != nil {
		t.Fatal("expected no session for a new user")
	}
	if result.Pending == nil || result.Pending.State != pending.StateSessionVerified {
		t.Fatalf("expected verified pending session, got %+v", result.Pending)
	}

	// The provider vouched for the email, so the identity is confirmed and
	// onboarding can complete without a challenge.
	if _, err := f.svc.CompleteOnboarding(context.Background(), result.Pending.Token, domain.CompleteRequest{
		OrganizationName: "Carol Studio",
	}); err != nil {
		t.Fatalf("failed to complete oauth onboarding: %v", err)
	}

	identity, err := f.gateway.FindByEmail(context.Background(), "carol@example.com")
	if err != nil {
		t.Fatalf("failed to find identity: %v", err)
	}
	if !identity.Confirmed {
		t.Fatal("expected confirmed identity")
	}
	if identity.Metadata["oauth_provider"] != "google" {
		t.Fatalf("expected provider recorded, got %v", identity.Metadata)
	}

	profile, err := f.tenantSvc.Store().FindProfileByIdentity(context.Background(), identity.ID)
	if err != nil {
		t.Fatalf("failed to find profile: %v", err)
	}
	if profile.FirstName != "Carol" || profile.LastName != "De Vries" {
		t.Fatalf("expected display name split, got %s / %s", profile.FirstName, profile.LastName)
	}
}

func TestOAuthCallbackExistingMember(t *testing.T) {
	f := newFixture(t)
	token := f.verifiedToken(t, "alice@example.com")
	if _, err := f.svc.CompleteOnboarding(context.Background(), token, domain.CompleteRequest{
		OrganizationName: "Acme",
	}); err != nil {
		t.Fatalf("failed to complete onboarding: %v", err)
	}

	f.oauthSvc.profile = oauth.Profile{ExternalID: "ext-2", Email: "alice@example.com"}
	result, err := f.svc.OAuthCallback(context.Background(), "google", domain.OAuthCallbackRequest{Code: "code-2"})
	if err != nil {
		t.Fatalf("failed oauth callback: %v", err)
	}
	if result.Grant == nil || result.Grant.RawToken == "" {
		t.Fatal("expected session for existing member")
	}
	if result.Pending != nil {
		t.Fatal("expected no pending session for existing member")
	}
}

func TestCheckPending(t *testing.T) {
	f := newFixture(t)
	token := f.verifiedToken(t, "alice@example.com")

	status, err := f.svc.CheckPending(context.Background(), token)
	if err != nil {
		t.Fatalf("failed to check pending: %v", err)
	}
	if status.State != pending.StateSessionVerified || status.Provisioned {
		t.Fatalf("expected verified unprovisioned, got %+v", status)
	}

	if _, err := f.svc.CompleteOnboarding(context.Background(), token, domain.CompleteRequest{
		OrganizationName: "Acme",
	}); err != nil {
		t.Fatalf("failed to complete onboarding: %v", err)
	}

	status, err = f.svc.CheckPending(context.Background(), token)
	if err != nil {
		t.Fatalf("failed to check pending: %v", err)
	}
	if !status.Provisioned {
		t.Fatal("expected provisioned status after completion")
	}
}

func TestCheckPendingExpired(t *testing.T) {
	f := newFixture(t)
	token := f.verifiedToken(t, "alice@example.com")

	f.clk.Advance(time.Hour + time.Minute)
	if _, err := f.svc.CheckPending(context.Background(), token); err != pending.ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

// pendingSessionIdentity extracts the identity id carried by a token.
func pendingSessionIdentity(f *fixture, token string) (string, error) {
	codec, err := pending.NewCodec("test-secret", f.clk)
	if err != nil {
		return "", err
	}
	sess, err := codec.Decode(token)
	if err != nil {
		return "", err
	}
	return sess.IdentityID, nil
}
