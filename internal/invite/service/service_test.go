package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/smallbiznis/reservio/internal/clock"
	"github.com/smallbiznis/reservio/internal/config"
	identitydomain "github.com/smallbiznis/reservio/internal/identity/domain"
	identityrepo "github.com/smallbiznis/reservio/internal/identity/repository"
	identityservice "github.com/smallbiznis/reservio/internal/identity/service"
	"github.com/smallbiznis/reservio/internal/invite/domain"
	"github.com/smallbiznis/reservio/internal/invite/repository"
	"github.com/smallbiznis/reservio/internal/providers/email"
	"github.com/smallbiznis/reservio/internal/saga"
	"github.com/smallbiznis/reservio/internal/team"
	tenantdomain "github.com/smallbiznis/reservio/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/reservio/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/reservio/internal/tenant/service"
	"github.com/smallbiznis/reservio/pkg/db"
)

type allowAllAuthz struct {
	denyAction string
}

func (a *allowAllAuthz) Authorize(ctx context.Context, userID, orgID, object, action string) error {
	if a.denyAction != "" && action == a.denyAction {
		return team.ErrForbidden
	}
	return nil
}

type fixture struct {
	svc       *Service
	gateway   identitydomain.Gateway
	tenantSvc *tenantservice.Service
	authz     *allowAllAuthz
	clk       *clock.FakeClock
	org       *tenantdomain.Organization
	ownerID   string
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
		&domain.Invite{},
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
	authz := &allowAllAuthz{}

	svc := New(Params{
		Log:       zap.NewNop(),
		Repo:      repository.New(conn),
		TenantSvc: tenantSvc,
		Gateway:   gateway,
		Authz:     authz,
		Runner:    saga.NewRunner(zap.NewNop()),
		Mailer:    &email.NoOpProvider{},
		Holder:    config.NewStaticDeliveryHolder(config.DeliveryConfig{Channel: "log"}),
		Metrics:   nil,
		GenID:     node,
		Clock:     clk,
		Config:    config.Config{BaseURL: "https://app.example.com"},
	})

	owner, err := gateway.CreateIdentity(context.Background(), identitydomain.CreateIdentityRequest{
		Email:     "owner@example.com",
		Password:  "correct-horse-battery",
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("failed to create owner: %v", err)
	}
	org, err := tenantSvc.CreateOrganization(context.Background(), tenantservice.CreateOrganizationRequest{
		Name:    "Acme",
		Country: "US",
	})
	if err != nil {
		t.Fatalf("failed to create organization: %v", err)
	}
	if _, err := tenantSvc.CreateMembership(context.Background(), org.ID, owner.ID, tenantdomain.RoleOwner); err != nil {
		t.Fatalf("failed to create owner membership: %v", err)
	}

	return &fixture{
		svc:       svc,
		gateway:   gateway,
		tenantSvc: tenantSvc,
		authz:     authz,
		clk:       clk,
		org:       org,
		ownerID:   owner.ID,
	}
}

func (f *fixture) issue(t *testing.T, email string) *domain.Invite {
	t.Helper()

	invite, err := f.svc.Issue(context.Background(), IssueRequest{
		OrganizationID: f.org.ID,
		ActorUserID:    f.ownerID,
		Email:          email,
		Role:           tenantdomain.RoleStaff,
	})
	if err != nil {
		t.Fatalf("failed to issue invite: %v", err)
	}
	return invite
}

func TestIssueInvite(t *testing.T) {
	f := newFixture(t)

	invite := f.issue(t, "bob@example.com")
	if invite.Token == "" {
		t.Fatal("expected token")
	}
	if invite.Role != tenantdomain.RoleStaff {
		t.Fatalf("expected member role, got %s", invite.Role)
	}
	if !invite.ExpiresAt.Equal(f.clk.Now().Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected 7 day expiry, got %v", invite.ExpiresAt)
	}
}

func TestIssueInvalidInput(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Issue(context.Background(), IssueRequest{
		OrganizationID: f.org.ID,
		ActorUserID:    f.ownerID,
		Email:          "not-an-email",
		Role:           tenantdomain.RoleStaff,
	}); err != domain.ErrInvalidEmail {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}

	// Owner cannot be granted by invite.
	if _, err := f.svc.Issue(context.Background(), IssueRequest{
		OrganizationID: f.org.ID,
		ActorUserID:    f.ownerID,
		Email:          "bob@example.com",
		Role:           tenantdomain.RoleOwner,
	}); err != domain.ErrInvalidRole {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestIssueRejectsExistingMember(t *testing.T) {
	f := newFixture(t)

	// The owner already holds a membership, so inviting their address is a
	// dead end.
	if _, err := f.svc.Issue(context.Background(), IssueRequest{
		OrganizationID: f.org.ID,
		ActorUserID:    f.ownerID,
		Email:          "owner@example.com",
		Role:           tenantdomain.RoleStaff,
	}); !errors.Is(err, tenantdomain.ErrMembershipExists) {
		t.Fatalf("expected ErrMembershipExists, got %v", err)
	}
}

func TestIssueForbidden(t *testing.T) {
	f := newFixture(t)
	f.authz.denyAction = team.ActionInviteCreate

	if _, err := f.svc.Issue(context.Background(), IssueRequest{
		OrganizationID: f.org.ID,
		ActorUserID:    f.ownerID,
		Email:          "bob@example.com",
		Role:           tenantdomain.RoleStaff,
	}); !errors.Is(err, team.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAcceptCreatesIdentityAndMembership(t *testing.T) {
	f := newFixture(t)
	invite := f.issue(t, "bob@example.com")

	result, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:     invite.Token,
		Password:  "another-password",
		FirstName: "Bob",
		LastName:  "Jones",
	})
	if err != nil {
		t.Fatalf("failed to accept: %v", err)
	}
	if !result.IdentityCreated {
		t.Fatal("expected identity created")
	}

	membership, err := f.tenantSvc.Store().FindMembershipByUser(context.Background(), result.IdentityID)
	if err != nil {
		t.Fatalf("expected membership: %v", err)
	}
	if membership.Role != tenantdomain.RoleStaff {
		t.Fatalf("expected member role, got %s", membership.Role)
	}

	identity, err := f.gateway.FindByEmail(context.Background(), "bob@example.com")
	if err != nil {
		t.Fatalf("expected identity: %v", err)
	}
	if !identity.Confirmed {
		t.Fatal("expected invited identity confirmed")
	}

	// Acceptance stamps the tenant claims the same way completing signup does.
	if identity.Metadata["org_id"] != f.org.ID.String() {
		t.Fatalf("expected org_id claim %s, got %v", f.org.ID, identity.Metadata["org_id"])
	}
	if identity.Metadata["role"] != tenantdomain.RoleStaff {
		t.Fatalf("expected role claim, got %v", identity.Metadata["role"])
	}
}

func TestAcceptIsSingleUse(t *testing.T) {
	f := newFixture(t)
	invite := f.issue(t, "bob@example.com")

	if _, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:    invite.Token,
		Password: "another-password",
	}); err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	if _, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:    invite.Token,
		Password: "another-password",
	}); err != domain.ErrInviteUsed {
		t.Fatalf("expected ErrInviteUsed, got %v", err)
	}
}

func TestAcceptConcurrentSingleUse(t *testing.T) {
	f := newFixture(t)
	invite := f.issue(t, "bob@example.com")

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.svc.Accept(context.Background(), AcceptRequest{
				Token:     invite.Token,
				Password:  "another-password",
				FirstName: "Bob",
				LastName:  "Jones",
			})
			errs <- err
		}()
	}

	// The conditional consume lets exactly one acceptance through.
	var accepted, used int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrInviteUsed):
			used++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 || used != 1 {
		t.Fatalf("expected one winner and one loser, got %d accepted, %d used", accepted, used)
	}

	members, err := f.tenantSvc.Store().ListMembers(context.Background(), f.org.ID)
	if err != nil {
		t.Fatalf("failed to list members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected owner plus one new member, got %d rows", len(members))
	}
}

func TestAcceptExpired(t *testing.T) {
	f := newFixture(t)
	invite := f.issue(t, "bob@example.com")

	f.clk.Advance(7*24*time.Hour + time.Minute)
	if _, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:    invite.Token,
		Password: "another-password",
	}); err != domain.ErrInviteExpired {
		t.Fatalf("expected ErrInviteExpired, got %v", err)
	}
}

func TestAcceptUsedBeatsExpired(t *testing.T) {
	f := newFixture(t)
	invite := f.issue(t, "bob@example.com")

	if _, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:    invite.Token,
		Password: "another-password",
	}); err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	// An invite that was consumed and later also expired reports "used".
	f.clk.Advance(30 * 24 * time.Hour)
	if _, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:    invite.Token,
		Password: "another-password",
	}); err != domain.ErrInviteUsed {
		t.Fatalf("expected ErrInviteUsed, got %v", err)
	}
}

func TestAcceptUnknownToken(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:    "no-such-token",
		Password: "another-password",
	}); err != domain.ErrInviteNotFound {
		t.Fatalf("expected ErrInviteNotFound, got %v", err)
	}
}

func TestAcceptCompensationKeepsExistingIdentity(t *testing.T) {
	f := newFixture(t)

	invite := f.issue(t, "bob@example.com")

	// bob gains an identity and a membership elsewhere after the invite went
	// out, so the final membership step fails and the saga rolls back.
	bob, err := f.gateway.CreateIdentity(context.Background(), identitydomain.CreateIdentityRequest{
		Email:     "bob@example.com",
		Password:  "another-password",
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("failed to create identity: %v", err)
	}
	other, err := f.tenantSvc.CreateOrganization(context.Background(), tenantservice.CreateOrganizationRequest{Name: "Beta"})
	if err != nil {
		t.Fatalf("failed to create organization: %v", err)
	}
	if _, err := f.tenantSvc.CreateMembership(context.Background(), other.ID, bob.ID, tenantdomain.RoleStaff); err != nil {
		t.Fatalf("failed to create membership: %v", err)
	}

	_, err = f.svc.Accept(context.Background(), AcceptRequest{
		Token:    invite.Token,
		Password: "another-password",
	})
	if !errors.Is(err, tenantdomain.ErrMembershipExists) {
		t.Fatalf("expected ErrMembershipExists, got %v", err)
	}

	// The pre-existing identity survives the rollback.
	if _, err := f.gateway.GetIdentity(context.Background(), bob.ID); err != nil {
		t.Fatalf("expected identity kept, got %v", err)
	}

	// The invite is released for another attempt.
	reloaded, err := f.svc.List(context.Background(), f.ownerID, f.org.ID)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(reloaded) != 1 || reloaded[0].AcceptedAt != nil {
		t.Fatalf("expected invite released, got %+v", reloaded)
	}
}

func TestAcceptReusesExistingIdentity(t *testing.T) {
	f := newFixture(t)

	bob, err := f.gateway.CreateIdentity(context.Background(), identitydomain.CreateIdentityRequest{
		Email:     "bob@example.com",
		Password:  "another-password",
		Confirmed: true,
	})
	if err != nil {
		t.Fatalf("failed to create identity: %v", err)
	}

	invite := f.issue(t, "bob@example.com")
	result, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:    invite.Token,
		Password: "ignored-password",
	})
	if err != nil {
		t.Fatalf("failed to accept: %v", err)
	}
	if result.IdentityCreated {
		t.Fatal("expected existing identity reused")
	}
	if result.IdentityID != bob.ID {
		t.Fatalf("expected bob's identity, got %s", result.IdentityID)
	}

	// The stored password is untouched.
	if _, err := f.gateway.VerifyPassword(context.Background(), "bob@example.com", "another-password"); err != nil {
		t.Fatalf("expected original password kept: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	invite := f.issue(t, "bob@example.com")

	if err := f.svc.Revoke(context.Background(), f.ownerID, f.org.ID, invite.Token); err != nil {
		t.Fatalf("failed to revoke: %v", err)
	}
	if _, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:    invite.Token,
		Password: "another-password",
	}); err != domain.ErrInviteNotFound {
		t.Fatalf("expected ErrInviteNotFound after revoke, got %v", err)
	}
}

func TestRevokeUsedInvite(t *testing.T) {
	f := newFixture(t)
	invite := f.issue(t, "bob@example.com")

	if _, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:    invite.Token,
		Password: "another-password",
	}); err != nil {
		t.Fatalf("failed to accept: %v", err)
	}
	if err := f.svc.Revoke(context.Background(), f.ownerID, f.org.ID, invite.Token); err != domain.ErrInviteUsed {
		t.Fatalf("expected ErrInviteUsed, got %v", err)
	}
}

func TestRevokeWrongOrganization(t *testing.T) {
	f := newFixture(t)
	invite := f.issue(t, "bob@example.com")

	other, err := f.tenantSvc.CreateOrganization(context.Background(), tenantservice.CreateOrganizationRequest{Name: "Beta"})
	if err != nil {
		t.Fatalf("failed to create organization: %v", err)
	}
	if err := f.svc.Revoke(context.Background(), f.ownerID, other.ID, invite.Token); err != domain.ErrInviteNotFound {
		t.Fatalf("expected ErrInviteNotFound, got %v", err)
	}
}

func TestMembers(t *testing.T) {
	f := newFixture(t)
	invite := f.issue(t, "bob@example.com")

	if _, err := f.svc.Accept(context.Background(), AcceptRequest{
		Token:     invite.Token,
		Password:  "another-password",
		FirstName: "Bob",
		LastName:  "Jones",
	}); err != nil {
		t.Fatalf("failed to accept: %v", err)
	}

	members, err := f.svc.Members(context.Background(), f.ownerID, f.org.ID)
	if err != nil {
		t.Fatalf("failed to list members: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected owner and bob, got %d rows", len(members))
	}
	if members[0].UserID != f.ownerID || members[0].Role != tenantdomain.RoleOwner {
		t.Fatalf("expected owner first, got %+v", members[0])
	}
	if members[1].Role != tenantdomain.RoleStaff {
		t.Fatalf("expected staff second, got %+v", members[1])
	}
}

func TestMembersForbidden(t *testing.T) {
	f := newFixture(t)
	f.authz.denyAction = team.ActionMemberView

	if _, err := f.svc.Members(context.Background(), f.ownerID, f.org.ID); !errors.Is(err, team.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestListForbidden(t *testing.T) {
	f := newFixture(t)
	f.issue(t, "bob@example.com")
	f.authz.denyAction = team.ActionInviteView

	if _, err := f.svc.List(context.Background(), f.ownerID, f.org.ID); !errors.Is(err, team.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
