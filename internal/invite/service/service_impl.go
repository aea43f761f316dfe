package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/reservio/internal/clock"
	"github.com/smallbiznis/reservio/internal/config"
	identitydomain "github.com/smallbiznis/reservio/internal/identity/domain"
	"github.com/smallbiznis/reservio/internal/invite/domain"
	"github.com/smallbiznis/reservio/internal/observability/metrics"
	"github.com/smallbiznis/reservio/internal/providers/email"
	"github.com/smallbiznis/reservio/internal/saga"
	"github.com/smallbiznis/reservio/internal/team"
	tenantdomain "github.com/smallbiznis/reservio/internal/tenant/domain"
	tenantservice "github.com/smallbiznis/reservio/internal/tenant/service"
)

const (
	inviteTokenBytes = 32
	inviteTTL        = 7 * 24 * time.Hour
)

// Service owns the invite lifecycle: issue, accept, revoke.
type Service struct {
	log       *zap.Logger
	repo      domain.Repository
	tenantSvc *tenantservice.Service
	gateway   identitydomain.Gateway
	authz     team.Service
	runner    *saga.Runner
	mailer    email.Provider
	holder    *config.DeliveryConfigHolder
	metrics   *metrics.Metrics
	genID     *snowflake.Node
	clock     clock.Clock
	baseURL   string
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Repo      domain.Repository
	TenantSvc *tenantservice.Service
	Gateway   identitydomain.Gateway
	Authz     team.Service
	Runner    *saga.Runner
	Mailer    email.Provider
	Holder    *config.DeliveryConfigHolder
	Metrics   *metrics.Metrics
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
}

func New(p Params) *Service {
	return &Service{
		log:       p.Log.Named("invite.service"),
		repo:      p.Repo,
		tenantSvc: p.TenantSvc,
		gateway:   p.Gateway,
		authz:     p.Authz,
		runner:    p.Runner,
		mailer:    p.Mailer,
		holder:    p.Holder,
		metrics:   p.Metrics,
		genID:     p.GenID,
		clock:     p.Clock,
		baseURL:   strings.TrimRight(p.Config.BaseURL, "/"),
	}
}

type IssueRequest struct {
	OrganizationID snowflake.ID
	ActorUserID    string
	Email          string
	Role           string
}

// Issue creates an invite and emails the join link. Delivery failure does not
// roll back the invite; the link can be re-sent.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*domain.Invite, error) {
	if err := s.authz.Authorize(ctx, req.ActorUserID, req.OrganizationID.String(), team.ObjectInvite, team.ActionInviteCreate); err != nil {
		return nil, err
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	// Ownership transfers by other means, never by invite.
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if !tenantdomain.ValidRole(role) || role == tenantdomain.RoleOwner {
		return nil, domain.ErrInvalidRole
	}

	// An address that already belongs to a member anywhere cannot be invited;
	// acceptance would only fail later on the membership constraint.
	if existing, err := s.gateway.FindByEmail(ctx, addr.Address); err == nil {
		if _, err := s.tenantSvc.Store().FindMembershipByUser(ctx, existing.ID); err == nil {
			return nil, tenantdomain.ErrMembershipExists
		} else if !errors.Is(err, tenantdomain.ErrMembershipNotFound) {
			return nil, err
		}
	} else if !errors.Is(err, identitydomain.ErrIdentityNotFound) {
		return nil, err
	}

	token, err := newInviteToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	invite := &domain.Invite{
		ID:             s.genID.Generate(),
		OrganizationID: req.OrganizationID,
		Email:          strings.ToLower(addr.Address),
		Role:           role,
		Token:          token,
		InvitedBy:      req.ActorUserID,
		ExpiresAt:      now.Add(inviteTTL),
		CreatedAt:      now,
	}
	if err := s.repo.Create(ctx, invite); err != nil {
		return nil, err
	}

	if err := s.sendInviteEmail(ctx, invite); err != nil {
		s.log.Warn("invite email delivery failed",
			zap.String("invite_id", invite.ID.String()),
			zap.Error(err),
		)
	}

	return invite, nil
}

type AcceptRequest struct {
	Token     string
	Password  string
	FirstName string
	LastName  string
}

type AcceptResult struct {
	OrganizationID  snowflake.ID
	IdentityID      string
	IdentityCreated bool
}

// Accept redeems the invite. The accepted check runs before the expiry check
// so a consumed invite always reports "used", even after it also expired.
// Provisioning the member runs as a saga; if a later step fails, the invite
// is released again and an identity created for this acceptance is deleted,
// while pre-existing identities are left alone.
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (*AcceptResult, error) {
	invite, err := s.repo.FindByToken(ctx, strings.TrimSpace(req.Token))
	if err != nil {
		return nil, err
	}

	if invite.AcceptedAt != nil {
		return nil, domain.ErrInviteUsed
	}
	if s.clock.Now().After(invite.ExpiresAt) {
		return nil, domain.ErrInviteExpired
	}

	var (
		identityID      string
		identityCreated bool
		profileID       snowflake.ID
		profileCreated  bool
	)

	steps := []saga.Step{
		{
			Name: "consume_invite",
			Run: func(ctx context.Context) error {
				return s.repo.Consume(ctx, invite.ID, s.clock.Now())
			},
			Compensate: func(ctx context.Context) error {
				return s.repo.Unconsume(ctx, invite.ID)
			},
		},
		{
			Name: "ensure_identity",
			Run: func(ctx context.Context) error {
				existing, err := s.gateway.FindByEmail(ctx, invite.Email)
				if err == nil {
					identityID = existing.ID
					return nil
				}
				if !errors.Is(err, identitydomain.ErrIdentityNotFound) {
					return err
				}
				created, err := s.gateway.CreateIdentity(ctx, identitydomain.CreateIdentityRequest{
					Email:    invite.Email,
					Password: req.Password,
					// The link went to this address, so it counts as verified.
					Confirmed: true,
				})
				if err != nil {
					return err
				}
				identityID = created.ID
				identityCreated = true
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if !identityCreated {
					return nil
				}
				return s.gateway.DeleteIdentity(ctx, identityID)
			},
		},
		{
			Name: "ensure_profile",
			Run: func(ctx context.Context) error {
				existing, err := s.tenantSvc.Store().FindProfileByIdentity(ctx, identityID)
				if err == nil {
					profileID = existing.ID
					return nil
				}
				if !errors.Is(err, tenantdomain.ErrProfileNotFound) {
					return err
				}
				profile, err := s.tenantSvc.CreateProfile(ctx, tenantservice.CreateProfileRequest{
					IdentityID: identityID,
					FirstName:  req.FirstName,
					LastName:   req.LastName,
					Email:      invite.Email,
				})
				if err != nil {
					return err
				}
				profileID = profile.ID
				profileCreated = true
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if !profileCreated {
					return nil
				}
				return s.tenantSvc.Store().DeleteProfile(ctx, profileID)
			},
		},
		{
			Name: "create_membership",
			Run: func(ctx context.Context) error {
				_, err := s.tenantSvc.CreateMembership(ctx, invite.OrganizationID, identityID, invite.Role)
				return err
			},
		},
		{
			Name: "write_tenant_claims",
			Run: func(ctx context.Context) error {
				_, err := s.gateway.UpdateMetadata(ctx, identityID, map[string]any{
					"org_id": invite.OrganizationID.String(),
					"role":   invite.Role,
				})
				return err
			},
		},
	}

	if err := s.runner.Execute(ctx, "invite.accept", steps); err != nil {
		s.metrics.RecordSagaCompensation(ctx, compensationOutcome(err))
		return nil, err
	}

	s.metrics.RecordInviteAccepted(ctx)
	return &AcceptResult{
		OrganizationID:  invite.OrganizationID,
		IdentityID:      identityID,
		IdentityCreated: identityCreated,
	}, nil
}

// List returns the organization's invites, newest first.
func (s *Service) List(ctx context.Context, actorUserID string, orgID snowflake.ID) ([]domain.Invite, error) {
	if err := s.authz.Authorize(ctx, actorUserID, orgID.String(), team.ObjectInvite, team.ActionInviteView); err != nil {
		return nil, err
	}
	return s.repo.ListByOrganization(ctx, orgID)
}

// Members returns the organization's roster, oldest membership first.
func (s *Service) Members(ctx context.Context, actorUserID string, orgID snowflake.ID) ([]tenantdomain.Membership, error) {
	if err := s.authz.Authorize(ctx, actorUserID, orgID.String(), team.ObjectMember, team.ActionMemberView); err != nil {
		return nil, err
	}
	return s.tenantSvc.Store().ListMembers(ctx, orgID)
}

// Revoke withdraws an invite that has not been redeemed yet.
func (s *Service) Revoke(ctx context.Context, actorUserID string, orgID snowflake.ID, token string) error {
	if err := s.authz.Authorize(ctx, actorUserID, orgID.String(), team.ObjectInvite, team.ActionInviteRevoke); err != nil {
		return err
	}

	invite, err := s.repo.FindByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return err
	}
	if invite.OrganizationID != orgID {
		return domain.ErrInviteNotFound
	}
	if invite.AcceptedAt != nil {
		return domain.ErrInviteUsed
	}
	return s.repo.Delete(ctx, invite.ID)
}

func (s *Service) sendInviteEmail(ctx context.Context, invite *domain.Invite) error {
	org, err := s.tenantSvc.Store().GetOrganization(ctx, invite.OrganizationID)
	if err != nil {
		return err
	}

	inviter := "A teammate"
	if profile, err := s.tenantSvc.Store().FindProfileByIdentity(ctx, invite.InvitedBy); err == nil {
		inviter = strings.TrimSpace(profile.FirstName + " " + profile.LastName)
		if inviter == "" {
			inviter = profile.Email
		}
	}

	link := fmt.Sprintf("%s/invites/accept?token=%s", s.baseURL, url.QueryEscape(invite.Token))
	subject := s.holder.Current().InviteSubject
	if subject == "" {
		subject = fmt.Sprintf("You have been invited to %s", org.Name)
	}

	return s.mailer.SendTemplate(ctx, []string{invite.Email}, "invite", map[string]any{
		"subject":      subject,
		"organization": org.Name,
		"inviter":      inviter,
		"role":         invite.Role,
		"link":         link,
		"expires":      invite.ExpiresAt.Format(time.RFC1123),
	})
}

func newInviteToken() (string, error) {
	buf := make([]byte, inviteTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func compensationOutcome(err error) string {
	var partial *saga.PartialFailureError
	if errors.As(err, &partial) {
		return "partial_failure"
	}
	return "rolled_back"
}
