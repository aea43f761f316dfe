package signup

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/reservio/internal/clock"
	identitydomain "github.com/smallbiznis/reservio/internal/identity/domain"
	"github.com/smallbiznis/reservio/internal/identity/oauth"
	"github.com/smallbiznis/reservio/internal/idempotency"
	"github.com/smallbiznis/reservio/internal/observability/metrics"
	"github.com/smallbiznis/reservio/internal/otp"
	"github.com/smallbiznis/reservio/internal/pending"
	"github.com/smallbiznis/reservio/internal/saga"
	"github.com/smallbiznis/reservio/internal/signup/domain"
	tenantdomain "github.com/smallbiznis/reservio/internal/tenant/domain"
	tenantservice "github.com/smallbiznis/reservio/internal/tenant/service"
)

const minPasswordLength = 8

type service struct {
	log       *zap.Logger
	gateway   identitydomain.Gateway
	oauthSvc  oauth.Service
	otpMgr    *otp.Manager
	codec     *pending.Codec
	tenantSvc *tenantservice.Service
	runner    *saga.Runner
	idemStore idempotency.Store
	metrics   *metrics.Metrics
	clock     clock.Clock
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Gateway   identitydomain.Gateway
	OAuthSvc  oauth.Service
	OTPMgr    *otp.Manager
	Codec     *pending.Codec
	TenantSvc *tenantservice.Service
	Runner    *saga.Runner
	IdemStore idempotency.Store
	Metrics   *metrics.Metrics
	Clock     clock.Clock
}

func NewService(p Params) domain.Service {
	return &service{
		log:       p.Log.Named("signup.service"),
		gateway:   p.Gateway,
		oauthSvc:  p.OAuthSvc,
		otpMgr:    p.OTPMgr,
		codec:     p.Codec,
		tenantSvc: p.TenantSvc,
		runner:    p.Runner,
		idemStore: p.IdemStore,
		metrics:   p.Metrics,
		clock:     p.Clock,
	}
}

// Begin registers the email with the identity provider and issues the first
// challenge. A leftover unconfirmed identity from an abandoned signup is
// replaced so the user can start over cleanly.
func (s *service) Begin(ctx context.Context, req domain.BeginRequest) (*domain.PendingToken, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return nil, domain.ErrInvalidRequest
	}
	email := strings.ToLower(addr.Address)
	if len(strings.TrimSpace(req.Password)) < minPasswordLength {
		return nil, domain.ErrInvalidRequest
	}

	existing, err := s.gateway.FindByEmail(ctx, email)
	switch {
	case err == nil && existing.Confirmed:
		return nil, domain.ErrEmailTaken
	case err == nil:
		if err := s.gateway.DeleteIdentity(ctx, existing.ID); err != nil {
			return nil, err
		}
	case !errors.Is(err, identitydomain.ErrIdentityNotFound):
		return nil, err
	}

	identity, err := s.gateway.CreateIdentity(ctx, identitydomain.CreateIdentityRequest{
		Email:    email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, identitydomain.ErrEmailTaken) {
			return nil, domain.ErrEmailTaken
		}
		return nil, err
	}

	if err := s.otpMgr.Issue(ctx, identity.ID); err != nil {
		return nil, err
	}
	s.metrics.RecordOTPIssued(ctx, "signup")

	token, err := s.codec.Encode(pending.Session{
		Email:      email,
		Password:   req.Password,
		FirstName:  strings.TrimSpace(req.FirstName),
		LastName:   strings.TrimSpace(req.LastName),
		IdentityID: identity.ID,
		State:      pending.StateIdentityPending,
	})
	if err != nil {
		return nil, err
	}

	return &domain.PendingToken{
		Token: token,
		Email: email,
		State: pending.StateIdentityPending,
	}, nil
}

func (s *service) VerifyCode(ctx context.Context, pendingToken, code string) (*domain.PendingToken, error) {
	sess, err := s.codec.Decode(pendingToken)
	if err != nil {
		return nil, err
	}
	// Verification only moves forward; re-submitting against an already
	// verified session hands back the state the caller already holds.
	if sess.State == pending.StateSessionVerified {
		return &domain.PendingToken{
			Token: pendingToken,
			Email: sess.Email,
			State: sess.State,
		}, nil
	}
	if sess.State != pending.StateIdentityPending || sess.IdentityID == "" {
		return nil, pending.ErrInvalid
	}

	if err := s.otpMgr.Verify(ctx, sess.IdentityID, code); err != nil {
		return nil, err
	}

	if err := s.gateway.ConfirmIdentity(ctx, sess.IdentityID); err != nil {
		return nil, err
	}

	sess.State = pending.StateSessionVerified
	token, err := s.codec.Encode(*sess)
	if err != nil {
		return nil, err
	}

	return &domain.PendingToken{
		Token: token,
		Email: sess.Email,
		State: sess.State,
	}, nil
}

func (s *service) ResendCode(ctx context.Context, pendingToken string) error {
	sess, err := s.codec.Decode(pendingToken)
	if err != nil {
		return err
	}
	if sess.State != pending.StateIdentityPending || sess.IdentityID == "" {
		return pending.ErrInvalid
	}

	if err := s.otpMgr.Issue(ctx, sess.IdentityID); err != nil {
		return err
	}
	s.metrics.RecordOTPIssued(ctx, "resend")
	return nil
}

func (s *service) CheckPending(ctx context.Context, pendingToken string) (*domain.PendingStatus, error) {
	sess, err := s.codec.Decode(pendingToken)
	if err != nil {
		return nil, err
	}

	status := &domain.PendingStatus{
		State: sess.State,
		Email: sess.Email,
	}
	if sess.IdentityID != "" {
		provisioned, err := s.membershipExists(ctx, sess.IdentityID)
		if err != nil {
			return nil, err
		}
		status.Provisioned = provisioned
	}
	return status, nil
}

// CompleteOnboarding provisions the tenant as an ordered saga: organization,
// then profile, then owner membership, then tenant claims on the identity.
// Any failure undoes the completed steps in reverse, so either the whole
// tenant exists or none of it does.
func (s *service) CompleteOnboarding(ctx context.Context, pendingToken string, req domain.CompleteRequest) (*domain.CompleteResult, error) {
	sess, err := s.codec.Decode(pendingToken)
	if err != nil {
		return nil, err
	}
	if sess.State != pending.StateSessionVerified || sess.IdentityID == "" {
		return nil, domain.ErrNotVerified
	}

	orgName := strings.TrimSpace(req.OrganizationName)
	if orgName == "" {
		return nil, domain.ErrInvalidRequest
	}

	provisioned, err := s.membershipExists(ctx, sess.IdentityID)
	if err != nil {
		return nil, err
	}
	if provisioned {
		return nil, domain.ErrAlreadyProvisioned
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = fmt.Sprintf("signup:%s", sess.IdentityID)
	}
	if err := s.idemStore.Claim(ctx, key, idempotency.DefaultTTL); err != nil {
		if errors.Is(err, idempotency.ErrAlreadyClaimed) {
			return nil, domain.ErrProvisioningInFlight
		}
		return nil, err
	}
	defer func() {
		if err := s.idemStore.Release(context.WithoutCancel(ctx), key); err != nil {
			s.log.Warn("failed to release idempotency claim",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()

	var (
		org     *tenantdomain.Organization
		profile *tenantdomain.UserProfile
	)

	steps := []saga.Step{
		{
			Name: "create_organization",
			Run: func(ctx context.Context) error {
				created, err := s.tenantSvc.CreateOrganization(ctx, tenantservice.CreateOrganizationRequest{
					Name:    orgName,
					Country: req.Country,
				})
				if err != nil {
					return err
				}
				org = created
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.tenantSvc.Store().DeleteOrganization(ctx, org.ID)
			},
		},
		{
			Name: "create_profile",
			Run: func(ctx context.Context) error {
				created, err := s.tenantSvc.CreateProfile(ctx, tenantservice.CreateProfileRequest{
					IdentityID: sess.IdentityID,
					FirstName:  sess.FirstName,
					LastName:   sess.LastName,
					Email:      sess.Email,
				})
				if err != nil {
					return err
				}
				profile = created
				return nil
			},
			Compensate: func(ctx context.Context) error {
				return s.tenantSvc.Store().DeleteProfile(ctx, profile.ID)
			},
		},
		{
			Name: "create_membership",
			Run: func(ctx context.Context) error {
				_, err := s.tenantSvc.CreateMembership(ctx, org.ID, sess.IdentityID, tenantdomain.RoleOwner)
				return err
			},
			Compensate: func(ctx context.Context) error {
				membership, err := s.tenantSvc.Store().FindMembershipByUser(ctx, sess.IdentityID)
				if err != nil {
					return err
				}
				return s.tenantSvc.Store().DeleteMembership(ctx, membership.ID)
			},
		},
		{
			Name: "write_tenant_claims",
			Run: func(ctx context.Context) error {
				_, err := s.gateway.UpdateMetadata(ctx, sess.IdentityID, map[string]any{
					"org_id": org.ID.String(),
					"role":   tenantdomain.RoleOwner,
				})
				return err
			},
		},
	}

	if err := s.runner.Execute(ctx, "signup.provision", steps); err != nil {
		s.metrics.RecordSagaCompensation(ctx, compensationOutcome(err))
		// A duplicate membership means a concurrent execution won the race
		// after the pre-check. Its tenant exists, so report that instead of
		// a provisioning failure.
		if errors.Is(err, tenantdomain.ErrMembershipExists) {
			return nil, domain.ErrAlreadyProvisioned
		}
		return nil, err
	}

	grant, err := s.gateway.OpenSession(ctx, sess.IdentityID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSignupCompleted(ctx, "local")
	s.log.Info("tenant provisioned",
		zap.String("organization_id", org.ID.String()),
		zap.String("identity_id", sess.IdentityID),
	)

	return &domain.CompleteResult{
		Organization: org,
		Grant:        grant,
	}, nil
}

// BeginLogin runs the password check, then hands off to the same challenge
// flow signup uses. The pending token issued here carries no credentials.
func (s *service) BeginLogin(ctx context.Context, req domain.LoginRequest) (*domain.PendingToken, error) {
	identity, err := s.gateway.VerifyPassword(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	if err := s.otpMgr.Issue(ctx, identity.ID); err != nil {
		return nil, err
	}
	s.metrics.RecordOTPIssued(ctx, "login")

	token, err := s.codec.Encode(pending.Session{
		Email:      identity.Email,
		IdentityID: identity.ID,
		State:      pending.StateIdentityPending,
	})
	if err != nil {
		return nil, err
	}

	return &domain.PendingToken{
		Token: token,
		Email: identity.Email,
		State: pending.StateIdentityPending,
	}, nil
}

func (s *service) VerifyLoginCode(ctx context.Context, pendingToken, code string) (*identitydomain.SessionGrant, error) {
	sess, err := s.codec.Decode(pendingToken)
	if err != nil {
		return nil, err
	}
	if sess.State != pending.StateIdentityPending || sess.IdentityID == "" {
		return nil, pending.ErrInvalid
	}

	if err := s.otpMgr.Verify(ctx, sess.IdentityID, code); err != nil {
		return nil, err
	}

	// Tenant claims in the identity metadata can go stale against the
	// memberships table; refresh them on each login.
	if membership, err := s.tenantSvc.Store().FindMembershipByUser(ctx, sess.IdentityID); err == nil {
		if _, err := s.gateway.UpdateMetadata(ctx, sess.IdentityID, map[string]any{
			"org_id": membership.OrganizationID.String(),
			"role":   membership.Role,
		}); err != nil {
			s.log.Warn("tenant claims refresh failed",
				zap.String("identity_id", sess.IdentityID),
				zap.Error(err),
			)
		}
	} else if !errors.Is(err, tenantdomain.ErrMembershipNotFound) {
		return nil, err
	}

	return s.gateway.OpenSession(ctx, sess.IdentityID)
}

func (s *service) OAuthBegin(ctx context.Context, provider string, redirectURI string) (*domain.OAuthRedirect, error) {
	res, err := s.oauthSvc.RedirectURL(ctx, provider, oauth.RedirectRequest{RedirectURI: redirectURI})
	if err != nil {
		return nil, err
	}
	return &domain.OAuthRedirect{
		URL:          res.URL,
		State:        res.State,
		CodeVerifier: res.CodeVerifier,
	}, nil
}

// OAuthCallback finishes the provider handshake. Members get a session right
// away; anyone without a tenant continues to onboarding with a pending
// session that is already verified, since the provider vouched for the email.
func (s *service) OAuthCallback(ctx context.Context, provider string, req domain.OAuthCallbackRequest) (*domain.OAuthResult, error) {
	res, err := s.oauthSvc.Exchange(ctx, provider, oauth.ExchangeRequest{
		Code:         req.Code,
		RedirectURI:  req.RedirectURI,
		CodeVerifier: req.CodeVerifier,
	})
	if err != nil {
		return nil, err
	}

	profile := res.Profile
	identity, err := s.gateway.FindByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		provisioned, err := s.membershipExists(ctx, identity.ID)
		if err != nil {
			return nil, err
		}
		if provisioned {
			grant, err := s.gateway.OpenSession(ctx, identity.ID)
			if err != nil {
				return nil, err
			}
			return &domain.OAuthResult{Grant: grant}, nil
		}
	case errors.Is(err, identitydomain.ErrIdentityNotFound):
		identity, err = s.gateway.CreateIdentity(ctx, identitydomain.CreateIdentityRequest{
			Email:     profile.Email,
			Confirmed: true,
			Metadata: map[string]any{
				"oauth_provider":    res.ProviderName,
				"oauth_external_id": profile.ExternalID,
			},
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	firstName, lastName := splitDisplayName(profile.DisplayName)
	token, err := s.codec.Encode(pending.Session{
		Email:      identity.Email,
		FirstName:  firstName,
		LastName:   lastName,
		IdentityID: identity.ID,
		State:      pending.StateSessionVerified,
	})
	if err != nil {
		return nil, err
	}

	return &domain.OAuthResult{
		Pending: &domain.PendingToken{
			Token: token,
			Email: identity.Email,
			State: pending.StateSessionVerified,
		},
	}, nil
}

func (s *service) membershipExists(ctx context.Context, identityID string) (bool, error) {
	_, err := s.tenantSvc.Store().FindMembershipByUser(ctx, identityID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, tenantdomain.ErrMembershipNotFound) {
		return false, nil
	}
	return false, err
}

func splitDisplayName(displayName string) (string, string) {
	parts := strings.Fields(strings.TrimSpace(displayName))
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func compensationOutcome(err error) string {
	var partial *saga.PartialFailureError
	if errors.As(err, &partial) {
		return "partial_failure"
	}
	return "rolled_back"
}
