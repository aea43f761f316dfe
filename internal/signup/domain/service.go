// Package domain defines the signup orchestration boundary.
package domain

import (
	"context"
	"errors"

	identitydomain "github.com/smallbiznis/reservio/internal/identity/domain"
	tenantdomain "github.com/smallbiznis/reservio/internal/tenant/domain"
)

// Service drives a signup from first contact to a provisioned tenant, plus
// the two-factor login flow that reuses the same challenge machinery.
type Service interface {
	// Begin registers the email, issues a verification code and returns the
	// pending session token the client must carry through the flow.
	Begin(ctx context.Context, req BeginRequest) (*PendingToken, error)
	// VerifyCode checks the submitted challenge code and advances the
	// pending session to the verified state.
	VerifyCode(ctx context.Context, pendingToken, code string) (*PendingToken, error)
	// ResendCode replaces the pending challenge with a fresh code.
	ResendCode(ctx context.Context, pendingToken string) error
	// CheckPending reports where a pending session stands.
	CheckPending(ctx context.Context, pendingToken string) (*PendingStatus, error)
	// CompleteOnboarding provisions the tenant for a verified session and
	// opens a login session.
	CompleteOnboarding(ctx context.Context, pendingToken string, req CompleteRequest) (*CompleteResult, error)

	// BeginLogin verifies the password and issues a login challenge.
	BeginLogin(ctx context.Context, req LoginRequest) (*PendingToken, error)
	// VerifyLoginCode checks the login challenge and opens a session.
	VerifyLoginCode(ctx context.Context, pendingToken, code string) (*identitydomain.SessionGrant, error)

	// OAuthBegin returns the provider redirect for a hosted login.
	OAuthBegin(ctx context.Context, provider string, redirectURI string) (*OAuthRedirect, error)
	// OAuthCallback finishes the provider flow. Existing members get a
	// session; everyone else gets a verified pending session and continues
	// to onboarding.
	OAuthCallback(ctx context.Context, provider string, req OAuthCallbackRequest) (*OAuthResult, error)
}

type BeginRequest struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// PendingToken is the signed client-side session plus what the transport
// layer needs to set the cookie.
type PendingToken struct {
	Token string
	Email string
	State string
}

type PendingStatus struct {
	State       string
	Email       string
	Provisioned bool
}

type CompleteRequest struct {
	OrganizationName string
	Country          string
	// IdempotencyKey guards against double submission. When empty, one is
	// derived from the identity so a retry of the same signup still
	// collides with an execution in flight.
	IdempotencyKey string
}

type CompleteResult struct {
	Organization *tenantdomain.Organization
	Grant        *identitydomain.SessionGrant
}

type LoginRequest struct {
	Email    string
	Password string
}

type OAuthRedirect struct {
	URL          string
	State        string
	CodeVerifier string
}

type OAuthCallbackRequest struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// OAuthResult is either a session (existing member) or a pending token
// (new user heading into onboarding), never both.
type OAuthResult struct {
	Grant   *identitydomain.SessionGrant
	Pending *PendingToken
}

var (
	ErrInvalidRequest       = errors.New("invalid signup request")
	ErrEmailTaken           = errors.New("email already registered")
	ErrNotVerified          = errors.New("pending session is not verified")
	ErrAlreadyProvisioned   = errors.New("account already provisioned")
	ErrProvisioningInFlight = errors.New("provisioning already in progress")
)
