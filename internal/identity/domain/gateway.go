package domain

import "context"

// Gateway is the boundary the signup orchestration talks to. The bundled
// implementation is backed by the local database, but callers must treat it
// as an external identity provider: operations can fail independently and
// partial state is cleaned up by the caller, not the gateway.
type Gateway interface {
	CreateIdentity(ctx context.Context, req CreateIdentityRequest) (*Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*Identity, error)
	ConfirmIdentity(ctx context.Context, id string) error
	VerifyPassword(ctx context.Context, email, password string) (*Identity, error)
	OpenSession(ctx context.Context, identityID string) (*SessionGrant, error)
	AuthenticateSession(ctx context.Context, rawToken string) (*Identity, *Session, error)
	RevokeSession(ctx context.Context, rawToken string) error
}

type CreateIdentityRequest struct {
	Email    string
	Password string
	// Confirmed is set for identities arriving through a provider that has
	// already verified the email address.
	Confirmed bool
	Metadata  map[string]any
}
