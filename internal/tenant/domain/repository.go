package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// Store is the persistence boundary the provisioning saga writes through.
// Each create has a matching delete so a failed saga can undo its work.
type Store interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	DeleteOrganization(ctx context.Context, id snowflake.ID) error
	GetOrganization(ctx context.Context, id snowflake.ID) (*Organization, error)
	FindOrganizationByHandle(ctx context.Context, handle string) (*Organization, error)

	CreateProfile(ctx context.Context, profile *UserProfile) error
	DeleteProfile(ctx context.Context, id snowflake.ID) error
	FindProfileByIdentity(ctx context.Context, identityID string) (*UserProfile, error)

	CreateMembership(ctx context.Context, membership *Membership) error
	DeleteMembership(ctx context.Context, id snowflake.ID) error
	FindMembershipByUser(ctx context.Context, userID string) (*Membership, error)
	ListMembers(ctx context.Context, orgID snowflake.ID) ([]Membership, error)
}
