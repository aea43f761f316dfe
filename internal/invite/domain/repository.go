package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, invite *Invite) error
	FindByToken(ctx context.Context, token string) (*Invite, error)
	ListByOrganization(ctx context.Context, orgID snowflake.ID) ([]Invite, error)
	// Consume marks the invite accepted. It succeeds at most once: a second
	// call reports ErrInviteUsed because the conditional update matches no
	// rows.
	Consume(ctx context.Context, id snowflake.ID, at time.Time) error
	// Unconsume reverses Consume during compensation.
	Unconsume(ctx context.Context, id snowflake.ID) error
	Delete(ctx context.Context, id snowflake.ID) error
}
