// Package domain contains core types for the identity provider gateway.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Identity is a provider-side account. The provisioning flow treats the
// provider as an external system, so everything it needs to remember between
// steps lives in Metadata.
type Identity struct {
	ID           string            `gorm:"type:uuid;primaryKey"`
	Email        string            `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash string            `gorm:"type:text;not null;default:''"`
	Confirmed    bool              `gorm:"not null;default:false"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Identity) TableName() string { return "identities" }

// Session represents a persisted login session.
type Session struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	IdentityID string      `gorm:"column:identity_id;type:uuid;not null;index"`
	TokenHash string       `gorm:"column:token_hash;type:text;not null;uniqueIndex"`
	ExpiresAt time.Time    `gorm:"column:expires_at;not null"`
	CreatedAt time.Time    `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "identity_sessions" }

// SessionGrant carries the raw token back to the transport layer. The raw
// value is never persisted, only its hash.
type SessionGrant struct {
	Identity  *Identity
	RawToken  string
	ExpiresAt time.Time
}
