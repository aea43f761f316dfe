// Package domain contains core types for organization invites.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Invite is a single-use, expiring offer to join an organization.
type Invite struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrganizationID snowflake.ID `gorm:"column:organization_id;not null;index" json:"organization_id"`
	Email          string       `gorm:"type:text;not null" json:"email"`
	Role           string       `gorm:"type:text;not null" json:"role"`
	Token          string       `gorm:"type:text;not null;uniqueIndex:ux_invites_token" json:"-"`
	InvitedBy      string       `gorm:"column:invited_by;type:uuid;not null" json:"invited_by"`
	ExpiresAt      time.Time    `gorm:"column:expires_at;not null" json:"expires_at"`
	AcceptedAt     *time.Time   `gorm:"column:accepted_at" json:"accepted_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Invite) TableName() string { return "invites" }
