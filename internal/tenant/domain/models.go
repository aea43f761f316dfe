// Package domain contains persistence models for the tenant store.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Membership roles, broadest to narrowest.
const (
	RoleOwner        = "owner"
	RoleAdmin        = "admin"
	RoleStaff        = "staff"
	RoleReceptionist = "receptionist"
	RoleViewer       = "viewer"
)

// ValidRole reports whether role is one of the membership roles.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleStaff, RoleReceptionist, RoleViewer:
		return true
	default:
		return false
	}
}

// Organization represents a tenant.
type Organization struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Handle    string       `gorm:"type:text;not null;uniqueIndex:ux_organizations_handle" json:"handle"`
	Country   string       `gorm:"type:text;not null;default:''" json:"country"`
	Timezone  string       `gorm:"type:text;not null;default:'UTC'" json:"timezone"`
	Currency  string       `gorm:"type:text;not null;default:'USD'" json:"currency"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// UserProfile is the application-side record for a provider identity.
type UserProfile struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	IdentityID string       `gorm:"type:uuid;not null;uniqueIndex:ux_user_profiles_identity" json:"identity_id"`
	FirstName  string       `gorm:"type:text;not null;default:''" json:"first_name"`
	LastName   string       `gorm:"type:text;not null;default:''" json:"last_name"`
	Email      string       `gorm:"type:text;not null" json:"email"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UserProfile) TableName() string { return "user_profiles" }

// Membership links an identity to its organization. A user belongs to at
// most one organization, which the unique index enforces even under
// concurrent provisioning.
type Membership struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	OrganizationID snowflake.ID `gorm:"column:organization_id;not null;index" json:"organization_id"`
	UserID         string       `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_memberships_user" json:"user_id"`
	Role           string       `gorm:"type:text;not null" json:"role"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "memberships" }
