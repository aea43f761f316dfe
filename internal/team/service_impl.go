package team

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectInvite       = "invite"
	ObjectMember       = "member"
	ObjectOrganization = "organization"
)

const (
	ActionInviteCreate = "invite.create"
	ActionInviteView   = "invite.view"
	ActionInviteRevoke = "invite.revoke"

	ActionMemberView   = "member.view"
	ActionMemberRemove = "member.remove"

	ActionOrganizationUpdate = "organization.update"
)

var (
	ErrInvalidActor        = errors.New("invalid actor")
	ErrInvalidOrganization = errors.New("invalid organization")
	ErrInvalidObject       = errors.New("invalid object")
	ErrInvalidAction       = errors.New("invalid action")
	ErrForbidden           = errors.New("forbidden")
)

// Service checks whether a member may perform team-management actions within
// their organization.
type Service interface {
	Authorize(ctx context.Context, userID string, orgID string, object string, action string) error
}

type serviceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(db *gorm.DB, log *zap.Logger, enforcer *casbin.SyncedEnforcer) Service {
	return &serviceImpl{
		db:       db,
		log:      log.Named("team.authorization"),
		enforcer: enforcer,
	}
}

func (s *serviceImpl) Authorize(ctx context.Context, userID string, orgID string, object string, action string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	role, err := s.roleForUser(ctx, orgID, userID)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("user:%s", userID)
	roleName := fmt.Sprintf("role:%s", strings.ToLower(role))
	domain := fmt.Sprintf("org:%s", orgID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("org_id", orgID),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func (s *serviceImpl) roleForUser(ctx context.Context, orgID string, userID string) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM memberships
		 WHERE organization_id = ? AND user_id = ?
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

// ensureGrouping keeps the grouping policy in sync with the memberships
// table. A stale role for the subject in this domain is replaced.
func (s *serviceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Viewer, receptionist and staff see the roster but manage nothing.
		{"role:viewer", ObjectMember, ActionMemberView},
		{"role:receptionist", ObjectMember, ActionMemberView},
		{"role:staff", ObjectMember, ActionMemberView},

		// Admin permissions
		{"role:admin", ObjectMember, ActionMemberView},
		{"role:admin", ObjectMember, ActionMemberRemove},
		{"role:admin", ObjectInvite, ActionInviteView},
		{"role:admin", ObjectInvite, ActionInviteCreate},
		{"role:admin", ObjectInvite, ActionInviteRevoke},

		// Owner permissions
		{"role:owner", ObjectMember, ActionMemberView},
		{"role:owner", ObjectMember, ActionMemberRemove},
		{"role:owner", ObjectInvite, ActionInviteView},
		{"role:owner", ObjectInvite, ActionInviteCreate},
		{"role:owner", ObjectInvite, ActionInviteRevoke},
		{"role:owner", ObjectOrganization, ActionOrganizationUpdate},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
