package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/smallbiznis/reservio/internal/clock"
	"github.com/smallbiznis/reservio/internal/tenant/domain"
	"github.com/smallbiznis/reservio/pkg/db"
)

// maxHandleAttempts bounds the suffix search before giving up.
const maxHandleAttempts = 50

// Service wraps the tenant store with handle allocation and locale defaults.
type Service struct {
	log   *zap.Logger
	store domain.Store
	genID *snowflake.Node
	clock clock.Clock
}

func New(log *zap.Logger, store domain.Store, genID *snowflake.Node, clk clock.Clock) *Service {
	return &Service{
		log:   log.Named("tenant.service"),
		store: store,
		genID: genID,
		clock: clk,
	}
}

// Store exposes the underlying store for callers that manage their own
// compensation, such as the provisioning saga.
func (s *Service) Store() domain.Store { return s.store }

type CreateOrganizationRequest struct {
	Name    string
	Country string
}

// CreateOrganization inserts a tenant, deriving a unique handle from the
// display name. The handle is claimed by attempting the insert and retrying
// with a numeric suffix on conflict, so two racing signups with the same name
// both succeed with distinct handles.
func (s *Service) CreateOrganization(ctx context.Context, req CreateOrganizationRequest) (*domain.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	base := slug.Make(name)
	if base == "" {
		base = "org"
	}

	timezone, currency := DefaultsForCountry(req.Country)
	now := s.clock.Now()

	for attempt := 0; attempt < maxHandleAttempts; attempt++ {
		handle := base
		if attempt > 0 {
			handle = fmt.Sprintf("%s-%d", base, attempt)
		}

		// Fast-fail lookup; the insert below stays authoritative under races.
		if _, err := s.store.FindOrganizationByHandle(ctx, handle); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrOrganizationNotFound) {
			return nil, err
		}

		org := &domain.Organization{
			ID:        s.genID.Generate(),
			Name:      name,
			Handle:    handle,
			Country:   strings.ToUpper(strings.TrimSpace(req.Country)),
			Timezone:  timezone,
			Currency:  currency,
			CreatedAt: now,
			UpdatedAt: now,
		}

		err := s.store.CreateOrganization(ctx, org)
		if err == nil {
			return org, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		s.log.Debug("handle taken, retrying",
			zap.String("handle", handle),
		)
	}

	return nil, domain.ErrHandleExhausted
}

type CreateProfileRequest struct {
	IdentityID string
	FirstName  string
	LastName   string
	Email      string
}

func (s *Service) CreateProfile(ctx context.Context, req CreateProfileRequest) (*domain.UserProfile, error) {
	now := s.clock.Now()
	profile := &domain.UserProfile{
		ID:         s.genID.Generate(),
		IdentityID: req.IdentityID,
		FirstName:  strings.TrimSpace(req.FirstName),
		LastName:   strings.TrimSpace(req.LastName),
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *Service) CreateMembership(ctx context.Context, orgID snowflake.ID, userID, role string) (*domain.Membership, error) {
	if !domain.ValidRole(role) {
		return nil, domain.ErrInvalidRole
	}
	membership := &domain.Membership{
		ID:             s.genID.Generate(),
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.store.CreateMembership(ctx, membership); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrMembershipExists
		}
		return nil, err
	}
	return membership, nil
}
