package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/reservio/internal/tenant/domain"
)

type store struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Store {
	return &store{db: db}
}

func (s *store) CreateOrganization(ctx context.Context, org *domain.Organization) error {
	return s.db.WithContext(ctx).Create(org).Error
}

func (s *store) DeleteOrganization(ctx context.Context, id snowflake.ID) error {
	tx := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Organization{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrOrganizationNotFound
	}
	return nil
}

func (s *store) GetOrganization(ctx context.Context, id snowflake.ID) (*domain.Organization, error) {
	var org domain.Organization
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *store) FindOrganizationByHandle(ctx context.Context, handle string) (*domain.Organization, error) {
	var org domain.Organization
	err := s.db.WithContext(ctx).Where("handle = ?", handle).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (s *store) CreateProfile(ctx context.Context, profile *domain.UserProfile) error {
	return s.db.WithContext(ctx).Create(profile).Error
}

func (s *store) DeleteProfile(ctx context.Context, id snowflake.ID) error {
	tx := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.UserProfile{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

func (s *store) FindProfileByIdentity(ctx context.Context, identityID string) (*domain.UserProfile, error) {
	var profile domain.UserProfile
	err := s.db.WithContext(ctx).Where("identity_id = ?", identityID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *store) CreateMembership(ctx context.Context, membership *domain.Membership) error {
	return s.db.WithContext(ctx).Create(membership).Error
}

func (s *store) DeleteMembership(ctx context.Context, id snowflake.ID) error {
	tx := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Membership{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrMembershipNotFound
	}
	return nil
}

func (s *store) FindMembershipByUser(ctx context.Context, userID string) (*domain.Membership, error) {
	var membership domain.Membership
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

func (s *store) ListMembers(ctx context.Context, orgID snowflake.ID) ([]domain.Membership, error) {
	var members []domain.Membership
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at asc").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}
