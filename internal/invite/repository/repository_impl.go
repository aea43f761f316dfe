package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/reservio/internal/invite/domain"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) Create(ctx context.Context, invite *domain.Invite) error {
	return r.db.WithContext(ctx).Create(invite).Error
}

func (r *repo) FindByToken(ctx context.Context, token string) (*domain.Invite, error) {
	var invite domain.Invite
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&invite).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrInviteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

func (r *repo) ListByOrganization(ctx context.Context, orgID snowflake.ID) ([]domain.Invite, error) {
	var invites []domain.Invite
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at desc").
		Find(&invites).Error
	if err != nil {
		return nil, err
	}
	return invites, nil
}

func (r *repo) Consume(ctx context.Context, id snowflake.ID, at time.Time) error {
	tx := r.db.WithContext(ctx).
		Model(&domain.Invite{}).
		Where("id = ? AND accepted_at IS NULL", id).
		Update("accepted_at", at)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrInviteUsed
	}
	return nil
}

func (r *repo) Unconsume(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).
		Model(&domain.Invite{}).
		Where("id = ?", id).
		Update("accepted_at", nil).Error
}

func (r *repo) Delete(ctx context.Context, id snowflake.ID) error {
	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Invite{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrInviteNotFound
	}
	return nil
}
