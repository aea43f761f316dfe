package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/reservio/internal/identity/domain"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) (domain.Repository, domain.SessionRepository) {
	r := &repo{db: db}
	return r, r
}

func (r *repo) Create(ctx context.Context, identity *domain.Identity) error {
	return r.db.WithContext(ctx).Create(identity).Error
}

func (r *repo) Delete(ctx context.Context, id string) error {
	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Identity{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, id string) (*domain.Identity, error) {
	var identity domain.Identity
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *repo) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	var identity domain.Identity
	err := r.db.WithContext(ctx).Where("lower(email) = lower(?)", email).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *repo) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	tx := r.db.WithContext(ctx).Model(&domain.Identity{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrIdentityNotFound
	}
	return nil
}

func (r *repo) CreateSession(ctx context.Context, session *domain.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repo) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) DeleteSession(ctx context.Context, sessionID snowflake.ID) error {
	tx := r.db.WithContext(ctx).Where("id = ?", sessionID).Delete(&domain.Session{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *repo) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&domain.Session{}).Error
}
