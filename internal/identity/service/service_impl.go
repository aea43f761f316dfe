package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
	"gorm.io/datatypes"

	"github.com/smallbiznis/reservio/internal/clock"
	"github.com/smallbiznis/reservio/internal/identity/domain"
	"github.com/smallbiznis/reservio/pkg/db"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16

	sessionTokenBytes = 32
	sessionTTL        = 7 * 24 * time.Hour

	minPasswordLength = 8
)

// Gateway is the database-backed identity provider.
type Gateway struct {
	log         *zap.Logger
	repo        domain.Repository
	sessionRepo domain.SessionRepository
	genID       *snowflake.Node
	clock       clock.Clock
}

func New(log *zap.Logger, repo domain.Repository, sessionRepo domain.SessionRepository, genID *snowflake.Node, clk clock.Clock) domain.Gateway {
	return &Gateway{
		log:         log.Named("identity.gateway"),
		repo:        repo,
		sessionRepo: sessionRepo,
		genID:       genID,
		clock:       clk,
	}
}

func (g *Gateway) CreateIdentity(ctx context.Context, req domain.CreateIdentityRequest) (*domain.Identity, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	var hashed string
	if req.Password != "" {
		if len(strings.TrimSpace(req.Password)) < minPasswordLength {
			return nil, domain.ErrInvalidCredentials
		}
		hashed, err = hashPassword(req.Password)
		if err != nil {
			return nil, err
		}
	}

	metadata := datatypes.JSONMap{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	now := g.clock.Now()
	identity := &domain.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hashed,
		Confirmed:    req.Confirmed,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := g.repo.Create(ctx, identity); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, err
	}

	return identity, nil
}

func (g *Gateway) DeleteIdentity(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.ErrIdentityNotFound
	}
	return g.repo.Delete(ctx, id)
}

func (g *Gateway) GetIdentity(ctx context.Context, id string) (*domain.Identity, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrIdentityNotFound
	}
	return g.repo.FindByID(ctx, id)
}

func (g *Gateway) FindByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, domain.ErrIdentityNotFound
	}
	return g.repo.FindByEmail(ctx, normalized)
}

// UpdateMetadata merges patch into the identity metadata. A nil value
// removes the key, which is how one-time codes are cleared after use.
func (g *Gateway) UpdateMetadata(ctx context.Context, id string, patch map[string]any) (*domain.Identity, error) {
	identity, err := g.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	metadata := datatypes.JSONMap{}
	for k, v := range identity.Metadata {
		metadata[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(metadata, k)
			continue
		}
		metadata[k] = v
	}

	now := g.clock.Now()
	if err := g.repo.UpdateFields(ctx, id, map[string]any{
		"metadata":   metadata,
		"updated_at": now,
	}); err != nil {
		return nil, err
	}

	identity.Metadata = metadata
	identity.UpdatedAt = now
	return identity, nil
}

func (g *Gateway) ConfirmIdentity(ctx context.Context, id string) error {
	return g.repo.UpdateFields(ctx, id, map[string]any{
		"confirmed":  true,
		"updated_at": g.clock.Now(),
	})
}

func (g *Gateway) VerifyPassword(ctx context.Context, email, password string) (*domain.Identity, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if strings.TrimSpace(password) == "" {
		return nil, domain.ErrInvalidCredentials
	}

	identity, err := g.repo.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if identity.PasswordHash == "" || !verifyPassword(password, identity.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	return identity, nil
}

func (g *Gateway) OpenSession(ctx context.Context, identityID string) (*domain.SessionGrant, error) {
	identity, err := g.repo.FindByID(ctx, identityID)
	if err != nil {
		return nil, err
	}

	rawToken, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()
	session := &domain.Session{
		ID:         g.genID.Generate(),
		IdentityID: identity.ID,
		TokenHash:  hashToken(rawToken),
		ExpiresAt:  now.Add(sessionTTL),
		CreatedAt:  now,
	}
	if err := g.sessionRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return &domain.SessionGrant{
		Identity:  identity,
		RawToken:  rawToken,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (g *Gateway) AuthenticateSession(ctx context.Context, rawToken string) (*domain.Identity, *domain.Session, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, nil, domain.ErrInvalidSession
	}

	session, err := g.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, nil, domain.ErrInvalidSession
		}
		return nil, nil, err
	}

	if g.clock.Now().After(session.ExpiresAt) {
		return nil, nil, domain.ErrSessionExpired
	}

	identity, err := g.repo.FindByID(ctx, session.IdentityID)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			return nil, nil, domain.ErrInvalidSession
		}
		return nil, nil, err
	}

	return identity, session, nil
}

func (g *Gateway) RevokeSession(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	session, err := g.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}

	return g.sessionRepo.DeleteSession(ctx, session.ID)
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, saltB64, hashB64), nil
}

func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var memory uint32
	var timeCost uint32
	var threads uint8
	{
		params := strings.Split(parts[3], ",")
		if len(params) != 3 {
			return false
		}

		m, ok := strings.CutPrefix(params[0], "m=")
		if !ok {
			return false
		}
		t, ok := strings.CutPrefix(params[1], "t=")
		if !ok {
			return false
		}
		p, ok := strings.CutPrefix(params[2], "p=")
		if !ok {
			return false
		}

		m64, err := strconv.ParseUint(m, 10, 32)
		if err != nil {
			return false
		}
		t64, err := strconv.ParseUint(t, 10, 32)
		if err != nil {
			return false
		}
		p64, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return false
		}

		memory = uint32(m64)
		timeCost = uint32(t64)
		threads = uint8(p64)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	check := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}
