// Package otp issues and verifies one-time login codes. Codes are stored in
// the identity provider metadata so no extra table is needed and a deleted
// identity automatically loses its pending challenge.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/reservio/internal/clock"
	identitydomain "github.com/smallbiznis/reservio/internal/identity/domain"
)

const (
	codeDigits = 6
	codeTTL    = 5 * time.Minute

	metadataCodeKey    = "otp"
	metadataCreatedKey = "otp_created_at"
)

var (
	ErrNoChallenge = errors.New("no pending challenge")
	ErrExpired     = errors.New("challenge expired")
	ErrMismatch    = errors.New("challenge code mismatch")
)

// Manager owns the challenge lifecycle for an identity.
type Manager struct {
	log      *zap.Logger
	gateway  identitydomain.Gateway
	delivery Delivery
	clock    clock.Clock
}

func NewManager(log *zap.Logger, gateway identitydomain.Gateway, delivery Delivery, clk clock.Clock) *Manager {
	return &Manager{
		log:      log.Named("otp.manager"),
		gateway:  gateway,
		delivery: delivery,
		clock:    clk,
	}
}

// Issue generates a fresh code for the identity and hands it to the delivery
// channel. Issuing again replaces any previous code, so only the newest one
// verifies.
func (m *Manager) Issue(ctx context.Context, identityID string) error {
	identity, err := m.gateway.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		return err
	}

	now := m.clock.Now()
	if _, err := m.gateway.UpdateMetadata(ctx, identity.ID, map[string]any{
		metadataCodeKey:    code,
		metadataCreatedKey: now.Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}

	if err := m.delivery.Deliver(ctx, identity.Email, code); err != nil {
		return err
	}

	m.log.Info("challenge issued", zap.String("identity_id", identity.ID))
	return nil
}

// Verify checks the submitted code against the pending challenge. On success
// the challenge is cleared so the code cannot be replayed.
func (m *Manager) Verify(ctx context.Context, identityID, submitted string) error {
	identity, err := m.gateway.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}

	stored, ok := identity.Metadata[metadataCodeKey].(string)
	if !ok || stored == "" {
		return ErrNoChallenge
	}
	createdRaw, ok := identity.Metadata[metadataCreatedKey].(string)
	if !ok || createdRaw == "" {
		return ErrNoChallenge
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return ErrNoChallenge
	}

	if m.clock.Now().Sub(createdAt) > codeTTL {
		return ErrExpired
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) != 1 {
		return ErrMismatch
	}

	if _, err := m.gateway.UpdateMetadata(ctx, identity.ID, map[string]any{
		metadataCodeKey:    nil,
		metadataCreatedKey: nil,
	}); err != nil {
		return err
	}

	return nil
}

func generateCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
