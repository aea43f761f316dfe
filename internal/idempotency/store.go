// Package idempotency guards at-most-once execution of provisioning work.
// A claim is a short-lived lease on a caller-supplied key: the first claim
// wins, concurrent duplicates are rejected until the lease is released or
// expires.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyClaimed means another execution holds the key.
var ErrAlreadyClaimed = errors.New("idempotency key already claimed")

// DefaultTTL caps how long an abandoned claim blocks retries.
const DefaultTTL = 2 * time.Minute

type Store interface {
	// Claim takes the lease or returns ErrAlreadyClaimed.
	Claim(ctx context.Context, key string, ttl time.Duration) error
	// Release frees the lease so the key can be claimed again.
	Release(ctx context.Context, key string) error
}
