// Package pending carries signup state between requests without any server
// side storage. The whole session lives in a signed token held by the client,
// so an abandoned signup costs nothing to clean up.
package pending

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/smallbiznis/reservio/internal/clock"
)

const sessionTTL = time.Hour

// Session states, in the order the signup flow moves through them.
const (
	StateInit            = "init"
	StateIdentityPending = "identity_pending"
	StateSessionVerified = "verified"
	StateProvisioning    = "provisioning"
)

var (
	// ErrExpired means the token was well formed and signed by us but its
	// lifetime has passed. Callers translate this to 410 Gone so the client
	// can distinguish "start over" from "bad request".
	ErrExpired = errors.New("pending session expired")
	// ErrInvalid covers tampered, malformed or missing tokens.
	ErrInvalid = errors.New("pending session invalid")
)

// Session is the signup in flight.
type Session struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	IdentityID string
	State      string
}

type sessionClaims struct {
	Email      string `json:"email"`
	Password   string `json:"pwd,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	IdentityID string `json:"identity_id,omitempty"`
	State      string `json:"state"`
	jwt.RegisteredClaims
}

// Codec signs and verifies pending session tokens.
type Codec struct {
	secret []byte
	clock  clock.Clock
}

func NewCodec(secret string, clk clock.Clock) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("pending session secret is required")
	}
	return &Codec{secret: []byte(secret), clock: clk}, nil
}

// Encode signs the session into a compact token valid for one hour.
func (c *Codec) Encode(session Session) (string, error) {
	now := c.clock.Now()
	claims := sessionClaims{
		Email:      session.Email,
		Password:   session.Password,
		FirstName:  session.FirstName,
		LastName:   session.LastName,
		IdentityID: session.IdentityID,
		State:      session.State,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "reservio",
			Subject:   session.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Decode verifies the signature and lifetime and returns the session.
func (c *Codec) Decode(raw string) (*Session, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalid
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("reservio"),
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		// Signature problems win over lifetime problems: a forged token is
		// invalid even when its claimed expiry has also passed.
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrInvalid
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	if claims.State == "" {
		return nil, ErrInvalid
	}

	return &Session{
		Email:      claims.Email,
		Password:   claims.Password,
		FirstName:  claims.FirstName,
		LastName:   claims.LastName,
		IdentityID: claims.IdentityID,
		State:      claims.State,
	}, nil
}
