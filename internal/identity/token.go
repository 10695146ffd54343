package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
)

// minSecretLen is the shortest HS256 secret accepted.
const minSecretLen = 32

// ErrWeakSecret is returned when the signing secret is too short.
var ErrWeakSecret = fmt.Errorf("token secret must be at least %d bytes", minSecretLen)

// ActorClaims are the JWT claims of an actor token.
type ActorClaims struct {
	jwt.RegisteredClaims
	Role   string `json:"role"`
	Entity string `json:"entity,omitempty"`
}

// Context converts the claims into the engine's transition context.
func (c *ActorClaims) Context() fsm.Context {
	return fsm.Context{
		ActorID:          c.Subject,
		Role:             fsm.Role(c.Role),
		ResourceEntityID: c.Entity,
	}
}

// TokenIssuer issues and verifies actor tokens signed with HS256.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuer — The "iss" claim value.
//	ttl    — Token lifetime (default: 1 hour).
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	cp := make([]byte, len(secret))
	copy(cp, secret)
	return &TokenIssuer{secret: cp, issuer: issuer, ttl: ttl}, nil
}

// Issue creates a signed token for actorID acting as role for entity.
func (t *TokenIssuer) Issue(actorID, role, entity string) (string, error) {
	if actorID == "" || role == "" {
		return "", errors.New("actor id and role are required")
	}
	now := time.Now().UTC()
	claims := ActorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   actorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Role:   role,
		Entity: entity,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an actor token, returning its claims on success.
func (t *TokenIssuer) Verify(tokenStr string) (*ActorClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ActorClaims{},
		func(tok *jwt.Token) (any, error) {
			return t.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" || claims.Role == "" {
		return nil, fmt.Errorf("token is missing sub or role")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }
