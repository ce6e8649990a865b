// Package auth mints and verifies the signed session tokens that carry a
// caller's identity and role between requests.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oralvis/apiserver/types"
)

// DefaultTokenTTL is the validity window of an issued session token.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrInvalidToken is returned for any token that fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrEmptySecret is returned when an issuer is built without a key.
	ErrEmptySecret = errors.New("signing secret is required")
)

// Claims is the signed payload of a session token.
type Claims struct {
	jwt.RegisteredClaims
	UserID int        `json:"id"`
	Role   types.Role `json:"role"`
	Name   string     `json:"name"`
}

// TokenIssuer signs and verifies HS256 session tokens. It holds no
// mutable state after construction and is safe for concurrent use.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs an issuer. A non-positive ttl falls back to
// DefaultTokenTTL.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock returns a copy of the issuer that reads time from now.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	clone := *t
	clone.now = now
	return &clone
}

// TTL returns the validity window of issued tokens.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue mints a token for the identity that expires ttl from now.
func (t *TokenIssuer) Issue(identity types.Identity) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(identity.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		UserID: identity.ID,
		Role:   identity.Role,
		Name:   identity.Name,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies signature and expiry and returns the embedded identity.
// The role claim is trusted as-is once the token verifies.
func (t *TokenIssuer) Parse(tokenString string) (types.Identity, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return types.Identity{}, ErrInvalidToken
	}
	if claims.UserID < 1 {
		return types.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !claims.Role.Valid() {
		return types.Identity{}, fmt.Errorf("%w: unknown role", ErrInvalidToken)
	}

	return types.Identity{
		ID:   claims.UserID,
		Role: claims.Role,
		Name: claims.Name,
	}, nil
}
