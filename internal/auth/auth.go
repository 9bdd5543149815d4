package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

// ClaimsKey is the context key the Authentication middleware stores Claims under.
const ClaimsKey ctxKey = 1

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var ErrInvalidToken = errors.New("invalid token")

type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// Claims is the caller identity carried in a bearer token. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role,omitempty"` // "authenticated" for Supabase users
	AppMetadata AppMetadata `json:"app_metadata,omitempty"`
}

// HasRole reports whether the caller holds role. Every authenticated
// caller holds RoleUser; admins are marked through app_metadata or the
// top level role claim.
func (c Claims) HasRole(role Role) bool {
	switch role {
	case RoleUser:
		return c.Subject != ""
	case RoleAdmin:
		return c.AppMetadata.Role == string(RoleAdmin) || c.Role == string(RoleAdmin)
	default:
		return false
	}
}

// Verifier turns a raw bearer token into caller Claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// Keys verifies and issues HS256 tokens signed with a shared secret, the
// scheme Supabase uses for its access tokens.
type Keys struct {
	secret []byte
}

func NewKeys(secret string) (*Keys, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Keys{secret: []byte(secret)}, nil
}

func (k *Keys) Verify(_ context.Context, token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return k.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// GenerateToken signs claims, filling IssuedAt and ExpiresAt when unset.
func (k *Keys) GenerateToken(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(k.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// FromContext returns the Claims the Authentication middleware stored in ctx.
func FromContext(ctx context.Context) (Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(Claims)
	return claims, ok
}
