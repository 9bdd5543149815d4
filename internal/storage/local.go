package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const downloadAudience = "asset-download"

// Local serves assets from a directory on disk. A signed URL carries an
// HS256 download token naming the object; every token has its own id, so
// two URLs for the same object are never equal.
type Local struct {
	dir         string
	secret      []byte
	downloadURL string
	now         func() time.Time
}

// NewLocal signs URLs of the form downloadURL?token=... for files below dir.
func NewLocal(dir, secret, downloadURL string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("asset dir is empty")
	}
	if secret == "" {
		return nil, errors.New("asset secret is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset dir: %w", err)
	}
	return &Local{dir: abs, secret: []byte(secret), downloadURL: downloadURL, now: time.Now}, nil
}

type downloadClaims struct {
	jwt.RegisteredClaims
}

func (l *Local) SignURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	if _, err := l.Resolve(path); err != nil {
		return "", err
	}
	now := l.now()
	claims := downloadClaims{jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   path,
		Audience:  jwt.ClaimStrings{downloadAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign download token: %w", err)
	}
	return l.downloadURL + "?token=" + url.QueryEscape(token), nil
}

// Verify checks a download token and returns the file it grants access to.
func (l *Local) Verify(token string) (string, error) {
	var claims downloadClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return l.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(downloadAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(l.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid download token: %w", err)
	}
	return l.Resolve(claims.Subject)
}

// Resolve maps a storage reference to a file below the asset dir.
func (l *Local) Resolve(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(path))
	if clean == string(filepath.Separator) {
		return "", ErrInvalidPath
	}
	full := filepath.Join(l.dir, clean)
	if !strings.HasPrefix(full, l.dir+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}
