// Package storage mints short-lived signed URLs for private product assets.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidPath is returned for storage references that are empty or
// escape the asset root.
var ErrInvalidPath = errors.New("invalid asset path")

// Signer mints a time-limited URL granting read access to the object at path.
type Signer interface {
	SignURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}
