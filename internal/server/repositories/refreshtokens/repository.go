// Package refreshtokens declares the server-side repository contract for
// refresh token records and its PostgreSQL and Redis implementations.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/polls/internal/server/models"
)

// Repository defines operations for issuing, retrieving, rotating and revoking
// refresh tokens. Records only ever hold a hash of the token secret.
type Repository interface {
	// Create stores a new refresh token record. A hash that is already in use
	// yields common.ErrorAlreadyExists.
	Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)

	// Get returns the record with the given id or common.ErrorNotFound.
	Get(ctx context.Context, id string) (*models.RefreshToken, error)

	// ReplaceSecretHash swaps the stored hash for newHash only while it still
	// equals oldHash. It reports whether the swap happened; a concurrent
	// rotation that got there first makes it return false.
	ReplaceSecretHash(ctx context.Context, id string, oldHash, newHash []byte) (bool, error)

	// Revoke deletes the record and reports whether one existed.
	Revoke(ctx context.Context, id string) (bool, error)

	// RevokeAllForOwner deletes every record of userID and reports whether
	// anything was removed.
	RevokeAllForOwner(ctx context.Context, userID string) (bool, error)

	// DeleteExpired removes records that expired before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
