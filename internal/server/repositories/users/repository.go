// Package users declares the account repository contract and its PostgreSQL
// implementation.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/polls/internal/server/models"
)

// Repository defines account storage operations. Lookups by email and user
// name are case-insensitive and see soft-deleted rows too, so callers can tell
// a deleted account from a missing one.
type Repository interface {
	// Create inserts a new account. A taken email or user name yields
	// common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUserName(ctx context.Context, userName string) (*models.User, error)
	GetRoles(ctx context.Context, id string) ([]string, error)

	// UpdatePassword stores a new hash together with a fresh security stamp.
	UpdatePassword(ctx context.Context, id, passwordHash, securityStamp string) error
	ConfirmEmail(ctx context.Context, id string) error

	// RecordFailedAccess bumps the failed-login counter. Once it reaches
	// maxAttempts the counter is reset and the account is locked until
	// lockoutEnd. It returns the account's lockout end, nil when not locked.
	RecordFailedAccess(ctx context.Context, id string, maxAttempts int, lockoutEnd time.Time) (*time.Time, error)
	ResetAccessFailed(ctx context.Context, id string) error

	// Anonymize wipes personal data, marks the account deleted and soft
	// deletes the polls it owns.
	Anonymize(ctx context.Context, id string, now time.Time) error
}
