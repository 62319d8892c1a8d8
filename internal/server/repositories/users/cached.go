package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/polls/internal/reqcache"
	"github.com/dmitrijs2005/polls/internal/server/models"
)

const (
	usersNamespace = "users"
	rolesNamespace = "user_roles"
)

// CachedRepository memoizes id and role lookups in the request cache (see
// reqcache.WithCache). Writes drop the cached users and roles.
type CachedRepository struct {
	Repository
}

func NewCachedRepository(inner Repository) *CachedRepository {
	return &CachedRepository{Repository: inner}
}

func forget(ctx context.Context) {
	reqcache.Forget(ctx, usersNamespace)
	reqcache.Forget(ctx, rolesNamespace)
}

func (r *CachedRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return reqcache.Memo(ctx, usersNamespace, id, func(ctx context.Context) (*models.User, error) {
		return r.Repository.GetByID(ctx, id)
	})
}

func (r *CachedRepository) GetRoles(ctx context.Context, id string) ([]string, error) {
	return reqcache.Memo(ctx, rolesNamespace, id, func(ctx context.Context) ([]string, error) {
		return r.Repository.GetRoles(ctx, id)
	})
}

func (r *CachedRepository) UpdatePassword(ctx context.Context, id, passwordHash, securityStamp string) error {
	forget(ctx)
	return r.Repository.UpdatePassword(ctx, id, passwordHash, securityStamp)
}

func (r *CachedRepository) ConfirmEmail(ctx context.Context, id string) error {
	forget(ctx)
	return r.Repository.ConfirmEmail(ctx, id)
}

func (r *CachedRepository) RecordFailedAccess(ctx context.Context, id string, maxAttempts int, lockoutEnd time.Time) (*time.Time, error) {
	forget(ctx)
	return r.Repository.RecordFailedAccess(ctx, id, maxAttempts, lockoutEnd)
}

func (r *CachedRepository) ResetAccessFailed(ctx context.Context, id string) error {
	forget(ctx)
	return r.Repository.ResetAccessFailed(ctx, id)
}

func (r *CachedRepository) Anonymize(ctx context.Context, id string, now time.Time) error {
	forget(ctx)
	return r.Repository.Anonymize(ctx, id, now)
}
