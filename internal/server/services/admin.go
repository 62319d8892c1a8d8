package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/polls/internal/common"
	"github.com/dmitrijs2005/polls/internal/dbx"
	"github.com/dmitrijs2005/polls/internal/logging"
	"github.com/dmitrijs2005/polls/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/polls/internal/timex"
	"github.com/go-playground/validator/v10"
)

// TokenAdmin is the token manager surface used by AdminService.
type TokenAdmin interface {
	TokenRevoker
	PurgeExpired(ctx context.Context) (int64, error)
}

// AdminService performs operator actions on accounts.
type AdminService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      TokenAdmin
	logger      logging.Logger
	validate    *validator.Validate
	now         timex.Clock
}

func NewAdminService(db *sql.DB, m repomanager.RepositoryManager, tokens TokenAdmin, logger logging.Logger) *AdminService {
	return &AdminService{
		db:          db,
		repomanager: m,
		tokens:      tokens,
		logger:      logger,
		validate:    validator.New(),
		now:         timex.SystemClock,
	}
}

// ForceLogout revokes every refresh token of userID.
func (s *AdminService) ForceLogout(ctx context.Context, userID string) (bool, error) {
	removed, err := s.tokens.RevokeAllForOwner(ctx, userID)
	if err != nil {
		return false, err
	}
	s.logger.Info(ctx, "forced logout", "user_id", userID, "removed", removed)
	return removed, nil
}

// DeleteUser anonymizes the account, soft-deletes its polls and drops its
// refresh tokens in one transaction. Tokens kept outside the database are
// revoked once the transaction has committed.
func (s *AdminService) DeleteUser(ctx context.Context, userID string) error {
	now := s.now()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).Anonymize(ctx, userID, now); err != nil {
			return err
		}
		if s.repomanager.TokensInDB() {
			if _, err := s.repomanager.RefreshTokens(tx).RevokeAllForOwner(ctx, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrUserNotFound
		}
		return fmt.Errorf("error deleting user: %w", err)
	}

	if !s.repomanager.TokensInDB() {
		if _, err := s.tokens.RevokeAllForOwner(ctx, userID); err != nil {
			return fmt.Errorf("user deleted, revoking refresh tokens failed: %w", err)
		}
	}

	s.logger.Info(ctx, "user deleted", "user_id", userID)
	return nil
}

// PurgeExpiredTokens removes expired refresh token records.
func (s *AdminService) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.tokens.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "expired refresh tokens purged", "count", n)
	return n, nil
}

// SetPassword overwrites the user's password and revokes every session.
func (s *AdminService) SetPassword(ctx context.Context, userID, password string) error {
	if err := s.validate.Var(password, passwordRules); err != nil {
		return fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	if err := setPassword(ctx, s.repomanager.Users(s.db), s.tokens, userID, password); err != nil {
		return err
	}
	s.logger.Info(ctx, "password set by admin", "user_id", userID)
	return nil
}
