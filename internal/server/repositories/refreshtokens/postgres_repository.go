package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/polls/internal/common"
	"github.com/dmitrijs2005/polls/internal/dbx"
	"github.com/dmitrijs2005/polls/internal/server/models"
)

const secretHashConstraint = "refresh_tokens_secret_hash_key"

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	if token.ID == "" {
		token.ID = NewID()
	}

	query := `
		INSERT INTO refresh_tokens (id, user_id, secret_hash, expires_at, persistent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		token.ID, token.UserID, token.SecretHash, token.ExpiresAt, token.Persistent).Scan(&token.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, secretHashConstraint) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := `
		SELECT user_id, secret_hash, expires_at, persistent, created_at
		FROM refresh_tokens
		WHERE id = $1
	`
	token := &models.RefreshToken{ID: id}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&token.UserID, &token.SecretHash, &token.ExpiresAt, &token.Persistent, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

func (r *PostgresRepository) ReplaceSecretHash(ctx context.Context, id string, oldHash, newHash []byte) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET secret_hash = $3
		WHERE id = $1 AND secret_hash = $2
	`
	res, err := r.db.ExecContext(ctx, query, id, oldHash, newHash)
	if err != nil {
		if dbx.IsUniqueViolation(err, secretHashConstraint) {
			return false, common.ErrorAlreadyExists
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string) (bool, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

func (r *PostgresRepository) RevokeAllForOwner(ctx context.Context, userID string) (bool, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return affected(res)
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}
