package users

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

const userColumns = `id, coalesce(email, ''), coalesce(username, ''), password_hash, security_stamp,
		email_confirmed, access_failed_count, lockout_end, deleted_at, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (email, username, password_hash, security_stamp, email_confirmed)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.UserName, user.PasswordHash, user.SecurityStamp, user.EmailConfirmed).
		Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + `
		 FROM users
		 WHERE ` + where + `
		 ORDER BY deleted_at NULLS FIRST
		 LIMIT 1
		 `

	user := &models.User{}
	var lockoutEnd, deletedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.UserName, &user.PasswordHash, &user.SecurityStamp,
		&user.EmailConfirmed, &user.AccessFailedCount, &lockoutEnd, &deletedAt, &user.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if lockoutEnd.Valid {
		user.LockoutEnd = &lockoutEnd.Time
	}
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}
	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "lower(email) = lower($1)", email)
}

func (r *PostgresRepository) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	return r.getOne(ctx, "lower(username) = lower($1)", userName)
}

func (r *PostgresRepository) GetRoles(ctx context.Context, id string) ([]string, error) {
	query :=
		`SELECT role FROM user_roles
		 WHERE user_id = $1
		 ORDER BY role
		 `

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return roles, nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash, securityStamp string) error {
	query :=
		`UPDATE users SET password_hash = $2, security_stamp = $3
		 WHERE id = $1 AND deleted_at IS NULL
		 `
	return r.exec(ctx, query, id, passwordHash, securityStamp)
}

func (r *PostgresRepository) ConfirmEmail(ctx context.Context, id string) error {
	query :=
		`UPDATE users SET email_confirmed = true
		 WHERE id = $1 AND deleted_at IS NULL
		 `
	return r.exec(ctx, query, id)
}

func (r *PostgresRepository) RecordFailedAccess(ctx context.Context, id string, maxAttempts int, lockoutEnd time.Time) (*time.Time, error) {
	query :=
		`UPDATE users SET
		   access_failed_count = CASE WHEN access_failed_count + 1 >= $2 THEN 0 ELSE access_failed_count + 1 END,
		   lockout_end = CASE WHEN access_failed_count + 1 >= $2 THEN $3 ELSE lockout_end END
		 WHERE id = $1
		 RETURNING lockout_end
		 `

	var end sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id, maxAttempts, lockoutEnd).Scan(&end)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if !end.Valid {
		return nil, nil
	}
	return &end.Time, nil
}

func (r *PostgresRepository) ResetAccessFailed(ctx context.Context, id string) error {
	query :=
		`UPDATE users SET access_failed_count = 0, lockout_end = NULL
		 WHERE id = $1
		 `
	return r.exec(ctx, query, id)
}

func (r *PostgresRepository) Anonymize(ctx context.Context, id string, now time.Time) error {
	query :=
		`UPDATE users SET email = NULL, username = NULL, password_hash = '',
		   security_stamp = '', email_confirmed = false, deleted_at = $2
		 WHERE id = $1 AND deleted_at IS NULL
		 `
	if err := r.exec(ctx, query, id, now); err != nil {
		return err
	}

	query =
		`UPDATE polls SET deleted_at = $2
		 WHERE user_id = $1 AND deleted_at IS NULL
		 `
	if _, err := r.db.ExecContext(ctx, query, id, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
