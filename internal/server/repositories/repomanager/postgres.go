// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
// Refresh tokens may be kept in Redis instead; see WithTokenRepository.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/polls/internal/dbx"
	"github.com/dmitrijs2005/polls/internal/server/migrations"
	"github.com/dmitrijs2005/polls/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/polls/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct {
	tokens refreshtokens.Repository
}

// Option configures a PostgresRepositoryManager.
type Option func(*PostgresRepositoryManager)

// WithTokenRepository makes RefreshTokens return repo for every DBTX, used to
// plug in the Redis token store.
func WithTokenRepository(repo refreshtokens.Repository) Option {
	return func(m *PostgresRepositoryManager) {
		m.tokens = repo
	}
}

// Users returns a users.Repository bound to the provided DBTX. Lookups are
// memoized in the request cache when ctx carries one, inside transactions too,
// so writes through any vended repository drop the cached entries.
func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewCachedRepository(users.NewPostgresRepository(db))
}

// RefreshTokens returns a refreshtokens.Repository bound to the provided DBTX,
// or the configured external token store.
func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	if m.tokens != nil {
		return m.tokens
	}
	return refreshtokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) TokensInDB() bool {
	return m.tokens == nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(opts ...Option) RepositoryManager {
	m := &PostgresRepositoryManager{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
