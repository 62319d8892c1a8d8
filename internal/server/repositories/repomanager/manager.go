package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/polls/internal/dbx"
	"github.com/dmitrijs2005/polls/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/polls/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	// TokensInDB reports whether RefreshTokens honours the DBTX it is given,
	// i.e. whether token writes take part in a surrounding transaction.
	TokensInDB() bool
}
