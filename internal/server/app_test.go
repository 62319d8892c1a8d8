package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/polls/internal/logging"
	"github.com/dmitrijs2005/polls/internal/reqcache"
	"github.com/dmitrijs2005/polls/internal/server/config"
	"github.com/dmitrijs2005/polls/internal/server/models"
	"github.com/dmitrijs2005/polls/internal/server/repositories/refreshtokens"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestApp(t *testing.T, withRedis bool) (*App, sqlmock.Sqlmock, redis.UniversalClient, *bytes.Buffer) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var rdb redis.UniversalClient
	if withRedis {
		mr := miniredis.RunT(t)
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
	}

	app, err := newApp(testConfig(), discardLogger(), db, rdb)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	app.out = out
	return app, mock, rdb, out
}

func seedToken(t *testing.T, rdb redis.UniversalClient, userID string, hash string, expires time.Time) {
	t.Helper()
	repo := refreshtokens.NewRedisRepository(rdb, "polls", redisTokenRetention)
	_, err := repo.Create(context.Background(), &models.RefreshToken{
		UserID: userID, SecretHash: []byte(hash), ExpiresAt: expires,
	})
	require.NoError(t, err)
}

func TestNewApp_InvalidSettings(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig()
	cfg.RefreshTokenSecretSize = 4
	_, err = newApp(cfg, discardLogger(), db, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.SecretKey = ""
	_, err = newApp(cfg, discardLogger(), db, nil)
	assert.Error(t, err)
}

func TestRun_Usage(t *testing.T) {
	app, _, _, _ := newTestApp(t, false)
	ctx := context.Background()

	assert.ErrorIs(t, app.Run(ctx, nil), ErrUsage)
	assert.ErrorIs(t, app.Run(ctx, []string{"reboot"}), ErrUsage)
	assert.ErrorIs(t, app.Run(ctx, []string{"force-logout"}), ErrUsage)
	assert.ErrorIs(t, app.Run(ctx, []string{"delete-user", "a", "b"}), ErrUsage)
}

func TestRun_ForceLogout(t *testing.T) {
	app, _, rdb, out := newTestApp(t, true)
	ctx := context.Background()

	seedToken(t, rdb, "u1", "h1", time.Now().Add(time.Hour))
	seedToken(t, rdb, "u1", "h2", time.Now().Add(time.Hour))

	require.NoError(t, app.Run(ctx, []string{"force-logout", "u1"}))
	assert.Contains(t, out.String(), "sessions of u1 revoked")

	out.Reset()
	require.NoError(t, app.Run(ctx, []string{"force-logout", "u1"}))
	assert.Contains(t, out.String(), "u1 had no sessions")
}

func TestRun_PurgeExpired(t *testing.T) {
	app, _, rdb, out := newTestApp(t, true)

	seedToken(t, rdb, "u1", "old", time.Now().Add(-time.Minute))
	seedToken(t, rdb, "u1", "new", time.Now().Add(time.Hour))

	require.NoError(t, app.Run(context.Background(), []string{"purge-expired"}))
	assert.Contains(t, out.String(), "purged 1 expired refresh tokens")
}

func TestRun_DeleteUser_PostgresStore(t *testing.T) {
	app, mock, _, out := newTestApp(t, false)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET email = NULL`).WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE polls SET deleted_at`).WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM refresh_tokens`).WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, app.Run(context.Background(), []string{"delete-user", "u1"}))
	assert.Contains(t, out.String(), "user u1 deleted")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_SetPassword(t *testing.T) {
	app, mock, rdb, out := newTestApp(t, true)
	seedToken(t, rdb, "u1", "h1", time.Now().Add(time.Hour))

	orig := readPassword
	readPassword = func(int) ([]byte, error) { return []byte("brand-new-password"), nil }
	defer func() { readPassword = orig }()

	mock.ExpectExec(`UPDATE users SET password_hash`).WithArgs("u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, app.Run(context.Background(), []string{"set-password", "u1"}))
	assert.Contains(t, out.String(), "password of u1 changed")
	require.NoError(t, mock.ExpectationsWereMet())

	removed, err := app.admin.ForceLogout(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, removed, "set-password already revoked the sessions")
}

func TestRun_SetPasswordMismatch(t *testing.T) {
	app, mock, _, _ := newTestApp(t, false)

	orig := readPassword
	answers := [][]byte{[]byte("brand-new-password"), []byte("something-else")}
	readPassword = func(int) ([]byte, error) {
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}
	defer func() { readPassword = orig }()

	err := app.Run(context.Background(), []string{"set-password", "u1"})
	assert.EqualError(t, err, "passwords do not match")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	app, err := newApp(testConfig(), discardLogger(), db, nil)
	require.NoError(t, err)
	require.NoError(t, app.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommandContext_ScopesRequestCache(t *testing.T) {
	ctx := commandContext(context.Background(), []string{"delete-user", "u1"})

	calls := 0
	load := func(context.Context) (string, error) {
		calls++
		return "alice", nil
	}
	for i := 0; i < 3; i++ {
		v, err := reqcache.Memo(ctx, "users", "u1", load)
		require.NoError(t, err)
		assert.Equal(t, "alice", v)
	}
	assert.Equal(t, 1, calls)

	// each command gets its own cache
	other := commandContext(context.Background(), []string{"purge-expired"})
	_, err := reqcache.Memo(other, "users", "u1", load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
