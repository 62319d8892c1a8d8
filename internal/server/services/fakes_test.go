package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/polls/internal/common"
	"github.com/dmitrijs2005/polls/internal/dbx"
	"github.com/dmitrijs2005/polls/internal/logging"
	"github.com/dmitrijs2005/polls/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/polls/internal/server/repositories/refreshtokens"
	usersrepo "github.com/dmitrijs2005/polls/internal/server/repositories/users"
	"github.com/dmitrijs2005/polls/internal/server/sessions"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeUsersRepo keeps users in memory.
type fakeUsersRepo struct {
	byID  map[string]*models.User
	roles map[string][]string

	createErr    error
	getErr       error
	anonymizeErr error

	anonymized []string
}

func newFakeUsersRepo(users ...*models.User) *fakeUsersRepo {
	f := &fakeUsersRepo{byID: map[string]*models.User{}, roles: map[string][]string{}}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, existing := range f.byID {
		if strings.EqualFold(existing.Email, u.Email) || strings.EqualFold(existing.UserName, u.UserName) {
			return nil, common.ErrorAlreadyExists
		}
	}
	u.ID = fmt.Sprintf("u%d", len(f.byID)+1)
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUsersRepo) find(match func(*models.User) bool) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byID {
		if match(u) {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.ID == id })
}

func (f *fakeUsersRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.Email != "" && strings.EqualFold(u.Email, email) })
}

func (f *fakeUsersRepo) GetByUserName(_ context.Context, name string) (*models.User, error) {
	return f.find(func(u *models.User) bool { return u.UserName != "" && strings.EqualFold(u.UserName, name) })
}

func (f *fakeUsersRepo) GetRoles(_ context.Context, id string) ([]string, error) {
	return f.roles[id], nil
}

func (f *fakeUsersRepo) UpdatePassword(_ context.Context, id, hash, stamp string) error {
	u, ok := f.byID[id]
	if !ok || u.IsDeleted() {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	u.SecurityStamp = stamp
	return nil
}

func (f *fakeUsersRepo) ConfirmEmail(_ context.Context, id string) error {
	u, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.EmailConfirmed = true
	return nil
}

func (f *fakeUsersRepo) RecordFailedAccess(_ context.Context, id string, maxAttempts int, lockoutEnd time.Time) (*time.Time, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	u.AccessFailedCount++
	if u.AccessFailedCount >= maxAttempts {
		u.AccessFailedCount = 0
		end := lockoutEnd
		u.LockoutEnd = &end
	}
	return u.LockoutEnd, nil
}

func (f *fakeUsersRepo) ResetAccessFailed(_ context.Context, id string) error {
	u, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.AccessFailedCount = 0
	u.LockoutEnd = nil
	return nil
}

func (f *fakeUsersRepo) Anonymize(_ context.Context, id string, now time.Time) error {
	if f.anonymizeErr != nil {
		return f.anonymizeErr
	}
	u, ok := f.byID[id]
	if !ok || u.IsDeleted() {
		return common.ErrorNotFound
	}
	u.Email, u.UserName, u.PasswordHash = "", "", ""
	u.DeletedAt = &now
	f.anonymized = append(f.anonymized, id)
	return nil
}

// fakeTokensRepo records owner-wide revocations made inside transactions.
type fakeTokensRepo struct {
	refreshtokensrepo.Repository
	revokedOwners []string
	revokeErr     error
}

func (f *fakeTokensRepo) RevokeAllForOwner(_ context.Context, userID string) (bool, error) {
	if f.revokeErr != nil {
		return false, f.revokeErr
	}
	f.revokedOwners = append(f.revokedOwners, userID)
	return true, nil
}

type fakeRepoManager struct {
	u          *fakeUsersRepo
	r          *fakeTokensRepo
	tokensInDB bool
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error           { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.r }
func (m *fakeRepoManager) TokensInDB() bool                                       { return m.tokensInDB }

// fakeTokenManager stands in for tokens.Manager.
type fakeTokenManager struct {
	revokedOwners []string
	revokeErr     error
	purged        int64
}

func (f *fakeTokenManager) RevokeAllForOwner(_ context.Context, ownerID string) (bool, error) {
	if f.revokeErr != nil {
		return false, f.revokeErr
	}
	f.revokedOwners = append(f.revokedOwners, ownerID)
	return true, nil
}

func (f *fakeTokenManager) PurgeExpired(context.Context) (int64, error) {
	return f.purged, nil
}

type startedSession struct {
	userID     string
	persistent bool
}

type fakeSessions struct {
	started []startedSession
}

func (f *fakeSessions) StartSession(_ context.Context, _ http.ResponseWriter, user *models.User, persistent bool) (*sessions.AuthSession, error) {
	f.started = append(f.started, startedSession{userID: user.ID, persistent: persistent})
	return &sessions.AuthSession{AccessToken: "access-" + user.ID, RefreshToken: "refresh-" + user.ID}, nil
}

type sentEmail struct {
	to, subject, body string
}

type fakeEmail struct {
	sent   []sentEmail
	reject bool
}

func (f *fakeEmail) Send(_ context.Context, to, subject, body string) bool {
	f.sent = append(f.sent, sentEmail{to: to, subject: subject, body: body})
	return !f.reject
}

// linkToken extracts the token line from a mailed link body.
func linkToken(t *testing.T, body string) string {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		if v, ok := strings.CutPrefix(line, "token: "); ok {
			return v
		}
	}
	t.Fatalf("no token in %q", body)
	return ""
}
