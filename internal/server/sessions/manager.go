// Package sessions ties refresh tokens, access tokens and the refresh cookie
// together into login sessions.
package sessions

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/polls/internal/common"
	"github.com/dmitrijs2005/polls/internal/logging"
	"github.com/dmitrijs2005/polls/internal/server/models"
	"github.com/dmitrijs2005/polls/internal/server/tokens"
	"github.com/dmitrijs2005/polls/internal/timex"
)

// AuthSession is what a client receives after login or refresh.
type AuthSession struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshTokens is the subset of tokens.Manager used by sessions.
type RefreshTokens interface {
	Generate(ctx context.Context, ownerID string, persistent bool) (string, error)
	Validate(ctx context.Context, encoded string) (*tokens.Validation, error)
	Revoke(ctx context.Context, encoded string) (bool, error)
	Lifetime(persistent bool) time.Duration
}

// AccessMinter mints access tokens.
type AccessMinter interface {
	Mint(user *models.User, roles []string) (string, error)
}

// UserLookup resolves users and their roles.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetRoles(ctx context.Context, id string) ([]string, error)
}

type Manager struct {
	tokens RefreshTokens
	minter AccessMinter
	users  UserLookup
	logger logging.Logger
	now    timex.Clock
}

func NewManager(rt RefreshTokens, minter AccessMinter, users UserLookup, logger logging.Logger) *Manager {
	return &Manager{tokens: rt, minter: minter, users: users, logger: logger, now: timex.SystemClock}
}

// WithClock replaces the time source used for cookie lifetimes.
func (m *Manager) WithClock(c timex.Clock) *Manager {
	m.now = c
	return m
}

// StartSession issues a refresh token for user, mints an access token and
// sets the refresh cookie.
func (m *Manager) StartSession(ctx context.Context, w http.ResponseWriter, user *models.User, persistent bool) (*AuthSession, error) {
	refresh, err := m.tokens.Generate(ctx, user.ID, persistent)
	if err != nil {
		return nil, err
	}
	var maxAge time.Duration
	if persistent {
		maxAge = m.tokens.Lifetime(true)
	}
	return m.issue(ctx, w, user, refresh, maxAge)
}

// issue mints the access token and sets the refresh cookie. A zero maxAge
// makes it a session cookie.
func (m *Manager) issue(ctx context.Context, w http.ResponseWriter, user *models.User, refresh string, maxAge time.Duration) (*AuthSession, error) {
	roles, err := m.users.GetRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	access, err := m.minter.Mint(user, roles)
	if err != nil {
		return nil, err
	}

	setRefreshCookie(w, refresh, maxAge)

	return &AuthSession{AccessToken: access, RefreshToken: refresh}, nil
}

// ResumeSession exchanges the refresh cookie for a new session. The presented
// token is rotated; the cookie is overwritten with the new value, or cleared
// when the token is unusable.
func (m *Manager) ResumeSession(ctx context.Context, w http.ResponseWriter, r *http.Request) (*AuthSession, error) {
	presented, err := readRefreshCookie(r)
	if err != nil {
		return nil, err
	}

	v, err := m.tokens.Validate(ctx, presented)
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) || errors.Is(err, common.ErrRefreshTokenExpired) {
			clearRefreshCookie(w)
		}
		return nil, err
	}

	user, err := m.users.GetByID(ctx, v.UserID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}
	if user == nil || user.IsDeleted() {
		if _, err := m.tokens.Revoke(ctx, v.Token); err != nil {
			m.logger.Warn(ctx, "failed to revoke token of missing user", "user_id", v.UserID, "error", err)
		}
		clearRefreshCookie(w)
		return nil, common.ErrUserNotFound
	}

	m.logger.Debug(ctx, "session resumed", "user_id", user.ID, "persistent", v.Persistent)
	// rotation keeps the expiry, so the cookie only lives as long as the token
	var maxAge time.Duration
	if v.Persistent {
		maxAge = v.ExpiresAt.Sub(m.now())
	}
	return m.issue(ctx, w, user, v.Token, maxAge)
}

// EndSession revokes the cookie's token and clears the cookie. Without a
// cookie it reports false.
func (m *Manager) EndSession(ctx context.Context, w http.ResponseWriter, r *http.Request) (bool, error) {
	presented, err := readRefreshCookie(r)
	if err != nil {
		return false, nil
	}

	removed, err := m.tokens.Revoke(ctx, presented)
	if err != nil {
		return false, err
	}
	clearRefreshCookie(w)
	return removed, nil
}
