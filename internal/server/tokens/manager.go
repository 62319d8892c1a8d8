package tokens

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/polls/internal/common"
	"github.com/dmitrijs2005/polls/internal/cryptox"
	"github.com/dmitrijs2005/polls/internal/logging"
	"github.com/dmitrijs2005/polls/internal/server/models"
	"github.com/dmitrijs2005/polls/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/polls/internal/timex"
)

// UserFinder resolves token owners.
type UserFinder interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Config holds the refresh token parameters.
type Config struct {
	// Pepper keys the secret hash so a leaked table cannot be checked offline.
	Pepper     []byte
	SecretSize int
	ShortLived time.Duration
	LongLived  time.Duration
}

// Validation is the outcome of a successful Validate.
type Validation struct {
	UserID string
	// Token is the rotated encoded token; the presented one is now dead.
	Token      string
	Persistent bool
	ExpiresAt  time.Time
}

// Manager drives the refresh token state machine:
// Active -> Rotated (same id, new secret) -> Revoked or Expired.
type Manager struct {
	store  refreshtokens.Repository
	users  UserFinder
	cfg    Config
	now    timex.Clock
	logger logging.Logger
}

func NewManager(store refreshtokens.Repository, users UserFinder, cfg Config, logger logging.Logger) (*Manager, error) {
	if len(cfg.Pepper) == 0 {
		return nil, errors.New("refresh token pepper is empty")
	}
	if cfg.SecretSize < 16 {
		return nil, fmt.Errorf("refresh token secret size %d is too small", cfg.SecretSize)
	}
	if cfg.ShortLived <= 0 || cfg.LongLived <= 0 {
		return nil, errors.New("refresh token lifetimes must be positive")
	}
	return &Manager{
		store:  store,
		users:  users,
		cfg:    cfg,
		now:    timex.SystemClock,
		logger: logger,
	}, nil
}

// WithClock replaces the time source.
func (m *Manager) WithClock(c timex.Clock) *Manager {
	m.now = c
	return m
}

// Lifetime returns how long a freshly generated token lives.
func (m *Manager) Lifetime(persistent bool) time.Duration {
	if persistent {
		return m.cfg.LongLived
	}
	return m.cfg.ShortLived
}

func (m *Manager) hash(secret []byte) []byte {
	return cryptox.KeyedHash(m.cfg.Pepper, secret)
}

// Generate issues a new refresh token for ownerID. The raw secret is only
// ever returned inside the encoded token.
func (m *Manager) Generate(ctx context.Context, ownerID string, persistent bool) (string, error) {
	user, err := m.users.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.ErrUserNotFound
		}
		return "", err
	}
	if user.IsDeleted() {
		return "", common.ErrUserNotFound
	}

	secret, err := common.RandomBytes(m.cfg.SecretSize)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(secret)

	token, err := m.store.Create(ctx, &models.RefreshToken{
		UserID:     user.ID,
		SecretHash: m.hash(secret),
		ExpiresAt:  m.now().Add(m.Lifetime(persistent)),
		Persistent: persistent,
	})
	if err != nil {
		return "", err
	}

	m.logger.Debug(ctx, "refresh token issued", "token_id", token.ID, "user_id", user.ID, "persistent", persistent)
	return Encode(token.ID, secret), nil
}

// Validate checks an encoded token and rotates its secret. Unknown ids, wrong
// secrets and lost rotation races all fail with common.ErrInvalidToken;
// expired records fail with common.ErrRefreshTokenExpired and are purged.
func (m *Manager) Validate(ctx context.Context, encoded string) (*Validation, error) {
	id, secret, err := Decode(encoded)
	if err != nil {
		return nil, common.ErrInvalidToken
	}
	defer common.WipeByteArray(secret)

	token, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, err
	}

	if token.Expired(m.now()) {
		if _, err := m.store.Revoke(ctx, id); err != nil {
			m.logger.Warn(ctx, "failed to purge expired refresh token", "token_id", id, "error", err)
		}
		return nil, common.ErrRefreshTokenExpired
	}

	if subtle.ConstantTimeCompare(m.hash(secret), token.SecretHash) != 1 {
		m.logger.Info(ctx, "refresh token secret mismatch", "token_id", id, "user_id", token.UserID)
		return nil, common.ErrInvalidToken
	}

	next, err := common.RandomBytes(m.cfg.SecretSize)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(next)

	swapped, err := m.store.ReplaceSecretHash(ctx, id, token.SecretHash, m.hash(next))
	if err != nil {
		return nil, err
	}
	if !swapped {
		m.logger.Info(ctx, "refresh token rotated concurrently", "token_id", id, "user_id", token.UserID)
		return nil, common.ErrInvalidToken
	}

	return &Validation{
		UserID:     token.UserID,
		Token:      Encode(id, next),
		Persistent: token.Persistent,
		ExpiresAt:  token.ExpiresAt,
	}, nil
}

// Revoke deletes the token. Undecodable input reports false.
func (m *Manager) Revoke(ctx context.Context, encoded string) (bool, error) {
	id, _, err := Decode(encoded)
	if err != nil {
		return false, nil
	}
	return m.store.Revoke(ctx, id)
}

// RevokeAllForOwner deletes every token of ownerID.
func (m *Manager) RevokeAllForOwner(ctx context.Context, ownerID string) (bool, error) {
	removed, err := m.store.RevokeAllForOwner(ctx, ownerID)
	if err != nil {
		return false, err
	}
	m.logger.Info(ctx, "refresh tokens revoked", "user_id", ownerID, "removed", removed)
	return removed, nil
}

// PurgeExpired removes every expired record.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, m.now())
}
