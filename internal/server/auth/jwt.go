// Package auth mints and verifies the signed tokens handed to clients:
// short-lived access tokens and single-purpose link tokens (email
// confirmation, password reset).
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/polls/internal/common"
	"github.com/dmitrijs2005/polls/internal/server/models"
	"github.com/dmitrijs2005/polls/internal/timex"
	"github.com/golang-jwt/jwt/v5"
)

const (
	PurposeConfirmEmail  = "confirm-email"
	PurposeResetPassword = "reset-password"
)

// MinterConfig configures a Minter.
type MinterConfig struct {
	SecretKey []byte
	Issuer    string
	Audience  string
	TTL       time.Duration
	ClockSkew time.Duration
	Clock     timex.Clock
}

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	Email    string   `json:"email"`
	UserName string   `json:"unique_name"`
	Roles    []string `json:"role"`
	jwt.RegisteredClaims
}

type purposeClaims struct {
	Purpose string `json:"pur"`
	Stamp   string `json:"stamp"`
	jwt.RegisteredClaims
}

// Minter signs HS256 access tokens.
type Minter struct {
	cfg MinterConfig
}

// NewMinter validates cfg and returns a Minter.
func NewMinter(cfg MinterConfig) (*Minter, error) {
	if len(cfg.SecretKey) == 0 {
		return nil, errors.New("jwt secret key is empty")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("access token ttl must be positive")
	}
	if cfg.ClockSkew < 0 {
		return nil, errors.New("clock skew must not be negative")
	}
	if cfg.Clock == nil {
		cfg.Clock = timex.SystemClock
	}
	return &Minter{cfg: cfg}, nil
}

// TTL is the lifetime of minted access tokens.
func (m *Minter) TTL() time.Duration {
	return m.cfg.TTL
}

// purposeAudience keeps link tokens from being accepted as access tokens.
func (m *Minter) purposeAudience(purpose string) string {
	return m.cfg.Audience + "#" + purpose
}

func (m *Minter) registered(subject, audience string, ttl time.Duration) jwt.RegisteredClaims {
	now := m.cfg.Clock()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    m.cfg.Issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

// Mint issues an access token for user carrying roles.
func (m *Minter) Mint(user *models.User, roles []string) (string, error) {
	if roles == nil {
		roles = []string{}
	}
	claims := AccessClaims{
		Email:            user.Email,
		UserName:         user.UserName,
		Roles:            roles,
		RegisteredClaims: m.registered(user.ID, m.cfg.Audience, m.cfg.TTL),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.SecretKey)
}

func (m *Minter) parser(audience string) *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(m.cfg.ClockSkew),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.cfg.Clock),
	)
}

func (m *Minter) key(*jwt.Token) (interface{}, error) {
	return m.cfg.SecretKey, nil
}

func mapParseError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return common.ErrTokenExpired
	}
	return common.ErrInvalidToken
}

// Parse verifies an access token. Expired tokens yield common.ErrTokenExpired,
// every other failure common.ErrInvalidToken.
func (m *Minter) Parse(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	t, err := m.parser(m.cfg.Audience).ParseWithClaims(token, claims, m.key)
	if err != nil {
		return nil, mapParseError(err)
	}
	if !t.Valid || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// MintPurpose issues a link token usable only for purpose and bound to the
// user's security stamp.
func (m *Minter) MintPurpose(userID, purpose string, ttl time.Duration, stamp string) (string, error) {
	claims := purposeClaims{
		Purpose:          purpose,
		Stamp:            stamp,
		RegisteredClaims: m.registered(userID, m.purposeAudience(purpose), ttl),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.SecretKey)
}

// ParsePurpose verifies a link token for purpose and returns the user id and
// security stamp it was minted with.
func (m *Minter) ParsePurpose(token, purpose string) (userID, stamp string, err error) {
	claims := &purposeClaims{}
	t, err := m.parser(m.purposeAudience(purpose)).ParseWithClaims(token, claims, m.key)
	if err != nil {
		return "", "", mapParseError(err)
	}
	if !t.Valid || claims.Purpose != purpose || claims.Subject == "" {
		return "", "", common.ErrInvalidToken
	}
	return claims.Subject, claims.Stamp, nil
}
