// Package services contains server-side business logic: the identity flows
// (registration, login, email confirmation, password reset) and the
// administrative operations on accounts and their sessions.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/polls/internal/common"
	"github.com/dmitrijs2005/polls/internal/cryptox"
	"github.com/dmitrijs2005/polls/internal/logging"
	"github.com/dmitrijs2005/polls/internal/server/auth"
	"github.com/dmitrijs2005/polls/internal/server/config"
	"github.com/dmitrijs2005/polls/internal/server/models"
	"github.com/dmitrijs2005/polls/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/polls/internal/server/sessions"
	"github.com/dmitrijs2005/polls/internal/timex"
	"github.com/go-playground/validator/v10"
)

const passwordRules = "required,min=8,max=128"

// RegisterInput is a registration request.
type RegisterInput struct {
	Email    string `validate:"required,email,max=256"`
	UserName string `validate:"required,alphanum,min=3,max=64"`
	Password string `validate:"required,min=8,max=128"`
}

// SessionStarter opens a session for an authenticated user.
type SessionStarter interface {
	StartSession(ctx context.Context, w http.ResponseWriter, user *models.User, persistent bool) (*sessions.AuthSession, error)
}

// TokenRevoker revokes every refresh token of a user.
type TokenRevoker interface {
	RevokeAllForOwner(ctx context.Context, ownerID string) (bool, error)
}

// LinkTokens mints and checks single-purpose link tokens.
type LinkTokens interface {
	MintPurpose(userID, purpose string, ttl time.Duration, stamp string) (string, error)
	ParsePurpose(token, purpose string) (userID, stamp string, err error)
}

// IdentityService implements the account-facing authentication flows.
type IdentityService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sessions    SessionStarter
	tokens      TokenRevoker
	links       LinkTokens
	email       EmailSender
	logger      logging.Logger
	validate    *validator.Validate
	now         timex.Clock

	maxFailedAttempts int
	lockoutDuration   time.Duration
	linkTTL           time.Duration
}

func NewIdentityService(db *sql.DB, m repomanager.RepositoryManager, ss SessionStarter, rt TokenRevoker,
	links LinkTokens, email EmailSender, cfg *config.Config, logger logging.Logger) *IdentityService {
	return &IdentityService{
		db:                db,
		repomanager:       m,
		sessions:          ss,
		tokens:            rt,
		links:             links,
		email:             email,
		logger:            logger,
		validate:          validator.New(),
		now:               timex.SystemClock,
		maxFailedAttempts: cfg.MaxFailedAccessAttempts,
		lockoutDuration:   cfg.LockoutDuration,
		linkTTL:           cfg.PurposeTokenValidityDuration,
	}
}

// WithClock replaces the time source.
func (s *IdentityService) WithClock(c timex.Clock) *IdentityService {
	s.now = c
	return s
}

func newSecurityStamp() (string, error) {
	return common.MakeRandHexString(16)
}

// Register creates an account, mails a confirmation link and opens a
// non-persistent session.
func (s *IdentityService) Register(ctx context.Context, w http.ResponseWriter, in RegisterInput) (*sessions.AuthSession, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	hash, err := cryptox.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}
	stamp, err := newSecurityStamp()
	if err != nil {
		return nil, err
	}

	user, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		Email:         strings.TrimSpace(in.Email),
		UserName:      in.UserName,
		PasswordHash:  hash,
		SecurityStamp: stamp,
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	s.sendLink(ctx, user, auth.PurposeConfirmEmail, "Confirm your email")

	return s.sessions.StartSession(ctx, w, user, false)
}

func (s *IdentityService) sendLink(ctx context.Context, user *models.User, purpose, subject string) {
	token, err := s.links.MintPurpose(user.ID, purpose, s.linkTTL, user.SecurityStamp)
	if err != nil {
		s.logger.Error(ctx, "error minting link token", "user_id", user.ID, "purpose", purpose, "error", err)
		return
	}
	body := fmt.Sprintf("user: %s\ntoken: %s\n", user.ID, token)
	if !s.email.Send(ctx, user.Email, subject, body) {
		s.logger.Warn(ctx, "email was not accepted", "user_id", user.ID, "purpose", purpose)
	}
}

func (s *IdentityService) findByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	repo := s.repomanager.Users(s.db)
	identifier = strings.TrimSpace(identifier)
	if strings.Contains(identifier, "@") {
		return repo.GetByEmail(ctx, identifier)
	}
	return repo.GetByUserName(ctx, identifier)
}

// Login checks credentials and opens a session. Failures are reported as
// common.ErrUserNotFound, ErrUserDeleted, ErrLockedOut, ErrInvalidCredentials
// or ErrEmailNotConfirmed.
func (s *IdentityService) Login(ctx context.Context, w http.ResponseWriter, identifier, password string, persistent bool) (*sessions.AuthSession, error) {
	user, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrUserNotFound
		}
		return nil, err
	}

	if user.IsDeleted() {
		return nil, common.ErrUserDeleted
	}

	now := s.now()
	if user.IsLockedOut(now) {
		return nil, common.ErrLockedOut
	}

	ok, err := cryptox.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("error verifying password: %w", err)
	}

	repo := s.repomanager.Users(s.db)
	if !ok {
		end, err := repo.RecordFailedAccess(ctx, user.ID, s.maxFailedAttempts, now.Add(s.lockoutDuration))
		if err != nil {
			return nil, err
		}
		if end != nil && end.After(now) {
			s.logger.Warn(ctx, "user locked out", "user_id", user.ID, "until", *end)
			return nil, common.ErrLockedOut
		}
		return nil, common.ErrInvalidCredentials
	}

	if !user.EmailConfirmed {
		return nil, common.ErrEmailNotConfirmed
	}

	if user.AccessFailedCount > 0 || user.LockoutEnd != nil {
		if err := repo.ResetAccessFailed(ctx, user.ID); err != nil {
			return nil, err
		}
	}

	return s.sessions.StartSession(ctx, w, user, persistent)
}

// checkLink verifies a link token for purpose against userID and the user's
// current security stamp.
func (s *IdentityService) checkLink(ctx context.Context, userID, token, purpose string) (*models.User, error) {
	subject, stamp, err := s.links.ParsePurpose(token, purpose)
	if err != nil {
		return nil, err
	}
	if subject != userID {
		return nil, common.ErrInvalidToken
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrUserNotFound
		}
		return nil, err
	}
	if user.IsDeleted() {
		return nil, common.ErrUserNotFound
	}
	if stamp != user.SecurityStamp {
		return nil, common.ErrInvalidToken
	}
	return user, nil
}

// ConfirmEmail marks the user's email as confirmed.
func (s *IdentityService) ConfirmEmail(ctx context.Context, userID, token string) error {
	user, err := s.checkLink(ctx, userID, token, auth.PurposeConfirmEmail)
	if err != nil {
		return err
	}
	if user.EmailConfirmed {
		return nil
	}
	return s.repomanager.Users(s.db).ConfirmEmail(ctx, user.ID)
}

// RequestPasswordReset mails a reset link. Unknown addresses succeed silently.
func (s *IdentityService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return err
	}
	if user.IsDeleted() {
		return nil
	}

	s.sendLink(ctx, user, auth.PurposeResetPassword, "Reset your password")
	return nil
}

// ResetPassword sets a new password using a reset link token. The security
// stamp changes, so outstanding links die, and every session is revoked.
func (s *IdentityService) ResetPassword(ctx context.Context, userID, token, newPassword string) error {
	if err := s.validate.Var(newPassword, passwordRules); err != nil {
		return fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	user, err := s.checkLink(ctx, userID, token, auth.PurposeResetPassword)
	if err != nil {
		return err
	}

	return setPassword(ctx, s.repomanager.Users(s.db), s.tokens, user.ID, newPassword)
}

type passwordUpdater interface {
	UpdatePassword(ctx context.Context, id, passwordHash, securityStamp string) error
}

func setPassword(ctx context.Context, repo passwordUpdater, rt TokenRevoker, userID, password string) error {
	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	stamp, err := newSecurityStamp()
	if err != nil {
		return err
	}

	if err := repo.UpdatePassword(ctx, userID, hash, stamp); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrUserNotFound
		}
		return err
	}

	if _, err := rt.RevokeAllForOwner(ctx, userID); err != nil {
		return fmt.Errorf("error revoking refresh tokens: %w", err)
	}
	return nil
}
