// Package server assembles the polls identity backend: configuration,
// logging, the Postgres pool, the refresh token store (Postgres or Redis) and
// the services built on top of them. Run executes one admin command.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/polls/internal/logging"
	"github.com/dmitrijs2005/polls/internal/reqcache"
	"github.com/dmitrijs2005/polls/internal/server/auth"
	"github.com/dmitrijs2005/polls/internal/server/config"
	"github.com/dmitrijs2005/polls/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/polls/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/polls/internal/server/services"
	"github.com/dmitrijs2005/polls/internal/server/sessions"
	"github.com/dmitrijs2005/polls/internal/server/tokens"
	"github.com/redis/go-redis/v9"
)

// redisTokenRetention is how long Redis keeps a token record past its expiry.
const redisTokenRetention = 24 * time.Hour

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	redis       redis.UniversalClient
	repomanager repomanager.RepositoryManager
	tokens      *tokens.Manager
	sessions    *sessions.Manager
	identity    *services.IdentityService
	admin       *services.AdminService
	out         io.Writer
}

// NewApp opens the database (and Redis when configured) and wires the services.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.LogFormat, os.Stdout)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db init error: %w", err)
	}

	var rdb redis.UniversalClient
	if cfg.TokenStore == config.TokenStoreRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = db.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("redis init error: %w", err)
		}
	}

	return newApp(cfg, logger, db, rdb)
}

func newApp(cfg *config.Config, logger logging.Logger, db *sql.DB, rdb redis.UniversalClient) (*App, error) {
	var opts []repomanager.Option
	if rdb != nil {
		opts = append(opts, repomanager.WithTokenRepository(
			refreshtokens.NewRedisRepository(rdb, "polls", redisTokenRetention)))
	}
	rm := repomanager.NewPostgresRepositoryManager(opts...)

	userLookup := rm.Users(db)

	tm, err := tokens.NewManager(rm.RefreshTokens(db), userLookup, tokens.Config{
		Pepper:     []byte(cfg.RefreshTokenPepper),
		SecretSize: cfg.RefreshTokenSecretSize,
		ShortLived: cfg.RefreshTokenShortDuration,
		LongLived:  cfg.RefreshTokenLongDuration,
	}, logger.With("component", "refresh_tokens"))
	if err != nil {
		return nil, err
	}

	minter, err := auth.NewMinter(auth.MinterConfig{
		SecretKey: []byte(cfg.SecretKey),
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		TTL:       cfg.AccessTokenValidityDuration,
		ClockSkew: cfg.ClockSkew,
	})
	if err != nil {
		return nil, err
	}

	sm := sessions.NewManager(tm, minter, userLookup, logger.With("component", "sessions"))
	email := services.NewLogEmailSender(logger.With("component", "email"))

	return &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		redis:       rdb,
		repomanager: rm,
		tokens:      tm,
		sessions:    sm,
		identity:    services.NewIdentityService(db, rm, sm, tm, minter, email, cfg, logger.With("component", "identity")),
		admin:       services.NewAdminService(db, rm, tm, logger.With("component", "admin")),
		out:         os.Stdout,
	}, nil
}

// Sessions returns the session manager for the HTTP layer.
func (app *App) Sessions() *sessions.Manager { return app.sessions }

// Identity returns the identity service for the HTTP layer.
func (app *App) Identity() *services.IdentityService { return app.identity }

// Close releases the database and Redis connections.
func (app *App) Close() error {
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
	}
	errs = append(errs, app.db.Close())
	return errors.Join(errs...)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run executes the admin command in args and cancels it on SIGINT/SIGTERM.
// commandContext scopes one command like a request: lookups are memoized in
// a fresh request cache and logs carry the command name.
func commandContext(ctx context.Context, args []string) context.Context {
	ctx = reqcache.WithCache(ctx)
	if len(args) > 0 {
		ctx = logging.ContextWith(ctx, "command", args[0])
	}
	return ctx
}

func (app *App) Run(ctx context.Context, args []string) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(cancelFunc)

	return app.runCommand(commandContext(ctx, args), args)
}
