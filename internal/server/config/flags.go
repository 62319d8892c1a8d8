package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/polls/internal/flagx"
)

// serverFlags lists the flags parseFlags understands; the admin CLI strips
// them (and their values) before reading its positional command.
var serverFlags = []string{"-d", "-s", "-k", "-t", "-r", "-l", "-store", "-redis", "-log"}

// ServerFlags returns the flag names consumed by the config loader.
func ServerFlags() []string {
	return append([]string(nil), serverFlags...)
}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string      PostgreSQL DSN
//	-s string      JWT HMAC secret key
//	-k string      refresh token pepper
//	-t int         access token validity, minutes
//	-r int         short-lived refresh token validity, minutes
//	-l int         long-lived (persistent) refresh token validity, days
//	-store string  refresh token store: postgres | redis
//	-redis string  Redis address
//	-log string    log format: json | text | zap
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with the admin command arguments.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.RefreshTokenPepper, "k", config.RefreshTokenPepper, "refresh token pepper")

	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	shortRefreshValidity := fs.Int("r", int(config.RefreshTokenShortDuration.Minutes()), "short-lived refresh token validity (in minutes)")
	longRefreshValidity := fs.Int("l", int(config.RefreshTokenLongDuration.Hours()/24), "persistent refresh token validity (in days)")

	fs.StringVar(&config.TokenStore, "store", config.TokenStore, "refresh token store (postgres|redis)")
	fs.StringVar(&config.RedisAddr, "redis", config.RedisAddr, "redis address")
	fs.StringVar(&config.LogFormat, "log", config.LogFormat, "log format (json|text|zap)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// durations are only touched when given, so sub-minute values from JSON
	// or the environment survive
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessTokenValidity) * time.Minute
		case "r":
			config.RefreshTokenShortDuration = time.Duration(*shortRefreshValidity) * time.Minute
		case "l":
			config.RefreshTokenLongDuration = time.Duration(*longRefreshValidity) * 24 * time.Hour
		}
	})
}
