package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// EnvPrefix is prepended to every variable name in the Config env tags,
// e.g. POLLS_DATABASE_DSN.
const EnvPrefix = "POLLS_"

// parseEnv overlays values from POLLS_* environment variables. Unset variables
// leave the current value untouched; durations use Go syntax ("15m", "720h").
func parseEnv(config *Config) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}
	return nil
}
