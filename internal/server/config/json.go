package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/polls/internal/flagx"
	"github.com/dmitrijs2005/polls/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted. Absent
// keys keep the value already present in Config.
type JsonConfig struct {
	DatabaseDSN                  *string         `json:"database_dsn"`
	TokenStore                   *string         `json:"token_store"`
	RedisAddr                    *string         `json:"redis_addr"`
	RedisPassword                *string         `json:"redis_password"`
	RedisDB                      *int            `json:"redis_db"`
	SecretKey                    *string         `json:"secret_key"`
	RefreshTokenPepper           *string         `json:"refresh_token_pepper"`
	Issuer                       *string         `json:"issuer"`
	Audience                     *string         `json:"audience"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	ClockSkew                    *timex.Duration `json:"clock_skew"`
	RefreshTokenShortDuration    *timex.Duration `json:"refresh_token_short_duration"`
	RefreshTokenLongDuration     *timex.Duration `json:"refresh_token_long_duration"`
	RefreshTokenSecretSize       *int            `json:"refresh_token_secret_size"`
	PurposeTokenValidityDuration *timex.Duration `json:"purpose_token_validity_duration"`
	MaxFailedAccessAttempts      *int            `json:"max_failed_access_attempts"`
	LockoutDuration              *timex.Duration `json:"lockout_duration"`
	LogFormat                    *string         `json:"log_format"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flag. Without the flag nothing is loaded. An unreadable file or
// invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.TokenStore, c.TokenStore)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setInt(&config.RedisDB, c.RedisDB)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.RefreshTokenPepper, c.RefreshTokenPepper)
	setString(&config.Issuer, c.Issuer)
	setString(&config.Audience, c.Audience)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.ClockSkew, c.ClockSkew)
	setDuration(&config.RefreshTokenShortDuration, c.RefreshTokenShortDuration)
	setDuration(&config.RefreshTokenLongDuration, c.RefreshTokenLongDuration)
	setInt(&config.RefreshTokenSecretSize, c.RefreshTokenSecretSize)
	setDuration(&config.PurposeTokenValidityDuration, c.PurposeTokenValidityDuration)
	setInt(&config.MaxFailedAccessAttempts, c.MaxFailedAccessAttempts)
	setDuration(&config.LockoutDuration, c.LockoutDuration)
	setString(&config.LogFormat, c.LogFormat)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
