package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all flags", args: []string{"cmd",
			"-d", "db", "-s", "secret", "-k", "pepper",
			"-t", "5", "-r", "10", "-l", "14",
			"-store", "redis", "-redis", "cache:6379", "-log", "zap",
			"force-logout", "u-1",
		},
			expected: &Config{
				DatabaseDSN:                 "db",
				SecretKey:                   "secret",
				RefreshTokenPepper:          "pepper",
				AccessTokenValidityDuration: 5 * time.Minute,
				RefreshTokenShortDuration:   10 * time.Minute,
				RefreshTokenLongDuration:    14 * 24 * time.Hour,
				TokenStore:                  "redis",
				RedisAddr:                   "cache:6379",
				LogFormat:                   "zap",
			}},
		{name: "non-numeric minutes", args: []string{"cmd", "-t", "soon"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}

func TestServerFlags_ReturnsCopy(t *testing.T) {
	f := ServerFlags()
	f[0] = "-x"
	assert.Equal(t, "-d", ServerFlags()[0])
}

func TestParseFlags_KeepsUnsetDurations(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"cmd", "-r", "2"}

	config := &Config{AccessTokenValidityDuration: 90 * time.Second, RefreshTokenLongDuration: 36 * time.Hour}
	parseFlags(config)

	assert.Equal(t, 90*time.Second, config.AccessTokenValidityDuration)
	assert.Equal(t, 2*time.Minute, config.RefreshTokenShortDuration)
	assert.Equal(t, 36*time.Hour, config.RefreshTokenLongDuration)
}
