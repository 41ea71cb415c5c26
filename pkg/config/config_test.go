package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Port     int           `env:"TEST_CFG_PORT" envDefault:"8080"`
	LogLevel string        `env:"TEST_CFG_LOG_LEVEL" envDefault:"info"`
	Debug    bool          `env:"TEST_CFG_DEBUG" envDefault:"false"`
	Timeout  time.Duration `env:"TEST_CFG_TIMEOUT" envDefault:"5s"`
	Brokers  []string      `env:"TEST_CFG_BROKERS" envDefault:"localhost:9092" envSeparator:","`
}

type requiredConfig struct {
	Secret string `env:"TEST_CFG_SECRET,required"`
}

func TestLoad_Defaults(t *testing.T) {
	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Debug)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
}

func TestLoad_FromEnvVars(t *testing.T) {
	t.Setenv("TEST_CFG_PORT", "9090")
	t.Setenv("TEST_CFG_DEBUG", "true")
	t.Setenv("TEST_CFG_BROKERS", "k1:9092,k2:9092")

	var cfg testConfig
	require.NoError(t, Load(&cfg))

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
}

func TestLoadWithEnvironment(t *testing.T) {
	var cfg testConfig
	require.NoError(t, LoadWithEnvironment(&cfg, map[string]string{
		"TEST_CFG_LOG_LEVEL": "debug",
		"TEST_CFG_TIMEOUT":   "250ms",
	}))

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
}

func TestLoad_RequiredField(t *testing.T) {
	var missing requiredConfig
	err := LoadWithEnvironment(&missing, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")

	var present requiredConfig
	require.NoError(t, LoadWithEnvironment(&present, map[string]string{"TEST_CFG_SECRET": "s3cret"}))
	assert.Equal(t, "s3cret", present.Secret)
}

func TestLoad_InvalidType(t *testing.T) {
	var cfg testConfig
	err := LoadWithEnvironment(&cfg, map[string]string{"TEST_CFG_PORT": "not-a-number"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}
