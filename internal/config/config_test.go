package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(map[string]string{})

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, DuplicatePolicyMerge, cfg.ReviewDuplicatePolicy)
	assert.Equal(t, "watchmate", cfg.PostgresDB)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.KafkaEnabled())
	assert.Equal(t, []string{"127.0.0.0/8", "::1/128"}, cfg.PprofAllowedCIDRs)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("REVIEW_DUPLICATE_POLICY", "reject")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_HOST", "cache")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, DuplicatePolicyReject, cfg.ReviewDuplicatePolicy)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.True(t, cfg.RedisEnabled())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "port too high", env: map[string]string{"HTTP_PORT": "70000"}, wantErr: "invalid HTTP port"},
		{name: "port not a number", env: map[string]string{"HTTP_PORT": "abc"}, wantErr: "load watchmate config"},
		{name: "unknown policy", env: map[string]string{"REVIEW_DUPLICATE_POLICY": "ignore"}, wantErr: "REVIEW_DUPLICATE_POLICY"},
		{name: "unknown driver", env: map[string]string{"STORE_DRIVER": "sqlite"}, wantErr: "STORE_DRIVER"},
		{name: "sample rate", env: map[string]string{"OTEL_SAMPLE_RATE": "1.5"}, wantErr: "OTEL_SAMPLE_RATE"},
		{name: "rate limit", env: map[string]string{"RATE_LIMIT_REQUESTS": "0"}, wantErr: "RATE_LIMIT_REQUESTS"},
		{name: "throttle", env: map[string]string{"REVIEW_THROTTLE_BURST": "0"}, wantErr: "review throttle"},
		{name: "default secret in production", env: map[string]string{"ENVIRONMENT": "production"}, wantErr: "JWT_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load(tt.env)
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MemoryDriverSkipsPostgresChecks(t *testing.T) {
	cfg, err := load(map[string]string{"STORE_DRIVER": "memory"})

	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		PostgresUser: "u",
		PostgresPass: "p",
		PostgresHost: "db",
		PostgresPort: 5433,
		PostgresDB:   "wm",
		PostgresSSL:  "require",
	}
	assert.Equal(t, "postgres://u:p@db:5433/wm?sslmode=require", cfg.PostgresDSN())
}
