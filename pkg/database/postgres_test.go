package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBackoff_WithinJitterBounds(t *testing.T) {
	for attempt := 0; attempt < connectAttempts; attempt++ {
		base := connectBaseWait << attempt
		lo := time.Duration(float64(base) * (1 - retryJitterFraction))
		hi := time.Duration(float64(base) * (1 + retryJitterFraction))

		for i := 0; i < 20; i++ {
			d := retryBackoff(attempt)
			assert.GreaterOrEqual(t, d, lo)
			assert.LessOrEqual(t, d, hi)
		}
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{
		Host: "db", Port: 5433, User: "watchmate", Password: "pw",
		DBName: "watchmate", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://watchmate:pw@db:5433/watchmate?sslmode=disable", cfg.DSN())
}

func TestNewPostgresPool_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := PostgresConfig{Host: "127.0.0.1", Port: 1, User: "u", Password: "p", DBName: "d", SSLMode: "disable", MaxConns: 1}
	pool, err := NewPostgresPool(ctx, &cfg, nil)

	require.Error(t, err)
	assert.Nil(t, pool)
}
