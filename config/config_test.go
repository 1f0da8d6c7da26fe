package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "STORE_BACKEND", "TOKEN_TTL_SECONDS", "CORS_ORIGIN", "JWT_SECRET"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 365*24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "*", cfg.CORSOrigin)
	assert.Empty(t, cfg.JWTSecret, "there is no built-in signing secret")
}

func TestEnsureSecret(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		cfg := Config{StoreBackend: BackendPostgres, JWTSecret: "s3cret"}
		generated, err := cfg.EnsureSecret()
		require.NoError(t, err)
		assert.False(t, generated)
		assert.Equal(t, "s3cret", cfg.JWTSecret)
	})

	for _, backend := range []string{BackendPostgres, BackendRedis} {
		t.Run("missing for "+backend, func(t *testing.T) {
			cfg := Config{StoreBackend: backend}
			_, err := cfg.EnsureSecret()
			assert.ErrorIs(t, err, ErrMissingSecret)
			assert.Empty(t, cfg.JWTSecret)
		})
	}

	t.Run("memory gets a random secret", func(t *testing.T) {
		a := Config{StoreBackend: BackendMemory}
		b := Config{StoreBackend: BackendMemory}
		generated, err := a.EnsureSecret()
		require.NoError(t, err)
		assert.True(t, generated)
		_, err = b.EnsureSecret()
		require.NoError(t, err)
		assert.Len(t, a.JWTSecret, 72)
		assert.NotEqual(t, a.JWTSecret, b.JWTSecret)
	})
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("STORE_BACKEND", " Redis ")
	t.Setenv("TOKEN_TTL_SECONDS", "60")
	t.Setenv("SNAPSHOT_TTL_SECONDS", "not a number")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)
	assert.Equal(t, time.Minute, cfg.TokenTTL)
	assert.Equal(t, 5*time.Minute, cfg.SnapshotTTL)
}
