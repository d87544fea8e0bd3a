package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("APPROVAL_PIN", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ApprovalPIN)
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("QUOTE_TTL_SECONDS", "-4")
	t.Setenv("DEFAULT_CURRENCY", "usd")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 20, cfg.QuoteTTLSeconds)
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "marketplace:order-events", cfg.NotifyChannel)
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "primary")

	_, err := Load()
	assert.Error(t, err)
}
