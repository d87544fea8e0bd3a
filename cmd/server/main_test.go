package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketplace/backend/internal/config"
	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/store/memory"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		ok   bool
	}{
		{"short secret", config.Config{AuthSecret: "short", ApprovalPIN: "739154"}, false},
		{"missing pin", config.Config{AuthSecret: strongSecret}, false},
		{"common pin", config.Config{AuthSecret: strongSecret, ApprovalPIN: "123456"}, false},
		{"repeated pin", config.Config{AuthSecret: strongSecret, ApprovalPIN: "4444444"}, false},
		{"descending pin", config.Config{AuthSecret: strongSecret, ApprovalPIN: "987654"}, false},
		{"strong", config.Config{AuthSecret: strongSecret, ApprovalPIN: "739154"}, true},
	}
	for _, tc := range cases {
		err := validateSecurityConfig(tc.cfg)
		if tc.ok {
			assert.NoError(t, err, tc.name)
		} else {
			assert.Error(t, err, tc.name)
		}
	}
}

func TestLoadCatalogDefaultsToBuiltIn(t *testing.T) {
	catalog, err := loadCatalog("")
	require.NoError(t, err)
	assert.NotEmpty(t, catalog.Products)

	_, err = loadCatalog("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestEnsureAdminOnlyOnEmptyUserTable(t *testing.T) {
	ctx := context.Background()

	empty := memory.New()
	t.Setenv("SEED_ADMIN_PASSWORD", "first-admin-pass")
	require.NoError(t, ensureAdmin(ctx, empty, zap.NewNop()))
	users, err := empty.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, domain.RoleAdmin, users[0].Role)
	assert.NotEqual(t, "first-admin-pass", users[0].Password)

	require.NoError(t, ensureAdmin(ctx, empty, zap.NewNop()))
	users, err = empty.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
