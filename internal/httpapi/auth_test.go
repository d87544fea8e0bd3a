package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := legacyAdminStore()
	manager := NewAuthManager("test-secret", time.Hour, "739154", store, nil)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NotEqual(t, "admin123", users[0].Password)
	assert.True(t, strings.HasPrefix(users[0].Password, "$2"))
	assert.GreaterOrEqual(t, store.updates, 1)
}

func TestCreateOperatorStoresPasswordHash(t *testing.T) {
	store := legacyAdminStore()
	manager := NewAuthManager("test-secret", time.Hour, "739154", store, nil)

	operator, err := manager.CreateOperator(context.Background(), domain.OperatorCreateRequest{
		Username: "Gudang01",
		Password: "pass12345",
	})
	require.NoError(t, err)
	assert.Equal(t, "gudang01", operator.Username)
	assert.Equal(t, domain.RoleOperator, operator.Role)

	stored := store.users["gudang01"]
	assert.True(t, strings.HasPrefix(stored.Password, "$2"))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "gudang01", Password: "pass12345"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOperator, resp.Role)

	_, err = manager.CreateOperator(context.Background(), domain.OperatorCreateRequest{Username: "gudang01", Password: "pass12345"})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	_, err = manager.CreateOperator(context.Background(), domain.OperatorCreateRequest{Username: "ab", Password: "pass12345"})
	assert.True(t, errors.Is(err, domain.ErrValidation))

	operators := manager.ListOperators(context.Background())
	require.Len(t, operators, 1)
	assert.Equal(t, "gudang01", operators[0].Username)
}

func TestApprovalPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "739154", &userStoreStub{}, nil)

	assert.NotEqual(t, "739154", manager.approvalPIN)
	assert.True(t, manager.ValidateApprovalPIN("739154"))
	assert.False(t, manager.ValidateApprovalPIN("111111"))
	assert.False(t, manager.ValidateApprovalPIN(""))
}

func TestParseTokenRoundTripAndRejectsForeignIssuer(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "739154", legacyAdminStore(), nil)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "admin", Role: domain.RoleAdmin}, actor)

	foreign := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, consoleClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	})
	signed, err := foreign.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = manager.ParseToken(signed)
	assert.Error(t, err)

	_, err = manager.ParseToken(resp.AccessToken + "x")
	assert.Error(t, err)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := legacyAdminStore()
	user := store.users["admin"]
	user.Active = false
	store.users["admin"] = user
	manager := NewAuthManager("test-secret", time.Hour, "739154", store, nil)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	assert.ErrorIs(t, err, errInactiveAccount)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.ErrorIs(t, err, errInvalidCredentials)
}
