package jwt

import (
	"testing"
	"time"

	"github.com/medflow/medtrack/pkg/actor"
	"github.com/medflow/medtrack/pkg/config"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(&config.JWTConfig{
		Secret:       "test-secret",
		AccessExpiry: 15 * time.Minute,
		Issuer:       "medtrack",
	})
}

func TestManager_RoundTrip(t *testing.T) {
	m := testManager()
	staff := &actor.Actor{ID: "u-1", Name: "Dana Reyes", Email: "dana@clinic.test", Role: actor.RolePharmacist, Site: "east"}

	token, expiry, err := m.GenerateAccessToken(staff)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiry, 5*time.Second)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, staff, claims.Actor())
}

func TestManager_ExpiredToken(t *testing.T) {
	m := testManager()
	m.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err := m.GenerateAccessToken(&actor.Actor{ID: "u-1"})
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateAccessToken(token)
	assert.True(t, errors.Is(err, errors.ErrTokenExpired))
}

func TestManager_WrongSecret(t *testing.T) {
	token, _, err := testManager().GenerateAccessToken(&actor.Actor{ID: "u-1"})
	require.NoError(t, err)

	other := NewManager(&config.JWTConfig{Secret: "other", AccessExpiry: time.Minute, Issuer: "medtrack"})
	_, err = other.ValidateAccessToken(token)
	assert.True(t, errors.Is(err, errors.ErrTokenInvalid))
}
