package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpr-fleet/fleet-server/internal/config"
	"github.com/alpr-fleet/fleet-server/internal/models"
)

func testManager() *JWTManager {
	return NewJWTManager(&config.JWTConfig{
		Secret:          "jwt-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
}

func testUser() *models.User {
	return &models.User{
		ID:             uuid.New(),
		PersonalNumber: "12345",
		UserType:       models.UserTypeViewer,
		GateIDs:        []int64{2, 5},
	}
}

func TestGenerateAndValidateTokenPair(t *testing.T) {
	m := testManager()
	user := testUser()

	access, refresh, err := m.GenerateTokenPair(user)
	require.NoError(t, err)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	claims, err := m.ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "12345", claims.PersonalNumber)
	assert.Equal(t, models.UserTypeViewer, claims.UserType)
	assert.Equal(t, []int64{2, 5}, claims.GateIDs)
	assert.Equal(t, "fleet-server", claims.Issuer)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	access, _, err := testManager().GenerateTokenPair(testUser())
	require.NoError(t, err)

	other := NewJWTManager(&config.JWTConfig{Secret: "different", AccessTokenTTL: time.Minute})
	_, err = other.ValidateToken(access)
	assert.Error(t, err)
}

func TestValidateTokenExpired(t *testing.T) {
	m := NewJWTManager(&config.JWTConfig{
		Secret:          "jwt-test-secret",
		AccessTokenTTL:  -time.Minute,
		RefreshTokenTTL: time.Hour,
	})

	access, _, err := m.GenerateTokenPair(testUser())
	require.NoError(t, err)

	_, err = m.ValidateToken(access)
	assert.Error(t, err)
}

func TestValidateRefreshTokenReturnsSubject(t *testing.T) {
	m := testManager()
	user := testUser()

	_, refresh, err := m.GenerateTokenPair(user)
	require.NoError(t, err)

	id, err := m.ValidateRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestValidateRefreshTokenGarbage(t *testing.T) {
	_, err := testManager().ValidateRefreshToken("not-a-token")
	assert.Error(t, err)
}
