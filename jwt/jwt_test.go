package jwt

import (
	"bookmart/models"
	"bookmart/testutil"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func newTestUser(t *testing.T, m *Manager) *models.User {
	t.Helper()
	user := &models.User{Name: "Reader", Email: "reader@example.com", Password: "x", Role: models.RoleUser}
	require.NoError(t, m.db.Create(user).Error)
	return user
}

func TestRSAManagerRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	m := NewRSAManager(key, &key.PublicKey, time.Hour, testutil.NewDB(t))
	user := newTestUser(t, m)

	token, expiresAt, err := m.GenerateToken(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)
}

func TestVerifyTokenAfterRevoke(t *testing.T) {
	m := NewHMACManager([]byte("secret"), time.Hour, testutil.NewDB(t))
	user := newTestUser(t, m)

	token, _, err := m.GenerateToken(user)
	require.NoError(t, err)

	removed, err := m.RevokeToken(token)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = m.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
	assert.True(t, IsTokenError(err))

	removed, err = m.RevokeToken(token)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestVerifyTokenRejectsForeignSignature(t *testing.T) {
	db := testutil.NewDB(t)
	issuer := NewHMACManager([]byte("issuer-secret"), time.Hour, db)
	verifier := NewHMACManager([]byte("other-secret"), time.Hour, db)
	user := newTestUser(t, issuer)

	token, _, err := issuer.GenerateToken(user)
	require.NoError(t, err)

	_, err = verifier.VerifyToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	assert.True(t, IsTokenError(err))
}

func TestVerifyTokenExpired(t *testing.T) {
	m := NewHMACManager([]byte("secret"), -time.Minute, testutil.NewDB(t))
	user := newTestUser(t, m)

	token, _, err := m.GenerateToken(user)
	require.NoError(t, err)

	_, err = m.VerifyToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifyTokenMalformed(t *testing.T) {
	m := NewHMACManager([]byte("secret"), time.Hour, testutil.NewDB(t))

	_, err := m.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, jwt.ErrTokenMalformed)
	assert.False(t, IsTokenError(errors.New("database is down")))
}

func TestUpdateUserRoleAppliesToIssuedTokens(t *testing.T) {
	m := NewHMACManager([]byte("secret"), time.Hour, testutil.NewDB(t))
	user := newTestUser(t, m)

	token, _, err := m.GenerateToken(user)
	require.NoError(t, err)
	require.NoError(t, m.UpdateUserRole(user.ID, models.RoleAdmin))

	claims, err := m.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	require.NoError(t, m.RevokeUserTokens(user.ID))
	_, err = m.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}
