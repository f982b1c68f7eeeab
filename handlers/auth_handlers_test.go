package handlers_test

import (
	"bookmart/handlers"
	"context"
	"errors"
	"bookmart/middleware"
	"bookmart/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"regexp"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		want     bool
	}{
		{"Secret#123", true},
		{"secret#123", false},
		{"SECRET#123", false},
		{"Secret#abc", false},
		{"Secret1234", false},
		{"Sec #1234", false},
		{"S#1a", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, handlers.ValidatePassword(tt.password), tt.password)
	}
	assert.True(t, handlers.ValidateEmail("reader@example.com"))
	assert.False(t, handlers.ValidateEmail("reader@"))
}

func TestSignupLoginLogout(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/auth/signup", gin.H{
		"name": "Ada", "email": "Ada@Example.com", "password": testPassword,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, "Bearer "+token, w.Header().Get("Authorization"))
	assert.Contains(t, w.Header().Get("Set-Cookie"), middleware.TokenCookieName+"="+token)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "HttpOnly")

	var user models.User
	require.NoError(t, env.db.Where("email = ?", "ada@example.com").First(&user).Error)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.NotEqual(t, testPassword, user.Password)

	w = env.do(http.MethodPost, "/api/auth/signup", gin.H{
		"name": "Ada again", "email": "ada@example.com", "password": testPassword,
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/auth/signup", gin.H{
		"name": "Weak", "email": "weak@example.com", "password": "password",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/auth/login", gin.H{"email": "ada@example.com", "password": "Wrong#123"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid email or password", decode(t, w)["message"])

	w = env.do(http.MethodPost, "/api/auth/login", gin.H{"email": "nobody@example.com", "password": testPassword}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/auth/login", gin.H{"email": "ada@example.com", "password": testPassword}, "")
	require.Equal(t, http.StatusOK, w.Code)
	loginToken := decode(t, w)["token"].(string)

	w = env.do(http.MethodGet, "/api/auth/me", nil, loginToken)
	require.Equal(t, http.StatusOK, w.Code)
	var me models.User
	decodeInto(t, w, "user", &me)
	assert.Equal(t, "ada@example.com", me.Email)
	assert.NotContains(t, w.Body.String(), "password")

	w = env.do(http.MethodPost, "/api/auth/logout", nil, loginToken)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/auth/me", nil, loginToken)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// the signup token is a separate session and still works
	w = env.do(http.MethodGet, "/api/auth/me", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProtectedRoutes(t *testing.T) {
	env := newTestEnv(t)
	_, userToken := env.createUser("reader@example.com", models.RoleUser)
	_, adminToken := env.createUser("admin@example.com", models.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/orders", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/admin/dashboard", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/admin/dashboard", nil, userToken).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/admin/dashboard", nil, adminToken).Code)

	w := env.serve(request{
		method:  http.MethodGet,
		path:    "/api/auth/me",
		cookies: []*http.Cookie{{Name: middleware.TokenCookieName, Value: userToken}},
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

var resetTokenPattern = regexp.MustCompile(`token=([0-9a-f-]{36})`)

func TestForgotAndResetPassword(t *testing.T) {
	env := newTestEnv(t)
	user, sessionToken := env.createUser("reader@example.com", models.RoleUser)

	w := env.do(http.MethodPost, "/api/auth/forgot-password", gin.H{"email": "ghost@example.com"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, env.mailer.sent)

	w = env.do(http.MethodPost, "/api/auth/forgot-password", gin.H{"email": user.Email}, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, user.Email, env.mailer.sent[0].To)

	match := resetTokenPattern.FindStringSubmatch(env.mailer.sent[0].Body)
	require.Len(t, match, 2, env.mailer.sent[0].Body)
	resetToken := match[1]

	w = env.do(http.MethodPost, "/api/auth/reset-password", gin.H{"token": resetToken, "password": "weak"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/auth/reset-password", gin.H{"token": resetToken, "password": "Fresh#456"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// single use
	w = env.do(http.MethodPost, "/api/auth/reset-password", gin.H{"token": resetToken, "password": "Other#789"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// old sessions are revoked
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/auth/me", nil, sessionToken).Code)

	w = env.do(http.MethodPost, "/api/auth/login", gin.H{"email": user.Email, "password": "Fresh#456"}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

type failingMailer struct{}

func (failingMailer) Send(context.Context, string, string, string) error {
	return errors.New("smtp: connection reset")
}

func TestForgotPasswordHidesDeliveryFailures(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.createUser("reader@example.com", models.RoleUser)

	ghost := env.do(http.MethodPost, "/api/auth/forgot-password", gin.H{"email": "ghost@example.com"}, "")
	require.Equal(t, http.StatusOK, ghost.Code)

	env.h.Mailer = failingMailer{}
	w := env.do(http.MethodPost, "/api/auth/forgot-password", gin.H{"email": user.Email}, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, ghost.Body.String(), w.Body.String())

	// reset tokens live in Redis
	env.mr.Close()
	w = env.do(http.MethodPost, "/api/auth/forgot-password", gin.H{"email": user.Email}, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, ghost.Body.String(), w.Body.String())
}

func TestDeletedAccountKeepsEmail(t *testing.T) {
	env := newTestEnv(t)
	gone, _ := env.createUser("gone@example.com", models.RoleUser)
	_, token := env.createUser("reader@example.com", models.RoleUser)
	require.NoError(t, env.db.Delete(gone).Error)

	w := env.do(http.MethodPost, "/api/auth/signup", gin.H{
		"name": "Newcomer", "email": "gone@example.com", "password": testPassword,
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "email belongs to a deleted account", decode(t, w)["message"])

	w = env.do(http.MethodPatch, "/api/users/profile", gin.H{"email": "gone@example.com"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "email belongs to a deleted account", decode(t, w)["message"])

	w = env.do(http.MethodPatch, "/api/users/profile", gin.H{"email": "reader@example.com"}, token)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)
	env.createUser("taken@example.com", models.RoleUser)
	_, token := env.createUser("reader@example.com", models.RoleUser)

	w := env.do(http.MethodPatch, "/api/users/profile", gin.H{"email": "taken@example.com"}, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPatch, "/api/users/profile", gin.H{"name": "Renamed", "phone": "555-0199"}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodGet, "/api/users/profile", nil, token)
	var profile models.User
	decodeInto(t, w, "user", &profile)
	assert.Equal(t, "Renamed", profile.Name)
	assert.Equal(t, "555-0199", profile.Phone)

	w = env.do(http.MethodPatch, "/api/users/password", gin.H{"currentPassword": "Wrong#000", "newPassword": "Fresh#456"}, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPatch, "/api/users/password", gin.H{"currentPassword": testPassword, "newPassword": "Fresh#456"}, token)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPost, "/api/auth/login", gin.H{"email": "reader@example.com", "password": "Fresh#456"}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
