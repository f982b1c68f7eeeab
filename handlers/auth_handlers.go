package handlers

import (
	"bookmart/apperr"
	"bookmart/cache"
	"bookmart/logger"
	"bookmart/mailer"
	"bookmart/middleware"
	"bookmart/models"
	"errors"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"net/http"
	"strings"
	"time"
)

// checkEmailFree fails when another account holds email. Soft-deleted
// accounts count: the unique index still covers their rows.
func (h *Handler) checkEmailFree(email string, exceptUserID uint) error {
	var owner models.User
	err := h.DB.Unscoped().
		Select("id", "deleted_at").
		Where("email = ? AND id <> ?", email, exceptUserID).
		First(&owner).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return apperr.Internal("could not check email", err)
	}
	if owner.DeletedAt.Valid {
		return apperr.BadRequest("email belongs to a deleted account")
	}
	return apperr.BadRequest("email already registered")
}

// issueToken signs a login token and hands it to the client in the body, the
// Authorization header and an HttpOnly cookie.
func (h *Handler) issueToken(c *gin.Context, status int, message string, user *models.User) {
	token, expiresAt, err := h.Tokens.GenerateToken(user)
	if err != nil {
		_ = c.Error(apperr.Internal("could not create login token", err))
		return
	}

	h.setTokenCookie(c, token, int(time.Until(expiresAt).Seconds()))
	c.Header("Authorization", "Bearer "+token)
	c.JSON(status, gin.H{
		"message":   message,
		"token":     token,
		"expiresAt": expiresAt,
		"user":      user,
	})
}

func (h *Handler) setTokenCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookieName, token, maxAge, "/", "", h.Config.Server.SecureCookies, true)
}

func (h *Handler) SignupHandler(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required,max=100"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	email := normalizeEmail(req.Email)
	if !ValidateEmail(email) {
		_ = c.Error(apperr.BadRequest("invalid email"))
		return
	}
	if !ValidatePassword(req.Password) {
		_ = c.Error(apperr.BadRequest("password must be 8-50 characters with upper and lower case letters, a digit and a symbol"))
		return
	}

	if err := h.checkEmailFree(email, 0); err != nil {
		_ = c.Error(err)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		_ = c.Error(apperr.Internal("could not hash password", err))
		return
	}

	user := models.User{
		Name:     strings.TrimSpace(req.Name),
		Email:    email,
		Password: string(hashedPassword),
		Role:     models.RoleUser,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		_ = c.Error(err)
		return
	}

	logger.Ctx(c.Request.Context()).Info().Uint("userId", user.ID).Msg("user signed up")
	h.issueToken(c, http.StatusCreated, "signed up", &user)
}

func (h *Handler) LoginHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	var user models.User
	err := h.DB.Where("email = ?", normalizeEmail(req.Email)).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = c.Error(apperr.Unauthorized("invalid email or password"))
			return
		}
		_ = c.Error(apperr.Internal("could not load user", err))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		_ = c.Error(apperr.Unauthorized("invalid email or password"))
		return
	}

	h.issueToken(c, http.StatusOK, "logged in", &user)
}

func (h *Handler) LogoutHandler(c *gin.Context) {
	token := c.GetString(middleware.ContextToken)
	if token == "" {
		_ = c.Error(apperr.BadRequest("no token to revoke"))
		return
	}

	if _, err := h.Tokens.RevokeToken(token); err != nil {
		_ = c.Error(apperr.Internal("could not revoke token", err))
		return
	}

	h.setTokenCookie(c, "", -1)
	c.Header("Authorization", "")
	c.JSON(http.StatusOK, gin.H{
		"message": "logged out",
	})
}

func (h *Handler) MeHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "current user",
		"user":    user,
	})
}

// ForgotPasswordHandler answers the same way whether or not the email is
// registered.
func (h *Handler) ForgotPasswordHandler(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	const reply = "if the email is registered, a reset link has been sent"
	log := logger.Ctx(c.Request.Context())

	var user models.User
	err := h.DB.Where("email = ?", normalizeEmail(req.Email)).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			_ = c.Error(apperr.Internal("could not load user", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": reply})
		return
	}

	// failures past this point are logged only, the reply must not tell
	// registered addresses apart
	token, err := h.Resets.Issue(c.Request.Context(), user.ID)
	if err != nil {
		log.Error().Err(err).Uint("userId", user.ID).Msg("could not create reset token")
		c.JSON(http.StatusOK, gin.H{"message": reply})
		return
	}

	body := mailer.PasswordResetBody(h.Config.SMTP.ResetURL, token)
	if err := h.Mailer.Send(c.Request.Context(), user.Email, "Reset your BookMart password", body); err != nil {
		log.Error().Err(err).Uint("userId", user.ID).Msg("password reset email failed")
	}

	c.JSON(http.StatusOK, gin.H{"message": reply})
}

func (h *Handler) ResetPasswordHandler(c *gin.Context) {
	var req struct {
		Token    string `json:"token" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	if !ValidatePassword(req.Password) {
		_ = c.Error(apperr.BadRequest("password must be 8-50 characters with upper and lower case letters, a digit and a symbol"))
		return
	}

	userID, err := h.Resets.Consume(c.Request.Context(), req.Token)
	if err != nil {
		if errors.Is(err, cache.ErrResetTokenNotFound) {
			_ = c.Error(apperr.BadRequest(err.Error()))
			return
		}
		_ = c.Error(apperr.Internal("could not read reset token", err))
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		_ = c.Error(apperr.Internal("could not hash password", err))
		return
	}

	result := h.DB.Model(&models.User{}).Where("id = ?", userID).Update("password", string(hashedPassword))
	if result.Error != nil {
		_ = c.Error(apperr.Internal("could not update password", result.Error))
		return
	}
	if result.RowsAffected == 0 {
		_ = c.Error(apperr.BadRequest(cache.ErrResetTokenNotFound.Error()))
		return
	}

	if err := h.Tokens.RevokeUserTokens(userID); err != nil {
		_ = c.Error(apperr.Internal("could not revoke sessions", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "password has been reset, please log in again",
	})
}
