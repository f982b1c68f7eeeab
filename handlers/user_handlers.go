package handlers

import (
	"bookmart/apperr"
	"bookmart/models"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"net/http"
	"strings"
)

func (h *Handler) GetProfileHandler(c *gin.Context) {
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
		"message": "profile",
		"user":    user,
	})
}

func (h *Handler) UpdateProfileHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req struct {
		Name  *string `json:"name" binding:"omitempty,min=1,max=100"`
		Phone *string `json:"phone" binding:"omitempty,max=32"`
		Email *string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		_ = c.Error(err)
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Phone != nil {
		updates["phone"] = strings.TrimSpace(*req.Phone)
	}
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if !ValidateEmail(email) {
			_ = c.Error(apperr.BadRequest("invalid email"))
			return
		}
		if err := h.checkEmailFree(email, userID); err != nil {
			_ = c.Error(err)
			return
		}
		updates["email"] = email
	}

	if len(updates) > 0 {
		if err := h.DB.Model(&user).Updates(updates).Error; err != nil {
			_ = c.Error(err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "profile updated",
		"user":    user,
	})
}

func (h *Handler) ChangePasswordHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword" binding:"required"`
		NewPassword     string `json:"newPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	var user models.User
	if err := h.DB.First(&user, userID).Error; err != nil {
		_ = c.Error(err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		_ = c.Error(apperr.Unauthorized("current password is incorrect"))
		return
	}
	if !ValidatePassword(req.NewPassword) {
		_ = c.Error(apperr.BadRequest("password must be 8-50 characters with upper and lower case letters, a digit and a symbol"))
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		_ = c.Error(apperr.Internal("could not hash password", err))
		return
	}

	if err := h.DB.Model(&user).Update("password", string(hashedPassword)).Error; err != nil {
		_ = c.Error(apperr.Internal("could not update password", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "password updated",
	})
}
