package handlers

import (
	"bookmart/apperr"
	"bookmart/models"
	"errors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"net/http"
	"strings"
)

type addressRequest struct {
	FullName   string `json:"fullName" binding:"required,max=100"`
	Phone      string `json:"phone" binding:"required,max=32"`
	Line1      string `json:"line1" binding:"required,max=200"`
	Line2      string `json:"line2" binding:"max=200"`
	City       string `json:"city" binding:"required,max=100"`
	State      string `json:"state" binding:"max=100"`
	PostalCode string `json:"postalCode" binding:"required,max=20"`
	Country    string `json:"country" binding:"required,max=100"`
	IsDefault  bool   `json:"isDefault"`
}

func (r addressRequest) shipping() models.ShippingAddress {
	return models.ShippingAddress{
		FullName:   strings.TrimSpace(r.FullName),
		Phone:      strings.TrimSpace(r.Phone),
		Line1:      strings.TrimSpace(r.Line1),
		Line2:      strings.TrimSpace(r.Line2),
		City:       strings.TrimSpace(r.City),
		State:      strings.TrimSpace(r.State),
		PostalCode: strings.TrimSpace(r.PostalCode),
		Country:    strings.TrimSpace(r.Country),
	}
}

func applyAddress(address *models.Address, s models.ShippingAddress) {
	address.FullName = s.FullName
	address.Phone = s.Phone
	address.Line1 = s.Line1
	address.Line2 = s.Line2
	address.City = s.City
	address.State = s.State
	address.PostalCode = s.PostalCode
	address.Country = s.Country
}

func shippingFromAddress(address *models.Address) models.ShippingAddress {
	return models.ShippingAddress{
		FullName:   address.FullName,
		Phone:      address.Phone,
		Line1:      address.Line1,
		Line2:      address.Line2,
		City:       address.City,
		State:      address.State,
		PostalCode: address.PostalCode,
		Country:    address.Country,
	}
}

// findAddress scopes the lookup to the owner; other users' addresses are
// reported as missing.
func findAddress(db *gorm.DB, userID, addressID uint) (*models.Address, error) {
	var address models.Address
	err := db.Where("id = ? AND user_id = ?", addressID, userID).First(&address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("address not found")
	}
	if err != nil {
		return nil, err
	}
	return &address, nil
}

func setDefaultAddress(tx *gorm.DB, userID, addressID uint) error {
	err := tx.Model(&models.Address{}).
		Where("user_id = ? AND id <> ?", userID, addressID).
		Update("is_default", false).
		Error
	if err != nil {
		return err
	}
	return tx.Model(&models.Address{}).
		Where("id = ? AND user_id = ?", addressID, userID).
		Update("is_default", true).
		Error
}

func (h *Handler) GetAddressesHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var addresses []models.Address
	err = h.DB.
		Where("user_id = ?", userID).
		Order("is_default DESC, id DESC").
		Find(&addresses).
		Error
	if err != nil {
		_ = c.Error(apperr.Internal("could not load addresses", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "addresses",
		"addresses": addresses,
	})
}

func (h *Handler) CreateAddressHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	address := models.Address{UserID: userID}
	applyAddress(&address, req.shipping())

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Address{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if err := tx.Create(&address).Error; err != nil {
			return err
		}
		if count == 0 || req.IsDefault {
			address.IsDefault = true
			return setDefaultAddress(tx, userID, address.ID)
		}
		return nil
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "address added",
		"address": address,
	})
}

func (h *Handler) UpdateAddressHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	addressID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	var address *models.Address
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		address, err = findAddress(tx, userID, addressID)
		if err != nil {
			return err
		}
		applyAddress(address, req.shipping())
		err := tx.Model(address).
			Select("full_name", "phone", "line1", "line2", "city", "state", "postal_code", "country").
			Updates(address).
			Error
		if err != nil {
			return err
		}
		if req.IsDefault && !address.IsDefault {
			address.IsDefault = true
			return setDefaultAddress(tx, userID, address.ID)
		}
		return nil
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "address updated",
		"address": address,
	})
}

func (h *Handler) SetDefaultAddressHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	addressID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var address *models.Address
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		address, err = findAddress(tx, userID, addressID)
		if err != nil {
			return err
		}
		address.IsDefault = true
		return setDefaultAddress(tx, userID, address.ID)
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "default address updated",
		"address": address,
	})
}

// DeleteAddressHandler promotes the most recent remaining address when the
// default one is removed.
func (h *Handler) DeleteAddressHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	addressID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		address, err := findAddress(tx, userID, addressID)
		if err != nil {
			return err
		}
		if err := tx.Delete(address).Error; err != nil {
			return err
		}
		if !address.IsDefault {
			return nil
		}

		var next models.Address
		err = tx.Where("user_id = ?", userID).Order("id DESC").First(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return setDefaultAddress(tx, userID, next.ID)
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "address deleted",
	})
}
