package models

import "gorm.io/gorm"

// Cart belongs either to a user (UserID > 0) or to an anonymous visitor
// identified by AnonymousCartUUID.
type Cart struct {
	gorm.Model
	UserID            uint       `gorm:"index"`
	AnonymousCartUUID *string    `gorm:"uniqueIndex;size:36"`
	CartItems         []CartItem `gorm:"foreignKey:CartID"`
}
