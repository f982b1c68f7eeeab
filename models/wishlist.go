package models

import "gorm.io/gorm"

type Wishlist struct {
	gorm.Model
	UserID uint   `gorm:"uniqueIndex;not null"`
	Books  []Book `gorm:"many2many:wishlist_books;"`
}
