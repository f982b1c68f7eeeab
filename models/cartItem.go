package models

import "gorm.io/gorm"

type CartItem struct {
	gorm.Model
	CartID   uint `gorm:"index;not null"`
	BookID   uint `gorm:"index;not null"`
	Book     Book
	Quantity int `gorm:"not null"`
}
