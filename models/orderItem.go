package models

import "gorm.io/gorm"

// OrderItem keeps the title and price the book had when the order was placed.
type OrderItem struct {
	gorm.Model
	OrderID  uint   `gorm:"index;not null" json:"-"`
	BookID   uint   `gorm:"index;not null" json:"bookId"`
	Title    string `gorm:"not null" json:"title"`
	ImageURL string `json:"imageURL"`
	Price    int64  `gorm:"not null" json:"price"`
	Quantity int    `gorm:"not null" json:"quantity"`
}
