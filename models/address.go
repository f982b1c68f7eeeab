package models

import "gorm.io/gorm"

type Address struct {
	gorm.Model
	UserID     uint   `gorm:"index;not null" json:"-"`
	FullName   string `gorm:"not null" json:"fullName"`
	Phone      string `gorm:"not null" json:"phone"`
	Line1      string `gorm:"not null" json:"line1"`
	Line2      string `json:"line2"`
	City       string `gorm:"not null" json:"city"`
	State      string `json:"state"`
	PostalCode string `gorm:"not null" json:"postalCode"`
	Country    string `gorm:"not null" json:"country"`
	IsDefault  bool   `gorm:"not null;default:false" json:"isDefault"`
}
