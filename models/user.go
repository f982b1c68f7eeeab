package models

import "gorm.io/gorm"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	gorm.Model
	Name        string       `gorm:"not null" json:"name"`
	Email       string       `gorm:"uniqueIndex;size:191;not null" json:"email"`
	Password    string       `gorm:"not null" json:"-"`
	Phone       string       `json:"phone"`
	Role        string       `gorm:"size:16;not null;default:user" json:"role"`
	Orders      []Order      `json:"-"`
	Addresses   []Address    `json:"-"`
	LoginTokens []LoginToken `json:"-"`
}
