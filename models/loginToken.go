package models

import (
	"gorm.io/gorm"
	"time"
)

type LoginToken struct {
	gorm.Model
	Token          string `gorm:"uniqueIndex;size:512;not null"`
	ExpirationTime time.Time
	UserID         uint `gorm:"index"`
	Role           string
}
