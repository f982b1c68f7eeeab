package models

import "gorm.io/gorm"

type Review struct {
	gorm.Model
	BookID  uint   `gorm:"uniqueIndex:idx_review_book_user;not null" json:"bookId"`
	UserID  uint   `gorm:"uniqueIndex:idx_review_book_user;not null" json:"userId"`
	User    User   `json:"-"`
	Rating  int    `gorm:"not null" json:"rating"`
	Comment string `gorm:"type:text" json:"comment"`
}
