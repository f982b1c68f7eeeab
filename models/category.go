package models

import "gorm.io/gorm"

type Category struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex;size:191;not null" json:"name"`
	Description string `json:"description"`
	Books       []Book `gorm:"many2many:book_categories;" json:"-"`
}
