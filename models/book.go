package models

import "gorm.io/gorm"

// Book prices are in minor currency units.
type Book struct {
	gorm.Model
	Title         string     `gorm:"not null;index" json:"title"`
	Author        string     `gorm:"not null;index" json:"author"`
	ISBN          string     `gorm:"uniqueIndex;size:32;not null" json:"isbn"`
	Description   string     `gorm:"type:text" json:"description"`
	Price         int64      `gorm:"not null" json:"price"`
	Stock         int        `gorm:"not null;default:0" json:"stock"`
	ImageURL      string     `json:"imageURL"`
	Publisher     string     `json:"publisher"`
	PublishedYear int        `json:"publishedYear"`
	Language      string     `json:"language"`
	Pages         int        `json:"pages"`
	Featured      bool       `gorm:"default:false" json:"featured"`
	AverageRating float64    `gorm:"not null;default:0" json:"averageRating"`
	NumReviews    int        `gorm:"not null;default:0" json:"numReviews"`
	Categories    []Category `gorm:"many2many:book_categories;" json:"categories"`
}
