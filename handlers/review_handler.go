package handlers

import (
	"bookmart/apperr"
	"bookmart/models"
	"errors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"math"
	"net/http"
	"strings"
)

type reviewRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment" binding:"max=2000"`
}

// recomputeRating refreshes the cached rating columns of a book from its
// reviews. It must run inside the transaction that changed the reviews.
func recomputeRating(tx *gorm.DB, bookID uint) (*models.Book, error) {
	var stats struct {
		Average float64
		Count   int
	}
	err := tx.Model(&models.Review{}).
		Select("COALESCE(AVG(rating), 0) AS average, COUNT(*) AS count").
		Where("book_id = ?", bookID).
		Scan(&stats).
		Error
	if err != nil {
		return nil, err
	}

	var book models.Book
	if err := tx.First(&book, bookID).Error; err != nil {
		return nil, err
	}
	book.AverageRating = math.Round(stats.Average*10) / 10
	book.NumReviews = stats.Count
	err = tx.Model(&book).Updates(map[string]interface{}{
		"average_rating": book.AverageRating,
		"num_reviews":    book.NumReviews,
	}).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func (h *Handler) GetBookReviewsHandler(c *gin.Context) {
	bookID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var book models.Book
	if err := h.DB.Select("id").First(&book, bookID).Error; err != nil {
		_ = c.Error(err)
		return
	}

	reviews, err := h.loadReviews(book.ID, 0)
	if err != nil {
		_ = c.Error(apperr.Internal("could not load reviews", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "reviews",
		"reviews": reviews,
	})
}

func (h *Handler) CreateReviewHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	bookID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	review := models.Review{
		BookID:  bookID,
		UserID:  userID,
		Rating:  req.Rating,
		Comment: strings.TrimSpace(req.Comment),
	}

	var book *models.Book
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Select("id").First(&models.Book{}, bookID).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.Review{}).Where("book_id = ? AND user_id = ?", bookID, userID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return apperr.BadRequest("you have already reviewed this book")
		}

		if err := tx.Create(&review).Error; err != nil {
			return err
		}
		book, err = recomputeRating(tx, bookID)
		return err
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.syncBookCache(c, book, false)
	c.JSON(http.StatusCreated, gin.H{
		"message":       "review added",
		"review":        review,
		"averageRating": book.AverageRating,
		"numReviews":    book.NumReviews,
	})
}

// findReview loads a review the caller may change: its author or an admin.
func findReview(tx *gorm.DB, c *gin.Context, reviewID uint) (*models.Review, error) {
	userID, err := currentUserID(c)
	if err != nil {
		return nil, err
	}

	var review models.Review
	if err := tx.First(&review, reviewID).Error; err != nil {
		return nil, err
	}
	if review.UserID != userID && !isAdmin(c) {
		return nil, apperr.Forbidden("not allowed to change this review")
	}
	return &review, nil
}

func (h *Handler) UpdateReviewHandler(c *gin.Context) {
	reviewID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	var review *models.Review
	var book *models.Book
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		review, err = findReview(tx, c, reviewID)
		if err != nil {
			return err
		}
		review.Rating = req.Rating
		review.Comment = strings.TrimSpace(req.Comment)
		if err := tx.Model(review).Select("rating", "comment").Updates(review).Error; err != nil {
			return err
		}
		book, err = recomputeRating(tx, review.BookID)
		return err
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.syncBookCache(c, book, false)
	c.JSON(http.StatusOK, gin.H{
		"message":       "review updated",
		"review":        review,
		"averageRating": book.AverageRating,
		"numReviews":    book.NumReviews,
	})
}

func (h *Handler) DeleteReviewHandler(c *gin.Context) {
	reviewID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	review, book, err := h.deleteReview(c, reviewID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if isAdmin(c) {
		h.recordAudit(c, "review", review.ID, "delete", gin.H{"bookId": review.BookID, "userId": review.UserID})
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "review deleted",
		"averageRating": book.AverageRating,
		"numReviews":    book.NumReviews,
	})
}

// deleteReview removes the row for good so the author may review the book
// again.
func (h *Handler) deleteReview(c *gin.Context, reviewID uint) (*models.Review, *models.Book, error) {
	var review *models.Review
	var book *models.Book
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		review, err = findReview(tx, c, reviewID)
		if err != nil {
			return err
		}
		if err := tx.Unscoped().Delete(review).Error; err != nil {
			return err
		}
		book, err = recomputeRating(tx, review.BookID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			book, err = &models.Book{}, nil
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if book.ID != 0 {
		h.syncBookCache(c, book, false)
	}
	return review, book, nil
}
