package handlers

import (
	"bookmart/apperr"
	"bookmart/cache"
	"bookmart/models"
	"errors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"net/http"
)

func (h *Handler) userWishlist(db *gorm.DB, userID uint) (*models.Wishlist, error) {
	var wishlist models.Wishlist
	err := db.Where("user_id = ?", userID).FirstOrCreate(&wishlist, models.Wishlist{UserID: userID}).Error
	if err != nil {
		return nil, apperr.Internal("could not load wishlist", err)
	}
	return &wishlist, nil
}

func (h *Handler) respondWishlist(c *gin.Context, status int, message string, wishlist *models.Wishlist) {
	var books []models.Book
	if err := h.DB.Model(wishlist).Order("books.title ASC").Association("Books").Find(&books); err != nil {
		_ = c.Error(apperr.Internal("could not load wishlist books", err))
		return
	}

	summaries := make([]cache.BookSummary, 0, len(books))
	for i := range books {
		summaries = append(summaries, cache.Summarize(&books[i]))
	}
	c.JSON(status, gin.H{
		"message": message,
		"books":   summaries,
		"count":   len(summaries),
	})
}

func (h *Handler) GetWishlistHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	wishlist, err := h.userWishlist(h.DB, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.respondWishlist(c, http.StatusOK, "wishlist", wishlist)
}

func (h *Handler) AddToWishlistHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req struct {
		BookID uint `json:"bookId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	var book models.Book
	if err := h.DB.First(&book, req.BookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = c.Error(apperr.NotFound("book not found"))
			return
		}
		_ = c.Error(apperr.Internal("could not load book", err))
		return
	}

	wishlist, err := h.userWishlist(h.DB, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	// Append skips the join row when it already exists.
	if err := h.DB.Model(wishlist).Association("Books").Append(&book); err != nil {
		_ = c.Error(apperr.Internal("could not add to wishlist", err))
		return
	}

	h.respondWishlist(c, http.StatusOK, "added to wishlist", wishlist)
}

func removeFromWishlist(db *gorm.DB, wishlistID, bookID uint) (int64, error) {
	result := db.Exec("DELETE FROM wishlist_books WHERE wishlist_id = ? AND book_id = ?", wishlistID, bookID)
	return result.RowsAffected, result.Error
}

func (h *Handler) RemoveFromWishlistHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	bookID, err := paramID(c, "bookId")
	if err != nil {
		_ = c.Error(err)
		return
	}

	wishlist, err := h.userWishlist(h.DB, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	removed, err := removeFromWishlist(h.DB, wishlist.ID, bookID)
	if err != nil {
		_ = c.Error(apperr.Internal("could not remove from wishlist", err))
		return
	}
	if removed == 0 {
		_ = c.Error(apperr.NotFound("book is not in the wishlist"))
		return
	}

	h.respondWishlist(c, http.StatusOK, "removed from wishlist", wishlist)
}

func (h *Handler) ClearWishlistHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	wishlist, err := h.userWishlist(h.DB, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.DB.Model(wishlist).Association("Books").Clear(); err != nil {
		_ = c.Error(apperr.Internal("could not clear wishlist", err))
		return
	}

	h.respondWishlist(c, http.StatusOK, "wishlist cleared", wishlist)
}

// MoveToCartHandler puts one copy of a wishlisted book into the user's cart
// and drops it from the wishlist.
func (h *Handler) MoveToCartHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	bookID, err := paramID(c, "bookId")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var cart models.Cart
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		wishlist, err := h.userWishlist(tx, userID)
		if err != nil {
			return err
		}
		removed, err := removeFromWishlist(tx, wishlist.ID, bookID)
		if err != nil {
			return err
		}
		if removed == 0 {
			return apperr.NotFound("book is not in the wishlist")
		}

		if err := tx.Where("user_id = ?", userID).FirstOrCreate(&cart, models.Cart{UserID: userID}).Error; err != nil {
			return err
		}
		_, err = addToCart(tx, cart.ID, bookID, 1)
		return err
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.respondCart(c, http.StatusOK, "moved to cart", &cart)
}
