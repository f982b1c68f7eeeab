package handlers

import (
	"bookmart/apperr"
	"bookmart/middleware"
	"bookmart/models"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"net/http"
)

const anonymousCartCookie = "anonymous_cart_id"

func generateAnonymousCartID() string {
	return uuid.New().String()
}

func getAnonymousCartID(c *gin.Context) string {
	cookie, err := c.Request.Cookie(anonymousCartCookie)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return ""
	}
	return cookie.Value
}

func (h *Handler) setAnonymousCartID(c *gin.Context, cartID string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     anonymousCartCookie,
		Value:    cartID,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.Config.Server.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func clampQuantity(quantity, stock int) int {
	if quantity > stock {
		return stock
	}
	return quantity
}

// findCart returns the cart of the caller: the user's cart when logged in,
// otherwise the anonymous cart named by the cookie. With create set a missing
// cart is created (and the cookie issued); otherwise a missing cart is nil.
func (h *Handler) findCart(c *gin.Context, create bool) (*models.Cart, error) {
	if userID, ok := middleware.UserID(c); ok {
		var cart models.Cart
		query := h.DB.Where("user_id = ?", userID)
		var err error
		if create {
			err = query.FirstOrCreate(&cart, models.Cart{UserID: userID}).Error
		} else {
			err = query.First(&cart).Error
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, apperr.Internal("could not load cart", err)
		}
		return &cart, nil
	}

	anonymousCartID := getAnonymousCartID(c)
	if anonymousCartID != "" {
		var cart models.Cart
		err := h.DB.Where("anonymous_cart_uuid = ?", anonymousCartID).First(&cart).Error
		if err == nil {
			return &cart, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Internal("could not load cart", err)
		}
	}
	if !create {
		return nil, nil
	}

	newAnonymousCartID := generateAnonymousCartID()
	cart := models.Cart{AnonymousCartUUID: &newAnonymousCartID}
	if err := h.DB.Create(&cart).Error; err != nil {
		return nil, apperr.Internal("could not create cart", err)
	}
	h.setAnonymousCartID(c, newAnonymousCartID, 0)
	return &cart, nil
}

type cartLine struct {
	BookID   uint   `json:"bookId"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Price    int64  `json:"price"`
	ImageURL string `json:"imageURL"`
	Stock    int    `json:"stock"`
	Quantity int    `json:"quantity"`
	Subtotal int64  `json:"subtotal"`
}

type cartView struct {
	Items     []cartLine `json:"items"`
	ItemCount int        `json:"itemCount"`
	Subtotal  int64      `json:"subtotal"`
}

func loadCartItems(db *gorm.DB, cartID uint) ([]models.CartItem, error) {
	var items []models.CartItem
	err := db.
		Preload("Book").
		Where("cart_id = ?", cartID).
		Order("id ASC").
		Find(&items).
		Error
	return items, err
}

func newCartView(items []models.CartItem) cartView {
	view := cartView{Items: make([]cartLine, 0, len(items))}
	for _, item := range items {
		line := cartLine{
			BookID:   item.BookID,
			Title:    item.Book.Title,
			Author:   item.Book.Author,
			Price:    item.Book.Price,
			ImageURL: item.Book.ImageURL,
			Stock:    item.Book.Stock,
			Quantity: item.Quantity,
			Subtotal: item.Book.Price * int64(item.Quantity),
		}
		view.Items = append(view.Items, line)
		view.ItemCount += line.Quantity
		view.Subtotal += line.Subtotal
	}
	return view
}

func (h *Handler) respondCart(c *gin.Context, status int, message string, cart *models.Cart) {
	var items []models.CartItem
	if cart != nil {
		var err error
		items, err = loadCartItems(h.DB, cart.ID)
		if err != nil {
			_ = c.Error(apperr.Internal("could not load cart items", err))
			return
		}
	}
	c.JSON(status, gin.H{
		"message": message,
		"cart":    newCartView(items),
	})
}

func (h *Handler) GetCartHandler(c *gin.Context) {
	cart, err := h.findCart(c, false)
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.respondCart(c, http.StatusOK, "cart", cart)
}

// addToCart adds quantity copies of a book to a cart, clamping the line to
// the book's stock.
func addToCart(db *gorm.DB, cartID, bookID uint, quantity int) (int, error) {
	var book models.Book
	if err := db.Select("id", "stock").First(&book, bookID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, apperr.NotFound("book not found")
		}
		return 0, err
	}
	if book.Stock < 1 {
		return 0, apperr.BadRequest("book is out of stock")
	}

	var item models.CartItem
	err := db.Where("cart_id = ? AND book_id = ?", cartID, bookID).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		item = models.CartItem{
			CartID:   cartID,
			BookID:   bookID,
			Quantity: clampQuantity(quantity, book.Stock),
		}
		return item.Quantity, db.Create(&item).Error
	}
	if err != nil {
		return 0, err
	}

	item.Quantity = clampQuantity(item.Quantity+quantity, book.Stock)
	return item.Quantity, db.Model(&item).Update("quantity", item.Quantity).Error
}

func (h *Handler) AddToCartHandler(c *gin.Context) {
	var req struct {
		BookID   uint `json:"bookId" binding:"required"`
		Quantity int  `json:"quantity" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	cart, err := h.findCart(c, true)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if _, err := addToCart(h.DB, cart.ID, req.BookID, req.Quantity); err != nil {
		_ = c.Error(err)
		return
	}

	h.respondCart(c, http.StatusOK, "added to cart", cart)
}

func (h *Handler) UpdateCartItemQuantityHandler(c *gin.Context) {
	bookID, err := paramID(c, "bookId")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req struct {
		Quantity int `json:"quantity" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}

	cart, err := h.findCart(c, false)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if cart == nil {
		_ = c.Error(apperr.NotFound("book is not in the cart"))
		return
	}

	var item models.CartItem
	err = h.DB.
		Preload("Book").
		Where("cart_id = ? AND book_id = ?", cart.ID, bookID).
		First(&item).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			_ = c.Error(apperr.NotFound("book is not in the cart"))
			return
		}
		_ = c.Error(apperr.Internal("could not load cart item", err))
		return
	}
	if item.Book.Stock < 1 {
		_ = c.Error(apperr.BadRequest("book is out of stock"))
		return
	}

	quantity := clampQuantity(req.Quantity, item.Book.Stock)
	if err := h.DB.Model(&item).Update("quantity", quantity).Error; err != nil {
		_ = c.Error(apperr.Internal("could not update cart item", err))
		return
	}

	h.respondCart(c, http.StatusOK, "cart updated", cart)
}

func (h *Handler) DeleteCartItemHandler(c *gin.Context) {
	bookID, err := paramID(c, "bookId")
	if err != nil {
		_ = c.Error(err)
		return
	}

	cart, err := h.findCart(c, false)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if cart == nil {
		_ = c.Error(apperr.NotFound("book is not in the cart"))
		return
	}

	result := h.DB.Unscoped().
		Where("cart_id = ? AND book_id = ?", cart.ID, bookID).
		Delete(&models.CartItem{})
	if result.Error != nil {
		_ = c.Error(apperr.Internal("could not remove cart item", result.Error))
		return
	}
	if result.RowsAffected == 0 {
		_ = c.Error(apperr.NotFound("book is not in the cart"))
		return
	}

	h.respondCart(c, http.StatusOK, "removed from cart", cart)
}

func (h *Handler) ClearCartHandler(c *gin.Context) {
	cart, err := h.findCart(c, false)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if cart != nil {
		if err := h.DB.Unscoped().Where("cart_id = ?", cart.ID).Delete(&models.CartItem{}).Error; err != nil {
			_ = c.Error(apperr.Internal("could not clear cart", err))
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "cart cleared",
		"cart":    newCartView(nil),
	})
}

// MergeCartHandler moves the anonymous cart of this browser into the user's
// cart and deletes it.
func (h *Handler) MergeCartHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	anonymousCartID := getAnonymousCartID(c)
	if anonymousCartID == "" {
		_ = c.Error(apperr.BadRequest("no anonymous cart to merge"))
		return
	}

	var cart models.Cart
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var anonymousCart models.Cart
		err := tx.
			Where("anonymous_cart_uuid = ?", anonymousCartID).
			Preload("CartItems").
			First(&anonymousCart).
			Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.BadRequest("no anonymous cart to merge")
			}
			return err
		}

		if err := tx.Where("user_id = ?", userID).FirstOrCreate(&cart, models.Cart{UserID: userID}).Error; err != nil {
			return err
		}

		for _, anonCartItem := range anonymousCart.CartItems {
			_, err := addToCart(tx, cart.ID, anonCartItem.BookID, anonCartItem.Quantity)
			if err == nil {
				continue
			}
			// books that vanished or sold out are dropped from the merge
			if appErr, ok := apperr.As(err); ok && appErr.Status < http.StatusInternalServerError {
				continue
			}
			return err
		}

		if err := tx.Unscoped().Where("cart_id = ?", anonymousCart.ID).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&anonymousCart).Error
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.setAnonymousCartID(c, "", -1)
	h.respondCart(c, http.StatusOK, "carts merged", &cart)
}
