package handlers

import (
	"bookmart/apperr"
	"bookmart/logger"
	"bookmart/models"
	"bookmart/payment"
	"context"
	"errors"
	"fmt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type placeOrderRequest struct {
	AddressID       *uint           `json:"addressId"`
	ShippingAddress *addressRequest `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod" binding:"required,oneof=card cod"`
	PaymentIntentID string          `json:"paymentIntentId" binding:"max=255"`
}

func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "BM" + now.Format("20060102") + suffix
}

func (h *Handler) resolveShipping(userID uint, req placeOrderRequest) (models.ShippingAddress, error) {
	if req.AddressID != nil {
		address, err := findAddress(h.DB, userID, *req.AddressID)
		if err != nil {
			return models.ShippingAddress{}, err
		}
		return shippingFromAddress(address), nil
	}
	if req.ShippingAddress != nil {
		return req.ShippingAddress.shipping(), nil
	}

	var address models.Address
	err := h.DB.Where("user_id = ? AND is_default = ?", userID, true).First(&address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ShippingAddress{}, apperr.BadRequest("a shipping address is required")
	}
	if err != nil {
		return models.ShippingAddress{}, err
	}
	return shippingFromAddress(&address), nil
}

// verifyIntent checks that a card payment exists, belongs to the user and is
// far enough along to accept the order. The amount is checked once the order
// is priced.
func (h *Handler) verifyIntent(ctx context.Context, userID uint, intentID string) (*payment.Intent, error) {
	intent, err := h.Payments.GetIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			return nil, apperr.Wrap(http.StatusServiceUnavailable, "card payments are not available", err)
		}
		return nil, apperr.Wrap(http.StatusBadRequest, "payment not found", err)
	}
	if intent.UserID != strconv.FormatUint(uint64(userID), 10) {
		return nil, apperr.BadRequest("payment does not belong to this user")
	}
	switch intent.Status {
	case payment.IntentSucceeded, payment.IntentProcessing, payment.IntentRequiresCapture:
		return intent, nil
	}
	return nil, apperr.BadRequest("payment has not been completed")
}

func (h *Handler) findOrderByIntent(userID uint, intentID string) (*models.Order, error) {
	var order models.Order
	err := h.DB.Preload("OrderItems").Where("payment_intent_id = ?", intentID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, apperr.BadRequest("payment already used by another order")
	}
	return &order, nil
}

// PlaceOrderHandler turns the user's cart into an order. Stock checks,
// decrements, the order rows and clearing the cart share one transaction.
func (h *Handler) PlaceOrderHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err)
		return
	}
	req.PaymentIntentID = strings.TrimSpace(req.PaymentIntentID)

	ctx := c.Request.Context()
	var intent *payment.Intent
	if req.PaymentMethod == models.PaymentMethodCard {
		if req.PaymentIntentID == "" {
			_ = c.Error(apperr.BadRequest("paymentIntentId is required for card payments"))
			return
		}

		existing, err := h.findOrderByIntent(userID, req.PaymentIntentID)
		if err != nil {
			_ = c.Error(err)
			return
		}
		if existing != nil {
			c.JSON(http.StatusOK, gin.H{
				"message": "order already placed",
				"order":   existing,
			})
			return
		}

		intent, err = h.verifyIntent(ctx, userID, req.PaymentIntentID)
		if err != nil {
			_ = c.Error(err)
			return
		}
	}

	shipping, err := h.resolveShipping(userID, req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	now := time.Now()
	order := models.Order{
		OrderNumber:     newOrderNumber(now),
		UserID:          userID,
		ShippingAddress: shipping,
		PaymentMethod:   req.PaymentMethod,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
	}
	if intent != nil {
		order.PaymentIntentID = &intent.ID
		if intent.Status == payment.IntentSucceeded {
			order.Status = models.OrderStatusConfirmed
			order.PaymentStatus = models.PaymentStatusCompleted
			order.PaidAt = &now
		}
	}

	var bookIDs []uint
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		items, cart, err := userCartItems(tx, userID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return apperr.BadRequest("cart is empty")
		}

		for _, item := range items {
			result := tx.Model(&models.Book{}).
				Where("id = ? AND stock >= ?", item.BookID, item.Quantity).
				UpdateColumn("stock", gorm.Expr("stock - ?", item.Quantity))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return apperr.BadRequest(fmt.Sprintf("not enough stock for %q", item.Book.Title))
			}

			order.OrderItems = append(order.OrderItems, models.OrderItem{
				BookID:   item.BookID,
				Title:    item.Book.Title,
				ImageURL: item.Book.ImageURL,
				Price:    item.Book.Price,
				Quantity: item.Quantity,
			})
			bookIDs = append(bookIDs, item.BookID)
		}

		t := calculateTotals(h.Config.Shop, cartSubtotal(items))
		order.Subtotal = t.Subtotal
		order.ShippingFee = t.ShippingFee
		order.Tax = t.Tax
		order.Total = t.Total
		if intent != nil && intent.Amount != order.Total {
			return apperr.BadRequest("payment amount does not match the order total")
		}

		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		return tx.Unscoped().Where("cart_id = ?", cart.ID).Delete(&models.CartItem{}).Error
	})
	if err != nil {
		// a concurrent request with the same intent may have won the race
		if intent != nil {
			if existing, findErr := h.findOrderByIntent(userID, intent.ID); findErr == nil && existing != nil {
				c.JSON(http.StatusOK, gin.H{
					"message": "order already placed",
					"order":   existing,
				})
				return
			}
		}
		_ = c.Error(err)
		return
	}

	h.Metrics.OrdersPlaced.WithLabelValues(order.PaymentMethod).Inc()
	h.Metrics.OrderRevenue.Add(float64(order.Total))
	h.refreshBooks(c, bookIDs)
	logger.Ctx(ctx).Info().
		Uint("orderId", order.ID).
		Str("orderNumber", order.OrderNumber).
		Int64("total", order.Total).
		Msg("order placed")

	c.JSON(http.StatusCreated, gin.H{
		"message": "order placed",
		"order":   order,
	})
}

func (h *Handler) GetOrdersHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	page, err := parsePagination(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var total int64
	if err := h.DB.Model(&models.Order{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		_ = c.Error(apperr.Internal("could not count orders", err))
		return
	}

	var orders []models.Order
	err = h.DB.
		Preload("OrderItems").
		Where("user_id = ?", userID).
		Order("id DESC").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&orders).
		Error
	if err != nil {
		_ = c.Error(apperr.Internal("could not load orders", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "orders",
		"orders":     orders,
		"pagination": page.meta(total),
	})
}

func findUserOrder(db *gorm.DB, userID, orderID uint) (*models.Order, error) {
	var order models.Order
	err := db.Preload("OrderItems").Where("id = ? AND user_id = ?", orderID, userID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (h *Handler) GetOrderHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	orderID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	order, err := findUserOrder(h.DB, userID, orderID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "order",
		"order":   order,
	})
}

// transitionOrder writes status together with updates only if the stored
// status is still the one order was loaded with.
func transitionOrder(tx *gorm.DB, order *models.Order, status string, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = status
	result := tx.Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, order.Status).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return apperr.Conflict("order was changed by another request")
	}
	order.Status = status
	return nil
}

// releasePayment gives back the card payment of a cancelled order and
// returns the payment status to store. A charged intent is refunded and an
// uncharged one is cancelled. An intent still processing stays pending; the
// success webhook refunds it.
func (h *Handler) releasePayment(ctx context.Context, order *models.Order) (string, error) {
	if order.PaymentMethod != models.PaymentMethodCard || order.PaymentIntentID == nil {
		return order.PaymentStatus, nil
	}
	intentID := *order.PaymentIntentID

	switch order.PaymentStatus {
	case models.PaymentStatusCompleted:
		if err := h.Payments.Refund(ctx, intentID); err != nil {
			return "", apperr.Wrap(http.StatusBadGateway, "could not refund payment", err)
		}
		return models.PaymentStatusRefunded, nil
	case models.PaymentStatusFailed, models.PaymentStatusRefunded:
		return order.PaymentStatus, nil
	}

	cancelErr := h.Payments.CancelIntent(ctx, intentID)
	if cancelErr == nil {
		return models.PaymentStatusFailed, nil
	}

	// the intent may have moved on since the order was placed
	intent, err := h.Payments.GetIntent(ctx, intentID)
	if err != nil {
		return "", apperr.Wrap(http.StatusBadGateway, "could not cancel payment", cancelErr)
	}
	switch intent.Status {
	case payment.IntentSucceeded:
		if err := h.Payments.Refund(ctx, intentID); err != nil {
			return "", apperr.Wrap(http.StatusBadGateway, "could not refund payment", err)
		}
		return models.PaymentStatusRefunded, nil
	case payment.IntentProcessing:
		return models.PaymentStatusPending, nil
	case payment.IntentCanceled:
		return models.PaymentStatusFailed, nil
	}
	return "", apperr.Wrap(http.StatusBadGateway, "could not cancel payment", cancelErr)
}

// cancelOrder cancels order, restocks its books and releases its card
// payment. It runs inside tx so a failed gateway call leaves the order
// untouched.
func (h *Handler) cancelOrder(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if !models.CanTransitionOrder(order.Status, models.OrderStatusCancelled) {
		return apperr.BadRequest("order can no longer be cancelled")
	}
	if err := transitionOrder(tx, order, models.OrderStatusCancelled, nil); err != nil {
		return err
	}

	for _, item := range order.OrderItems {
		err := tx.Model(&models.Book{}).
			Where("id = ?", item.BookID).
			UpdateColumn("stock", gorm.Expr("stock + ?", item.Quantity)).
			Error
		if err != nil {
			return err
		}
	}

	paymentStatus, err := h.releasePayment(ctx, order)
	if err != nil {
		return err
	}
	if paymentStatus != order.PaymentStatus {
		if err := tx.Model(order).Update("payment_status", paymentStatus).Error; err != nil {
			return err
		}
		order.PaymentStatus = paymentStatus
	}
	return nil
}

func orderBookIDs(order *models.Order) []uint {
	ids := make([]uint, 0, len(order.OrderItems))
	for _, item := range order.OrderItems {
		ids = append(ids, item.BookID)
	}
	return ids
}

func (h *Handler) CancelOrderHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	orderID, err := paramID(c, "id")
	if err != nil {
		_ = c.Error(err)
		return
	}

	var order *models.Order
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		order, err = findUserOrder(tx, userID, orderID)
		if err != nil {
			return err
		}
		return h.cancelOrder(c.Request.Context(), tx, order)
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	h.refreshBooks(c, orderBookIDs(order))
	c.JSON(http.StatusOK, gin.H{
		"message": "order cancelled",
		"order":   order,
	})
}
