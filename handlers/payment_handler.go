package handlers

import (
	"bookmart/apperr"
	"bookmart/logger"
	"bookmart/models"
	"bookmart/payment"
	"errors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"io"
	"net/http"
	"time"
)

const maxWebhookBytes = 64 << 10

func (h *Handler) PaymentConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":        "payment config",
		"publishableKey": h.Config.Stripe.PublishableKey,
		"currency":       h.Config.Shop.Currency,
	})
}

// userCartItems loads the items of the logged-in user's cart.
func userCartItems(db *gorm.DB, userID uint) ([]models.CartItem, *models.Cart, error) {
	var cart models.Cart
	err := db.Where("user_id = ?", userID).First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	items, err := loadCartItems(db, cart.ID)
	return items, &cart, err
}

func cartSubtotal(items []models.CartItem) int64 {
	var subtotal int64
	for _, item := range items {
		subtotal += item.Book.Price * int64(item.Quantity)
	}
	return subtotal
}

// CreatePaymentIntentHandler prices the cart on the server and opens a card
// payment for the total.
func (h *Handler) CreatePaymentIntentHandler(c *gin.Context) {
	userID, err := currentUserID(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	items, _, err := userCartItems(h.DB, userID)
	if err != nil {
		_ = c.Error(apperr.Internal("could not load cart", err))
		return
	}
	if len(items) == 0 {
		_ = c.Error(apperr.BadRequest("cart is empty"))
		return
	}
	for _, item := range items {
		if item.Quantity > item.Book.Stock {
			_ = c.Error(apperr.BadRequest("not enough stock for " + item.Book.Title))
			return
		}
	}

	t := calculateTotals(h.Config.Shop, cartSubtotal(items))
	intent, err := h.Payments.CreateIntent(c.Request.Context(), t.Total, h.Config.Shop.Currency, userID)
	if err != nil {
		h.Metrics.PaymentIntents.WithLabelValues("error").Inc()
		if errors.Is(err, payment.ErrNotConfigured) {
			_ = c.Error(apperr.Wrap(http.StatusServiceUnavailable, "card payments are not available", err))
			return
		}
		_ = c.Error(apperr.Wrap(http.StatusBadGateway, "could not create payment", err))
		return
	}
	h.Metrics.PaymentIntents.WithLabelValues("created").Inc()

	c.JSON(http.StatusOK, gin.H{
		"message":         "payment intent created",
		"clientSecret":    intent.ClientSecret,
		"paymentIntentId": intent.ID,
		"currency":        h.Config.Shop.Currency,
		"totals":          t,
	})
}

// PaymentWebhookHandler applies provider notifications to the order that
// carries the intent. Unknown intents are acknowledged so the provider stops
// retrying.
func (h *Handler) PaymentWebhookHandler(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		_ = c.Error(apperr.BadRequest("could not read body"))
		return
	}

	event, err := h.Payments.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			_ = c.Error(apperr.Wrap(http.StatusServiceUnavailable, "webhooks are not configured", err))
			return
		}
		_ = c.Error(apperr.Wrap(http.StatusBadRequest, "invalid webhook", err))
		return
	}

	log := logger.Ctx(c.Request.Context()).With().
		Str("event", event.Type).
		Str("paymentIntentId", event.Intent.ID).
		Logger()

	switch event.Type {
	case payment.EventIntentSucceeded, payment.EventIntentFailed:
	default:
		log.Debug().Msg("ignoring webhook event")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	ctx := c.Request.Context()
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		err := tx.Where("payment_intent_id = ?", event.Intent.ID).First(&order).Error
		if err != nil {
			return err
		}
		if order.PaymentStatus == models.PaymentStatusRefunded {
			return nil
		}

		updates := map[string]interface{}{}
		refund := false
		switch {
		case event.Type == payment.EventIntentFailed:
			if order.Status == models.OrderStatusCancelled {
				return nil
			}
			updates["payment_status"] = models.PaymentStatusFailed
		case order.Status == models.OrderStatusCancelled:
			// charged after the order was cancelled
			updates["payment_status"] = models.PaymentStatusRefunded
			updates["paid_at"] = time.Now()
			refund = true
		default:
			updates["payment_status"] = models.PaymentStatusCompleted
			updates["paid_at"] = time.Now()
			if order.Status == models.OrderStatusPending {
				updates["status"] = models.OrderStatusConfirmed
			}
		}

		result := tx.Model(&models.Order{}).
			Where("id = ? AND status = ? AND payment_status = ?", order.ID, order.Status, order.PaymentStatus).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return apperr.Conflict("order was changed by another request")
		}

		if refund {
			if err := h.Payments.Refund(ctx, event.Intent.ID); err != nil {
				return apperr.Wrap(http.StatusBadGateway, "could not refund payment", err)
			}
			log.Info().Uint("orderId", order.ID).Msg("refunded payment for cancelled order")
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Info().Msg("webhook for unknown order")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if err != nil {
		if _, ok := apperr.As(err); ok {
			_ = c.Error(err)
			return
		}
		_ = c.Error(apperr.Internal("could not apply webhook", err))
		return
	}

	log.Info().Msg("payment webhook applied")
	c.JSON(http.StatusOK, gin.H{"received": true})
}
