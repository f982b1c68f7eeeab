package handlers_test

import (
	"bookmart/models"
	"bookmart/payment"
	"fmt"
	"github.com/gin-gonic/gin"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"testing"
)

func readOrder(t *testing.T, w *httptest.ResponseRecorder) models.Order {
	t.Helper()
	var order models.Order
	decodeInto(t, w, "order", &order)
	return order
}

func (e *testEnv) orderCount() int64 {
	e.t.Helper()
	var n int64
	require.NoError(e.t, e.db.Model(&models.Order{}).Count(&n).Error)
	return n
}

func (e *testEnv) createIntent(token string) (string, int64) {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/payments/create-intent", nil, token)
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	body := decode(e.t, w)
	totals := body["totals"].(map[string]interface{})
	return body["paymentIntentId"].(string), int64(totals["total"].(float64))
}

func TestPlaceCashOnDeliveryOrder(t *testing.T) {
	env := newTestEnv(t)
	dune := env.createBook("Dune", 1500, 5)
	_, token := env.createUser("reader@example.com", models.RoleUser)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/orders", gin.H{
		"paymentMethod": "cod", "shippingAddress": testAddress,
	}, token).Code)

	env.addToCart(token, dune.ID, 2)

	// no saved address and none given
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/orders", gin.H{"paymentMethod": "cod"}, token).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/orders", gin.H{
		"paymentMethod": "cheque", "shippingAddress": testAddress,
	}, token).Code)

	w := env.do(http.MethodPost, "/api/orders", gin.H{"paymentMethod": "cod", "shippingAddress": testAddress}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := readOrder(t, w)

	assert.Regexp(t, `^BM\d{8}[0-9A-F]{8}$`, order.OrderNumber)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, int64(3000), order.Subtotal)
	assert.Equal(t, int64(500), order.ShippingFee)
	assert.Equal(t, int64(300), order.Tax)
	assert.Equal(t, int64(3800), order.Total)
	assert.Equal(t, "Booktown", order.ShippingAddress.City)
	require.Len(t, order.OrderItems, 1)
	assert.Equal(t, "Dune", order.OrderItems[0].Title)
	assert.Equal(t, int64(1500), order.OrderItems[0].Price)

	assert.Equal(t, 3, env.stock(dune.ID))
	w = env.do(http.MethodGet, "/api/cart", nil, token)
	assert.Empty(t, readCart(t, w).Items)
	assert.Equal(t, float64(1), promtest.ToFloat64(env.h.Metrics.OrdersPlaced.WithLabelValues("cod")))

	// price changes do not touch the snapshot
	require.NoError(t, env.db.Model(dune).Update("price", 9999).Error)
	w = env.do(http.MethodGet, fmt.Sprintf("/api/orders/%d", order.ID), nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1500), readOrder(t, w).OrderItems[0].Price)

	_, other := env.createUser("other@example.com", models.RoleUser)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, fmt.Sprintf("/api/orders/%d", order.ID), nil, other).Code)

	w = env.do(http.MethodGet, "/api/orders", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []models.Order
	decodeInto(t, w, "orders", &orders)
	assert.Len(t, orders, 1)
}

func TestPlaceOrderUsesDefaultAddressAndFreeShipping(t *testing.T) {
	env := newTestEnv(t)
	dune := env.createBook("Dune", 2500, 5)
	_, token := env.createUser("reader@example.com", models.RoleUser)

	body := gin.H{}
	for k, v := range testAddress {
		body[k] = v
	}
	body["city"] = "Saved City"
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/api/addresses", body, token).Code)

	env.addToCart(token, dune.ID, 2)
	w := env.do(http.MethodPost, "/api/orders", gin.H{"paymentMethod": "cod"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := readOrder(t, w)
	assert.Equal(t, "Saved City", order.ShippingAddress.City)
	assert.Equal(t, int64(0), order.ShippingFee)
	assert.Equal(t, int64(5500), order.Total)
}

func TestPlaceOrderInsufficientStockChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	dune := env.createBook("Dune", 1500, 5)
	emma := env.createBook("Emma", 900, 2)
	_, token := env.createUser("reader@example.com", models.RoleUser)

	env.addToCart(token, dune.ID, 2)
	env.addToCart(token, emma.ID, 2)
	// stock sold elsewhere after the book went into the cart
	require.NoError(t, env.db.Model(emma).Update("stock", 1).Error)

	w := env.do(http.MethodPost, "/api/orders", gin.H{"paymentMethod": "cod", "shippingAddress": testAddress}, token)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, decode(t, w)["message"], "Emma")

	assert.Equal(t, 5, env.stock(dune.ID))
	assert.Equal(t, 1, env.stock(emma.ID))
	assert.Zero(t, env.orderCount())
	w = env.do(http.MethodGet, "/api/cart", nil, token)
	assert.Len(t, readCart(t, w).Items, 2)
}

func TestCardOrderIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	dune := env.createBook("Dune", 1500, 5)
	_, token := env.createUser("reader@example.com", models.RoleUser)
	_, other := env.createUser("other@example.com", models.RoleUser)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/payments/create-intent", nil, token).Code)

	env.addToCart(token, dune.ID, 2)
	intentID, amount := env.createIntent(token)
	assert.Equal(t, int64(3800), amount)

	place := gin.H{"paymentMethod": "card", "paymentIntentId": intentID, "shippingAddress": testAddress}

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/orders", gin.H{
		"paymentMethod": "card", "shippingAddress": testAddress,
	}, token).Code)

	// not paid yet
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/orders", place, token).Code)

	env.gateway.setStatus(intentID, payment.IntentSucceeded)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/orders", place, other).Code)

	w := env.do(http.MethodPost, "/api/orders", place, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := readOrder(t, w)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Equal(t, models.PaymentStatusCompleted, order.PaymentStatus)
	assert.NotNil(t, order.PaidAt)

	w = env.do(http.MethodPost, "/api/orders", place, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, order.ID, readOrder(t, w).ID)
	assert.Equal(t, int64(1), env.orderCount())
	assert.Equal(t, 3, env.stock(dune.ID))

	// the intent is bound to the first order
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/orders", place, other).Code)
}

func TestCardOrderAmountMismatch(t *testing.T) {
	env := newTestEnv(t)
	dune := env.createBook("Dune", 1500, 5)
	_, token := env.createUser("reader@example.com", models.RoleUser)

	env.addToCart(token, dune.ID, 1)
	intentID, _ := env.createIntent(token)
	env.gateway.setStatus(intentID, payment.IntentSucceeded)
	env.addToCart(token, dune.ID, 1)

	w := env.do(http.MethodPost, "/api/orders", gin.H{
		"paymentMethod": "card", "paymentIntentId": intentID, "shippingAddress": testAddress,
	}, token)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, 5, env.stock(dune.ID))
	assert.Zero(t, env.orderCount())
}

func TestCancelOrderRestocksAndRefunds(t *testing.T) {
	env := newTestEnv(t)
	dune := env.createBook("Dune", 1500, 5)
	_, token := env.createUser("reader@example.com", models.RoleUser)
	_, other := env.createUser("other@example.com", models.RoleUser)

	env.addToCart(token, dune.ID, 2)
	intentID, _ := env.createIntent(token)
	env.gateway.setStatus(intentID, payment.IntentSucceeded)
	w := env.do(http.MethodPost, "/api/orders", gin.H{
		"paymentMethod": "card", "paymentIntentId": intentID, "shippingAddress": testAddress,
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := readOrder(t, w)
	assert.Equal(t, 3, env.stock(dune.ID))

	cancelPath := fmt.Sprintf("/api/orders/%d/cancel", order.ID)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, cancelPath, nil, other).Code)

	w = env.do(http.MethodPost, cancelPath, nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cancelled := readOrder(t, w)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Equal(t, 5, env.stock(dune.ID))
	assert.Equal(t, []string{intentID}, env.gateway.refunds)

	// cancelling twice neither restocks nor refunds again
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, cancelPath, nil, token).Code)
	assert.Equal(t, 5, env.stock(dune.ID))
	assert.Len(t, env.gateway.refunds, 1)
}

func (e *testEnv) webhook(eventType, id, signature string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.serve(request{
		method: http.MethodPost,
		path:   "/api/payments/webhook",
		body:   fmt.Sprintf(`{"type":%q,"id":%q}`, eventType, id),
		header: map[string]string{"Stripe-Signature": signature},
	})
}

// placeCardOrder orders one copy of book, paying with an intent left in
// intentStatus.
func (e *testEnv) placeCardOrder(token string, bookID uint, intentStatus string) (models.Order, string) {
	e.t.Helper()
	e.addToCart(token, bookID, 1)
	intentID, _ := e.createIntent(token)
	e.gateway.setStatus(intentID, intentStatus)
	w := e.do(http.MethodPost, "/api/orders", gin.H{
		"paymentMethod": "card", "paymentIntentId": intentID, "shippingAddress": testAddress,
	}, token)
	require.Equal(e.t, http.StatusCreated, w.Code, w.Body.String())
	return readOrder(e.t, w), intentID
}

func (e *testEnv) cancel(token string, orderID uint) models.Order {
	e.t.Helper()
	w := e.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", orderID), nil, token)
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
	return readOrder(e.t, w)
}

func TestCancelUnpaidCardOrderCancelsIntent(t *testing.T) {
	env := newTestEnv(t)
	dune := env.createBook("Dune", 1500, 5)
	_, token := env.createUser("reader@example.com", models.RoleUser)

	order, intentID := env.placeCardOrder(token, dune.ID, payment.IntentRequiresCapture)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)

	cancelled := env.cancel(token, order.ID)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusFailed, cancelled.PaymentStatus)
	assert.Equal(t, []string{intentID}, env.gateway.cancels)
	assert.Empty(t, env.gateway.refunds)
	assert.Equal(t, 5, env.stock(dune.ID))
}

func TestCancelRefundsIntentChargedAfterOrdering(t *testing.T) {
	env := newTestEnv(t)
	dune := env.createBook("Dune", 1500, 5)
	_, token := env.createUser("reader@example.com", models.RoleUser)

	order, intentID := env.placeCardOrder(token, dune.ID, payment.IntentRequiresCapture)
	// captured before the success webhook reached the shop
	env.gateway.setStatus(intentID, payment.IntentSucceeded)

	cancelled := env.cancel(token, order.ID)
	assert.Equal(t, models.PaymentStatusRefunded, cancelled.PaymentStatus)
	assert.Empty(t, env.gateway.cancels)
	assert.Equal(t, []string{intentID}, env.gateway.refunds)

	// the late webhook does not refund twice
	require.Equal(t, http.StatusOK, env.webhook(payment.EventIntentSucceeded, intentID, "valid").Code)
	assert.Len(t, env.gateway.refunds, 1)
}

func TestSuccessWebhookRefundsCancelledOrder(t *testing.T) {
	env := newTestEnv(t)
	dune := env.createBook("Dune", 1500, 5)
	_, token := env.createUser("reader@example.com", models.RoleUser)

	order, intentID := env.placeCardOrder(token, dune.ID, payment.IntentProcessing)

	// a processing intent can be neither cancelled nor refunded yet
	cancelled := env.cancel(token, order.ID)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentStatusPending, cancelled.PaymentStatus)
	assert.Empty(t, env.gateway.cancels)
	assert.Empty(t, env.gateway.refunds)

	env.gateway.setStatus(intentID, payment.IntentSucceeded)
	w := env.webhook(payment.EventIntentSucceeded, intentID, "valid")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{intentID}, env.gateway.refunds)

	var stored models.Order
	require.NoError(t, env.db.First(&stored, order.ID).Error)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, models.PaymentStatusRefunded, stored.PaymentStatus)

	// redelivery is a no-op
	require.Equal(t, http.StatusOK, env.webhook(payment.EventIntentSucceeded, intentID, "valid").Code)
	assert.Len(t, env.gateway.refunds, 1)
	assert.Equal(t, 5, env.stock(dune.ID))
}

func TestPaymentWebhook(t *testing.T) {
	env := newTestEnv(t)
	dune := env.createBook("Dune", 1500, 5)
	_, token := env.createUser("reader@example.com", models.RoleUser)

	env.addToCart(token, dune.ID, 1)
	intentID, _ := env.createIntent(token)
	env.gateway.setStatus(intentID, payment.IntentProcessing)
	w := env.do(http.MethodPost, "/api/orders", gin.H{
		"paymentMethod": "card", "paymentIntentId": intentID, "shippingAddress": testAddress,
	}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := readOrder(t, w)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)

	assert.Equal(t, http.StatusBadRequest, env.webhook(payment.EventIntentSucceeded, intentID, "forged").Code)
	assert.Equal(t, http.StatusOK, env.webhook(payment.EventIntentSucceeded, "pi_unknown", "valid").Code)
	assert.Equal(t, http.StatusOK, env.webhook("charge.refunded", intentID, "valid").Code)

	w = env.webhook(payment.EventIntentSucceeded, intentID, "valid")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["received"])

	var stored models.Order
	require.NoError(t, env.db.First(&stored, order.ID).Error)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	assert.Equal(t, models.PaymentStatusCompleted, stored.PaymentStatus)
	assert.NotNil(t, stored.PaidAt)

	// a late failure after cancellation is ignored
	w = env.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", order.ID), nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, http.StatusOK, env.webhook(payment.EventIntentFailed, intentID, "valid").Code)
	require.NoError(t, env.db.First(&stored, order.ID).Error)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Equal(t, models.PaymentStatusRefunded, stored.PaymentStatus)
}
