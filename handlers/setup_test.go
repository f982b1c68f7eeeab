package handlers_test

import (
	"bookmart/audit"
	"bookmart/cache"
	"bookmart/config"
	"bookmart/handlers"
	"bookmart/jwt"
	"bookmart/metrics"
	"bookmart/models"
	"bookmart/payment"
	"bookmart/routers"
	"bookmart/testutil"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testPassword = "Secret#123"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeGateway struct {
	mu      sync.Mutex
	next    int
	intents map[string]*payment.Intent
	refunds []string
	cancels []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]*payment.Intent{}}
}

func (g *fakeGateway) CreateIntent(_ context.Context, amount int64, currency string, userID uint) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	intent := &payment.Intent{
		ID:           fmt.Sprintf("pi_test_%d", g.next),
		ClientSecret: fmt.Sprintf("pi_test_%d_secret", g.next),
		Amount:       amount,
		Currency:     currency,
		Status:       "requires_payment_method",
		UserID:       strconv.FormatUint(uint64(userID), 10),
	}
	g.intents[intent.ID] = intent
	copied := *intent
	return &copied, nil
}

func (g *fakeGateway) GetIntent(_ context.Context, id string) (*payment.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment intent: %s", id)
	}
	copied := *intent
	return &copied, nil
}

func (g *fakeGateway) Refund(_ context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, intentID)
	return nil
}

// CancelIntent refuses intents that are processing or finished, like the
// provider.
func (g *fakeGateway) CancelIntent(_ context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	intent, ok := g.intents[intentID]
	if !ok {
		return fmt.Errorf("no such payment intent: %s", intentID)
	}
	switch intent.Status {
	case payment.IntentSucceeded, payment.IntentProcessing, payment.IntentCanceled:
		return fmt.Errorf("payment intent %s is %s", intentID, intent.Status)
	}
	intent.Status = payment.IntentCanceled
	g.cancels = append(g.cancels, intentID)
	return nil
}

// ParseWebhook accepts payloads signed with "valid" shaped as
// {"type": ..., "id": ...}.
func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*payment.Event, error) {
	if signature != "valid" {
		return nil, payment.ErrInvalidSignature
	}
	var body struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, err
	}
	return &payment.Event{Type: body.Type, Intent: payment.Intent{ID: body.ID}}, nil
}

func (g *fakeGateway) setStatus(id, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[id].Status = status
}

type sentMail struct {
	To, Subject, Body string
}

type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

type captureRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *captureRecorder) Record(_ context.Context, entry audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

type testEnv struct {
	t       *testing.T
	h       *handlers.Handler
	router  *gin.Engine
	db      *gorm.DB
	mr      *miniredis.Miniredis
	gateway *fakeGateway
	mailer  *captureMailer
	audit   *captureRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	rdb, mr := testutil.NewRedis(t)

	cfg := config.Config{
		Server: config.ServerConfig{UploadDir: t.TempDir(), MaxUploadMB: 1},
		Shop: config.ShopConfig{
			Currency:              "usd",
			ShippingFee:           500,
			FreeShippingThreshold: 5000,
			TaxRate:               0.1,
			LowStockThreshold:     3,
		},
		SMTP:      config.SMTPConfig{ResetURL: "https://shop.example.com/reset"},
		RateLimit: config.RateLimitConfig{PerMinute: 6000, Burst: 1000},
	}

	env := &testEnv{
		t:       t,
		db:      db,
		mr:      mr,
		gateway: newFakeGateway(),
		mailer:  &captureMailer{},
		audit:   &captureRecorder{},
	}
	env.h = &handlers.Handler{
		DB:       db,
		Redis:    rdb,
		Books:    cache.NewBookCache(rdb),
		Resets:   cache.NewResetTokens(rdb, 15*time.Minute),
		Tokens:   jwt.NewHMACManager([]byte("test-secret"), time.Hour, db),
		Payments: env.gateway,
		Mailer:   env.mailer,
		Audit:    env.audit,
		Metrics:  metrics.New(),
		Config:   cfg,
	}

	router, err := routers.SetupRouters(env.h)
	require.NoError(t, err)
	env.router = router
	return env
}

type request struct {
	method  string
	path    string
	body    interface{}
	token   string
	cookies []*http.Cookie
	header  map[string]string
}

func (e *testEnv) serve(r request) *httptest.ResponseRecorder {
	e.t.Helper()

	var body io.Reader
	switch b := r.body.(type) {
	case nil:
	case string:
		body = bytes.NewBufferString(b)
	case []byte:
		body = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(r.method, r.path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for _, c := range r.cookies {
		req.AddCookie(c)
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.serve(request{method: method, path: path, body: body, token: token})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// decodeInto unmarshals the value stored under key in the response body.
func decodeInto(t *testing.T, w *httptest.ResponseRecorder, key string, dst interface{}) {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	raw, ok := out[key]
	require.True(t, ok, "response has no %q: %s", key, w.Body.String())
	require.NoError(t, json.Unmarshal(raw, dst))
}

func (e *testEnv) createUser(email, role string) (*models.User, string) {
	e.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(e.t, err)

	user := &models.User{Name: "Test " + role, Email: email, Password: string(hash), Role: role}
	require.NoError(e.t, e.db.Create(user).Error)

	token, _, err := e.h.Tokens.GenerateToken(user)
	require.NoError(e.t, err)
	return user, token
}

var isbnSeq int64

func (e *testEnv) createBook(title string, price int64, stock int) *models.Book {
	e.t.Helper()
	book := &models.Book{
		Title:  title,
		Author: "Author of " + title,
		ISBN:   fmt.Sprintf("978%010d", atomic.AddInt64(&isbnSeq, 1)),
		Price:  price,
		Stock:  stock,
	}
	require.NoError(e.t, e.db.Create(book).Error)
	return book
}

func (e *testEnv) stock(bookID uint) int {
	e.t.Helper()
	var book models.Book
	require.NoError(e.t, e.db.First(&book, bookID).Error)
	return book.Stock
}

func (e *testEnv) addToCart(token string, bookID uint, quantity int) {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/cart/items", gin.H{"bookId": bookID, "quantity": quantity}, token)
	require.Equal(e.t, http.StatusOK, w.Code, w.Body.String())
}

var testAddress = gin.H{
	"fullName":   "Ada Reader",
	"phone":      "555-0100",
	"line1":      "1 Library Way",
	"city":       "Booktown",
	"postalCode": "12345",
	"country":    "US",
}
