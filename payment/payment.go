// Package payment talks to the card payment provider.
package payment

import (
	"context"
	"errors"
)

const (
	IntentSucceeded       = "succeeded"
	IntentProcessing      = "processing"
	IntentRequiresCapture = "requires_capture"
	IntentCanceled        = "canceled"
)

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

const metadataUserID = "userId"

var (
	ErrNotConfigured    = errors.New("payment provider is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Intent is the provider-neutral view of a payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       string
	UserID       string
}

// Event is a verified webhook notification about an intent.
type Event struct {
	Type   string
	Intent Intent
}

type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency string, userID uint) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
	Refund(ctx context.Context, intentID string) error
	CancelIntent(ctx context.Context, intentID string) error
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
