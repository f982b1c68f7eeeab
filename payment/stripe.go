package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"strconv"
)

type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	g := &StripeGateway{webhookSecret: webhookSecret}
	if secretKey != "" {
		g.api = client.New(secretKey, nil)
	}
	return g
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amount int64, currency string, userID uint) (*Intent, error) {
	if g.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataUserID, strconv.FormatUint(uint64(userID), 10))

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return fromStripe(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, id string) (*Intent, error) {
	if g.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", id, err)
	}
	return fromStripe(pi), nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentID string) error {
	if g.api == nil {
		return ErrNotConfigured
	}

	params := &stripe.RefundParams{PaymentIntent: stripe.String(intentID)}
	params.Context = ctx
	if _, err := g.api.Refunds.New(params); err != nil {
		return fmt.Errorf("refund payment intent %s: %w", intentID, err)
	}
	return nil
}

// CancelIntent stops an intent that has not been charged yet.
func (g *StripeGateway) CancelIntent(ctx context.Context, intentID string) error {
	if g.api == nil {
		return ErrNotConfigured
	}

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if _, err := g.api.PaymentIntents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("cancel payment intent %s: %w", intentID, err)
	}
	return nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if g.webhookSecret == "" {
		return nil, ErrNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &Event{Type: string(event.Type)}
	if event.Data == nil {
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode webhook object: %w", err)
	}
	out.Intent = *fromStripe(&pi)
	return out, nil
}

func fromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		UserID:       pi.Metadata[metadataUserID],
	}
}
