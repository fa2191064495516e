package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// Gateway holds, captures and releases card payments.
type Gateway interface {
	Hold(ctx context.Context, rideID string, amountCents int64, paymentMethodID string) (string, error)
	Capture(ctx context.Context, intentID string) error
	Cancel(ctx context.Context, intentID string) error
}

// StripeClient implements Gateway with manual-capture PaymentIntents.
type StripeClient struct {
	api      *client.API
	currency string
}

func NewStripeClient(apiKey, currency string) *StripeClient {
	api := &client.API{}
	api.Init(apiKey, nil)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeClient{api: api, currency: currency}
}

// Hold creates a PaymentIntent with capture_method=manual so the fare is
// reserved at confirmation and charged on completion.
func (s *StripeClient) Hold(ctx context.Context, rideID string, amountCents int64, paymentMethodID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(s.currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
		params.Confirm = stripe.Bool(true)
	}
	params.Context = ctx
	params.AddMetadata("ride_id", rideID)
	params.SetIdempotencyKey("hold-" + rideID)
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeClient) Capture(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := s.api.PaymentIntents.Capture(intentID, params)
	return err
}

func (s *StripeClient) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.api.PaymentIntents.Cancel(intentID, params)
	return err
}
