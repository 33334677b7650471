package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// Intent statuses surfaced by a Provider.
const (
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusRequiresConfirmation  = "requires_confirmation"
	StatusProcessing            = "processing"
	StatusSucceeded             = "succeeded"
	StatusCanceled              = "canceled"
)

// ErrIntentNotFound reports an intent id the processor does not know.
var ErrIntentNotFound = errors.New("payment intent not found")

// ErrAlreadyRefunded reports a refund attempt on an intent that was
// already refunded.
var ErrAlreadyRefunded = errors.New("payment already refunded")

type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       string
}

type Refund struct {
	ID       string
	IntentID string
	Amount   int64
	Status   string
}

// Provider is the processor seam. The engine and the booking flow only see
// this interface; the Stripe binding lives behind it.
type Provider interface {
	CreateIntent(ctx context.Context, amount int64, currency string) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
	Confirm(ctx context.Context, id, paymentMethod string) (Intent, error)
	Refund(ctx context.Context, id string) (Refund, error)
}

// Stripe implements Provider on the Stripe API.
type Stripe struct {
	api *client.API
}

func NewStripe(secretKey string) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Stripe{api: api}
}

func fromStripeIntent(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
	}
}

func (s *Stripe) CreateIntent(ctx context.Context, amount int64, currency string) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("create payment intent: %w", translate(err))
	}
	return fromStripeIntent(pi), nil
}

func (s *Stripe) GetIntent(ctx context.Context, id string) (Intent, error) {
	pi, err := s.api.PaymentIntents.Get(id, &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}})
	if err != nil {
		return Intent{}, translate(err)
	}
	return fromStripeIntent(pi), nil
}

func (s *Stripe) Confirm(ctx context.Context, id, paymentMethod string) (Intent, error) {
	params := &stripe.PaymentIntentConfirmParams{
		Params:        stripe.Params{Context: ctx},
		PaymentMethod: stripe.String(paymentMethod),
	}
	pi, err := s.api.PaymentIntents.Confirm(id, params)
	if err != nil {
		return Intent{}, fmt.Errorf("confirm payment intent: %w", translate(err))
	}
	return fromStripeIntent(pi), nil
}

func (s *Stripe) Refund(ctx context.Context, id string) (Refund, error) {
	params := &stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(id),
	}
	ref, err := s.api.Refunds.New(params)
	if err != nil {
		return Refund{}, fmt.Errorf("refund payment intent: %w", translate(err))
	}
	return Refund{ID: ref.ID, IntentID: id, Amount: ref.Amount, Status: string(ref.Status)}, nil
}

// translate maps Stripe error codes onto the package sentinels so callers
// can branch with errors.Is.
func translate(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch se.Code {
		case stripe.ErrorCodeResourceMissing:
			return ErrIntentNotFound
		case stripe.ErrorCodeChargeAlreadyRefunded:
			return ErrAlreadyRefunded
		}
	}
	return err
}
