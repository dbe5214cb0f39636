package payment

import (
	"context"
	"errors"
)

// EventPaymentIntentSucceeded is the only processor event that changes
// order state.
const EventPaymentIntentSucceeded = "payment_intent.succeeded"

var ErrInvalidSignature = errors.New("invalid webhook signature")

// IntentRequest asks the processor to start collecting Amount minor units.
type IntentRequest struct {
	Amount   int64
	Currency string
	Metadata map[string]string
}

// Intent is a processor-side payment attempt.
type Intent struct {
	ID           string
	ClientSecret string
}

// IntentDetails is the payment intent carried by a webhook event.
type IntentDetails struct {
	ID           string
	Status       string
	ReceiptEmail string
	Metadata     map[string]string
}

// Event is a verified webhook notification.
type Event struct {
	ID            string
	Type          string
	PaymentIntent *IntentDetails
}

// Gateway is a payment processor.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
