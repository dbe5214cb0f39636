package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated      = "ORDER_CREATED"
	EventTypeOrderPaid         = "ORDER_PAID"
	EventTypeOrderDelivered    = "ORDER_DELIVERED"
	EventTypePaymentRetry      = "PAYMENT_RETRY"
	EventTypePaymentDeadLetter = "PAYMENT_DEAD_LETTER"
)

// Payment sources recorded on ORDER_PAID
const (
	PaymentSourceManual  = "manual"
	PaymentSourceWebhook = "webhook"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderCreatedEvent published when checkout commits
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     uuid.UUID       `json:"order_id"`
	UserID      uuid.UUID       `json:"user_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderPaidEvent published the first time an order becomes paid
type OrderPaidEvent struct {
	BaseEvent
	OrderID   uuid.UUID       `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Source    string          `json:"source"`
}

// OrderDeliveredEvent published the first time an order is delivered
type OrderDeliveredEvent struct {
	BaseEvent
	OrderID uuid.UUID `json:"order_id"`
}

// PaymentRetryEvent carries a processor-confirmed payment that could not be
// applied to its order. The same shape is parked on the dead-letter topic.
type PaymentRetryEvent struct {
	BaseEvent
	ProcessorEventID string `json:"processor_event_id"`
	OrderID          string `json:"order_id"`
	PaymentIntentID  string `json:"payment_intent_id"`
	Status           string `json:"status"`
	ReceiptEmail     string `json:"receipt_email"`
	Attempt          int    `json:"attempt"`
	LastError        string `json:"last_error,omitempty"`
}

// OrderItemData for events
type OrderItemData struct {
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
