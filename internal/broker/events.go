package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Topics names the topics events are routed to.
type Topics struct {
	OrderEvents       string
	PaymentRetry      string
	PaymentDeadLetter string
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
	topics   Topics
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer, topics Topics) *EventPublisher {
	return &EventPublisher{producer: producer, topics: topics}
}

func orderKey(orderID fmt.Stringer) string {
	return fmt.Sprintf("order-%s", orderID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.topics.OrderEvents, orderKey(event.OrderID), event)
}

// PublishOrderPaid publishes OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return ep.producer.PublishEvent(ctx, ep.topics.OrderEvents, orderKey(event.OrderID), event)
}

// PublishOrderDelivered publishes OrderDelivered event
func (ep *EventPublisher) PublishOrderDelivered(ctx context.Context, event *models.OrderDeliveredEvent) error {
	return ep.producer.PublishEvent(ctx, ep.topics.OrderEvents, orderKey(event.OrderID), event)
}

// PublishPaymentRetry queues a payment confirmation for another attempt
func (ep *EventPublisher) PublishPaymentRetry(ctx context.Context, event *models.PaymentRetryEvent) error {
	event.EventType = models.EventTypePaymentRetry
	return ep.producer.PublishEvent(ctx, ep.topics.PaymentRetry, "order-"+event.OrderID, event)
}

// PublishPaymentDeadLetter parks a payment confirmation that exhausted its retries
func (ep *EventPublisher) PublishPaymentDeadLetter(ctx context.Context, event *models.PaymentRetryEvent) error {
	event.EventType = models.EventTypePaymentDeadLetter
	return ep.producer.PublishEvent(ctx, ep.topics.PaymentDeadLetter, "order-"+event.OrderID, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentRetry func(context.Context, *models.PaymentRetryEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentRetry registers a handler for PaymentRetry events
func (eh *EventHandler) OnPaymentRetry(handler func(context.Context, *models.PaymentRetryEvent) error) {
	eh.onPaymentRetry = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w: %v", ErrMalformedMessage, err)
	}

	eh.logger.Debug("handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentRetry:
		if eh.onPaymentRetry != nil {
			var event models.PaymentRetryEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentRetry event: %w: %v", ErrMalformedMessage, err)
			}
			return eh.onPaymentRetry(ctx, &event)
		}

	default:
		eh.logger.Warn("unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
