package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentConfig tunes the payment bridge.
type PaymentConfig struct {
	Currency         string
	MaxRetryAttempts int
	RetryBackoff     time.Duration
	PendingTTL       time.Duration
	DedupeTTL        time.Duration
}

// PaymentService bridges orders and the payment processor: it opens
// payment intents and applies processor confirmations to orders.
type PaymentService struct {
	orders  *OrderService
	gateway payment.Gateway
	dedupe  EventDeduper
	retries PaymentRetryPublisher
	cfg     PaymentConfig
	now     func() time.Time
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	orders *OrderService,
	gateway payment.Gateway,
	dedupe EventDeduper,
	retries PaymentRetryPublisher,
	cfg PaymentConfig,
) *PaymentService {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.MaxRetryAttempts < 1 {
		cfg.MaxRetryAttempts = 1
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 5 * time.Minute
	}
	if cfg.DedupeTTL < cfg.PendingTTL {
		cfg.DedupeTTL = cfg.PendingTTL
	}
	return &PaymentService{
		orders:  orders,
		gateway: gateway,
		dedupe:  dedupe,
		retries: retries,
		cfg:     cfg,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// CreateIntentRequest represents a request to start paying for an order
type CreateIntentRequest struct {
	OrderID uuid.UUID `json:"orderId" binding:"required"`
}

// CreateIntentResponse carries the secret the client confirms the card with
type CreateIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

// CreatePaymentIntent opens a processor intent for the order total. The
// order stays unpaid until the processor confirms.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, user *models.User, orderID uuid.UUID) (*CreateIntentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePaymentIntent")
	defer span.End()

	if orderID == uuid.Nil {
		return nil, newError(ErrInvalidRequest, "Order ID is required")
	}

	order, err := s.orders.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(user.ID) {
		return nil, newError(ErrForbidden, "Not authorized")
	}
	if order.IsPaid {
		return nil, newError(ErrAlreadyPaid, "Order already paid")
	}

	start := time.Now()
	intent, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
		Amount:   MinorUnits(order.TotalPrice),
		Currency: s.cfg.Currency,
		Metadata: map[string]string{
			"orderId": order.ID.String(),
			"userId":  user.ID.String(),
		},
	})
	util.PaymentIntentLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.PaymentIntentsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	util.PaymentIntentsTotal.WithLabelValues("created").Inc()
	s.logger.Info("Payment intent created",
		zap.String("order_id", order.ID.String()),
		zap.String("intent_id", intent.ID))

	return &CreateIntentResponse{ClientSecret: intent.ClientSecret}, nil
}

// HandleWebhook verifies and applies a processor notification. Once the
// signature checks out the delivery is acknowledged; confirmations that
// cannot be applied are queued for retry. Only when the retry cannot be
// queued either is an error returned, so the processor redelivers.
//
// The event id is first claimed for PendingTTL and only held for
// DedupeTTL once the confirmation is applied or queued, so a claim left
// behind by a crashed request lapses on its own.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		s.logger.Warn("Webhook verification failed", zap.Error(err))
		return newError(ErrInvalidSignature, fmt.Sprintf("Webhook Error: %v", err))
	}

	if event.Type != payment.EventPaymentIntentSucceeded || event.PaymentIntent == nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	claimed, err := s.dedupe.MarkEventProcessed(ctx, event.ID, s.cfg.PendingTTL)
	if err != nil {
		s.logger.Warn("Webhook dedupe unavailable, applying anyway",
			zap.String("event_id", event.ID), zap.Error(err))
	} else if !claimed {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		s.logger.Info("Duplicate webhook event skipped", zap.String("event_id", event.ID))
		return nil
	}

	retry := &models.PaymentRetryEvent{
		BaseEvent:        models.NewBaseEvent(models.EventTypePaymentRetry),
		ProcessorEventID: event.ID,
		OrderID:          event.PaymentIntent.Metadata["orderId"],
		PaymentIntentID:  event.PaymentIntent.ID,
		Status:           event.PaymentIntent.Status,
		ReceiptEmail:     event.PaymentIntent.ReceiptEmail,
	}

	applyErr := s.applySucceeded(ctx, retry)

	// The delivery may be abandoned mid-request; bookkeeping must still land.
	bg := context.WithoutCancel(ctx)

	if applyErr != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "failed").Inc()
		s.logger.Error("Failed to apply payment confirmation, queueing retry",
			zap.String("event_id", event.ID),
			zap.String("order_id", retry.OrderID),
			zap.Error(applyErr))
		if qErr := s.requeue(bg, retry, applyErr); qErr != nil {
			if claimed {
				if fErr := s.dedupe.ForgetEvent(bg, event.ID); fErr != nil {
					s.logger.Warn("Failed to forget webhook event", zap.String("event_id", event.ID), zap.Error(fErr))
				}
			}
			return fmt.Errorf("failed to apply payment confirmation: %w", applyErr)
		}
	} else {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "applied").Inc()
	}

	if claimed {
		if err := s.dedupe.ConfirmEvent(bg, event.ID, s.cfg.DedupeTTL); err != nil {
			s.logger.Warn("Failed to confirm webhook event", zap.String("event_id", event.ID), zap.Error(err))
		}
	}
	return nil
}

// RetryPayment re-applies a queued confirmation. Exhausted confirmations
// are parked on the dead-letter topic.
func (s *PaymentService) RetryPayment(ctx context.Context, event *models.PaymentRetryEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.RetryPayment")
	defer span.End()

	err := s.applySucceeded(ctx, event)
	if err == nil {
		util.PaymentRetriesTotal.WithLabelValues("applied").Inc()
		s.logger.Info("Payment confirmation applied on retry",
			zap.String("order_id", event.OrderID),
			zap.Int("attempt", event.Attempt))
		return nil
	}

	s.logger.Warn("Payment retry failed",
		zap.String("order_id", event.OrderID),
		zap.Int("attempt", event.Attempt),
		zap.Error(err))

	if s.exhausted(event) {
		return s.deadLetter(ctx, event, err)
	}

	backoff := s.cfg.RetryBackoff * time.Duration(event.Attempt+1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(backoff):
	}

	return s.enqueueRetry(ctx, event, err)
}

func (s *PaymentService) exhausted(event *models.PaymentRetryEvent) bool {
	return event.Attempt+1 >= s.cfg.MaxRetryAttempts
}

// requeue hands a failed confirmation to the retry topic, or straight to
// the dead-letter topic when no attempts remain.
func (s *PaymentService) requeue(ctx context.Context, event *models.PaymentRetryEvent, cause error) error {
	if s.exhausted(event) {
		return s.deadLetter(ctx, event, cause)
	}
	return s.enqueueRetry(ctx, event, cause)
}

func (s *PaymentService) enqueueRetry(ctx context.Context, event *models.PaymentRetryEvent, cause error) error {
	event.Attempt++
	event.LastError = cause.Error()
	if err := s.retries.PublishPaymentRetry(ctx, event); err != nil {
		util.PaymentRetriesTotal.WithLabelValues("enqueue_failed").Inc()
		s.logger.Error("Failed to queue payment retry",
			zap.String("order_id", event.OrderID),
			zap.String("payment_intent_id", event.PaymentIntentID),
			zap.Error(err))
		return fmt.Errorf("failed to queue payment retry: %w", err)
	}
	util.PaymentRetriesTotal.WithLabelValues("queued").Inc()
	return nil
}

func (s *PaymentService) deadLetter(ctx context.Context, event *models.PaymentRetryEvent, cause error) error {
	event.Attempt++
	event.LastError = cause.Error()
	if err := s.retries.PublishPaymentDeadLetter(ctx, event); err != nil {
		util.PaymentRetriesTotal.WithLabelValues("dead_letter_failed").Inc()
		return fmt.Errorf("failed to dead-letter payment confirmation: %w", err)
	}
	util.PaymentRetriesTotal.WithLabelValues("dead_letter").Inc()
	s.logger.Error("Payment confirmation dead-lettered",
		zap.String("order_id", event.OrderID),
		zap.String("payment_intent_id", event.PaymentIntentID),
		zap.Int("attempt", event.Attempt))
	return nil
}

// applySucceeded marks the referenced order paid. Confirmations for
// unknown orders are acknowledged and dropped.
func (s *PaymentService) applySucceeded(ctx context.Context, event *models.PaymentRetryEvent) error {
	orderID, err := uuid.Parse(event.OrderID)
	if err != nil {
		s.logger.Warn("Payment confirmation without a valid order id",
			zap.String("order_id", event.OrderID),
			zap.String("payment_intent_id", event.PaymentIntentID))
		return nil
	}

	result := models.PaymentResult{
		ID:           event.PaymentIntentID,
		Status:       event.Status,
		UpdateTime:   s.now().UTC().Format(time.RFC3339),
		EmailAddress: event.ReceiptEmail,
	}

	_, err = s.orders.ConfirmPayment(ctx, orderID, result)
	if errors.Is(err, ErrNotFound) {
		s.logger.Warn("Payment confirmation for unknown order",
			zap.String("order_id", event.OrderID),
			zap.String("payment_intent_id", event.PaymentIntentID))
		return nil
	}
	return err
}
