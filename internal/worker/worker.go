package worker

import (
	"context"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// MessageSource is the consuming side of a topic.
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PaymentRetrier re-applies a queued payment confirmation.
type PaymentRetrier interface {
	RetryPayment(ctx context.Context, event *models.PaymentRetryEvent) error
}

// PaymentRetryWorker drains the payment retry topic.
type PaymentRetryWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentRetryWorker creates a new payment retry worker
func NewPaymentRetryWorker(consumer MessageSource, payments PaymentRetrier) *PaymentRetryWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentRetry(payments.RetryPayment)

	return &PaymentRetryWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks until ctx is cancelled.
func (w *PaymentRetryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment retry worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentRetryWorker) Stop() error {
	w.logger.Info("Stopping payment retry worker")
	return w.consumer.Close()
}
