package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService handles order business logic
type OrderService struct {
	orders             OrderStore
	events             OrderEventPublisher
	pricing            PricingPolicy
	allowDeliverUnpaid bool
	now                func() time.Time
	logger             *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	events OrderEventPublisher,
	pricing PricingPolicy,
	allowDeliverUnpaid bool,
) *OrderService {
	return &OrderService{
		orders:             orders,
		events:             events,
		pricing:            pricing,
		allowDeliverUnpaid: allowDeliverUnpaid,
		now:                time.Now,
		logger:             util.GetLogger(),
	}
}

// CreateOrderRequest represents a checkout request
type CreateOrderRequest struct {
	ShippingAddress *models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                  `json:"paymentMethod"`
}

func (r *CreateOrderRequest) valid() bool {
	a := r.ShippingAddress
	return a != nil && a.Address != "" && a.City != "" && a.PostalCode != "" && a.Country != "" &&
		r.PaymentMethod != ""
}

// CreateOrder converts the user's cart into an order, decrements stock and
// empties the cart, all or nothing.
func (s *OrderService) CreateOrder(ctx context.Context, user *models.User, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()

	order, err := s.orders.Checkout(ctx, user.ID, func(cart *models.Cart) (*models.Order, error) {
		if len(cart.Items) == 0 {
			return nil, newError(ErrEmptyCart, "Cart is empty")
		}
		if !req.valid() {
			return nil, newError(ErrInvalidRequest, "Shipping address and payment method are required")
		}
		return s.buildOrder(user.ID, cart, req), nil
	})
	util.CheckoutLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyCart):
			util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
			return nil, err
		case errors.Is(err, ErrInvalidRequest):
			util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
			return nil, err
		case errors.Is(err, store.ErrInsufficientStock):
			util.OrdersFailedTotal.WithLabelValues("out_of_stock").Inc()
			return nil, newError(ErrOutOfStock, "Insufficient stock")
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("total", order.TotalPrice.StringFixed(2)))

	s.publishCreated(ctx, order)
	return order, nil
}

func (s *OrderService) buildOrder(userID uuid.UUID, cart *models.Cart, req *CreateOrderRequest) *models.Order {
	items := make([]models.OrderItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			Name:      line.Product.Name,
			Image:     line.Product.Image,
			Price:     line.Product.Price,
			Quantity:  line.Quantity,
		})
	}

	prices := s.pricing.Price(items)

	return &models.Order{
		ID:              uuid.New(),
		UserID:          userID,
		OrderItems:      items,
		ShippingAddress: *req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		ItemsPrice:      prices.Items,
		TaxPrice:        prices.Tax,
		ShippingPrice:   prices.Shipping,
		TotalPrice:      prices.Total,
	}
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order) {
	items := make([]models.OrderItemData, 0, len(order.OrderItems))
	for _, item := range order.OrderItems {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalPrice,
		Items:       items,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event",
			zap.String("order_id", order.ID.String()), zap.Error(err))
	}
}

// ListOrders returns every order for an admin and the caller's own orders
// otherwise, newest first.
func (s *OrderService) ListOrders(ctx context.Context, user *models.User) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	var owner *uuid.UUID
	if !user.IsAdmin() {
		owner = &user.ID
	}

	orders, err := s.orders.ListOrders(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// FindOrder loads an order without any caller check.
func (s *OrderService) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetOrder returns an order to its owner or an admin.
func (s *OrderService) GetOrder(ctx context.Context, id uuid.UUID, user *models.User) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.FindOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(user.ID) && !user.IsAdmin() {
		return nil, newError(ErrForbidden, "Not authorized to view this order")
	}
	return order, nil
}

// MarkPaid records a manual payment confirmation from the order's owner.
// Confirming an already paid order changes nothing.
func (s *OrderService) MarkPaid(ctx context.Context, id uuid.UUID, user *models.User, result models.PaymentResult) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkPaid")
	defer span.End()

	order, err := s.FindOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.OwnedBy(user.ID) {
		return nil, newError(ErrForbidden, "Not authorized to pay for this order")
	}

	return s.applyPayment(ctx, order, result, models.PaymentSourceManual)
}

// ConfirmPayment marks an order paid on behalf of the payment processor.
// No caller identity is involved.
func (s *OrderService) ConfirmPayment(ctx context.Context, id uuid.UUID, result models.PaymentResult) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmPayment")
	defer span.End()

	order, err := s.FindOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.applyPayment(ctx, order, result, models.PaymentSourceWebhook)
}

func (s *OrderService) applyPayment(ctx context.Context, order *models.Order, result models.PaymentResult, source string) (*models.Order, error) {
	if order.IsPaid {
		return order, nil
	}

	changed, err := s.orders.MarkOrderPaid(ctx, order.ID, result, s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}

	updated, err := s.FindOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	util.OrdersPaidTotal.WithLabelValues(source).Inc()
	s.logger.Info("Order paid",
		zap.String("order_id", order.ID.String()),
		zap.String("source", source),
		zap.String("payment_id", result.ID))

	event := &models.OrderPaidEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderPaid),
		OrderID:   order.ID,
		PaymentID: result.ID,
		Amount:    updated.TotalPrice,
		Source:    source,
	}
	if err := s.events.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event",
			zap.String("order_id", order.ID.String()), zap.Error(err))
	}
	return updated, nil
}

// MarkDelivered flags an order delivered. Admin only; repeat calls change
// nothing.
func (s *OrderService) MarkDelivered(ctx context.Context, id uuid.UUID, user *models.User) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkDelivered")
	defer span.End()

	if err := RequireAdmin(user); err != nil {
		return nil, err
	}

	order, err := s.FindOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.IsDelivered {
		return order, nil
	}
	if !order.IsPaid && !s.allowDeliverUnpaid {
		return nil, newError(ErrInvalidRequest, "Order is not paid")
	}

	changed, err := s.orders.MarkOrderDelivered(ctx, id, s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "Order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark order delivered: %w", err)
	}

	updated, err := s.FindOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	util.OrdersDeliveredTotal.Inc()
	s.logger.Info("Order delivered", zap.String("order_id", id.String()))

	event := &models.OrderDeliveredEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderDelivered),
		OrderID:   id,
	}
	if err := s.events.PublishOrderDelivered(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderDelivered event",
			zap.String("order_id", id.String()), zap.Error(err))
	}
	return updated, nil
}
