package service

import (
	"context"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/google/uuid"
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserRole(ctx context.Context, id uuid.UUID, role string) error
}

// ProductStore persists the catalog.
type ProductStore interface {
	ListProducts(ctx context.Context, filter store.ProductFilter) ([]models.Product, int, error)
	CountProducts(ctx context.Context) (int, error)
	GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	FindDuplicateProducts(ctx context.Context) ([]store.DuplicateGroup, error)
	RemoveDuplicateProducts(ctx context.Context) (int, error)
}

// CartStore persists per-user carts.
type CartStore interface {
	GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	AddCartItem(ctx context.Context, cartID, productID uuid.UUID, qty int) error
	SetCartItemQuantity(ctx context.Context, cartID, productID uuid.UUID, qty int) error
	RemoveCartItem(ctx context.Context, cartID, productID uuid.UUID) error
	ClearCart(ctx context.Context, cartID uuid.UUID) error
}

// OrderStore persists orders. Checkout must run build against a locked
// cart snapshot and commit order, stock and cart changes together.
type OrderStore interface {
	Checkout(ctx context.Context, userID uuid.UUID, build func(*models.Cart) (*models.Order, error)) (*models.Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, userID *uuid.UUID) ([]models.Order, error)
	MarkOrderPaid(ctx context.Context, id uuid.UUID, result models.PaymentResult, paidAt time.Time) (bool, error)
	MarkOrderDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) (bool, error)
}

// OrderEventPublisher emits order lifecycle events.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderDelivered(ctx context.Context, event *models.OrderDeliveredEvent) error
}

// PaymentRetryPublisher queues payment confirmations that failed to apply.
type PaymentRetryPublisher interface {
	PublishPaymentRetry(ctx context.Context, event *models.PaymentRetryEvent) error
	PublishPaymentDeadLetter(ctx context.Context, event *models.PaymentRetryEvent) error
}

// EventDeduper remembers processed webhook event ids. MarkEventProcessed
// claims an id for ttl and reports whether this caller got the claim;
// ConfirmEvent extends a claim once the event is handled.
type EventDeduper interface {
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ConfirmEvent(ctx context.Context, eventID string, ttl time.Duration) error
	ForgetEvent(ctx context.Context, eventID string) error
}
