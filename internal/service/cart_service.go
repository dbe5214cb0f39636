package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartService manages the single cart each user owns. Stock is checked
// on every mutation but never reserved.
type CartService struct {
	carts    CartStore
	products ProductStore
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(carts CartStore, products ProductStore) *CartService {
	return &CartService{carts: carts, products: products, logger: util.GetLogger()}
}

// AddToCartRequest represents an add-to-cart request
type AddToCartRequest struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

// UpdateCartItemRequest represents a quantity change for one cart line
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// Get returns the user's cart, creating an empty one on first access.
func (s *CartService) Get(ctx context.Context, user *models.User) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Get")
	defer span.End()

	cart, err := s.carts.GetOrCreateCart(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return cart, nil
}

// Add puts quantity units of a product in the cart, accumulating onto an
// existing line for the same product.
func (s *CartService) Add(ctx context.Context, user *models.User, req *AddToCartRequest) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.Add")
	defer span.End()

	if req.ProductID == uuid.Nil || req.Quantity < 1 {
		return nil, newError(ErrInvalidRequest, "Product ID and a quantity of at least 1 are required")
	}

	if err := s.checkStock(ctx, req.ProductID, req.Quantity); err != nil {
		return nil, err
	}

	cart, err := s.carts.GetOrCreateCart(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	if err := s.carts.AddCartItem(ctx, cart.ID, req.ProductID, req.Quantity); err != nil {
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("add").Inc()
	s.logger.Debug("Cart item added",
		zap.String("user_id", user.ID.String()),
		zap.String("product_id", req.ProductID.String()),
		zap.Int("quantity", req.Quantity))

	return s.Get(ctx, user)
}

// UpdateItem replaces the quantity of a product already in the cart.
func (s *CartService) UpdateItem(ctx context.Context, user *models.User, productID uuid.UUID, quantity int) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem")
	defer span.End()

	if quantity < 1 {
		return nil, newError(ErrInvalidRequest, "Quantity must be at least 1")
	}

	if err := s.checkStock(ctx, productID, quantity); err != nil {
		return nil, err
	}

	cart, err := s.carts.GetOrCreateCart(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	err = s.carts.SetCartItemQuantity(ctx, cart.ID, productID, quantity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "Item not found in cart")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("update").Inc()
	return s.Get(ctx, user)
}

// RemoveItem drops one product from the cart.
func (s *CartService) RemoveItem(ctx context.Context, user *models.User, productID uuid.UUID) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	cart, err := s.carts.GetOrCreateCart(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	err = s.carts.RemoveCartItem(ctx, cart.ID, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "Item not found in cart")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to remove cart item: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("remove").Inc()
	return s.Get(ctx, user)
}

// Clear empties the cart. Clearing an empty or absent cart succeeds.
func (s *CartService) Clear(ctx context.Context, user *models.User) error {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	cart, err := s.carts.GetOrCreateCart(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to get cart: %w", err)
	}

	if err := s.carts.ClearCart(ctx, cart.ID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}

	util.CartMutationsTotal.WithLabelValues("clear").Inc()
	return nil
}

func (s *CartService) checkStock(ctx context.Context, productID uuid.UUID, quantity int) error {
	product, err := s.products.GetProductByID(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return newError(ErrNotFound, "Product not found")
	}
	if err != nil {
		return fmt.Errorf("failed to get product: %w", err)
	}

	if product.Stock < quantity {
		return newError(ErrOutOfStock, "Insufficient stock")
	}
	return nil
}
