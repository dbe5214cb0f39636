package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type cartItemRow struct {
	ItemID   int64 `db:"item_id"`
	Quantity int   `db:"quantity"`
	models.Product
}

const cartItemsQuery = `
	SELECT ci.id AS item_id, ci.quantity,
	       p.id, p.name, p.description, p.price, p.image, p.category,
	       p.stock, p.rating, p.num_reviews, p.created_at, p.updated_at
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
	WHERE ci.cart_id = $1
	ORDER BY ci.id`

func loadCartItems(ctx context.Context, q sqlx.QueryerContext, cartID uuid.UUID) ([]models.CartItem, error) {
	var rows []cartItemRow
	if err := sqlx.SelectContext(ctx, q, &rows, cartItemsQuery, cartID); err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}

	items := make([]models.CartItem, 0, len(rows))
	for i := range rows {
		product := rows[i].Product
		items = append(items, models.CartItem{
			ID:        rows[i].ItemID,
			ProductID: product.ID,
			Product:   &product,
			Quantity:  rows[i].Quantity,
		})
	}
	return items, nil
}

// GetOrCreateCart returns the user's cart with its items, creating an
// empty one on first access.
func (s *Store) GetOrCreateCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO carts (id, user_id) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING",
		uuid.New(), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	var cart models.Cart
	err = s.db.GetContext(ctx, &cart,
		"SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	cart.Items, err = loadCartItems(ctx, s.db, cart.ID)
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// AddCartItem adds qty of a product, accumulating onto an existing line.
func (s *Store) AddCartItem(ctx context.Context, cartID, productID uuid.UUID, qty int) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (cart_id, product_id)
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
			cartID, productID, qty)
		if err != nil {
			return fmt.Errorf("failed to add cart item: %w", err)
		}
		return touchCart(ctx, tx, cartID)
	})
}

// SetCartItemQuantity replaces the quantity of an existing line
func (s *Store) SetCartItemQuantity(ctx context.Context, cartID, productID uuid.UUID, qty int) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE cart_items SET quantity = $3 WHERE cart_id = $1 AND product_id = $2",
			cartID, productID, qty)
		if err != nil {
			return fmt.Errorf("failed to update cart item: %w", err)
		}
		if err := expectAffected(res); err != nil {
			return err
		}
		return touchCart(ctx, tx, cartID)
	})
}

// RemoveCartItem deletes one line from the cart
func (s *Store) RemoveCartItem(ctx context.Context, cartID, productID uuid.UUID) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2", cartID, productID)
		if err != nil {
			return fmt.Errorf("failed to remove cart item: %w", err)
		}
		if err := expectAffected(res); err != nil {
			return err
		}
		return touchCart(ctx, tx, cartID)
	})
}

// ClearCart empties the cart. Clearing an empty cart is not an error.
func (s *Store) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}
		return touchCart(ctx, tx, cartID)
	})
}

func touchCart(ctx context.Context, tx *sqlx.Tx, cartID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID)
	if err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}
	return nil
}

// lockCart loads the user's cart under a row lock. A user without a cart
// gets an empty, unsaved one.
func lockCart(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := tx.GetContext(ctx, &cart,
		"SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1 FOR UPDATE", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}

	cart.Items, err = loadCartItems(ctx, tx, cart.ID)
	if err != nil {
		return nil, err
	}
	return &cart, nil
}
