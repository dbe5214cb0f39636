package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const orderColumns = `
	o.id, o.user_id, o.shipping_address, o.shipping_city, o.shipping_postal_code, o.shipping_country,
	o.payment_method, o.items_price, o.tax_price, o.shipping_price, o.total_price,
	o.is_paid, o.paid_at, o.payment_id, o.payment_status, o.payment_update_time, o.payment_email,
	o.is_delivered, o.delivered_at, o.created_at, o.updated_at,
	u.name AS user_name, u.email AS user_email`

type orderRow struct {
	ID                uuid.UUID       `db:"id"`
	UserID            uuid.UUID       `db:"user_id"`
	Address           string          `db:"shipping_address"`
	City              string          `db:"shipping_city"`
	PostalCode        string          `db:"shipping_postal_code"`
	Country           string          `db:"shipping_country"`
	PaymentMethod     string          `db:"payment_method"`
	ItemsPrice        decimal.Decimal `db:"items_price"`
	TaxPrice          decimal.Decimal `db:"tax_price"`
	ShippingPrice     decimal.Decimal `db:"shipping_price"`
	TotalPrice        decimal.Decimal `db:"total_price"`
	IsPaid            bool            `db:"is_paid"`
	PaidAt            sql.NullTime    `db:"paid_at"`
	PaymentID         sql.NullString  `db:"payment_id"`
	PaymentStatus     sql.NullString  `db:"payment_status"`
	PaymentUpdateTime sql.NullString  `db:"payment_update_time"`
	PaymentEmail      sql.NullString  `db:"payment_email"`
	IsDelivered       bool            `db:"is_delivered"`
	DeliveredAt       sql.NullTime    `db:"delivered_at"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
	UserName          string          `db:"user_name"`
	UserEmail         string          `db:"user_email"`
}

func (r *orderRow) toModel() models.Order {
	order := models.Order{
		ID:     r.ID,
		UserID: r.UserID,
		User:   &models.UserSummary{ID: r.UserID, Name: r.UserName, Email: r.UserEmail},
		ShippingAddress: models.ShippingAddress{
			Address:    r.Address,
			City:       r.City,
			PostalCode: r.PostalCode,
			Country:    r.Country,
		},
		PaymentMethod: r.PaymentMethod,
		ItemsPrice:    r.ItemsPrice,
		TaxPrice:      r.TaxPrice,
		ShippingPrice: r.ShippingPrice,
		TotalPrice:    r.TotalPrice,
		IsPaid:        r.IsPaid,
		IsDelivered:   r.IsDelivered,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		OrderItems:    []models.OrderItem{},
	}
	if r.PaidAt.Valid {
		t := r.PaidAt.Time
		order.PaidAt = &t
	}
	if r.DeliveredAt.Valid {
		t := r.DeliveredAt.Time
		order.DeliveredAt = &t
	}
	if r.PaymentID.Valid {
		order.PaymentResult = &models.PaymentResult{
			ID:           r.PaymentID.String,
			Status:       r.PaymentStatus.String,
			UpdateTime:   r.PaymentUpdateTime.String,
			EmailAddress: r.PaymentEmail.String,
		}
	}
	return order
}

// Checkout converts the user's cart into an order in one transaction. The
// cart row is locked, build prices the locked snapshot, stock is decremented
// only where enough remains, and the cart is emptied. Any failure leaves
// cart and stock untouched.
func (s *Store) Checkout(ctx context.Context, userID uuid.UUID, build func(*models.Cart) (*models.Order, error)) (*models.Order, error) {
	var orderID uuid.UUID

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		cart, err := lockCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		order, err := build(cart)
		if err != nil {
			return err
		}

		if err := insertOrder(ctx, tx, order); err != nil {
			return err
		}

		for _, item := range order.OrderItems {
			res, err := tx.ExecContext(ctx,
				"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
				item.Quantity, item.ProductID)
			if err != nil {
				return fmt.Errorf("failed to decrement stock: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("%w: %s", ErrInsufficientStock, item.Name)
			}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cart.ID); err != nil {
			return fmt.Errorf("failed to clear cart: %w", err)
		}
		if err := touchCart(ctx, tx, cart.ID); err != nil {
			return err
		}

		orderID = order.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetOrderByID(ctx, orderID)
}

func insertOrder(ctx context.Context, tx *sqlx.Tx, order *models.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, shipping_address, shipping_city, shipping_postal_code, shipping_country,
			payment_method, items_price, tax_price, shipping_price, total_price
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		order.ID, order.UserID,
		order.ShippingAddress.Address, order.ShippingAddress.City,
		order.ShippingAddress.PostalCode, order.ShippingAddress.Country,
		order.PaymentMethod, order.ItemsPrice, order.TaxPrice, order.ShippingPrice, order.TotalPrice)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range order.OrderItems {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, image, price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, item.ProductID, item.Name, item.Image, item.Price, item.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

// GetOrderByID retrieves an order with its lines, owner summary and the
// live product for each line that still exists.
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+orderColumns+" FROM orders o JOIN users u ON u.id = o.user_id WHERE o.id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	orders := []models.Order{row.toModel()}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListOrders returns orders newest first. A nil userID lists every order.
func (s *Store) ListOrders(ctx context.Context, userID *uuid.UUID) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders o JOIN users u ON u.id = o.user_id"
	var args []interface{}
	if userID != nil {
		query += " WHERE o.user_id = $1"
		args = append(args, *userID)
	}
	query += " ORDER BY o.created_at DESC, o.id"

	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]models.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, rows[i].toModel())
	}
	if err := s.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(orders))
	index := make(map[uuid.UUID]int, len(orders))
	for i := range orders {
		ids = append(ids, orders[i].ID)
		index[orders[i].ID] = i
	}

	query, args, err := sqlx.In(
		"SELECT id, order_id, product_id, name, image, price, quantity FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return err
	}

	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}

	productIDs := make([]uuid.UUID, 0, len(items))
	seen := make(map[uuid.UUID]bool)
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			productIDs = append(productIDs, item.ProductID)
		}
	}
	products, err := s.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return fmt.Errorf("failed to load order products: %w", err)
	}
	live := make(map[uuid.UUID]*models.Product, len(products))
	for i := range products {
		live[products[i].ID] = &products[i]
	}

	for _, item := range items {
		item.Product = live[item.ProductID]
		i := index[item.OrderID]
		orders[i].OrderItems = append(orders[i].OrderItems, item)
	}
	return nil
}

// MarkOrderPaid records a payment on an unpaid order. It reports false when
// the order was already paid and leaves the stored result unchanged.
func (s *Store) MarkOrderPaid(ctx context.Context, id uuid.UUID, result models.PaymentResult, paidAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET is_paid = TRUE, paid_at = $2, payment_id = $3, payment_status = $4,
		    payment_update_time = $5, payment_email = $6, updated_at = NOW()
		WHERE id = $1 AND is_paid = FALSE`,
		id, paidAt, result.ID, result.Status, result.UpdateTime, result.EmailAddress)
	if err != nil {
		return false, fmt.Errorf("failed to mark order paid: %w", err)
	}
	return s.changedOrMissing(ctx, res, id)
}

// MarkOrderDelivered flags an order delivered. It reports false when the
// order was already delivered.
func (s *Store) MarkOrderDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET is_delivered = TRUE, delivered_at = $2, updated_at = NOW()
		WHERE id = $1 AND is_delivered = FALSE`,
		id, deliveredAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark order delivered: %w", err)
	}
	return s.changedOrMissing(ctx, res, id)
}

func (s *Store) changedOrMissing(ctx context.Context, res sql.Result, id uuid.UUID) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", id); err != nil {
		return false, fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}
