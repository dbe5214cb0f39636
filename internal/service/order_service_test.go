package service

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) checkout(t *testing.T, user *models.User, items map[*models.Product]int) *models.Order {
	t.Helper()
	ctx := context.Background()
	for p, qty := range items {
		_, err := f.carts.Add(ctx, user, &AddToCartRequest{ProductID: p.ID, Quantity: qty})
		require.NoError(t, err)
	}
	order, err := f.orders.CreateOrder(ctx, user, &CreateOrderRequest{ShippingAddress: validAddress(), PaymentMethod: "Stripe"})
	require.NoError(t, err)
	return order
}

func TestCreateOrderFreeShipping(t *testing.T) {
	f := newFixture()
	user := f.user(models.RoleCustomer)
	p := f.product("Widget", "60.00", 5)

	order := f.checkout(t, user, map[*models.Product]int{p: 2})

	assert.Equal(t, "120.00", order.ItemsPrice.StringFixed(2))
	assert.Equal(t, "12.00", order.TaxPrice.StringFixed(2))
	assert.Equal(t, "0.00", order.ShippingPrice.StringFixed(2))
	assert.Equal(t, "132.00", order.TotalPrice.StringFixed(2))
	assert.False(t, order.IsPaid)
	assert.False(t, order.IsDelivered)
	require.Len(t, order.OrderItems, 1)
	assert.Equal(t, "Widget", order.OrderItems[0].Name)
	assert.Equal(t, 2, order.OrderItems[0].Quantity)
	require.NotNil(t, order.User)
	assert.Equal(t, user.Email, order.User.Email)

	stored, _ := f.store.GetProductByID(context.Background(), p.ID)
	assert.Equal(t, 3, stored.Stock)

	cart, err := f.carts.Get(context.Background(), user)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	require.Len(t, f.events.created, 1)
	assert.Equal(t, order.ID, f.events.created[0].OrderID)
	assert.Equal(t, "132.00", f.events.created[0].TotalAmount.StringFixed(2))
}

func TestCreateOrderFlatShipping(t *testing.T) {
	f := newFixture()
	user := f.user(models.RoleCustomer)
	p := f.product("Pen", "20.00", 5)

	order := f.checkout(t, user, map[*models.Product]int{p: 1})

	assert.Equal(t, "20.00", order.ItemsPrice.StringFixed(2))
	assert.Equal(t, "2.00", order.TaxPrice.StringFixed(2))
	assert.Equal(t, "10.00", order.ShippingPrice.StringFixed(2))
	assert.Equal(t, "32.00", order.TotalPrice.StringFixed(2))
}

func TestCreateOrderEmptyCart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.user(models.RoleCustomer)

	_, err := f.orders.CreateOrder(ctx, user, &CreateOrderRequest{ShippingAddress: validAddress(), PaymentMethod: "Stripe"})
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.EqualError(t, err, "Cart is empty")

	_, err = f.orders.CreateOrder(ctx, user, &CreateOrderRequest{})
	assert.ErrorIs(t, err, ErrEmptyCart)

	orders, err := f.orders.ListOrders(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.events.created)
}

func TestCreateOrderRequiresShippingAndPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.user(models.RoleCustomer)
	p := f.product("Widget", "5.00", 5)

	_, err := f.carts.Add(ctx, user, &AddToCartRequest{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)

	partial := validAddress()
	partial.City = ""
	for _, req := range []*CreateOrderRequest{
		{PaymentMethod: "Stripe"},
		{ShippingAddress: validAddress()},
		{ShippingAddress: partial, PaymentMethod: "Stripe"},
	} {
		_, err := f.orders.CreateOrder(ctx, user, req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}

	cart, err := f.carts.Get(ctx, user)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1, "a rejected checkout leaves the cart alone")
}

func TestCreateOrderOutOfStockRetainsCart(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.user(models.RoleCustomer)
	other := f.user(models.RoleCustomer)
	p := f.product("Last One", "15.00", 1)

	_, err := f.carts.Add(ctx, user, &AddToCartRequest{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
	f.checkout(t, other, map[*models.Product]int{p: 1})

	_, err = f.orders.CreateOrder(ctx, user, &CreateOrderRequest{ShippingAddress: validAddress(), PaymentMethod: "Stripe"})
	assert.ErrorIs(t, err, ErrOutOfStock)

	cart, err := f.carts.Get(ctx, user)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)

	stored, _ := f.store.GetProductByID(ctx, p.ID)
	assert.Equal(t, 0, stored.Stock)
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	f := newFixture()
	f.events.err = errors.New("broker down")
	user := f.user(models.RoleCustomer)
	p := f.product("Widget", "5.00", 5)

	order := f.checkout(t, user, map[*models.Product]int{p: 1})
	assert.NotEqual(t, uuid.Nil, order.ID)
}

func TestOrderSnapshotIgnoresCatalogEdits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.user(models.RoleCustomer)
	p := f.product("Widget", "60.00", 5)
	order := f.checkout(t, user, map[*models.Product]int{p: 1})

	newPrice := price("99.00")
	_, err := f.catalog.Update(ctx, p.ID, &ProductUpdate{Price: newPrice})
	require.NoError(t, err)

	got, err := f.orders.GetOrder(ctx, order.ID, user)
	require.NoError(t, err)
	assert.Equal(t, "60.00", got.OrderItems[0].Price.StringFixed(2))
	assert.Equal(t, order.TotalPrice.StringFixed(2), got.TotalPrice.StringFixed(2))
}

func TestGetOrderAccess(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	owner := f.user(models.RoleCustomer)
	stranger := f.user(models.RoleCustomer)
	admin := f.user(models.RoleAdmin)
	order := f.checkout(t, owner, map[*models.Product]int{f.product("W", "5.00", 5): 1})

	_, err := f.orders.GetOrder(ctx, order.ID, owner)
	assert.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, order.ID, stranger)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.orders.GetOrder(ctx, order.ID, admin)
	assert.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, uuid.New(), admin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrders(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.user(models.RoleCustomer)
	bob := f.user(models.RoleCustomer)
	admin := f.user(models.RoleAdmin)
	p := f.product("W", "5.00", 10)

	first := f.checkout(t, alice, map[*models.Product]int{p: 1})
	second := f.checkout(t, alice, map[*models.Product]int{p: 1})
	f.checkout(t, bob, map[*models.Product]int{p: 1})

	mine, err := f.orders.ListOrders(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)

	all, err := f.orders.ListOrders(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMarkPaid(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	owner := f.user(models.RoleCustomer)
	admin := f.user(models.RoleAdmin)
	order := f.checkout(t, owner, map[*models.Product]int{f.product("W", "5.00", 5): 1})

	_, err := f.orders.MarkPaid(ctx, order.ID, admin, models.PaymentResult{ID: "x"})
	assert.ErrorIs(t, err, ErrForbidden, "only the owner confirms payment")

	_, err = f.orders.MarkPaid(ctx, uuid.New(), owner, models.PaymentResult{ID: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	result := models.PaymentResult{ID: "PAY-1", Status: "COMPLETED", UpdateTime: "2024-01-01T00:00:00Z", EmailAddress: "payer@example.com"}
	paid, err := f.orders.MarkPaid(ctx, order.ID, owner, result)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, &result, paid.PaymentResult)

	again, err := f.orders.MarkPaid(ctx, order.ID, owner, models.PaymentResult{ID: "PAY-2"})
	require.NoError(t, err)
	assert.True(t, again.IsPaid)
	assert.Equal(t, "PAY-1", again.PaymentResult.ID)
	assert.Equal(t, paid.PaidAt, again.PaidAt)

	require.Len(t, f.events.paid, 1)
	assert.Equal(t, models.PaymentSourceManual, f.events.paid[0].Source)
}

func TestMarkDelivered(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	owner := f.user(models.RoleCustomer)
	admin := f.user(models.RoleAdmin)
	order := f.checkout(t, owner, map[*models.Product]int{f.product("W", "5.00", 5): 1})

	_, err := f.orders.MarkDelivered(ctx, order.ID, owner)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.EqualError(t, err, "Not authorized as admin")

	_, err = f.orders.MarkDelivered(ctx, uuid.New(), admin)
	assert.ErrorIs(t, err, ErrNotFound)

	delivered, err := f.orders.MarkDelivered(ctx, order.ID, admin)
	require.NoError(t, err)
	assert.True(t, delivered.IsDelivered)
	require.NotNil(t, delivered.DeliveredAt)

	again, err := f.orders.MarkDelivered(ctx, order.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, delivered.DeliveredAt, again.DeliveredAt)
	assert.Len(t, f.events.delivered, 1)
}

func TestMarkDeliveredUnpaidPolicy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.orders.allowDeliverUnpaid = false
	owner := f.user(models.RoleCustomer)
	admin := f.user(models.RoleAdmin)
	order := f.checkout(t, owner, map[*models.Product]int{f.product("W", "5.00", 5): 1})

	_, err := f.orders.MarkDelivered(ctx, order.ID, admin)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.EqualError(t, err, "Order is not paid")

	_, err = f.orders.MarkPaid(ctx, order.ID, owner, models.PaymentResult{ID: "PAY-1"})
	require.NoError(t, err)

	delivered, err := f.orders.MarkDelivered(ctx, order.ID, admin)
	require.NoError(t, err)
	assert.True(t, delivered.IsDelivered)
}
