package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory implementation of every store interface.
type memStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*models.User
	products  map[uuid.UUID]*models.Product
	carts     map[uuid.UUID]*models.Cart // by user id
	orders    map[uuid.UUID]*models.Order
	nextItem  int64
	clock     time.Time
	failPaid  error
	checkouts int
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[uuid.UUID]*models.User{},
		products: map[uuid.UUID]*models.Product{},
		carts:    map[uuid.UUID]*models.Cart{},
		orders:   map[uuid.UUID]*models.Order{},
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return store.ErrDuplicateEmail
		}
	}
	u.CreatedAt = m.tick()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) UpdateUserRole(_ context.Context, id uuid.UUID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.Role = role
	return nil
}

func (m *memStore) ListProducts(_ context.Context, f store.ProductFilter) ([]models.Product, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []models.Product
	search := strings.ToLower(f.Search)
	for _, p := range m.products {
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		matched = append(matched, *p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return append([]models.Product{}, matched[start:end]...), total, nil
}

func (m *memStore) CountProducts(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products), nil
}

func (m *memStore) GetProductByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) CreateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = m.tick()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) UpdateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return store.ErrNotFound
	}
	p.UpdatedAt = m.tick()
	cp := *p
	m.products[p.ID] = &cp
	return nil
}

func (m *memStore) DeleteProduct(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.products, id)
	for _, c := range m.carts {
		kept := c.Items[:0]
		for _, item := range c.Items {
			if item.ProductID != id {
				kept = append(kept, item)
			}
		}
		c.Items = kept
	}
	return nil
}

func (m *memStore) FindDuplicateProducts(_ context.Context) ([]store.DuplicateGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName := map[string][]*models.Product{}
	for _, p := range m.products {
		key := strings.ToLower(p.Name)
		byName[key] = append(byName[key], p)
	}

	var groups []store.DuplicateGroup
	for _, ps := range byName {
		if len(ps) < 2 {
			continue
		}
		sort.Slice(ps, func(i, j int) bool { return ps[i].CreatedAt.Before(ps[j].CreatedAt) })
		g := store.DuplicateGroup{Name: ps[0].Name}
		for _, p := range ps {
			g.IDs = append(g.IDs, p.ID)
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		return strings.ToLower(groups[i].Name) < strings.ToLower(groups[j].Name)
	})
	return groups, nil
}

func (m *memStore) RemoveDuplicateProducts(ctx context.Context) (int, error) {
	groups, err := m.FindDuplicateProducts(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, g := range groups {
		for _, id := range g.IDs[1:] {
			if err := m.DeleteProduct(ctx, id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// snapshotCart copies a cart with live products attached. Caller holds mu.
func (m *memStore) snapshotCart(c *models.Cart) *models.Cart {
	cp := *c
	cp.Items = make([]models.CartItem, 0, len(c.Items))
	for _, item := range c.Items {
		p := *m.products[item.ProductID]
		item.Product = &p
		cp.Items = append(cp.Items, item)
	}
	return &cp
}

func (m *memStore) cartByID(cartID uuid.UUID) *models.Cart {
	for _, c := range m.carts {
		if c.ID == cartID {
			return c
		}
	}
	return nil
}

func (m *memStore) GetOrCreateCart(_ context.Context, userID uuid.UUID) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		c = &models.Cart{ID: uuid.New(), UserID: userID, Items: []models.CartItem{}, CreatedAt: m.tick()}
		m.carts[userID] = c
	}
	return m.snapshotCart(c), nil
}

func (m *memStore) AddCartItem(_ context.Context, cartID, productID uuid.UUID, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cartByID(cartID)
	if c == nil {
		return store.ErrNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += qty
			return nil
		}
	}
	m.nextItem++
	c.Items = append(c.Items, models.CartItem{ID: m.nextItem, ProductID: productID, Quantity: qty})
	return nil
}

func (m *memStore) SetCartItemQuantity(_ context.Context, cartID, productID uuid.UUID, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cartByID(cartID)
	if c == nil {
		return store.ErrNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = qty
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) RemoveCartItem(_ context.Context, cartID, productID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cartByID(cartID)
	if c == nil {
		return store.ErrNotFound
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) ClearCart(_ context.Context, cartID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cartByID(cartID)
	if c == nil {
		return store.ErrNotFound
	}
	c.Items = []models.CartItem{}
	return nil
}

func (m *memStore) Checkout(_ context.Context, userID uuid.UUID, build func(*models.Cart) (*models.Order, error)) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkouts++

	cart := &models.Cart{UserID: userID, Items: []models.CartItem{}}
	if c, ok := m.carts[userID]; ok {
		cart = m.snapshotCart(c)
	}

	order, err := build(cart)
	if err != nil {
		return nil, err
	}

	for _, item := range order.OrderItems {
		if m.products[item.ProductID].Stock < item.Quantity {
			return nil, store.ErrInsufficientStock
		}
	}
	for _, item := range order.OrderItems {
		m.products[item.ProductID].Stock -= item.Quantity
	}
	if c, ok := m.carts[userID]; ok {
		c.Items = []models.CartItem{}
	}

	order.CreatedAt = m.tick()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	m.orders[order.ID] = &cp
	return m.resolveOrder(&cp), nil
}

// resolveOrder returns a copy with owner and live products attached. Caller holds mu.
func (m *memStore) resolveOrder(o *models.Order) *models.Order {
	cp := *o
	if u, ok := m.users[o.UserID]; ok {
		cp.User = &models.UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
	}
	cp.OrderItems = make([]models.OrderItem, 0, len(o.OrderItems))
	for _, item := range o.OrderItems {
		if p, ok := m.products[item.ProductID]; ok {
			pc := *p
			item.Product = &pc
		}
		cp.OrderItems = append(cp.OrderItems, item)
	}
	return &cp
}

func (m *memStore) GetOrderByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.resolveOrder(o), nil
}

func (m *memStore) ListOrders(_ context.Context, userID *uuid.UUID) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orders := []models.Order{}
	for _, o := range m.orders {
		if userID != nil && o.UserID != *userID {
			continue
		}
		orders = append(orders, *m.resolveOrder(o))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (m *memStore) MarkOrderPaid(ctx context.Context, id uuid.UUID, result models.PaymentResult, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if m.failPaid != nil {
		return false, m.failPaid
	}
	o, ok := m.orders[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if o.IsPaid {
		return false, nil
	}
	o.IsPaid = true
	o.PaidAt = &paidAt
	r := result
	o.PaymentResult = &r
	return true, nil
}

func (m *memStore) MarkOrderDelivered(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if o.IsDelivered {
		return false, nil
	}
	o.IsDelivered = true
	o.DeliveredAt = &at
	return true, nil
}

// recordingEvents captures published events.
type recordingEvents struct {
	mu         sync.Mutex
	created    []*models.OrderCreatedEvent
	paid       []*models.OrderPaidEvent
	delivered  []*models.OrderDeliveredEvent
	retries    []models.PaymentRetryEvent
	deadLetter []models.PaymentRetryEvent
	err        error
}

func (r *recordingEvents) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, e)
	return r.err
}

func (r *recordingEvents) PublishOrderPaid(_ context.Context, e *models.OrderPaidEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paid = append(r.paid, e)
	return r.err
}

func (r *recordingEvents) PublishOrderDelivered(_ context.Context, e *models.OrderDeliveredEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, e)
	return r.err
}

func (r *recordingEvents) PublishPaymentRetry(ctx context.Context, e *models.PaymentRetryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.retries = append(r.retries, *e)
	return r.err
}

func (r *recordingEvents) PublishPaymentDeadLetter(ctx context.Context, e *models.PaymentRetryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	r.deadLetter = append(r.deadLetter, *e)
	return r.err
}

// memDeduper remembers event ids in a map. afterMark runs once a claim
// is taken.
type memDeduper struct {
	seen      map[string]time.Duration
	err       error
	afterMark func()
}

func (d *memDeduper) MarkEventProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if d.seen == nil {
		d.seen = map[string]time.Duration{}
	}
	if _, ok := d.seen[id]; ok {
		return false, nil
	}
	d.seen[id] = ttl
	if d.afterMark != nil {
		d.afterMark()
	}
	return true, nil
}

func (d *memDeduper) ConfirmEvent(ctx context.Context, id string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.seen[id] = ttl
	return nil
}

func (d *memDeduper) ForgetEvent(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delete(d.seen, id)
	return nil
}

// fakeGateway stands in for the payment processor.
type fakeGateway struct {
	requests []payment.IntentRequest
	event    *payment.Event
	parseErr error
	err      error
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, req)
	return &payment.Intent{ID: "pi_test", ClientSecret: "pi_test_secret"}, nil
}

func (g *fakeGateway) ParseWebhook(_ []byte, _ string) (*payment.Event, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	return g.event, nil
}

// fixture wires every service to one memStore.
type fixture struct {
	store    *memStore
	events   *recordingEvents
	dedupe   *memDeduper
	gateway  *fakeGateway
	auth     *AuthService
	catalog  *CatalogService
	carts    *CartService
	orders   *OrderService
	payments *PaymentService
}

func newFixture() *fixture {
	st := newMemStore()
	events := &recordingEvents{}
	dedupe := &memDeduper{}
	gateway := &fakeGateway{}

	auth := NewAuthService(st, "test-secret", time.Hour)
	auth.bcryptCost = bcrypt.MinCost

	orders := NewOrderService(st, events, DefaultPricing, true)
	payments := NewPaymentService(orders, gateway, dedupe, events, PaymentConfig{
		Currency:         "usd",
		MaxRetryAttempts: 3,
		RetryBackoff:     time.Millisecond,
		PendingTTL:       time.Minute,
		DedupeTTL:        time.Hour,
	})

	return &fixture{
		store:    st,
		events:   events,
		dedupe:   dedupe,
		gateway:  gateway,
		auth:     auth,
		catalog:  NewCatalogService(st),
		carts:    NewCartService(st, st),
		orders:   orders,
		payments: payments,
	}
}

func (f *fixture) user(role string) *models.User {
	u := &models.User{ID: uuid.New(), Name: "User " + role, Email: uuid.NewString() + "@example.com", Role: role}
	_ = f.store.CreateUser(context.Background(), u)
	return u
}

func (f *fixture) product(name, price string, stock int) *models.Product {
	p := &models.Product{
		ID:          uuid.New(),
		Name:        name,
		Description: name,
		Price:       decimal.RequireFromString(price),
		Image:       models.DefaultProductImage,
		Category:    "general",
		Stock:       stock,
	}
	_ = f.store.CreateProduct(context.Background(), p)
	return p
}

func validAddress() *models.ShippingAddress {
	return &models.ShippingAddress{Address: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}
}
