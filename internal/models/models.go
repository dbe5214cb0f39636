package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Money renders as a JSON number rather than a quoted string.
	decimal.MarshalJSONWithoutQuotes = true
}

// Roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// DefaultProductImage is used when a product is created without an image.
const DefaultProductImage = "https://via.placeholder.com/300"

// User is a registered account. The password hash never leaves the server.
type User struct {
	ID           uuid.UUID `db:"id" json:"_id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// UserSummary is the owner view embedded in orders.
type UserSummary struct {
	ID    uuid.UUID `json:"_id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

// Product represents a product in the catalog
type Product struct {
	ID          uuid.UUID       `db:"id" json:"_id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Image       string          `db:"image" json:"image"`
	Category    string          `db:"category" json:"category"`
	Stock       int             `db:"stock" json:"stock"`
	Rating      float64         `db:"rating" json:"rating"`
	NumReviews  int             `db:"num_reviews" json:"numReviews"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

// ProductPage is one page of a catalog listing.
type ProductPage struct {
	Products []Product `json:"products"`
	Page     int       `json:"page"`
	Pages    int       `json:"pages"`
	Total    int       `json:"total"`
}

// CartItem is one line of a cart. Product is the live catalog entry.
type CartItem struct {
	ID        int64     `json:"_id"`
	ProductID uuid.UUID `json:"productId"`
	Product   *Product  `json:"product,omitempty"`
	Quantity  int       `json:"quantity"`
}

// Cart is the per-user pending selection. There is at most one per user.
type Cart struct {
	ID        uuid.UUID  `db:"id" json:"_id"`
	UserID    uuid.UUID  `db:"user_id" json:"user"`
	Items     []CartItem `db:"-" json:"items"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `db:"updated_at" json:"updatedAt"`
}

// ShippingAddress is where an order ships to.
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// PaymentResult records the confirmation that marked an order paid.
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"update_time"`
	EmailAddress string `json:"email_address"`
}

// OrderItem is a snapshot of a cart line taken at checkout. Name, Image
// and Price do not follow later catalog edits.
type OrderItem struct {
	ID        int64           `db:"id" json:"_id"`
	OrderID   uuid.UUID       `db:"order_id" json:"-"`
	ProductID uuid.UUID       `db:"product_id" json:"productId"`
	Product   *Product        `db:"-" json:"product,omitempty"`
	Name      string          `db:"name" json:"name"`
	Image     string          `db:"image" json:"image"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Quantity  int             `db:"quantity" json:"quantity"`
}

// Order represents a customer order
type Order struct {
	ID              uuid.UUID       `json:"_id"`
	UserID          uuid.UUID       `json:"userId"`
	User            *UserSummary    `json:"user,omitempty"`
	OrderItems      []OrderItem     `json:"orderItems"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string          `json:"paymentMethod"`
	PaymentResult   *PaymentResult  `json:"paymentResult,omitempty"`
	ItemsPrice      decimal.Decimal `json:"itemsPrice"`
	TaxPrice        decimal.Decimal `json:"taxPrice"`
	ShippingPrice   decimal.Decimal `json:"shippingPrice"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	IsPaid          bool            `json:"isPaid"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	IsDelivered     bool            `json:"isDelivered"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (o *Order) OwnedBy(userID uuid.UUID) bool {
	return o.UserID == userID
}
