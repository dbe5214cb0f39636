package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// CatalogService handles product listing and administration
type CatalogService struct {
	products ProductStore
	logger   *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(products ProductStore) *CatalogService {
	return &CatalogService{products: products, logger: util.GetLogger()}
}

// ListProductsQuery represents catalog query parameters
type ListProductsQuery struct {
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
	Category string `form:"category"`
	Search   string `form:"search"`
}

// ProductInput is a full product definition used on create.
type ProductInput struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Image       string           `json:"image"`
	Category    string           `json:"category"`
	Stock       *int             `json:"stock"`
	Rating      *float64         `json:"rating"`
	NumReviews  *int             `json:"numReviews"`
}

// ProductUpdate changes only the fields that are set.
type ProductUpdate struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Price       *decimal.Decimal `json:"price"`
	Image       *string          `json:"image"`
	Category    *string          `json:"category"`
	Stock       *int             `json:"stock"`
	Rating      *float64         `json:"rating"`
	NumReviews  *int             `json:"numReviews"`
}

// List returns one page of the catalog, newest first.
func (s *CatalogService) List(ctx context.Context, q ListProductsQuery) (*models.ProductPage, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.List")
	defer span.End()

	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}

	products, total, err := s.products.ListProducts(ctx, store.ProductFilter{
		Category: strings.TrimSpace(q.Category),
		Search:   strings.TrimSpace(q.Search),
		Limit:    q.Limit,
		Offset:   (q.Page - 1) * q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	return &models.ProductPage{
		Products: products,
		Page:     q.Page,
		Pages:    (total + q.Limit - 1) / q.Limit,
		Total:    total,
	}, nil
}

// Get returns a single product
func (s *CatalogService) Get(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Get")
	defer span.End()

	product, err := s.products.GetProductByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "Product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// Create adds a product to the catalog
func (s *CatalogService) Create(ctx context.Context, in *ProductInput) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Create")
	defer span.End()

	if in.Name == "" || in.Description == "" || in.Category == "" || in.Price == nil {
		return nil, newError(ErrInvalidRequest, "Name, description, price and category are required")
	}

	p := &models.Product{
		ID:          uuid.New(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       in.Price.Round(2),
		Image:       in.Image,
		Category:    strings.TrimSpace(in.Category),
	}
	if p.Image == "" {
		p.Image = models.DefaultProductImage
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if in.Rating != nil {
		p.Rating = *in.Rating
	}
	if in.NumReviews != nil {
		p.NumReviews = *in.NumReviews
	}

	if err := validateProduct(p); err != nil {
		return nil, err
	}

	if err := s.products.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created", zap.String("product_id", p.ID.String()))
	return p, nil
}

// Update applies a partial update to a product
func (s *CatalogService) Update(ctx context.Context, id uuid.UUID, in *ProductUpdate) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Update")
	defer span.End()

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Price != nil {
		p.Price = in.Price.Round(2)
	}
	if in.Image != nil {
		p.Image = *in.Image
	}
	if in.Category != nil {
		p.Category = strings.TrimSpace(*in.Category)
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	if in.Rating != nil {
		p.Rating = *in.Rating
	}
	if in.NumReviews != nil {
		p.NumReviews = *in.NumReviews
	}

	if p.Name == "" || p.Description == "" || p.Category == "" {
		return nil, newError(ErrInvalidRequest, "Name, description and category cannot be empty")
	}
	if err := validateProduct(p); err != nil {
		return nil, err
	}

	err = s.products.UpdateProduct(ctx, p)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "Product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return p, nil
}

// Delete removes a product from the catalog
func (s *CatalogService) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := util.StartSpan(ctx, "CatalogService.Delete")
	defer span.End()

	err := s.products.DeleteProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return newError(ErrNotFound, "Product not found")
	}
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	s.logger.Info("Product deleted", zap.String("product_id", id.String()))
	return nil
}

// Seed loads a fixture catalog into an empty store. It returns the number
// of products inserted, zero when the catalog already has entries.
func (s *CatalogService) Seed(ctx context.Context, fixture []ProductInput) (int, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Seed")
	defer span.End()

	n, err := s.products.CountProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	if n > 0 {
		s.logger.Info("Catalog already populated, skipping seed", zap.Int("products", n))
		return 0, nil
	}

	for i := range fixture {
		if _, err := s.Create(ctx, &fixture[i]); err != nil {
			return i, fmt.Errorf("failed to seed product %q: %w", fixture[i].Name, err)
		}
	}
	return len(fixture), nil
}

// FindDuplicates lists products whose names collide ignoring case.
func (s *CatalogService) FindDuplicates(ctx context.Context) ([]store.DuplicateGroup, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.FindDuplicates")
	defer span.End()

	groups, err := s.products.FindDuplicateProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find duplicate products: %w", err)
	}
	return groups, nil
}

// RemoveDuplicates deletes every duplicate but the oldest product of each
// name and returns how many were deleted.
func (s *CatalogService) RemoveDuplicates(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.RemoveDuplicates")
	defer span.End()

	n, err := s.products.RemoveDuplicateProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to remove duplicate products: %w", err)
	}
	s.logger.Info("Duplicate products removed", zap.Int("removed", n))
	return n, nil
}

func validateProduct(p *models.Product) error {
	switch {
	case p.Price.IsNegative():
		return newError(ErrInvalidRequest, "Price cannot be negative")
	case p.Stock < 0:
		return newError(ErrInvalidRequest, "Stock cannot be negative")
	case p.Rating < 0 || p.Rating > 5:
		return newError(ErrInvalidRequest, "Rating must be between 0 and 5")
	case p.NumReviews < 0:
		return newError(ErrInvalidRequest, "Number of reviews cannot be negative")
	}
	return nil
}
