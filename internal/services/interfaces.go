package services

import (
	"context"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	CatalogEntity = domain.CatalogEntity
	Category      = domain.Category
	Cart          = domain.Cart
	CartItem      = domain.CartItem
	Customization = domain.Customization
)

// ListOptions tunes catalog list reads.
type ListOptions struct {
	// ForceRefresh bypasses the in-process cache.
	ForceRefresh bool
	// IncludeDeleted keeps soft-deleted entities in the result.
	IncludeDeleted bool
}

// CatalogLookup resolves a single entity by id or slug. Absence is reported with ok=false.
type CatalogLookup interface {
	GetEntity(ctx context.Context, kind domain.EntityKind, idOrSlug string) (CatalogEntity, bool, error)
}

// CatalogService is the read surface of the storefront catalog. Remote failures are absorbed and
// answered from fallback data; errors are returned only for invalid input.
type CatalogService interface {
	CatalogLookup
	ListEntities(ctx context.Context, kind domain.EntityKind, opts ListOptions) ([]CatalogEntity, error)
	GetAll(ctx context.Context, kind domain.EntityKind) ([]CatalogEntity, error)
	GetByID(ctx context.Context, kind domain.EntityKind, idOrSlug string) (CatalogEntity, bool, error)
	ListByCategory(ctx context.Context, kind domain.EntityKind, category string, opts ListOptions) ([]CatalogEntity, error)
	ListFeatured(ctx context.Context, kind domain.EntityKind, opts ListOptions) ([]CatalogEntity, error)
	Search(ctx context.Context, kind domain.EntityKind, query string, opts ListOptions) ([]CatalogEntity, error)
	ListMarketplace(ctx context.Context) ([]CatalogEntity, error)
	ListCategories(ctx context.Context, opts ListOptions) ([]Category, error)
	Invalidate(collections ...domain.Collection)
	Seed(ctx context.Context) (repositories.SeedResult, error)
	BreakerStates() map[domain.Collection]BreakerStatus
}

// CartService is the mutation surface of a single client cart.
type CartService interface {
	Cart() Cart
	AddItem(ctx context.Context, entity CatalogEntity, quantity int, customizations []Customization) (Cart, error)
	RemoveItem(ctx context.Context, productID string) (Cart, error)
	UpdateQuantity(ctx context.Context, productID string, quantity int) (Cart, error)
	RemoveLine(ctx context.Context, lineID string) (Cart, error)
	UpdateLineQuantity(ctx context.Context, lineID string, quantity int) (Cart, error)
	Clear(ctx context.Context) (Cart, error)
	RefreshPrices(ctx context.Context) (RefreshResult, error)
	RefreshInBackground(ctx context.Context)
	Subscribe(fn func(Cart)) (unsubscribe func())
}
