package repositories

import (
	"context"

	"github.com/ddreams3d/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err is a RepositoryError classified as not found.
func IsNotFound(err error) bool {
	repoErr, ok := AsRepositoryError(err)
	return ok && repoErr.IsNotFound()
}

// CatalogRepository is the remote document store holding the live catalog. Implementations
// return a RepositoryError with IsNotFound when a point read or slug query finds nothing.
type CatalogRepository interface {
	ListEntities(ctx context.Context, kind domain.EntityKind) ([]domain.CatalogEntity, error)
	GetEntity(ctx context.Context, kind domain.EntityKind, id string) (domain.CatalogEntity, error)
	FindEntityBySlug(ctx context.Context, kind domain.EntityKind, slug string) (domain.CatalogEntity, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
}

// CatalogSeeder bulk loads a dataset into an empty remote catalog.
type CatalogSeeder interface {
	Seed(ctx context.Context, dataset CatalogDataset) (SeedResult, error)
}

// CatalogDataset is a complete catalog, used for the bundled fallback data and for seeding.
type CatalogDataset struct {
	Products   []domain.CatalogEntity
	Services   []domain.CatalogEntity
	Categories []domain.Category
}

// Entities returns the entities of the given kind.
func (d CatalogDataset) Entities(kind domain.EntityKind) []domain.CatalogEntity {
	if kind == domain.KindService {
		return d.Services
	}
	return d.Products
}

// SeedResult reports per-collection write counts. Zero means the collection was already populated.
type SeedResult struct {
	Products   int
	Services   int
	Categories int
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
