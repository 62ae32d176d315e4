package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ddreams3d/storefront/internal/domain"
	pconfig "github.com/ddreams3d/storefront/internal/platform/config"
	pfirestore "github.com/ddreams3d/storefront/internal/platform/firestore"
	"github.com/ddreams3d/storefront/internal/repositories"
)

// CatalogRepository reads products, services and categories from Firestore.
type CatalogRepository struct {
	products   *pfirestore.BaseRepository[domain.CatalogEntity]
	services   *pfirestore.BaseRepository[domain.CatalogEntity]
	categories *pfirestore.BaseRepository[domain.Category]
}

var (
	_ repositories.CatalogRepository = (*CatalogRepository)(nil)
	_ repositories.CatalogSeeder     = (*CatalogRepository)(nil)
)

// NewCatalogRepository constructs a Firestore-backed catalog repository using the configured
// collection names.
func NewCatalogRepository(provider *pfirestore.Provider, cfg pconfig.FirestoreConfig) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products:   pfirestore.NewBaseRepository[domain.CatalogEntity](provider, collectionName(cfg.ProductsCollection, "products"), entityDecoder(domain.KindProduct), encodeEntity),
		services:   pfirestore.NewBaseRepository[domain.CatalogEntity](provider, collectionName(cfg.ServicesCollection, "services"), entityDecoder(domain.KindService), encodeEntity),
		categories: pfirestore.NewBaseRepository[domain.Category](provider, collectionName(cfg.CategoriesCollection, "categories"), categoryDecoder, encodeCategory),
	}, nil
}

func collectionName(configured, fallback string) string {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		return trimmed
	}
	return fallback
}

func entityDecoder(kind domain.EntityKind) pfirestore.Decoder[domain.CatalogEntity] {
	return func(snap *firestore.DocumentSnapshot) (domain.CatalogEntity, error) {
		raw, err := pfirestore.MapDecoder(snap)
		if err != nil {
			return domain.CatalogEntity{}, err
		}
		return decodeEntity(kind, snap.Ref.ID, raw)
	}
}

func categoryDecoder(snap *firestore.DocumentSnapshot) (domain.Category, error) {
	raw, err := pfirestore.MapDecoder(snap)
	if err != nil {
		return domain.Category{}, err
	}
	return decodeCategory(snap.Ref.ID, raw)
}

func (r *CatalogRepository) collection(kind domain.EntityKind) (*pfirestore.BaseRepository[domain.CatalogEntity], error) {
	switch kind {
	case domain.KindProduct:
		return r.products, nil
	case domain.KindService:
		return r.services, nil
	default:
		return nil, fmt.Errorf("%w: %q", repositories.ErrUnsupportedKind, kind)
	}
}

// ListEntities returns every document of the kind's collection. Ordering and soft-delete
// filtering are applied by the reader so every data tier behaves the same.
func (r *CatalogRepository) ListEntities(ctx context.Context, kind domain.EntityKind) ([]domain.CatalogEntity, error) {
	coll, err := r.collection(kind)
	if err != nil {
		return nil, err
	}
	return coll.Query(ctx, nil)
}

// GetEntity performs a point read by document ID.
func (r *CatalogRepository) GetEntity(ctx context.Context, kind domain.EntityKind, id string) (domain.CatalogEntity, error) {
	coll, err := r.collection(kind)
	if err != nil {
		return domain.CatalogEntity{}, err
	}
	// Slugs and free text reach this path; anything that is not a single path segment cannot
	// name a document.
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return domain.CatalogEntity{}, pfirestore.WrapError(coll.Name()+".get", status.Errorf(codes.NotFound, "document %q not found", id))
	}
	return coll.Get(ctx, id)
}

// FindEntityBySlug returns the first document whose slug matches.
func (r *CatalogRepository) FindEntityBySlug(ctx context.Context, kind domain.EntityKind, slug string) (domain.CatalogEntity, error) {
	coll, err := r.collection(kind)
	if err != nil {
		return domain.CatalogEntity{}, err
	}
	matches, err := coll.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", strings.TrimSpace(slug)).Limit(1)
	})
	if err != nil {
		return domain.CatalogEntity{}, err
	}
	if len(matches) == 0 {
		return domain.CatalogEntity{}, pfirestore.WrapError(coll.Name()+".slug", status.Errorf(codes.NotFound, "slug %q not found", slug))
	}
	return matches[0], nil
}

// ListCategories returns every category document.
func (r *CatalogRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return r.categories.Query(ctx, nil)
}

// Seed writes dataset into collections that are still empty. Each collection is seeded in its
// own transaction so a populated collection never blocks the others.
func (r *CatalogRepository) Seed(ctx context.Context, dataset repositories.CatalogDataset) (repositories.SeedResult, error) {
	var result repositories.SeedResult
	var err error

	if result.Products, err = r.products.SeedIfEmpty(ctx, keyEntities(dataset.Products)); err != nil {
		return result, err
	}
	if result.Services, err = r.services.SeedIfEmpty(ctx, keyEntities(dataset.Services)); err != nil {
		return result, err
	}
	categories := make(map[string]domain.Category, len(dataset.Categories))
	for _, category := range dataset.Categories {
		categories[category.ID] = category
	}
	if result.Categories, err = r.categories.SeedIfEmpty(ctx, categories); err != nil {
		return result, err
	}
	return result, nil
}

func keyEntities(entities []domain.CatalogEntity) map[string]domain.CatalogEntity {
	keyed := make(map[string]domain.CatalogEntity, len(entities))
	for _, entity := range entities {
		keyed[entity.ID] = entity
	}
	return keyed
}
