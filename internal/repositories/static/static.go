package static

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/platform/textutil"
	"github.com/ddreams3d/storefront/internal/repositories"
)

//go:embed catalog.yaml
var bundledCatalog []byte

// ErrInvalidDataset reports a bundled catalog that cannot be served.
var ErrInvalidDataset = errors.New("static catalog: invalid dataset")

type catalogFile struct {
	Categories []domain.Category      `yaml:"categories"`
	Products   []domain.CatalogEntity `yaml:"products"`
	Services   []domain.CatalogEntity `yaml:"services"`
}

var (
	bundled struct {
		once    sync.Once
		dataset repositories.CatalogDataset
		err     error
	}
	validate = validator.New()
)

// Load returns the catalog bundled with the binary. The embedded file is parsed once and every
// call receives its own copy.
func Load() (repositories.CatalogDataset, error) {
	bundled.once.Do(func() {
		bundled.dataset, bundled.err = Parse(bundledCatalog)
	})
	if bundled.err != nil {
		return repositories.CatalogDataset{}, bundled.err
	}
	return cloneDataset(bundled.dataset), nil
}

// Parse decodes and normalises a YAML catalog document.
func Parse(data []byte) (repositories.CatalogDataset, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return repositories.CatalogDataset{}, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}

	products, err := normaliseEntities(domain.KindProduct, file.Products)
	if err != nil {
		return repositories.CatalogDataset{}, err
	}
	services, err := normaliseEntities(domain.KindService, file.Services)
	if err != nil {
		return repositories.CatalogDataset{}, err
	}
	categories, err := normaliseCategories(file.Categories)
	if err != nil {
		return repositories.CatalogDataset{}, err
	}

	return repositories.CatalogDataset{
		Products:   products,
		Services:   services,
		Categories: categories,
	}, nil
}

func normaliseEntities(kind domain.EntityKind, entities []domain.CatalogEntity) ([]domain.CatalogEntity, error) {
	result := make([]domain.CatalogEntity, 0, len(entities))
	seen := make(map[string]struct{}, len(entities)*2)
	for i, entity := range entities {
		entity.ID = strings.TrimSpace(entity.ID)
		entity.Slug = strings.TrimSpace(entity.Slug)
		if entity.Slug == "" {
			entity.Slug = textutil.Slugify(entity.Name)
		}
		entity.Kind = kind

		if err := validate.Struct(entity); err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrInvalidDataset, kind, i, err)
		}
		if entity.Price.IsNegative() {
			return nil, fmt.Errorf("%w: %s %q has a negative price", ErrInvalidDataset, kind, entity.ID)
		}
		for _, key := range []string{entity.ID, entity.Slug} {
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				return nil, fmt.Errorf("%w: %s key %q is not unique", ErrInvalidDataset, kind, key)
			}
			seen[key] = struct{}{}
		}

		entity.Currency = strings.ToUpper(strings.TrimSpace(entity.Currency))
		if entity.Currency == "" {
			entity.Currency = domain.DefaultCurrency
		}
		if entity.UpdatedAt.IsZero() {
			entity.UpdatedAt = entity.CreatedAt
		}
		entity.Images = normaliseImages(entity)
		result = append(result, entity)
	}
	return result, nil
}

// normaliseImages keeps the first flagged primary image and stamps missing timestamps with the
// entity's own.
func normaliseImages(entity domain.CatalogEntity) []domain.ProductImage {
	images := make([]domain.ProductImage, 0, len(entity.Images))
	primarySeen := false
	for _, img := range entity.Images {
		img.IsPrimary = img.IsPrimary && !primarySeen
		primarySeen = primarySeen || img.IsPrimary
		if img.CreatedAt.IsZero() {
			img.CreatedAt = entity.CreatedAt
		}
		if img.UpdatedAt.IsZero() {
			img.UpdatedAt = img.CreatedAt
		}
		images = append(images, img)
	}
	return images
}

func normaliseCategories(categories []domain.Category) ([]domain.Category, error) {
	result := make([]domain.Category, 0, len(categories))
	seen := make(map[string]struct{}, len(categories))
	for i, category := range categories {
		category.ID = strings.TrimSpace(category.ID)
		if category.ID == "" {
			return nil, fmt.Errorf("%w: categories[%d]: id is required", ErrInvalidDataset, i)
		}
		if _, dup := seen[category.ID]; dup {
			return nil, fmt.Errorf("%w: category %q is not unique", ErrInvalidDataset, category.ID)
		}
		seen[category.ID] = struct{}{}
		category.Slug = strings.TrimSpace(category.Slug)
		if category.Slug == "" {
			category.Slug = textutil.Slugify(category.Name)
		}
		if category.Slug == "" {
			category.Slug = category.ID
		}
		if category.UpdatedAt.IsZero() {
			category.UpdatedAt = category.CreatedAt
		}
		result = append(result, category)
	}
	return result, nil
}

func cloneDataset(src repositories.CatalogDataset) repositories.CatalogDataset {
	dup := repositories.CatalogDataset{
		Products:   make([]domain.CatalogEntity, len(src.Products)),
		Services:   make([]domain.CatalogEntity, len(src.Services)),
		Categories: append([]domain.Category(nil), src.Categories...),
	}
	for i, entity := range src.Products {
		dup.Products[i] = entity.Clone()
	}
	for i, entity := range src.Services {
		dup.Services[i] = entity.Clone()
	}
	return dup
}
