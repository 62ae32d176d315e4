package firestore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/platform/textutil"
	"github.com/ddreams3d/storefront/internal/repositories"
)

// catalogDocument mirrors the loosely typed documents written by the storefront admin tools.
// Timestamps arrive as native timestamps, ISO strings or unix millis depending on the writer.
type catalogDocument struct {
	ID                 string                 `mapstructure:"id"`
	Slug               string                 `mapstructure:"slug"`
	Name               string                 `mapstructure:"name"`
	Description        string                 `mapstructure:"description"`
	ShortDescription   string                 `mapstructure:"shortDescription"`
	Price              decimal.Decimal        `mapstructure:"price"`
	OriginalPrice      *decimal.Decimal       `mapstructure:"originalPrice"`
	CustomPriceDisplay string                 `mapstructure:"customPriceDisplay"`
	Currency           string                 `mapstructure:"currency"`
	Images             []imageDocument        `mapstructure:"images"`
	CategoryID         string                 `mapstructure:"categoryId"`
	CategoryName       string                 `mapstructure:"categoryName"`
	Category           string                 `mapstructure:"category"`
	Tags               []string               `mapstructure:"tags"`
	Specifications     []domain.Specification `mapstructure:"specifications"`
	Materials          []string               `mapstructure:"materials"`
	DisplayOrder       int                    `mapstructure:"displayOrder"`
	IsActive           *bool                  `mapstructure:"isActive"`
	IsFeatured         bool                   `mapstructure:"isFeatured"`
	IsDeleted          bool                   `mapstructure:"isDeleted"`
	Rating             float64                `mapstructure:"rating"`
	ReviewCount        int                    `mapstructure:"reviewCount"`
	CreatedAt          time.Time              `mapstructure:"createdAt"`
	UpdatedAt          time.Time              `mapstructure:"updatedAt"`
	DeletedAt          *time.Time             `mapstructure:"deletedAt"`
}

type imageDocument struct {
	ID        string    `mapstructure:"id"`
	URL       string    `mapstructure:"url"`
	Alt       string    `mapstructure:"alt"`
	IsPrimary bool      `mapstructure:"isPrimary"`
	Width     int       `mapstructure:"width"`
	Height    int       `mapstructure:"height"`
	CreatedAt time.Time `mapstructure:"createdAt"`
	UpdatedAt time.Time `mapstructure:"updatedAt"`
}

type categoryDocument struct {
	ID          string    `mapstructure:"id"`
	Name        string    `mapstructure:"name"`
	Slug        string    `mapstructure:"slug"`
	Description string    `mapstructure:"description"`
	ImageURL    string    `mapstructure:"imageUrl"`
	Image       string    `mapstructure:"image"`
	ParentID    string    `mapstructure:"parentId"`
	IsActive    *bool     `mapstructure:"isActive"`
	SortOrder   int       `mapstructure:"sortOrder"`
	CreatedAt   time.Time `mapstructure:"createdAt"`
	UpdatedAt   time.Time `mapstructure:"updatedAt"`
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	decimalType    = reflect.TypeOf(decimal.Decimal{})
	descriptionSan = newDescriptionPolicy()
)

func newDescriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// timestampValue is satisfied by protobuf timestamps and similar wrappers.
type timestampValue interface {
	AsTime() time.Time
}

func toTime(data any) (time.Time, error) {
	switch v := data.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v == nil {
			return time.Time{}, nil
		}
		return v.UTC(), nil
	case timestampValue:
		return v.AsTime().UTC(), nil
	case map[string]any:
		// JSON-serialised timestamp wrapper: {"seconds": n, "nanoseconds": n}.
		seconds, err := cast.ToInt64E(firstPresent(v, "seconds", "_seconds"))
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp seconds: %w", err)
		}
		nanos := cast.ToInt64(firstPresent(v, "nanoseconds", "_nanoseconds", "nanos"))
		return time.Unix(seconds, nanos).UTC(), nil
	case int, int32, int64, float64, json.Number:
		millis, err := cast.ToInt64E(v)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(millis).UTC(), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return time.Time{}, nil
		}
		ts, err := cast.ToTimeE(strings.TrimSpace(v))
		if err != nil {
			return time.Time{}, err
		}
		return ts.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", data)
	}
}

func toDecimal(data any) (decimal.Decimal, error) {
	switch v := data.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return v, nil
	case float32, float64:
		return decimal.NewFromFloat(cast.ToFloat64(v)), nil
	case int, int32, int64:
		return decimal.NewFromInt(cast.ToInt64(v)), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.Zero, fmt.Errorf("unsupported price type %T", data)
	}
}

func firstPresent(values map[string]any, keys ...string) any {
	for _, key := range keys {
		if value, ok := values[key]; ok {
			return value
		}
	}
	return nil
}

func normaliseHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	switch to {
	case timeType:
		return toTime(data)
	case decimalType:
		return toDecimal(data)
	}
	if from == timeType && to.Kind() == reflect.String {
		return data.(time.Time).UTC().Format(time.RFC3339Nano), nil
	}
	return data, nil
}

func decodeInto(raw map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       normaliseHook,
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

// decodeEntity normalises a raw document into a CatalogEntity of the given kind.
func decodeEntity(kind domain.EntityKind, docID string, raw map[string]any) (domain.CatalogEntity, error) {
	var doc catalogDocument
	if err := decodeInto(raw, &doc); err != nil {
		return domain.CatalogEntity{}, fmt.Errorf("%w: %s: %v", repositories.ErrInvalidDocument, docID, err)
	}

	id := strings.TrimSpace(doc.ID)
	if id == "" {
		id = docID
	}
	categoryID := strings.TrimSpace(doc.CategoryID)
	if categoryID == "" {
		categoryID = strings.TrimSpace(doc.Category)
	}
	if doc.Price.IsNegative() {
		return domain.CatalogEntity{}, fmt.Errorf("%w: %s: negative price", repositories.ErrInvalidDocument, docID)
	}

	name := strings.TrimSpace(doc.Name)
	slug := strings.TrimSpace(doc.Slug)
	if slug == "" {
		slug = textutil.Slugify(name)
	}

	entity := domain.CatalogEntity{
		ID:                 id,
		Kind:               kind,
		Slug:               slug,
		Name:               name,
		Description:        descriptionSan.Sanitize(doc.Description),
		ShortDescription:   descriptionSan.Sanitize(doc.ShortDescription),
		Price:              doc.Price,
		OriginalPrice:      doc.OriginalPrice,
		CustomPriceDisplay: strings.TrimSpace(doc.CustomPriceDisplay),
		Currency:           strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Images:             normaliseImages(doc.Images),
		CategoryID:         categoryID,
		CategoryName:       strings.TrimSpace(doc.CategoryName),
		Tags:               compactStrings(doc.Tags),
		Specifications:     doc.Specifications,
		Materials:          compactStrings(doc.Materials),
		DisplayOrder:       doc.DisplayOrder,
		IsActive:           doc.IsActive == nil || *doc.IsActive,
		IsFeatured:         doc.IsFeatured,
		IsDeleted:          doc.IsDeleted,
		Rating:             doc.Rating,
		ReviewCount:        doc.ReviewCount,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
		DeletedAt:          doc.DeletedAt,
	}
	if entity.Currency == "" {
		entity.Currency = domain.DefaultCurrency
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = entity.CreatedAt
	}
	return entity, nil
}

// normaliseImages keeps image order and enforces at most one primary image.
func normaliseImages(docs []imageDocument) []domain.ProductImage {
	images := make([]domain.ProductImage, 0, len(docs))
	primarySeen := false
	for _, doc := range docs {
		url := strings.TrimSpace(doc.URL)
		if url == "" {
			continue
		}
		primary := doc.IsPrimary && !primarySeen
		primarySeen = primarySeen || primary
		images = append(images, domain.ProductImage{
			ID:        strings.TrimSpace(doc.ID),
			URL:       url,
			Alt:       strings.TrimSpace(doc.Alt),
			IsPrimary: primary,
			Width:     doc.Width,
			Height:    doc.Height,
			CreatedAt: doc.CreatedAt,
			UpdatedAt: doc.UpdatedAt,
		})
	}
	return images
}

func decodeCategory(docID string, raw map[string]any) (domain.Category, error) {
	var doc categoryDocument
	if err := decodeInto(raw, &doc); err != nil {
		return domain.Category{}, fmt.Errorf("%w: %s: %v", repositories.ErrInvalidDocument, docID, err)
	}
	id := strings.TrimSpace(doc.ID)
	if id == "" {
		id = docID
	}
	imageURL := strings.TrimSpace(doc.ImageURL)
	if imageURL == "" {
		imageURL = strings.TrimSpace(doc.Image)
	}
	name := strings.TrimSpace(doc.Name)
	slug := strings.TrimSpace(doc.Slug)
	if slug == "" {
		slug = textutil.Slugify(name)
	}
	if slug == "" {
		slug = id
	}
	return domain.Category{
		ID:          id,
		Name:        name,
		Slug:        slug,
		Description: descriptionSan.Sanitize(doc.Description),
		ImageURL:    imageURL,
		ParentID:    strings.TrimSpace(doc.ParentID),
		IsActive:    doc.IsActive == nil || *doc.IsActive,
		SortOrder:   doc.SortOrder,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func encodeEntity(entity domain.CatalogEntity) (map[string]any, error) {
	images := make([]map[string]any, 0, len(entity.Images))
	for _, img := range entity.Images {
		images = append(images, map[string]any{
			"url":       img.URL,
			"alt":       img.Alt,
			"isPrimary": img.IsPrimary,
			"width":     img.Width,
			"height":    img.Height,
		})
	}
	specs := make([]map[string]any, 0, len(entity.Specifications))
	for _, spec := range entity.Specifications {
		specs = append(specs, map[string]any{"name": spec.Name, "value": spec.Value})
	}

	payload := map[string]any{
		"id":               entity.ID,
		"slug":             entity.Slug,
		"name":             entity.Name,
		"description":      entity.Description,
		"shortDescription": entity.ShortDescription,
		"price":            entity.Price.InexactFloat64(),
		"currency":         entity.Currency,
		"images":           images,
		"categoryId":       entity.CategoryID,
		"categoryName":     entity.CategoryName,
		"tags":             entity.Tags,
		"specifications":   specs,
		"materials":        entity.Materials,
		"displayOrder":     entity.DisplayOrder,
		"isActive":         entity.IsActive,
		"isFeatured":       entity.IsFeatured,
		"isDeleted":        entity.IsDeleted,
		"createdAt":        entity.CreatedAt,
		"updatedAt":        entity.UpdatedAt,
	}
	if entity.OriginalPrice != nil {
		payload["originalPrice"] = entity.OriginalPrice.InexactFloat64()
	}
	if entity.CustomPriceDisplay != "" {
		payload["customPriceDisplay"] = entity.CustomPriceDisplay
	}
	return payload, nil
}

func encodeCategory(category domain.Category) (map[string]any, error) {
	return map[string]any{
		"id":          category.ID,
		"name":        category.Name,
		"slug":        category.Slug,
		"description": category.Description,
		"imageUrl":    category.ImageURL,
		"parentId":    category.ParentID,
		"isActive":    category.IsActive,
		"sortOrder":   category.SortOrder,
		"createdAt":   category.CreatedAt,
		"updatedAt":   category.UpdatedAt,
	}, nil
}
