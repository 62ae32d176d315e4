package firestore

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/repositories"
)

func TestDecodeEntityNormalisesTimestamps(t *testing.T) {
	created := time.Date(2024, time.January, 15, 10, 30, 0, 0, time.UTC)
	updated := created.Add(48 * time.Hour)

	cases := map[string]any{
		"native":      created,
		"protobuf":    timestamppb.New(created),
		"iso string":  "2024-01-15T10:30:00Z",
		"unix millis": created.UnixMilli(),
		"wrapper map": map[string]any{"seconds": created.Unix(), "nanoseconds": int64(0)},
	}

	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			raw := map[string]any{
				"name":      "Modelo Anatómico",
				"slug":      "modelo-anatomico",
				"price":     int64(300),
				"createdAt": value,
				"updatedAt": updated,
				"images": []any{
					map[string]any{"url": "https://cdn.example/pelvis.jpg", "alt": "Pelvis", "createdAt": value},
				},
			}
			entity, err := decodeEntity(domain.KindProduct, "doc-1", raw)
			if err != nil {
				t.Fatalf("decodeEntity returned error: %v", err)
			}
			if !entity.CreatedAt.Equal(created) {
				t.Fatalf("expected createdAt %s, got %s", created, entity.CreatedAt)
			}
			if !entity.UpdatedAt.Equal(updated) {
				t.Fatalf("expected updatedAt %s, got %s", updated, entity.UpdatedAt)
			}
			if len(entity.Images) != 1 || !entity.Images[0].CreatedAt.Equal(created) {
				t.Fatalf("expected nested image timestamp normalised, got %+v", entity.Images)
			}
		})
	}
}

func TestDecodeEntityFields(t *testing.T) {
	raw := map[string]any{
		"slug":               " columna-vertebral ",
		"name":               "Columna Vertebral",
		"description":        `<p>Modelo <script>alert(1)</script>didáctico</p>`,
		"price":              450.5,
		"originalPrice":      "520.00",
		"customPriceDisplay": "",
		"category":           "medicina",
		"tags":               []any{"anatomia", " ", "medicina"},
		"isFeatured":         "true",
		"images": []any{
			map[string]any{"url": "a.jpg", "isPrimary": true},
			map[string]any{"url": "", "isPrimary": true},
			map[string]any{"url": "b.jpg", "isPrimary": true},
		},
	}

	entity, err := decodeEntity(domain.KindProduct, "6", raw)
	if err != nil {
		t.Fatalf("decodeEntity returned error: %v", err)
	}
	if entity.ID != "6" || entity.Kind != domain.KindProduct {
		t.Fatalf("expected id from document ref and product kind, got %q %q", entity.ID, entity.Kind)
	}
	if entity.Slug != "columna-vertebral" {
		t.Fatalf("expected trimmed slug, got %q", entity.Slug)
	}
	if !entity.Price.Equal(decimal.RequireFromString("450.5")) {
		t.Fatalf("unexpected price %s", entity.Price)
	}
	if entity.OriginalPrice == nil || !entity.OriginalPrice.Equal(decimal.NewFromInt(520)) {
		t.Fatalf("unexpected original price %v", entity.OriginalPrice)
	}
	if entity.CategoryID != "medicina" {
		t.Fatalf("expected legacy category field to populate categoryId, got %q", entity.CategoryID)
	}
	if len(entity.Tags) != 2 {
		t.Fatalf("expected blank tags dropped, got %v", entity.Tags)
	}
	if !entity.IsFeatured || !entity.IsActive {
		t.Fatalf("expected featured and default-active entity")
	}
	if entity.Description != "<p>Modelo didáctico</p>" {
		t.Fatalf("expected sanitised description, got %q", entity.Description)
	}
	if len(entity.Images) != 2 || !entity.Images[0].IsPrimary || entity.Images[1].IsPrimary {
		t.Fatalf("expected a single primary image, got %+v", entity.Images)
	}
	if entity.Currency != domain.DefaultCurrency {
		t.Fatalf("expected default currency, got %q", entity.Currency)
	}
}

func TestDecodeEntityRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]map[string]any{
		"negative price": {"price": -1},
		"bad price":      {"price": "cheap"},
		"bad timestamp":  {"createdAt": "yesterday-ish"},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeEntity(domain.KindService, "svc", raw); !errors.Is(err, repositories.ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestDecodeCategory(t *testing.T) {
	category, err := decodeCategory("arte-diseno", map[string]any{
		"name":      "Arte y Diseño",
		"slug":      "arte-diseno",
		"image":     "arte.jpg",
		"isActive":  false,
		"sortOrder": int64(2),
	})
	if err != nil {
		t.Fatalf("decodeCategory returned error: %v", err)
	}
	if category.ID != "arte-diseno" || category.ImageURL != "arte.jpg" || category.IsActive || category.SortOrder != 2 {
		t.Fatalf("unexpected category %+v", category)
	}
}

func TestEncodeEntityRoundTripsThroughDecoder(t *testing.T) {
	original := decimal.NewFromInt(99)
	entity := domain.CatalogEntity{
		ID:            "2",
		Kind:          domain.KindProduct,
		Slug:          "copa-piston",
		Name:          "Copa Pistón",
		Price:         decimal.NewFromInt(79),
		OriginalPrice: &original,
		Currency:      "PEN",
		Images:        []domain.ProductImage{{URL: "copa.jpg", IsPrimary: true}},
		IsActive:      true,
		CreatedAt:     time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC),
	}
	payload, err := encodeEntity(entity)
	if err != nil {
		t.Fatalf("encodeEntity returned error: %v", err)
	}
	decoded, err := decodeEntity(domain.KindProduct, "2", payload)
	if err != nil {
		t.Fatalf("decodeEntity returned error: %v", err)
	}
	if !decoded.Price.Equal(entity.Price) || !decoded.OriginalPrice.Equal(original) {
		t.Fatalf("unexpected prices %s %v", decoded.Price, decoded.OriginalPrice)
	}
	if !decoded.CreatedAt.Equal(entity.CreatedAt) || decoded.UpdatedAt.IsZero() {
		t.Fatalf("unexpected timestamps %s %s", decoded.CreatedAt, decoded.UpdatedAt)
	}
}

func TestDecodeDerivesMissingSlugs(t *testing.T) {
	entity, err := decodeEntity(domain.KindProduct, "7", map[string]any{
		"name":  "Llavero Anatómico",
		"price": "15",
	})
	if err != nil {
		t.Fatalf("decodeEntity returned error: %v", err)
	}
	if entity.Slug != "llavero-anatomico" {
		t.Fatalf("expected slug derived from name, got %q", entity.Slug)
	}

	category, err := decodeCategory("ingenieria", map[string]any{"name": "Ingeniería"})
	if err != nil {
		t.Fatalf("decodeCategory returned error: %v", err)
	}
	if category.Slug != "ingenieria" {
		t.Fatalf("expected slug derived from name, got %q", category.Slug)
	}
}
