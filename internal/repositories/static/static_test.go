package static

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ddreams3d/storefront/internal/domain"
)

func TestLoadBundledCatalog(t *testing.T) {
	dataset, err := Load()
	require.NoError(t, err)

	require.Len(t, dataset.Products, 6)
	require.Len(t, dataset.Services, 9)
	require.Len(t, dataset.Categories, 4)

	for _, product := range dataset.Products {
		require.Equal(t, domain.KindProduct, product.Kind)
		require.False(t, product.IsQuoteOnly(), "product %s should be purchasable", product.ID)
		require.Equal(t, "PEN", product.Currency)
		require.False(t, product.CreatedAt.IsZero())
		require.Equal(t, product.CreatedAt, product.UpdatedAt)
		require.NotEmpty(t, product.Images)
	}
	for _, service := range dataset.Services {
		require.Equal(t, domain.KindService, service.Kind)
		require.True(t, service.IsQuoteOnly(), "service %s should be quote-only", service.ID)
		require.Positive(t, service.DisplayOrder)
	}
}

func TestLoadBundledPricesAreExact(t *testing.T) {
	dataset, err := Load()
	require.NoError(t, err)

	var pelvis domain.CatalogEntity
	for _, product := range dataset.Products {
		if product.Matches("modelo-anatomico-pelvis-humana-escala-real") {
			pelvis = product
		}
	}
	require.Equal(t, "1", pelvis.ID)
	require.True(t, pelvis.Price.Equal(decimal.RequireFromString("300")))
	image, ok := pelvis.PrimaryImage()
	require.True(t, ok)
	require.Contains(t, image.URL, "vista-frontal")
}

func TestLoadReturnsIndependentCopies(t *testing.T) {
	first, err := Load()
	require.NoError(t, err)
	first.Products[0].Name = "mutated"
	first.Products[0].Images[0].URL = "mutated"

	second, err := Load()
	require.NoError(t, err)
	require.NotEqual(t, "mutated", second.Products[0].Name)
	require.NotEqual(t, "mutated", second.Products[0].Images[0].URL)
}

func TestParseNormalisesEntities(t *testing.T) {
	doc := []byte(`
products:
  - id: " p1 "
    slug: p-one
    name: One
    price: "10.50"
    currency: usd
    createdAt: 2024-05-01T10:00:00Z
    images:
      - url: /a.png
        isPrimary: true
      - url: /b.png
        isPrimary: true
categories:
  - id: tools
    name: Tools
`)
	dataset, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, dataset.Products, 1)

	product := dataset.Products[0]
	require.Equal(t, "p1", product.ID)
	require.Equal(t, "USD", product.Currency)
	require.Equal(t, product.CreatedAt, product.UpdatedAt)
	require.True(t, product.Images[0].IsPrimary)
	require.False(t, product.Images[1].IsPrimary)
	require.Equal(t, product.CreatedAt, product.Images[1].CreatedAt)

	require.Equal(t, "tools", dataset.Categories[0].Slug)
}

func TestParseDerivesMissingSlugs(t *testing.T) {
	doc := []byte(`
products:
  - id: p1
    name: Copa Pistón V8
    price: "10"
categories:
  - id: arte-diseno
    name: Arte y Diseño
  - id: sin-nombre
`)
	dataset, err := Parse(doc)
	require.NoError(t, err)

	require.Equal(t, "copa-piston-v8", dataset.Products[0].Slug)
	require.Equal(t, "arte-y-diseno", dataset.Categories[0].Slug)
	require.Equal(t, "sin-nombre", dataset.Categories[1].Slug)
}

func TestParseRejectsInvalidDatasets(t *testing.T) {
	cases := map[string]string{
		"malformed":      "products: [",
		"missing id":     "products:\n  - slug: x\n    price: \"1\"\n",
		"negative price": "products:\n  - id: a\n    price: \"-1\"\n",
		"duplicate slug": "services:\n  - id: a\n    slug: same\n  - id: b\n    slug: same\n",
		"image url":      "products:\n  - id: a\n    images:\n      - alt: nothing\n",
		"category id":    "categories:\n  - name: Nameless\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidDataset), "unexpected error %v", err)
		})
	}
}
