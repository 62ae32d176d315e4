package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityKind discriminates the catalog entity families served by the storefront.
type EntityKind string

const (
	// KindProduct identifies purchasable store products.
	KindProduct EntityKind = "product"
	// KindService identifies quote-based services.
	KindService EntityKind = "service"
)

// Collection names the logical catalog collections tracked independently by the reader.
type Collection string

const (
	CollectionProducts   Collection = "products"
	CollectionServices   Collection = "services"
	CollectionCategories Collection = "categories"
)

// CollectionForKind maps an entity kind onto the collection holding it.
func CollectionForKind(kind EntityKind) Collection {
	if kind == KindService {
		return CollectionServices
	}
	return CollectionProducts
}

// CatalogEntity is the normalised shape of a product or service regardless of where it was read from.
type CatalogEntity struct {
	ID                 string           `json:"id" yaml:"id" validate:"required"`
	Kind               EntityKind       `json:"kind" yaml:"kind"`
	Slug               string           `json:"slug" yaml:"slug"`
	Name               string           `json:"name" yaml:"name"`
	Description        string           `json:"description" yaml:"description"`
	ShortDescription   string           `json:"shortDescription,omitempty" yaml:"shortDescription"`
	Price              decimal.Decimal  `json:"price" yaml:"price"`
	OriginalPrice      *decimal.Decimal `json:"originalPrice,omitempty" yaml:"originalPrice"`
	CustomPriceDisplay string           `json:"customPriceDisplay,omitempty" yaml:"customPriceDisplay"`
	Currency           string           `json:"currency" yaml:"currency"`
	Images             []ProductImage   `json:"images" yaml:"images" validate:"dive"`
	CategoryID         string           `json:"categoryId" yaml:"categoryId"`
	CategoryName       string           `json:"categoryName,omitempty" yaml:"categoryName"`
	Tags               []string         `json:"tags" yaml:"tags"`
	Specifications     []Specification  `json:"specifications,omitempty" yaml:"specifications"`
	Materials          []string         `json:"materials,omitempty" yaml:"materials"`
	DisplayOrder       int              `json:"displayOrder,omitempty" yaml:"displayOrder"`
	IsActive           bool             `json:"isActive" yaml:"isActive"`
	IsFeatured         bool             `json:"isFeatured" yaml:"isFeatured"`
	IsDeleted          bool             `json:"isDeleted,omitempty" yaml:"isDeleted"`
	Rating             float64          `json:"rating,omitempty" yaml:"rating"`
	ReviewCount        int              `json:"reviewCount,omitempty" yaml:"reviewCount"`
	CreatedAt          time.Time        `json:"createdAt" yaml:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt" yaml:"updatedAt"`
	DeletedAt          *time.Time       `json:"deletedAt,omitempty" yaml:"deletedAt"`
}

// ProductImage describes a single gallery image of a catalog entity.
type ProductImage struct {
	ID        string    `json:"id,omitempty" yaml:"id"`
	URL       string    `json:"url" yaml:"url" validate:"required"`
	Alt       string    `json:"alt" yaml:"alt"`
	IsPrimary bool      `json:"isPrimary" yaml:"isPrimary"`
	Width     int       `json:"width,omitempty" yaml:"width"`
	Height    int       `json:"height,omitempty" yaml:"height"`
	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"updatedAt"`
}

// Specification is a display-only name/value attribute.
type Specification struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Category groups catalog entities for navigation.
type Category struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Slug        string    `json:"slug" yaml:"slug"`
	Description string    `json:"description,omitempty" yaml:"description"`
	ImageURL    string    `json:"imageUrl,omitempty" yaml:"imageUrl"`
	ParentID    string    `json:"parentId,omitempty" yaml:"parentId"`
	IsActive    bool      `json:"isActive" yaml:"isActive"`
	SortOrder   int       `json:"sortOrder" yaml:"sortOrder"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// IsQuoteOnly reports whether the entity is priced on request and therefore cannot be bought directly.
func (e CatalogEntity) IsQuoteOnly() bool {
	return strings.TrimSpace(e.CustomPriceDisplay) != ""
}

// Matches reports whether key equals the entity ID or slug.
func (e CatalogEntity) Matches(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	return e.ID == key || (e.Slug != "" && e.Slug == key)
}

// PrimaryImage returns the flagged primary image, or the first image when none is flagged.
func (e CatalogEntity) PrimaryImage() (ProductImage, bool) {
	for _, img := range e.Images {
		if img.IsPrimary {
			return img, true
		}
	}
	if len(e.Images) > 0 {
		return e.Images[0], true
	}
	return ProductImage{}, false
}

// Clone returns a deep copy so callers never alias slices owned by a cache or a cart line.
func (e CatalogEntity) Clone() CatalogEntity {
	dup := e
	if e.OriginalPrice != nil {
		p := *e.OriginalPrice
		dup.OriginalPrice = &p
	}
	if e.DeletedAt != nil {
		ts := *e.DeletedAt
		dup.DeletedAt = &ts
	}
	dup.Images = append([]ProductImage(nil), e.Images...)
	dup.Tags = append([]string(nil), e.Tags...)
	dup.Specifications = append([]Specification(nil), e.Specifications...)
	dup.Materials = append([]string(nil), e.Materials...)
	return dup
}

// Customization is a user supplied option distinguishing otherwise identical cart lines.
type Customization struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// CartItem stores a single line of the cart with the catalog snapshot taken when it was added.
type CartItem struct {
	ID             string          `json:"id" validate:"required"`
	ProductID      string          `json:"productId" validate:"required"`
	Product        CatalogEntity   `json:"product"`
	Quantity       int             `json:"quantity" validate:"min=1"`
	Customizations []Customization `json:"customizations,omitempty" validate:"dive"`
	AddedAt        time.Time       `json:"addedAt" validate:"required"`
}

// Cart is the client-local shopping cart. Totals are derived from Items.
type Cart struct {
	ID        string          `json:"id" validate:"required"`
	Items     []CartItem      `json:"items" validate:"dive"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	Currency  string          `json:"currency" validate:"required,len=3"`
	CreatedAt time.Time       `json:"createdAt" validate:"required"`
	UpdatedAt time.Time       `json:"updatedAt" validate:"required"`
}

// ItemCount returns the number of units across all lines.
func (c Cart) ItemCount() int {
	return CountUnits(c.Items)
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	dup := c
	dup.Items = CloneCartItems(c.Items)
	return dup
}

// CloneCartItems deep-copies cart lines including their snapshots.
func CloneCartItems(items []CartItem) []CartItem {
	if items == nil {
		return []CartItem{}
	}
	dup := make([]CartItem, len(items))
	for i, item := range items {
		dup[i] = item
		dup[i].Product = item.Product.Clone()
		dup[i].Customizations = append([]Customization(nil), item.Customizations...)
	}
	return dup
}
