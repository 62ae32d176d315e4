package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/platform/httpx"
	"github.com/ddreams3d/storefront/internal/platform/observability"
	"github.com/ddreams3d/storefront/internal/platform/requestctx"
	"github.com/ddreams3d/storefront/internal/services"
)

const (
	defaultCartCookie = "storefront_session"
	cartCookieMaxAge  = 30 * 24 * time.Hour
)

// CartSessionResolver hands out the cart of a client session.
type CartSessionResolver interface {
	Cart(ctx context.Context, sessionID string) (services.CartService, error)
	NewSessionID() string
}

// CartHandlers exposes the session cart endpoints.
type CartHandlers struct {
	sessions     CartSessionResolver
	catalog      services.CatalogLookup
	cookieName   string
	secureCookie bool
}

// CartHandlerOption customises CartHandlers.
type CartHandlerOption func(*CartHandlers)

// WithCartCookie sets the session cookie name and whether it is marked Secure.
func WithCartCookie(name string, secure bool) CartHandlerOption {
	return func(h *CartHandlers) {
		if name = strings.TrimSpace(name); name != "" {
			h.cookieName = name
		}
		h.secureCookie = secure
	}
}

// NewCartHandlers constructs cart handlers. catalog resolves product ids for new lines.
func NewCartHandlers(sessions CartSessionResolver, catalog services.CatalogLookup, opts ...CartHandlerOption) *CartHandlers {
	h := &CartHandlers{
		sessions:   sessions,
		catalog:    catalog,
		cookieName: defaultCartCookie,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productId}", h.updateItemQuantity)
	r.Delete("/items/{productId}", h.removeItem)
	r.Patch("/lines/{lineId}", h.updateLineQuantity)
	r.Delete("/lines/{lineId}", h.removeLine)
	r.Post("/refresh", h.refreshPrices)
}

// resolveCart loads the cart of the request's session, issuing a new session when the cookie is
// missing or malformed.
func (h *CartHandlers) resolveCart(w http.ResponseWriter, r *http.Request) (context.Context, services.CartService, bool) {
	ctx := r.Context()
	if h.sessions == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return ctx, nil, false
	}

	sessionID := ""
	if cookie, err := r.Cookie(h.cookieName); err == nil {
		sessionID = strings.TrimSpace(cookie.Value)
	}
	if !services.ValidSessionID(sessionID) {
		sessionID = h.sessions.NewSessionID()
		http.SetCookie(w, &http.Cookie{
			Name:     h.cookieName,
			Value:    sessionID,
			Path:     "/",
			MaxAge:   int(cartCookieMaxAge / time.Second),
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.Header().Set(observability.SessionHeader, sessionID)
	ctx = requestctx.WithSessionID(ctx, sessionID)

	cart, err := h.sessions.Cart(ctx, sessionID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return ctx, nil, false
	}
	return ctx, cart, true
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	_, cart, ok := h.resolveCart(w, r)
	if !ok {
		return
	}
	writeCart(w, http.StatusOK, cart.Cart())
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cart, ok := h.resolveCart(w, r)
	if !ok {
		return
	}
	updated, err := cart.Clear(ctx)
	h.respond(ctx, w, updated, err)
}

type addItemRequest struct {
	ProductID      string                   `json:"productId"`
	Quantity       *int                     `json:"quantity"`
	Customizations []services.Customization `json:"customizations"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx, cart, ok := h.resolveCart(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !decodeCartRequest(ctx, w, r, &req) {
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	entity, found, err := h.catalog.GetEntity(ctx, domain.KindProduct, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if !found || entity.IsDeleted {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}

	updated, err := cart.AddItem(ctx, entity, quantity, req.Customizations)
	h.respond(ctx, w, updated, err)
}

func (h *CartHandlers) updateItemQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cart, ok := h.resolveCart(w, r)
	if !ok {
		return
	}
	quantity, ok := decodeQuantity(ctx, w, r)
	if !ok {
		return
	}
	updated, err := cart.UpdateQuantity(ctx, chi.URLParam(r, "productId"), quantity)
	h.respond(ctx, w, updated, err)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx, cart, ok := h.resolveCart(w, r)
	if !ok {
		return
	}
	updated, err := cart.RemoveItem(ctx, chi.URLParam(r, "productId"))
	h.respond(ctx, w, updated, err)
}

func (h *CartHandlers) updateLineQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cart, ok := h.resolveCart(w, r)
	if !ok {
		return
	}
	quantity, ok := decodeQuantity(ctx, w, r)
	if !ok {
		return
	}
	updated, err := cart.UpdateLineQuantity(ctx, chi.URLParam(r, "lineId"), quantity)
	h.respond(ctx, w, updated, err)
}

func (h *CartHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	ctx, cart, ok := h.resolveCart(w, r)
	if !ok {
		return
	}
	updated, err := cart.RemoveLine(ctx, chi.URLParam(r, "lineId"))
	h.respond(ctx, w, updated, err)
}

type refreshResponse struct {
	Cart    cartPayload    `json:"cart"`
	Refresh refreshSummary `json:"refresh"`
}

type refreshSummary struct {
	Checked    int  `json:"checked"`
	Updated    int  `json:"updated"`
	Unresolved int  `json:"unresolved"`
	Superseded bool `json:"superseded"`
}

func (h *CartHandlers) refreshPrices(w http.ResponseWriter, r *http.Request) {
	ctx, cart, ok := h.resolveCart(w, r)
	if !ok {
		return
	}
	result, err := cart.RefreshPrices(ctx)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	setCartResponseHeaders(w, result.Cart)
	httpx.WriteJSON(w, http.StatusOK, refreshResponse{
		Cart: buildCartPayload(result.Cart),
		Refresh: refreshSummary{
			Checked:    result.Checked,
			Updated:    result.Updated,
			Unresolved: result.Unresolved,
			Superseded: result.Superseded,
		},
	})
}

func (h *CartHandlers) respond(ctx context.Context, w http.ResponseWriter, cart services.Cart, err error) {
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart)
}

func decodeCartRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		switch {
		case errors.Is(err, httpx.ErrBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	return true
}

func decodeQuantity(ctx context.Context, w http.ResponseWriter, r *http.Request) (int, bool) {
	var req quantityRequest
	if !decodeCartRequest(ctx, w, r, &req) {
		return 0, false
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return 0, false
	}
	return *req.Quantity, true
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartPersist):
		requestctx.Logger(ctx).Error("cart: change kept in memory but not saved", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cart_persist_failed", "cart could not be saved", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCartQuoteOnly):
		httpx.WriteError(ctx, w, httpx.NewError("quote_only_item", "this item is priced on request and cannot be added to the cart", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartLineNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_line_not_found", "cart line not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartSessionInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_session", "cart session is invalid", http.StatusBadRequest))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_cancelled", "request was cancelled", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("cart: request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to update cart", http.StatusInternalServerError))
	}
}

func writeCart(w http.ResponseWriter, status int, cart services.Cart) {
	setCartResponseHeaders(w, cart)
	httpx.WriteJSON(w, status, cartResponse{Cart: buildCartPayload(cart)})
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d:%s", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano(), cart.Total.String())
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID        string            `json:"id"`
	Currency  string            `json:"currency"`
	ItemCount int               `json:"item_count"`
	Items     []cartItemPayload `json:"items"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
	Tax       decimal.Decimal   `json:"tax"`
	Shipping  decimal.Decimal   `json:"shipping"`
	Discount  decimal.Decimal   `json:"discount"`
	Total     decimal.Decimal   `json:"total"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ID             string                   `json:"id"`
	ProductID      string                   `json:"product_id"`
	Slug           string                   `json:"slug,omitempty"`
	Name           string                   `json:"name"`
	ImageURL       string                   `json:"image_url,omitempty"`
	UnitPrice      decimal.Decimal          `json:"unit_price"`
	Quantity       int                      `json:"quantity"`
	LineTotal      decimal.Decimal          `json:"line_total"`
	Customizations []services.Customization `json:"customizations,omitempty"`
	AddedAt        string                   `json:"added_at,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:        strings.TrimSpace(cart.ID),
		Currency:  strings.ToUpper(strings.TrimSpace(cart.Currency)),
		ItemCount: cart.ItemCount(),
		Items:     make([]cartItemPayload, 0, len(cart.Items)),
		Subtotal:  cart.Subtotal,
		Tax:       cart.Tax,
		Shipping:  cart.Shipping,
		Discount:  cart.Discount,
		Total:     cart.Total,
	}
	for _, item := range cart.Items {
		entry := cartItemPayload{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Slug:           item.Product.Slug,
			Name:           item.Product.Name,
			UnitPrice:      item.Product.Price,
			Quantity:       item.Quantity,
			LineTotal:      domain.LineTotal(item),
			Customizations: item.Customizations,
		}
		if img, ok := item.Product.PrimaryImage(); ok {
			entry.ImageURL = img.URL
		}
		if !item.AddedAt.IsZero() {
			entry.AddedAt = item.AddedAt.UTC().Format(time.RFC3339)
		}
		payload.Items = append(payload.Items, entry)
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = cart.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}
