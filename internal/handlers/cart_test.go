package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/platform/idempotency"
	"github.com/ddreams3d/storefront/internal/platform/kvstore"
	"github.com/ddreams3d/storefront/internal/platform/observability"
	"github.com/ddreams3d/storefront/internal/services"
)

type brokenKV struct {
	*kvstore.Memory
}

func (brokenKV) Set(context.Context, string, string) error {
	return errors.New("disk full")
}

type stubLookup struct {
	entity services.CatalogEntity
}

func (s stubLookup) GetEntity(context.Context, domain.EntityKind, string) (services.CatalogEntity, bool, error) {
	return s.entity, s.entity.ID != "", nil
}

type cartClient struct {
	t       *testing.T
	handler http.Handler
	cookie  *http.Cookie
}

func newCartClient(t *testing.T, store kvstore.Store, catalog services.CatalogLookup) *cartClient {
	t.Helper()
	sessions, err := services.NewCartSessions(services.CartSessionsDeps{Store: store, Catalog: catalog})
	if err != nil {
		t.Fatalf("build sessions: %v", err)
	}
	h := NewCartHandlers(sessions, catalog, WithCartCookie("sf_cart", false))
	r := chi.NewRouter()
	r.Route("/cart", h.Routes)
	return &cartClient{t: t, handler: r}
}

func (c *cartClient) do(method, target string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == "sf_cart" {
			c.cookie = cookie
		}
	}
	return rr
}

type cartBody struct {
	Cart struct {
		ID        string `json:"id"`
		ItemCount int    `json:"item_count"`
		Subtotal  string `json:"subtotal"`
		Total     string `json:"total"`
		Items     []struct {
			ID        string `json:"id"`
			ProductID string `json:"product_id"`
			Quantity  int    `json:"quantity"`
			LineTotal string `json:"line_total"`
		} `json:"items"`
	} `json:"cart"`
}

func decodeCart(t *testing.T, rr *httptest.ResponseRecorder) cartBody {
	t.Helper()
	var body cartBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v (%s)", err, rr.Body.String())
	}
	return body
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse error: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestCartHandlersFlow(t *testing.T) {
	store := kvstore.NewMemory()
	client := newCartClient(t, store, newStaticCatalog(t))

	rr := client.do(http.MethodGet, "/cart/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if client.cookie == nil || !services.ValidSessionID(client.cookie.Value) {
		t.Fatalf("expected a session cookie to be issued")
	}
	if !client.cookie.HttpOnly {
		t.Fatalf("expected an HttpOnly session cookie")
	}
	if rr.Header().Get(observability.SessionHeader) != client.cookie.Value {
		t.Fatalf("expected the session echoed in %s", observability.SessionHeader)
	}
	if rr.Header().Get("Cache-Control") == "" {
		t.Fatalf("expected cart responses to be uncacheable")
	}

	rr = client.do(http.MethodPost, "/cart/items", map[string]any{"productId": "modelo-anatomico-pelvis-humana-escala-real", "quantity": 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeCart(t, rr)
	if body.Cart.Subtotal != "600" || body.Cart.ItemCount != 2 || body.Cart.Items[0].ProductID != "1" {
		t.Fatalf("unexpected cart after add: %+v", body.Cart)
	}

	rr = client.do(http.MethodPost, "/cart/items", map[string]any{"productId": "2"})
	body = decodeCart(t, rr)
	if body.Cart.ItemCount != 3 || body.Cart.Subtotal != "679" {
		t.Fatalf("expected default quantity of one, got %+v", body.Cart)
	}
	lineID := body.Cart.Items[1].ID

	rr = client.do(http.MethodPatch, "/cart/items/1", map[string]any{"quantity": 3})
	body = decodeCart(t, rr)
	if body.Cart.Subtotal != "979" {
		t.Fatalf("expected subtotal 979, got %s", body.Cart.Subtotal)
	}

	rr = client.do(http.MethodPatch, "/cart/lines/"+lineID, map[string]any{"quantity": 2})
	body = decodeCart(t, rr)
	if body.Cart.Items[1].Quantity != 2 || body.Cart.Items[1].LineTotal != "158" {
		t.Fatalf("unexpected line after update: %+v", body.Cart.Items[1])
	}

	rr = client.do(http.MethodDelete, "/cart/lines/"+lineID, nil)
	body = decodeCart(t, rr)
	if len(body.Cart.Items) != 1 {
		t.Fatalf("expected the line removed, got %+v", body.Cart.Items)
	}

	rr = client.do(http.MethodPost, "/cart/refresh", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var refreshed struct {
		Refresh refreshSummary `json:"refresh"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if refreshed.Refresh.Checked != 1 || refreshed.Refresh.Updated != 0 {
		t.Fatalf("unexpected refresh summary %+v", refreshed.Refresh)
	}

	if _, ok, _ := store.Get(context.Background(), "cart:"+client.cookie.Value); !ok {
		t.Fatalf("expected the session cart persisted")
	}

	rr = client.do(http.MethodDelete, "/cart/items/1", nil)
	body = decodeCart(t, rr)
	if body.Cart.ItemCount != 0 || body.Cart.Total != "0" {
		t.Fatalf("expected an empty cart, got %+v", body.Cart)
	}

	rr = client.do(http.MethodDelete, "/cart/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected clear to succeed, got %d", rr.Code)
	}
}

func TestCartHandlersErrors(t *testing.T) {
	client := newCartClient(t, kvstore.NewMemory(), newStaticCatalog(t))

	cases := []struct {
		name   string
		method string
		target string
		body   any
		status int
		code   string
	}{
		{name: "unknown product", method: http.MethodPost, target: "/cart/items", body: map[string]any{"productId": "nope"}, status: http.StatusNotFound, code: "product_not_found"},
		{name: "service is not a product", method: http.MethodPost, target: "/cart/items", body: map[string]any{"productId": "17"}, status: http.StatusNotFound, code: "product_not_found"},
		{name: "missing product id", method: http.MethodPost, target: "/cart/items", body: map[string]any{"quantity": 1}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "zero quantity", method: http.MethodPost, target: "/cart/items", body: map[string]any{"productId": "1", "quantity": 0}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown field", method: http.MethodPost, target: "/cart/items", body: map[string]any{"productId": "1", "coupon": "X"}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "missing quantity", method: http.MethodPatch, target: "/cart/items/1", body: map[string]any{}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown line", method: http.MethodDelete, target: "/cart/lines/missing", status: http.StatusNotFound, code: "cart_line_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := client.do(tc.method, tc.target, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected error %s, got %s", tc.code, code)
			}
		})
	}
}

func TestCartHandlersRejectsQuoteOnlyProducts(t *testing.T) {
	quote := services.CatalogEntity{
		ID:                 "q-1",
		Kind:               domain.KindProduct,
		Price:              decimal.Zero,
		Currency:           "PEN",
		CustomPriceDisplay: "Cotización",
	}
	client := newCartClient(t, kvstore.NewMemory(), stubLookup{entity: quote})

	rr := client.do(http.MethodPost, "/cart/items", map[string]any{"productId": "q-1"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "quote_only_item" {
		t.Fatalf("expected quote_only_item, got %s", code)
	}
}

func TestCartHandlersPersistFailure(t *testing.T) {
	client := newCartClient(t, brokenKV{Memory: kvstore.NewMemory()}, newStaticCatalog(t))

	rr := client.do(http.MethodPost, "/cart/items", map[string]any{"productId": "1"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "cart_persist_failed" {
		t.Fatalf("expected cart_persist_failed, got %s", code)
	}

	rr = client.do(http.MethodGet, "/cart/", nil)
	if body := decodeCart(t, rr); body.Cart.ItemCount != 1 {
		t.Fatalf("expected the in-memory cart to keep the change, got %+v", body.Cart)
	}
}

func TestCartHandlersReplacesMalformedSession(t *testing.T) {
	client := newCartClient(t, kvstore.NewMemory(), newStaticCatalog(t))
	client.cookie = &http.Cookie{Name: "sf_cart", Value: "../../admin"}

	rr := client.do(http.MethodGet, "/cart/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !services.ValidSessionID(client.cookie.Value) {
		t.Fatalf("expected a fresh session id, got %q", client.cookie.Value)
	}
}

func TestCartHandlersWithoutSessions(t *testing.T) {
	h := NewCartHandlers(nil, nil)
	r := chi.NewRouter()
	r.Route("/cart", h.Routes)

	req := httptest.NewRequest(http.MethodGet, "/cart/", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartRoutesReplayIdempotentMutations(t *testing.T) {
	store := kvstore.NewMemory()
	catalog := newStaticCatalog(t)
	sessions, err := services.NewCartSessions(services.CartSessionsDeps{Store: store, Catalog: catalog})
	if err != nil {
		t.Fatalf("build sessions: %v", err)
	}
	h := NewCartHandlers(sessions, catalog, WithCartCookie("sf_cart", false))
	scope := func(r *http.Request) string {
		if cookie, err := r.Cookie("sf_cart"); err == nil {
			return cookie.Value
		}
		return ""
	}
	router := NewRouter(
		WithCartRoutes(h.Routes),
		WithCartMiddlewares(idempotency.Middleware(idempotency.NewKVStore(store), idempotency.WithScope(scope))),
	)
	client := &cartClient{t: t, handler: router}

	if rr := client.do(http.MethodGet, "/api/v1/cart/", nil); rr.Code != http.StatusOK || client.cookie == nil {
		t.Fatalf("expected a session, got %d", rr.Code)
	}

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", bytes.NewBufferString(`{"productId":"1","quantity":1}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "add-pelvis-1")
		req.AddCookie(client.cookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := post()
	if first.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", first.Code, first.Body.String())
	}
	second := post()
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replayed response")
	}

	rr := client.do(http.MethodGet, "/api/v1/cart/", nil)
	body := decodeCart(t, rr)
	if len(body.Cart.Items) != 1 || body.Cart.Items[0].Quantity != 1 {
		t.Fatalf("expected a single unit after the retry, got %+v", body.Cart.Items)
	}
}
