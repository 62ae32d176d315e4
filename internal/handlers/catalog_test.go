package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/repositories/static"
	"github.com/ddreams3d/storefront/internal/services"
)

func newStaticCatalog(t *testing.T) *services.CatalogReader {
	t.Helper()
	dataset, err := static.Load()
	if err != nil {
		t.Fatalf("load static dataset: %v", err)
	}
	reader, err := services.NewCatalogReader(services.CatalogReaderDeps{Fallback: dataset})
	if err != nil {
		t.Fatalf("build catalog reader: %v", err)
	}
	return reader
}

func newCatalogRouter(t *testing.T, catalog services.CatalogService) http.Handler {
	t.Helper()
	h := NewCatalogHandlers(catalog)
	r := chi.NewRouter()
	r.Route("/catalog", h.Routes)
	return r
}

type catalogListBody struct {
	Items []struct {
		ID         string `json:"id"`
		Kind       string `json:"kind"`
		Price      string `json:"price"`
		IsFeatured bool   `json:"isFeatured"`
	} `json:"items"`
	Count         int    `json:"count"`
	Total         int    `json:"total"`
	NextPageToken string `json:"nextPageToken"`
}

func (b catalogListBody) ids() []string {
	out := make([]string, len(b.Items))
	for i, item := range b.Items {
		out[i] = item.ID
	}
	return out
}

func getCatalogList(t *testing.T, handler http.Handler, target string) catalogListBody {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("%s: expected status 200, got %d: %s", target, rr.Code, rr.Body.String())
	}
	var body catalogListBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: failed to parse response: %v", target, err)
	}
	if body.Count != len(body.Items) {
		t.Fatalf("%s: count %d does not match %d items", target, body.Count, len(body.Items))
	}
	return body
}

func sameIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestCatalogHandlersListProducts(t *testing.T) {
	router := newCatalogRouter(t, newStaticCatalog(t))

	all := getCatalogList(t, router, "/catalog/products")
	if !sameIDs(all.ids(), "6", "5", "4", "3", "2", "1") {
		t.Fatalf("expected products newest first, got %v", all.ids())
	}
	if all.Items[len(all.Items)-1].Price != "300" {
		t.Fatalf("expected pelvis priced 300, got %s", all.Items[len(all.Items)-1].Price)
	}

	medicine := getCatalogList(t, router, "/catalog/products?category=medicina")
	if !sameIDs(medicine.ids(), "6", "1") {
		t.Fatalf("expected medicine products, got %v", medicine.ids())
	}

	featured := getCatalogList(t, router, "/catalog/products?featured=true")
	for _, item := range featured.Items {
		if !item.IsFeatured {
			t.Fatalf("expected only featured products, got %v", featured.ids())
		}
	}
	if featured.Count != 4 {
		t.Fatalf("expected 4 featured products, got %v", featured.ids())
	}

	search := getCatalogList(t, router, "/catalog/products?q=PELVIS&refresh=true")
	if !sameIDs(search.ids(), "6", "1") {
		t.Fatalf("expected pelvis in product 1 and in the description of 6, got %v", search.ids())
	}
}

// recordingCatalog notes which listing operation served a request.
type recordingCatalog struct {
	*services.CatalogReader
	calls []string
	force []bool
}

func (c *recordingCatalog) record(op string, opts services.ListOptions) {
	c.calls = append(c.calls, op)
	c.force = append(c.force, opts.ForceRefresh)
}

func (c *recordingCatalog) ListEntities(ctx context.Context, kind domain.EntityKind, opts services.ListOptions) ([]services.CatalogEntity, error) {
	c.record("list", opts)
	return c.CatalogReader.ListEntities(ctx, kind, opts)
}

func (c *recordingCatalog) ListByCategory(ctx context.Context, kind domain.EntityKind, category string, opts services.ListOptions) ([]services.CatalogEntity, error) {
	c.record("category", opts)
	return c.CatalogReader.ListByCategory(ctx, kind, category, opts)
}

func (c *recordingCatalog) ListFeatured(ctx context.Context, kind domain.EntityKind, opts services.ListOptions) ([]services.CatalogEntity, error) {
	c.record("featured", opts)
	return c.CatalogReader.ListFeatured(ctx, kind, opts)
}

func (c *recordingCatalog) Search(ctx context.Context, kind domain.EntityKind, query string, opts services.ListOptions) ([]services.CatalogEntity, error) {
	c.record("search", opts)
	return c.CatalogReader.Search(ctx, kind, query, opts)
}

func TestCatalogHandlersRouteFiltersThroughCatalogOperations(t *testing.T) {
	cases := []struct {
		target string
		op     string
		force  bool
		ids    []string
	}{
		{target: "/catalog/products", op: "list", ids: []string{"6", "5", "4", "3", "2", "1"}},
		{target: "/catalog/products?category=Arte%20y%20Dise%C3%B1o&refresh=true", op: "category", force: true, ids: []string{"5", "4", "3", "2"}},
		{target: "/catalog/products?category=arte-diseno&featured=true", op: "category", ids: []string{"5", "2"}},
		{target: "/catalog/products?featured=true&refresh=true", op: "featured", force: true, ids: []string{"6", "5", "2", "1"}},
		{target: "/catalog/products?q=pelvis&featured=true&refresh=true", op: "search", force: true, ids: []string{"6", "1"}},
		{target: "/catalog/products?q=pelvis&category=arte-diseno", op: "search", ids: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			catalog := &recordingCatalog{CatalogReader: newStaticCatalog(t)}
			body := getCatalogList(t, newCatalogRouter(t, catalog), tc.target)

			if len(catalog.calls) != 1 || catalog.calls[0] != tc.op || catalog.force[0] != tc.force {
				t.Fatalf("expected one %s read (refresh=%v), got %v %v", tc.op, tc.force, catalog.calls, catalog.force)
			}
			if !sameIDs(body.ids(), tc.ids...) {
				t.Fatalf("expected %v, got %v", tc.ids, body.ids())
			}
		})
	}
}

func TestCatalogHandlersPaginatesProducts(t *testing.T) {
	router := newCatalogRouter(t, newStaticCatalog(t))

	first := getCatalogList(t, router, "/catalog/products?pageSize=4")
	if !sameIDs(first.ids(), "6", "5", "4", "3") || first.Total != 6 {
		t.Fatalf("unexpected first page: %v total=%d", first.ids(), first.Total)
	}
	if first.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}

	second := getCatalogList(t, router, "/catalog/products?pageSize=4&pageToken="+first.NextPageToken)
	if !sameIDs(second.ids(), "2", "1") || second.NextPageToken != "" {
		t.Fatalf("unexpected second page: %v next=%q", second.ids(), second.NextPageToken)
	}

	req := httptest.NewRequest(http.MethodGet, "/catalog/marketplace?pageToken=%25%25", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed page token, got %d", rr.Code)
	}
}

func TestCatalogHandlersRejectsBadQuery(t *testing.T) {
	router := newCatalogRouter(t, newStaticCatalog(t))
	req := httptest.NewRequest(http.MethodGet, "/catalog/products?featured=maybe", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCatalogHandlersServicesAndMarketplace(t *testing.T) {
	router := newCatalogRouter(t, newStaticCatalog(t))

	listed := getCatalogList(t, router, "/catalog/services")
	if listed.Count != 9 || listed.Items[0].ID != "17" {
		t.Fatalf("expected services in display order, got %v", listed.ids())
	}
	for _, item := range listed.Items {
		if item.Kind != "service" {
			t.Fatalf("expected service kind, got %q", item.Kind)
		}
	}

	marketplace := getCatalogList(t, router, "/catalog/marketplace")
	if marketplace.Count != 6 {
		t.Fatalf("expected every product purchasable, got %v", marketplace.ids())
	}
}

func TestCatalogHandlersGetEntity(t *testing.T) {
	router := newCatalogRouter(t, newStaticCatalog(t))

	cases := []struct {
		target string
		status int
		id     string
	}{
		{target: "/catalog/products/1", status: http.StatusOK, id: "1"},
		{target: "/catalog/products/cooler-motor-3d-v8", status: http.StatusOK, id: "5"},
		{target: "/catalog/services/impresion-3d-por-encargo", status: http.StatusOK, id: "18"},
		{target: "/catalog/products/impresion-3d-por-encargo", status: http.StatusNotFound},
		{target: "/catalog/services/missing", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.target, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.target, tc.status, rr.Code)
		}
		if tc.status != http.StatusOK {
			continue
		}
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: failed to parse response: %v", tc.target, err)
		}
		if body.ID != tc.id {
			t.Fatalf("%s: expected id %s, got %s", tc.target, tc.id, body.ID)
		}
	}
}

func TestCatalogHandlersHideSoftDeletedEntities(t *testing.T) {
	dataset, err := static.Load()
	if err != nil {
		t.Fatalf("load static dataset: %v", err)
	}
	gone := dataset.Products[0].ID
	dataset.Products[0].IsDeleted = true
	reader, err := services.NewCatalogReader(services.CatalogReaderDeps{Fallback: dataset})
	if err != nil {
		t.Fatalf("build catalog reader: %v", err)
	}
	router := newCatalogRouter(t, reader)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/products/"+gone, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted product, got %d", rr.Code)
	}

	list := getCatalogList(t, router, "/catalog/products")
	for _, id := range list.ids() {
		if id == gone {
			t.Fatalf("expected deleted product %s to be hidden from listing", gone)
		}
	}
}

func TestCatalogHandlersCategories(t *testing.T) {
	router := newCatalogRouter(t, newStaticCatalog(t))
	req := httptest.NewRequest(http.MethodGet, "/catalog/categories", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 4 || body.Items[0].ID != "medicina" {
		t.Fatalf("expected categories in sort order, got %+v", body.Items)
	}
}

func TestCatalogHandlersWithoutService(t *testing.T) {
	router := newCatalogRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/catalog/products", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
