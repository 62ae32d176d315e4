package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/platform/httpx"
	"github.com/ddreams3d/storefront/internal/platform/pagination"
	"github.com/ddreams3d/storefront/internal/platform/requestctx"
	"github.com/ddreams3d/storefront/internal/services"
)

// CatalogHandlers exposes read-only catalog endpoints.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers backed by the resilient catalog service.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes wires the /catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listEntities(domain.KindProduct))
	r.Get("/products/{idOrSlug}", h.getEntity(domain.KindProduct))
	r.Get("/marketplace", h.listMarketplace)
	r.Get("/services", h.listEntities(domain.KindService))
	r.Get("/services/{idOrSlug}", h.getEntity(domain.KindService))
	r.Get("/categories", h.listCategories)
}

type catalogListResponse struct {
	Items         []services.CatalogEntity `json:"items"`
	Count         int                      `json:"count"`
	Total         int                      `json:"total"`
	NextPageToken string                   `json:"nextPageToken,omitempty"`
}

type categoryListResponse struct {
	Items []services.Category `json:"items"`
	Count int                 `json:"count"`
}

type catalogListQuery struct {
	category string
	featured bool
	search   string
	refresh  bool
	page     pagination.Params
}

func parseCatalogListQuery(r *http.Request) (catalogListQuery, error) {
	values := r.URL.Query()
	query := catalogListQuery{
		category: strings.TrimSpace(values.Get("category")),
		search:   strings.TrimSpace(values.Get("q")),
	}
	var err error
	if query.featured, err = parseBoolParam(values.Get("featured")); err != nil {
		return query, errors.New("featured must be a boolean")
	}
	if query.refresh, err = parseBoolParam(values.Get("refresh")); err != nil {
		return query, errors.New("refresh must be a boolean")
	}
	if query.page, err = pagination.Parse(values, pagination.Options{}); err != nil {
		return query, err
	}
	return query, nil
}

func parseBoolParam(raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func (h *CatalogHandlers) listEntities(kind domain.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.catalog == nil {
			writeCatalogUnavailable(ctx, w)
			return
		}
		query, err := parseCatalogListQuery(r)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
			return
		}

		items, err := h.readEntities(ctx, kind, query)
		if err != nil {
			writeCatalogError(ctx, w, err)
			return
		}
		writeCatalogPage(ctx, w, items, query.page)
	}
}

// readEntities answers the query with one catalog read. Search, then category, then featured
// picks the catalog operation; the remaining filters narrow its result with the same matchers.
func (h *CatalogHandlers) readEntities(ctx context.Context, kind domain.EntityKind, query catalogListQuery) ([]services.CatalogEntity, error) {
	opts := services.ListOptions{ForceRefresh: query.refresh}
	var narrow []func(services.CatalogEntity) bool

	var (
		items []services.CatalogEntity
		err   error
	)
	switch {
	case query.search != "":
		items, err = h.catalog.Search(ctx, kind, query.search, opts)
		if query.category != "" {
			narrow = append(narrow, services.InCategory(query.category))
		}
		if query.featured {
			narrow = append(narrow, services.Featured)
		}
	case query.category != "":
		items, err = h.catalog.ListByCategory(ctx, kind, query.category, opts)
		if query.featured {
			narrow = append(narrow, services.Featured)
		}
	case query.featured:
		items, err = h.catalog.ListFeatured(ctx, kind, opts)
	default:
		items, err = h.catalog.ListEntities(ctx, kind, opts)
	}
	if err != nil {
		return nil, err
	}
	for _, keep := range narrow {
		items = services.FilterEntities(items, keep)
	}
	return items, nil
}

func (h *CatalogHandlers) listMarketplace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}
	page, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", err.Error(), http.StatusBadRequest))
		return
	}
	items, err := h.catalog.ListMarketplace(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeCatalogPage(ctx, w, items, page)
}

func (h *CatalogHandlers) getEntity(kind domain.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.catalog == nil {
			writeCatalogUnavailable(ctx, w)
			return
		}
		key := strings.TrimSpace(chi.URLParam(r, "idOrSlug"))
		entity, ok, err := h.catalog.GetEntity(ctx, kind, key)
		if err != nil {
			writeCatalogError(ctx, w, err)
			return
		}
		if !ok || entity.IsDeleted {
			httpx.WriteError(ctx, w, httpx.NewError(string(kind)+"_not_found", string(kind)+" not found", http.StatusNotFound))
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=60")
		httpx.WriteJSON(w, http.StatusOK, entity)
	}
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}
	refresh, err := parseBoolParam(r.URL.Query().Get("refresh"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_query", "refresh must be a boolean", http.StatusBadRequest))
		return
	}
	categories, err := h.catalog.ListCategories(ctx, services.ListOptions{ForceRefresh: refresh})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if categories == nil {
		categories = []services.Category{}
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	httpx.WriteJSON(w, http.StatusOK, categoryListResponse{Items: categories, Count: len(categories)})
}

func writeCatalogPage(ctx context.Context, w http.ResponseWriter, items []services.CatalogEntity, params pagination.Params) {
	page, next, err := pagination.Page(items, params, func(e services.CatalogEntity) string { return e.ID })
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	httpx.WriteJSON(w, http.StatusOK, catalogListResponse{
		Items:         page,
		Count:         len(page),
		Total:         len(items),
		NextPageToken: next,
	})
}

func writeCatalogUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		requestctx.Logger(ctx).Error("catalog: request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to read catalog", http.StatusInternalServerError))
	}
}
