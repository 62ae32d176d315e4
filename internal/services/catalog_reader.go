package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/platform/kvstore"
	"github.com/ddreams3d/storefront/internal/platform/textutil"
	"github.com/ddreams3d/storefront/internal/repositories"
)

const (
	catalogInstrumentation = "github.com/ddreams3d/storefront/internal/services/catalog"

	defaultRemoteTimeout = 1500 * time.Millisecond
	defaultCoolDown      = time.Minute
	defaultCacheTTL      = 5 * time.Minute

	snapshotKeyPrefix = "catalog:"
)

type catalogSource string

const (
	sourceCache    catalogSource = "cache"
	sourceRemote   catalogSource = "remote"
	sourceSnapshot catalogSource = "snapshot"
	sourceStatic   catalogSource = "static"
)

var (
	// ErrCatalogInvalidInput indicates an unknown entity kind or collection.
	ErrCatalogInvalidInput = errors.New("catalog reader: invalid input")
	// ErrCatalogSeedUnavailable indicates seeding was requested without a remote catalog.
	ErrCatalogSeedUnavailable = errors.New("catalog reader: remote catalog is not configured")

	errRemoteTimeout = errors.New("catalog reader: remote read timed out")
)

// CatalogReaderDeps wires the data tiers and tuning of the catalog reader.
type CatalogReaderDeps struct {
	// Remote is the live document store. Nil means the remote tier is not configured and every
	// read is answered from fallback data without a call.
	Remote repositories.CatalogRepository
	// Seeder defaults to Remote when it also implements repositories.CatalogSeeder.
	Seeder repositories.CatalogSeeder
	// Snapshots stores the last good remote result per collection. Optional.
	Snapshots kvstore.Store
	// Fallback is the bundled dataset served when nothing better is available.
	Fallback repositories.CatalogDataset

	Logger        *zap.Logger
	Clock         func() time.Time
	RemoteTimeout time.Duration
	CoolDown      time.Duration
	CacheTTL      time.Duration
	Meter         metric.Meter
	Tracer        trace.Tracer
}

// CatalogReader serves catalog entities from the first viable tier: in-process cache, remote
// store guarded by a per-collection circuit breaker, last-known-good snapshot, bundled data.
type CatalogReader struct {
	remote    repositories.CatalogRepository
	seeder    repositories.CatalogSeeder
	snapshots kvstore.Store
	fallback  repositories.CatalogDataset
	logger    *zap.Logger
	now       func() time.Time
	timeout   time.Duration
	ttl       time.Duration
	breaker   *CircuitBreaker
	group     singleflight.Group
	resolvers []entityResolver

	products   cacheSlot[domain.CatalogEntity]
	services   cacheSlot[domain.CatalogEntity]
	categories cacheSlot[domain.Category]

	tracer   trace.Tracer
	reads    metric.Int64Counter
	failures metric.Int64Counter
	trips    metric.Int64Counter
	latency  metric.Float64Histogram
}

var _ CatalogService = (*CatalogReader)(nil)

// entityResolver is one tier of the id-or-slug lookup chain.
type entityResolver struct {
	name    string
	resolve func(ctx context.Context, kind domain.EntityKind, key string) (domain.CatalogEntity, bool)
}

// NewCatalogReader constructs a reader. Zero durations take the defaults.
func NewCatalogReader(deps CatalogReaderDeps) (*CatalogReader, error) {
	if deps.RemoteTimeout < 0 || deps.CoolDown < 0 || deps.CacheTTL < 0 {
		return nil, fmt.Errorf("%w: durations must not be negative", ErrCatalogInvalidInput)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	seeder := deps.Seeder
	if seeder == nil {
		if s, ok := deps.Remote.(repositories.CatalogSeeder); ok {
			seeder = s
		}
	}

	r := &CatalogReader{
		remote:    deps.Remote,
		seeder:    seeder,
		fallback:  deps.Fallback,
		logger:    logger.Named("catalog"),
		now:       func() time.Time { return clock().UTC() },
		timeout:   durationOr(deps.RemoteTimeout, defaultRemoteTimeout),
		ttl:       durationOr(deps.CacheTTL, defaultCacheTTL),
		tracer:    deps.Tracer,
	}
	if deps.Snapshots != nil {
		r.snapshots = kvstore.WithPrefix(deps.Snapshots, snapshotKeyPrefix)
	}
	r.breaker = NewCircuitBreaker(durationOr(deps.CoolDown, defaultCoolDown), r.now)
	r.resolvers = []entityResolver{
		{name: "cache", resolve: r.resolveFromCache},
		{name: "remote_id", resolve: r.resolveRemoteByID},
		{name: "remote_slug", resolve: r.resolveRemoteBySlug},
		{name: "fallback", resolve: r.resolveFromFallback},
	}

	if r.tracer == nil {
		r.tracer = otel.Tracer(catalogInstrumentation)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(catalogInstrumentation)
	}
	r.registerMetrics(meter)
	return r, nil
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}

func (r *CatalogReader) registerMetrics(meter metric.Meter) {
	var err error
	if r.reads, err = meter.Int64Counter("catalog.reads",
		metric.WithDescription("Catalog list reads by collection and serving tier")); err != nil {
		r.logger.Warn("catalog: unable to register reads metric", zap.Error(err))
	}
	if r.failures, err = meter.Int64Counter("catalog.remote.failures",
		metric.WithDescription("Remote catalog reads that failed or timed out")); err != nil {
		r.logger.Warn("catalog: unable to register failures metric", zap.Error(err))
	}
	if r.trips, err = meter.Int64Counter("catalog.breaker.trips",
		metric.WithDescription("Circuit breaker transitions from closed to open")); err != nil {
		r.logger.Warn("catalog: unable to register breaker metric", zap.Error(err))
	}
	if r.latency, err = meter.Float64Histogram("catalog.remote.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of remote catalog reads")); err != nil {
		r.logger.Warn("catalog: unable to register latency metric", zap.Error(err))
	}
}

// ListEntities returns every entity of kind in its catalog order.
func (r *CatalogReader) ListEntities(ctx context.Context, kind domain.EntityKind, opts ListOptions) ([]CatalogEntity, error) {
	plan, err := r.entityPlan(kind)
	if err != nil {
		return nil, err
	}
	items := readList(ctx, r, plan, opts.ForceRefresh)
	if opts.IncludeDeleted {
		return items, nil
	}
	return FilterEntities(items, func(e CatalogEntity) bool { return !e.IsDeleted }), nil
}

// GetAll returns the visible entities of kind.
func (r *CatalogReader) GetAll(ctx context.Context, kind domain.EntityKind) ([]CatalogEntity, error) {
	return r.ListEntities(ctx, kind, ListOptions{})
}

// GetEntity resolves idOrSlug through the cache, the remote store by id, the remote store by
// slug and finally the fallback data. Soft-deleted entities are still returned.
func (r *CatalogReader) GetEntity(ctx context.Context, kind domain.EntityKind, idOrSlug string) (CatalogEntity, bool, error) {
	if !validKind(kind) {
		return CatalogEntity{}, false, fmt.Errorf("%w: unknown kind %q", ErrCatalogInvalidInput, kind)
	}
	key := strings.TrimSpace(idOrSlug)
	if key == "" {
		return CatalogEntity{}, false, nil
	}

	ctx, span := r.tracer.Start(ctx, "catalog.GetEntity", trace.WithAttributes(
		attribute.String("catalog.kind", string(kind)),
	))
	defer span.End()

	for _, resolver := range r.resolvers {
		if entity, ok := resolver.resolve(ctx, kind, key); ok {
			span.SetAttributes(attribute.String("catalog.resolver", resolver.name))
			return entity.Clone(), true, nil
		}
	}
	span.SetAttributes(attribute.String("catalog.resolver", "none"))
	return CatalogEntity{}, false, nil
}

// GetByID is GetEntity under its catalog-facing name.
func (r *CatalogReader) GetByID(ctx context.Context, kind domain.EntityKind, idOrSlug string) (CatalogEntity, bool, error) {
	return r.GetEntity(ctx, kind, idOrSlug)
}

// ListByCategory returns the visible entities of category. See InCategory for the match.
func (r *CatalogReader) ListByCategory(ctx context.Context, kind domain.EntityKind, category string, opts ListOptions) ([]CatalogEntity, error) {
	items, err := r.ListEntities(ctx, kind, opts)
	if err != nil {
		return nil, err
	}
	return FilterEntities(items, InCategory(category)), nil
}

// ListFeatured returns the visible featured entities.
func (r *CatalogReader) ListFeatured(ctx context.Context, kind domain.EntityKind, opts ListOptions) ([]CatalogEntity, error) {
	items, err := r.ListEntities(ctx, kind, opts)
	if err != nil {
		return nil, err
	}
	return FilterEntities(items, Featured), nil
}

// Search returns the visible entities matching query. A blank query returns them all.
func (r *CatalogReader) Search(ctx context.Context, kind domain.EntityKind, query string, opts ListOptions) ([]CatalogEntity, error) {
	items, err := r.ListEntities(ctx, kind, opts)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return items, nil
	}
	return FilterEntities(items, MatchesQuery(query)), nil
}

// InCategory matches entities whose category id equals category ignoring case, or whose
// category name equals it ignoring case and accents.
func InCategory(category string) func(CatalogEntity) bool {
	category = strings.TrimSpace(category)
	folded := textutil.Fold(category)
	return func(e CatalogEntity) bool {
		if strings.EqualFold(e.CategoryID, category) {
			return true
		}
		return folded != "" && textutil.Fold(e.CategoryName) == folded
	}
}

// Featured matches featured entities.
func Featured(e CatalogEntity) bool {
	return e.IsFeatured
}

// MatchesQuery matches query against names, descriptions, category and tags ignoring case and
// accents.
func MatchesQuery(query string) func(CatalogEntity) bool {
	return func(e CatalogEntity) bool {
		fields := append([]string{e.Name, e.ShortDescription, e.Description, e.CategoryName}, e.Tags...)
		return textutil.ContainsFold(query, fields...)
	}
}

// ListMarketplace returns active products that can be bought directly.
func (r *CatalogReader) ListMarketplace(ctx context.Context) ([]CatalogEntity, error) {
	items, err := r.GetAll(ctx, domain.KindProduct)
	if err != nil {
		return nil, err
	}
	return FilterEntities(items, func(e CatalogEntity) bool {
		return e.IsActive && !e.IsQuoteOnly()
	}), nil
}

// ListCategories returns categories ordered by their sort order.
func (r *CatalogReader) ListCategories(ctx context.Context, opts ListOptions) ([]Category, error) {
	return readList(ctx, r, r.categoryPlan(), opts.ForceRefresh), nil
}

// Invalidate drops the cached lists of the given collections, or of all collections when none
// are named.
func (r *CatalogReader) Invalidate(collections ...domain.Collection) {
	if len(collections) == 0 {
		collections = []domain.Collection{domain.CollectionProducts, domain.CollectionServices, domain.CollectionCategories}
	}
	for _, collection := range collections {
		switch collection {
		case domain.CollectionProducts:
			r.products.clear()
		case domain.CollectionServices:
			r.services.clear()
		case domain.CollectionCategories:
			r.categories.clear()
		}
	}
}

// Seed writes the bundled dataset into empty remote collections and invalidates the cache.
func (r *CatalogReader) Seed(ctx context.Context) (repositories.SeedResult, error) {
	if r.seeder == nil {
		return repositories.SeedResult{}, ErrCatalogSeedUnavailable
	}
	result, err := r.seeder.Seed(ctx, r.fallback)
	if err != nil {
		return result, fmt.Errorf("catalog reader: seed: %w", err)
	}
	r.Invalidate()
	r.logger.Info("catalog: seeded remote collections",
		zap.Int("products", result.Products),
		zap.Int("services", result.Services),
		zap.Int("categories", result.Categories),
	)
	return result, nil
}

// BreakerStates reports the breaker of every collection.
func (r *CatalogReader) BreakerStates() map[domain.Collection]BreakerStatus {
	return map[domain.Collection]BreakerStatus{
		domain.CollectionProducts:   r.breaker.Status(domain.CollectionProducts),
		domain.CollectionServices:   r.breaker.Status(domain.CollectionServices),
		domain.CollectionCategories: r.breaker.Status(domain.CollectionCategories),
	}
}

// CheckRemote is a readiness probe. It reports repositories.ErrDegraded while the remote tier
// is unconfigured or any breaker is open.
func (r *CatalogReader) CheckRemote(context.Context) error {
	if r.remote == nil {
		return fmt.Errorf("%w: remote catalog not configured", repositories.ErrDegraded)
	}
	var open []string
	for collection, status := range r.BreakerStates() {
		if status.State == BreakerOpen {
			open = append(open, string(collection))
		}
	}
	if len(open) > 0 {
		sort.Strings(open)
		return fmt.Errorf("%w: circuit open for %s", repositories.ErrDegraded, strings.Join(open, ", "))
	}
	return nil
}

// listPlan describes how one collection is fetched, prepared, cached and backed up.
type listPlan[T any] struct {
	collection domain.Collection
	cache      *cacheSlot[T]
	fetch      func(ctx context.Context) ([]T, error)
	prepare    func(items []T) []T
	static     func() []T
	clone      func(items []T) []T
}

type listOutcome[T any] struct {
	items  []T
	source catalogSource
}

func (r *CatalogReader) entityPlan(kind domain.EntityKind) (listPlan[domain.CatalogEntity], error) {
	var cache *cacheSlot[domain.CatalogEntity]
	switch kind {
	case domain.KindProduct:
		cache = &r.products
	case domain.KindService:
		cache = &r.services
	default:
		return listPlan[domain.CatalogEntity]{}, fmt.Errorf("%w: unknown kind %q", ErrCatalogInvalidInput, kind)
	}
	return listPlan[domain.CatalogEntity]{
		collection: domain.CollectionForKind(kind),
		cache:      cache,
		fetch: func(ctx context.Context) ([]domain.CatalogEntity, error) {
			return r.remote.ListEntities(ctx, kind)
		},
		prepare: func(items []domain.CatalogEntity) []domain.CatalogEntity { return prepareEntities(kind, items) },
		static:  func() []domain.CatalogEntity { return r.fallback.Entities(kind) },
		clone:   cloneEntities,
	}, nil
}

func (r *CatalogReader) categoryPlan() listPlan[domain.Category] {
	return listPlan[domain.Category]{
		collection: domain.CollectionCategories,
		cache:      &r.categories,
		fetch: func(ctx context.Context) ([]domain.Category, error) {
			return r.remote.ListCategories(ctx)
		},
		prepare: prepareCategories,
		static:  func() []domain.Category { return r.fallback.Categories },
		clone: func(items []domain.Category) []domain.Category {
			return append([]domain.Category{}, items...)
		},
	}
}

// readList serves a collection from the cache or, on a miss, from the first viable tier.
// Concurrent misses for the same collection share one remote read.
func readList[T any](ctx context.Context, r *CatalogReader, plan listPlan[T], force bool) []T {
	ctx, span := r.tracer.Start(ctx, "catalog.List", trace.WithAttributes(
		attribute.String("catalog.collection", string(plan.collection)),
		attribute.Bool("catalog.force_refresh", force),
	))
	defer span.End()

	if !force {
		if items, ok := plan.cache.get(r.now(), r.ttl); ok {
			r.recordRead(ctx, plan.collection, sourceCache)
			span.SetAttributes(attribute.String("catalog.source", string(sourceCache)))
			return plan.clone(items)
		}
	}

	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(string(plan.collection), func() (any, error) {
		items, source := loadList(detached, r, plan)
		return listOutcome[T]{items: items, source: source}, nil
	})

	var outcome listOutcome[T]
	select {
	case res := <-ch:
		outcome = res.Val.(listOutcome[T])
	case <-ctx.Done():
		items, source := fallbackList(detached, r, plan)
		outcome = listOutcome[T]{items: items, source: source}
	}

	r.recordRead(ctx, plan.collection, outcome.source)
	span.SetAttributes(attribute.String("catalog.source", string(outcome.source)))
	return plan.clone(outcome.items)
}

func loadList[T any](ctx context.Context, r *CatalogReader, plan listPlan[T]) ([]T, catalogSource) {
	logger := r.logger.With(zap.String("collection", string(plan.collection)))

	if r.remote == nil {
		return fallbackList(ctx, r, plan)
	}
	if !r.breaker.Allow(plan.collection) {
		logger.Debug("catalog: circuit open, serving fallback")
		return fallbackList(ctx, r, plan)
	}

	start := time.Now()
	items, err := callWithTimeout(ctx, r.timeout, plan.fetch)
	r.recordLatency(ctx, plan.collection, time.Since(start))
	if err != nil {
		r.remoteFailed(ctx, plan.collection, err)
		return fallbackList(ctx, r, plan)
	}
	if len(items) == 0 {
		// Not seeded yet; this is not a failure and must not open the circuit.
		logger.Info("catalog: remote collection is empty, serving fallback")
		return fallbackList(ctx, r, plan)
	}

	prepared := plan.prepare(items)
	plan.cache.set(prepared, r.now())
	r.storeSnapshot(ctx, plan.collection, prepared)
	return prepared, sourceRemote
}

// fallbackList serves the last good snapshot when one exists, otherwise the bundled data.
func fallbackList[T any](ctx context.Context, r *CatalogReader, plan listPlan[T]) ([]T, catalogSource) {
	if items, ok := loadSnapshot[T](ctx, r, plan.collection); ok {
		return plan.prepare(items), sourceSnapshot
	}
	return plan.prepare(plan.static()), sourceStatic
}

func (r *CatalogReader) storeSnapshot(ctx context.Context, collection domain.Collection, items any) {
	if r.snapshots == nil {
		return
	}
	payload, err := json.Marshal(items)
	if err != nil {
		r.logger.Warn("catalog: encode snapshot failed", zap.String("collection", string(collection)), zap.Error(err))
		return
	}
	if err := r.snapshots.Set(ctx, string(collection), string(payload)); err != nil {
		r.logger.Warn("catalog: store snapshot failed", zap.String("collection", string(collection)), zap.Error(err))
	}
}

func loadSnapshot[T any](ctx context.Context, r *CatalogReader, collection domain.Collection) ([]T, bool) {
	if r.snapshots == nil {
		return nil, false
	}
	raw, ok, err := r.snapshots.Get(ctx, string(collection))
	if err != nil {
		r.logger.Warn("catalog: read snapshot failed", zap.String("collection", string(collection)), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		r.logger.Warn("catalog: discarding unreadable snapshot", zap.String("collection", string(collection)), zap.Error(err))
		if err := r.snapshots.Remove(ctx, string(collection)); err != nil {
			r.logger.Warn("catalog: remove snapshot failed", zap.String("collection", string(collection)), zap.Error(err))
		}
		return nil, false
	}
	return items, len(items) > 0
}

// callWithTimeout races fn against timeout. fn keeps running in the background after a timeout
// but its result is discarded.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w after %s: %v", errRemoteTimeout, timeout, ctx.Err())
	}
}

func (r *CatalogReader) remoteFailed(ctx context.Context, collection domain.Collection, err error) {
	attrs := metric.WithAttributes(attribute.String("collection", string(collection)))
	if r.failures != nil {
		r.failures.Add(ctx, 1, attrs)
	}
	opened := r.breaker.Trip(collection)
	if opened && r.trips != nil {
		r.trips.Add(ctx, 1, attrs)
	}
	trace.SpanFromContext(ctx).RecordError(err)
	r.logger.Warn("catalog: remote read failed, serving fallback",
		zap.String("collection", string(collection)),
		zap.Bool("circuit_opened", opened),
		zap.Error(err),
	)
}

func (r *CatalogReader) recordRead(ctx context.Context, collection domain.Collection, source catalogSource) {
	if r.reads == nil {
		return
	}
	r.reads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", string(collection)),
		attribute.String("source", string(source)),
	))
}

func (r *CatalogReader) recordLatency(ctx context.Context, collection domain.Collection, elapsed time.Duration) {
	if r.latency == nil {
		return
	}
	r.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("collection", string(collection))))
}

func (r *CatalogReader) resolveFromCache(_ context.Context, kind domain.EntityKind, key string) (domain.CatalogEntity, bool) {
	cache := &r.products
	if kind == domain.KindService {
		cache = &r.services
	}
	items, ok := cache.get(r.now(), r.ttl)
	if !ok {
		return domain.CatalogEntity{}, false
	}
	return findEntity(items, key)
}

func (r *CatalogReader) resolveRemoteByID(ctx context.Context, kind domain.EntityKind, key string) (domain.CatalogEntity, bool) {
	return r.resolveRemote(ctx, kind, key, r.remoteGet)
}

func (r *CatalogReader) resolveRemoteBySlug(ctx context.Context, kind domain.EntityKind, key string) (domain.CatalogEntity, bool) {
	return r.resolveRemote(ctx, kind, key, r.remoteFindBySlug)
}

func (r *CatalogReader) remoteGet(ctx context.Context, kind domain.EntityKind, key string) (domain.CatalogEntity, error) {
	return r.remote.GetEntity(ctx, kind, key)
}

func (r *CatalogReader) remoteFindBySlug(ctx context.Context, kind domain.EntityKind, key string) (domain.CatalogEntity, error) {
	return r.remote.FindEntityBySlug(ctx, kind, key)
}

// resolveRemote runs one remote lookup under the breaker. A not-found answer is a healthy
// response and leaves the breaker closed.
func (r *CatalogReader) resolveRemote(
	ctx context.Context,
	kind domain.EntityKind,
	key string,
	lookup func(context.Context, domain.EntityKind, string) (domain.CatalogEntity, error),
) (domain.CatalogEntity, bool) {
	if r.remote == nil {
		return domain.CatalogEntity{}, false
	}
	collection := domain.CollectionForKind(kind)
	if !r.breaker.Allow(collection) {
		return domain.CatalogEntity{}, false
	}

	start := time.Now()
	entity, err := callWithTimeout(ctx, r.timeout, func(ctx context.Context) (domain.CatalogEntity, error) {
		return lookup(ctx, kind, key)
	})
	r.recordLatency(ctx, collection, time.Since(start))
	switch {
	case err == nil:
		prepared := prepareEntities(kind, []domain.CatalogEntity{entity})
		return prepared[0], true
	case repositories.IsNotFound(err):
		return domain.CatalogEntity{}, false
	case ctx.Err() != nil:
		// The caller gave up; that says nothing about the remote store.
		return domain.CatalogEntity{}, false
	default:
		r.remoteFailed(ctx, collection, err)
		return domain.CatalogEntity{}, false
	}
}

func (r *CatalogReader) resolveFromFallback(ctx context.Context, kind domain.EntityKind, key string) (domain.CatalogEntity, bool) {
	plan, err := r.entityPlan(kind)
	if err != nil {
		return domain.CatalogEntity{}, false
	}
	items, _ := fallbackList(context.WithoutCancel(ctx), r, plan)
	if entity, ok := findEntity(items, key); ok {
		return entity, true
	}
	// A snapshot only holds what the remote store had; the bundled data may still know the key.
	return findEntity(plan.prepare(plan.static()), key)
}

func findEntity(items []domain.CatalogEntity, key string) (domain.CatalogEntity, bool) {
	for _, item := range items {
		if item.Matches(key) {
			return item, true
		}
	}
	return domain.CatalogEntity{}, false
}

func validKind(kind domain.EntityKind) bool {
	return kind == domain.KindProduct || kind == domain.KindService
}

// prepareEntities copies items, stamps their kind and applies the kind's catalog order:
// newest first for products, display order for services.
func prepareEntities(kind domain.EntityKind, items []domain.CatalogEntity) []domain.CatalogEntity {
	prepared := make([]domain.CatalogEntity, 0, len(items))
	for _, item := range items {
		entity := item.Clone()
		entity.Kind = kind
		if entity.Currency == "" {
			entity.Currency = domain.DefaultCurrency
		}
		if entity.UpdatedAt.IsZero() {
			entity.UpdatedAt = entity.CreatedAt
		}
		prepared = append(prepared, entity)
	}

	if kind == domain.KindService {
		sort.SliceStable(prepared, func(i, j int) bool {
			return prepared[i].DisplayOrder < prepared[j].DisplayOrder
		})
	} else {
		sort.SliceStable(prepared, func(i, j int) bool {
			return prepared[i].CreatedAt.After(prepared[j].CreatedAt)
		})
	}
	return prepared
}

func prepareCategories(items []domain.Category) []domain.Category {
	prepared := append([]domain.Category{}, items...)
	sort.SliceStable(prepared, func(i, j int) bool {
		return prepared[i].SortOrder < prepared[j].SortOrder
	})
	return prepared
}

func cloneEntities(items []domain.CatalogEntity) []domain.CatalogEntity {
	dup := make([]domain.CatalogEntity, len(items))
	for i, item := range items {
		dup[i] = item.Clone()
	}
	return dup
}

// FilterEntities returns the items keep accepts, in order.
func FilterEntities(items []domain.CatalogEntity, keep func(domain.CatalogEntity) bool) []domain.CatalogEntity {
	filtered := make([]domain.CatalogEntity, 0, len(items))
	for _, item := range items {
		if keep(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
