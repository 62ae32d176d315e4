package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/platform/kvstore"
)

const (
	// DefaultCartID is the constant identifier of a client cart.
	DefaultCartID = "local-cart"

	defaultCartStorageKey = "cart"
	refreshConcurrency    = 8
)

var errCartStoreRequired = errors.New("cart engine: store is required")

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart engine: invalid input")

// ErrCartQuoteOnly indicates the entity is priced on request and cannot be added to the cart.
var ErrCartQuoteOnly = errors.New("cart engine: entity is quote-only")

// ErrCartPersist indicates the mutation was applied in memory but the cart could not be saved.
var ErrCartPersist = errors.New("cart engine: cart could not be saved")

// ErrCartLineNotFound indicates no line has the requested line id.
var ErrCartLineNotFound = errors.New("cart engine: line not found")

// errCartUnchanged lets a mutation report that it matched nothing; mutate skips the commit.
var errCartUnchanged = errors.New("cart engine: nothing to change")

// CartEngineDeps wires storage, catalog and identity for a cart engine.
type CartEngineDeps struct {
	Store       kvstore.Store
	Catalog     CatalogLookup
	StorageKey  string
	CartID      string
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      *zap.Logger
}

// RefreshResult summarises a RefreshPrices run.
type RefreshResult struct {
	// Checked is the number of lines looked up.
	Checked int
	// Updated is the number of lines whose snapshot changed.
	Updated int
	// Unresolved counts lines whose lookup failed or found nothing; those lines are kept as is.
	Unresolved int
	// Superseded is set when a mutation landed while lookups were in flight and the results
	// were dropped.
	Superseded bool
	Cart       Cart
}

type cartObserver struct {
	id uint64
	fn func(Cart)
}

// CartEngine owns one client cart. Mutations are serialised, recompute totals, and write the
// whole cart through to the store.
type CartEngine struct {
	store    kvstore.Store
	catalog  CatalogLookup
	key      string
	currency string
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger

	mu         sync.Mutex
	cart       domain.Cart
	generation uint64
	observers  []cartObserver
	nextObs    uint64

	background sync.WaitGroup
	refreshing atomic.Int32
}

var _ CartService = (*CartEngine)(nil)

// NewCartEngine constructs an engine and loads the persisted cart. A record that fails schema
// validation is removed and the engine starts empty.
func NewCartEngine(ctx context.Context, deps CartEngineDeps) (*CartEngine, error) {
	if deps.Store == nil {
		return nil, errCartStoreRequired
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter ISO code", ErrCartInvalidInput)
	}
	key := strings.TrimSpace(deps.StorageKey)
	if key == "" {
		key = defaultCartStorageKey
	}
	cartID := strings.TrimSpace(deps.CartID)
	if cartID == "" {
		cartID = DefaultCartID
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &CartEngine{
		store:    deps.Store,
		catalog:  deps.Catalog,
		key:      key,
		currency: currency,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger.Named("cart").With(zap.String("cart_key", key)),
	}
	engine.cart = engine.load(ctx, cartID)
	return engine, nil
}

func (e *CartEngine) emptyCart(cartID string) domain.Cart {
	now := e.now()
	return domain.Cart{
		ID:        cartID,
		Items:     []domain.CartItem{},
		Currency:  e.currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (e *CartEngine) load(ctx context.Context, cartID string) domain.Cart {
	raw, ok, err := e.store.Get(ctx, e.key)
	if err != nil {
		e.logger.Warn("cart: read persisted cart failed, starting empty", zap.Error(err))
		return e.emptyCart(cartID)
	}
	if !ok {
		return e.emptyCart(cartID)
	}

	cart, err := decodePersistedCart(raw)
	if err == nil && cart.Currency != e.currency {
		err = fmt.Errorf("%w: currency %s does not match %s", errCartSchema, cart.Currency, e.currency)
	}
	if err != nil {
		e.logger.Warn("cart: discarding invalid persisted cart", zap.Error(err))
		if removeErr := e.store.Remove(ctx, e.key); removeErr != nil {
			e.logger.Error("cart: remove invalid persisted cart failed", zap.Error(removeErr))
		}
		return e.emptyCart(cartID)
	}

	cart.ApplyTotals()
	return cart
}

// Cart returns a copy of the current cart.
func (e *CartEngine) Cart() Cart {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cart.Clone()
}

// AddItem adds quantity units of entity. A line with the same product and equal customizations
// is incremented; otherwise a new line holding a snapshot of entity is appended.
func (e *CartEngine) AddItem(ctx context.Context, entity CatalogEntity, quantity int, customizations []Customization) (Cart, error) {
	if strings.TrimSpace(entity.ID) == "" {
		return e.Cart(), fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if quantity < 1 {
		return e.Cart(), fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	if entity.IsQuoteOnly() {
		return e.Cart(), ErrCartQuoteOnly
	}
	if entity.IsDeleted {
		return e.Cart(), fmt.Errorf("%w: product %s is not available", ErrCartInvalidInput, entity.ID)
	}
	if entity.Price.IsNegative() {
		return e.Cart(), fmt.Errorf("%w: price must not be negative", ErrCartInvalidInput)
	}
	if entity.Currency != "" && !strings.EqualFold(entity.Currency, e.currency) {
		return e.Cart(), fmt.Errorf("%w: product is priced in %s, cart uses %s", ErrCartInvalidInput, entity.Currency, e.currency)
	}
	normalised, err := normaliseCustomizations(customizations)
	if err != nil {
		return e.Cart(), err
	}

	return e.mutate(ctx, "add_item", func(items []domain.CartItem, now time.Time) ([]domain.CartItem, error) {
		for i := range items {
			if items[i].ProductID == entity.ID && customizationsEqual(items[i].Customizations, normalised) {
				items[i].Quantity += quantity
				return items, nil
			}
		}
		return append(items, domain.CartItem{
			ID:             e.newID(),
			ProductID:      entity.ID,
			Product:        entity.Clone(),
			Quantity:       quantity,
			Customizations: normalised,
			AddedAt:        now,
		}), nil
	})
}

// RemoveItem drops every line of productID, whatever its customizations.
func (e *CartEngine) RemoveItem(ctx context.Context, productID string) (Cart, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return e.Cart(), fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	return e.mutate(ctx, "remove_item", func(items []domain.CartItem, _ time.Time) ([]domain.CartItem, error) {
		kept := items[:0]
		for _, item := range items {
			if item.ProductID != productID {
				kept = append(kept, item)
			}
		}
		if len(kept) == len(items) {
			return nil, errCartUnchanged
		}
		return kept, nil
	})
}

// UpdateQuantity sets quantity on every line of productID. A quantity below 1 removes them.
func (e *CartEngine) UpdateQuantity(ctx context.Context, productID string, quantity int) (Cart, error) {
	if quantity < 1 {
		return e.RemoveItem(ctx, productID)
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return e.Cart(), fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	return e.mutate(ctx, "update_quantity", func(items []domain.CartItem, _ time.Time) ([]domain.CartItem, error) {
		matched := false
		for i := range items {
			if items[i].ProductID == productID {
				items[i].Quantity = quantity
				matched = true
			}
		}
		if !matched {
			return nil, errCartUnchanged
		}
		return items, nil
	})
}

// RemoveLine drops the line with the given line id.
func (e *CartEngine) RemoveLine(ctx context.Context, lineID string) (Cart, error) {
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return e.Cart(), fmt.Errorf("%w: line id is required", ErrCartInvalidInput)
	}
	return e.mutate(ctx, "remove_line", func(items []domain.CartItem, _ time.Time) ([]domain.CartItem, error) {
		for i := range items {
			if items[i].ID == lineID {
				return append(items[:i], items[i+1:]...), nil
			}
		}
		return nil, ErrCartLineNotFound
	})
}

// UpdateLineQuantity sets quantity on one line. A quantity below 1 removes the line.
func (e *CartEngine) UpdateLineQuantity(ctx context.Context, lineID string, quantity int) (Cart, error) {
	if quantity < 1 {
		return e.RemoveLine(ctx, lineID)
	}
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return e.Cart(), fmt.Errorf("%w: line id is required", ErrCartInvalidInput)
	}
	return e.mutate(ctx, "update_line_quantity", func(items []domain.CartItem, _ time.Time) ([]domain.CartItem, error) {
		for i := range items {
			if items[i].ID == lineID {
				items[i].Quantity = quantity
				return items, nil
			}
		}
		return nil, ErrCartLineNotFound
	})
}

// Clear empties the cart. The persisted record is kept and overwritten with the empty cart.
func (e *CartEngine) Clear(ctx context.Context) (Cart, error) {
	return e.mutate(ctx, "clear", func([]domain.CartItem, time.Time) ([]domain.CartItem, error) {
		return []domain.CartItem{}, nil
	})
}

// mutate applies fn to a copy of the items and commits the result. The in-memory cart keeps the
// commit even when persisting fails; the caller then receives ErrCartPersist. When fn returns
// errCartUnchanged the current cart is returned as is.
func (e *CartEngine) mutate(ctx context.Context, op string, fn func(items []domain.CartItem, now time.Time) ([]domain.CartItem, error)) (Cart, error) {
	e.mu.Lock()
	now := e.now()
	items, err := fn(domain.CloneCartItems(e.cart.Items), now)
	if err != nil {
		current := e.cart.Clone()
		e.mu.Unlock()
		if errors.Is(err, errCartUnchanged) {
			return current, nil
		}
		return current, err
	}
	persistErr := e.commitLocked(ctx, items, now)
	snapshot := e.cart.Clone()
	observers := append([]cartObserver(nil), e.observers...)
	e.mu.Unlock()

	notifyObservers(observers, snapshot)
	if persistErr != nil {
		e.logger.Error("cart: persist failed", zap.String("op", op), zap.Error(persistErr))
		return snapshot, fmt.Errorf("%w: %v", ErrCartPersist, persistErr)
	}
	return snapshot, nil
}

// commitLocked installs items as the current cart, bumps the generation and writes through.
func (e *CartEngine) commitLocked(ctx context.Context, items []domain.CartItem, now time.Time) error {
	next := e.cart.Clone()
	next.Items = items
	next.UpdatedAt = now
	next.ApplyTotals()
	e.cart = next
	e.generation++

	payload, err := encodePersistedCart(next)
	if err != nil {
		return err
	}
	return e.store.Set(ctx, e.key, payload)
}

// RefreshPrices looks up every line concurrently and applies all price changes as one update.
// Lines whose lookup fails or finds nothing are left untouched. If any mutation lands while the
// lookups are in flight, the results are dropped and Superseded is reported.
func (e *CartEngine) RefreshPrices(ctx context.Context) (RefreshResult, error) {
	e.mu.Lock()
	lines := domain.CloneCartItems(e.cart.Items)
	generation := e.generation
	e.mu.Unlock()

	if e.catalog == nil || len(lines) == 0 {
		return RefreshResult{Cart: e.Cart()}, nil
	}

	type lookup struct {
		entity CatalogEntity
		found  bool
	}
	results := make([]lookup, len(lines))

	var group errgroup.Group
	group.SetLimit(refreshConcurrency)
	for i, line := range lines {
		group.Go(func() error {
			kind := line.Product.Kind
			if kind == "" {
				kind = domain.KindProduct
			}
			entity, found, err := e.catalog.GetEntity(ctx, kind, line.ProductID)
			if err != nil {
				e.logger.Warn("cart: price lookup failed", zap.String("product_id", line.ProductID), zap.Error(err))
				return nil
			}
			results[i] = lookup{entity: entity, found: found}
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return RefreshResult{Cart: e.Cart()}, err
	}

	e.mu.Lock()
	if e.generation != generation {
		current := e.cart.Clone()
		e.mu.Unlock()
		e.logger.Info("cart: price refresh superseded by a newer mutation")
		return RefreshResult{Checked: len(lines), Superseded: true, Cart: current}, nil
	}

	result := RefreshResult{Checked: len(lines)}
	for i := range lines {
		res := results[i]
		if !res.found {
			result.Unresolved++
			continue
		}
		if res.entity.Price.Equal(lines[i].Product.Price) {
			continue
		}
		lines[i].Product.Price = res.entity.Price
		lines[i].Product.Name = res.entity.Name
		lines[i].Product.Images = append([]domain.ProductImage(nil), res.entity.Images...)
		result.Updated++
	}

	if result.Updated == 0 {
		result.Cart = e.cart.Clone()
		e.mu.Unlock()
		return result, nil
	}

	persistErr := e.commitLocked(ctx, lines, e.now())
	result.Cart = e.cart.Clone()
	observers := append([]cartObserver(nil), e.observers...)
	e.mu.Unlock()

	notifyObservers(observers, result.Cart)
	e.logger.Info("cart: prices refreshed", zap.Int("updated", result.Updated), zap.Int("unresolved", result.Unresolved))
	if persistErr != nil {
		e.logger.Error("cart: persist failed", zap.String("op", "refresh_prices"), zap.Error(persistErr))
		return result, fmt.Errorf("%w: %v", ErrCartPersist, persistErr)
	}
	return result, nil
}

// RefreshInBackground runs RefreshPrices detached from ctx's cancellation and logs the outcome.
func (e *CartEngine) RefreshInBackground(ctx context.Context) {
	detached := context.WithoutCancel(ctx)
	e.background.Add(1)
	e.refreshing.Add(1)
	go func() {
		defer e.background.Done()
		defer e.refreshing.Add(-1)
		result, err := e.RefreshPrices(detached)
		if err != nil {
			e.logger.Warn("cart: background price refresh failed", zap.Error(err))
			return
		}
		e.logger.Debug("cart: background price refresh finished",
			zap.Int("checked", result.Checked),
			zap.Int("updated", result.Updated),
			zap.Bool("superseded", result.Superseded),
		)
	}()
}

func (e *CartEngine) refreshPending() bool {
	return e.refreshing.Load() > 0
}

// Wait blocks until background refreshes started by RefreshInBackground have finished.
func (e *CartEngine) Wait() {
	e.background.Wait()
}

// Subscribe registers fn to receive the cart after every committed change. Observers run
// synchronously on the mutating goroutine after the engine lock is released.
func (e *CartEngine) Subscribe(fn func(Cart)) func() {
	if fn == nil {
		return func() {}
	}
	e.mu.Lock()
	e.nextObs++
	id := e.nextObs
	e.observers = append(e.observers, cartObserver{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, obs := range e.observers {
				if obs.id == id {
					e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func notifyObservers(observers []cartObserver, cart Cart) {
	for _, obs := range observers {
		obs.fn(cart.Clone())
	}
}

func normaliseCustomizations(customizations []Customization) ([]Customization, error) {
	if len(customizations) == 0 {
		return nil, nil
	}
	normalised := make([]Customization, 0, len(customizations))
	for _, c := range customizations {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: customization name is required", ErrCartInvalidInput)
		}
		normalised = append(normalised, Customization{Name: name, Value: strings.TrimSpace(c.Value)})
	}
	return normalised, nil
}

// customizationsEqual compares ordered customization lists; nil and empty are equal.
func customizationsEqual(a, b []Customization) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
