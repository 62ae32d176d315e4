package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ddreams3d/storefront/internal/platform/kvstore"
)

const defaultMaxCartSessions = 10000

// ErrCartSessionInvalid indicates a session id that was not issued by NewSessionID.
var ErrCartSessionInvalid = errors.New("cart sessions: invalid session id")

// CartSessionsDeps configures the per-session cart registry.
type CartSessionsDeps struct {
	Store             kvstore.Store
	Catalog           CatalogLookup
	KeyPrefix         string
	CartID            string
	Currency          string
	BackgroundRefresh bool
	MaxSessions       int
	Clock             func() time.Time
	Logger            *zap.Logger
}

type sessionEntry struct {
	engine   *CartEngine
	lastUsed time.Time
}

// CartSessions keeps one CartEngine per client session. Each cart persists under
// "<prefix>:<session id>" in the shared store.
type CartSessions struct {
	deps   CartSessionsDeps
	store  kvstore.Store
	now    func() time.Time
	logger *zap.Logger

	loads singleflight.Group

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

// NewCartSessions validates deps and constructs the registry.
func NewCartSessions(deps CartSessionsDeps) (*CartSessions, error) {
	if deps.Store == nil {
		return nil, errCartStoreRequired
	}
	if strings.TrimSpace(deps.KeyPrefix) == "" {
		deps.KeyPrefix = defaultCartStorageKey
	}
	if deps.MaxSessions <= 0 {
		deps.MaxSessions = defaultMaxCartSessions
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	deps.Clock = clock
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	deps.Logger = logger

	return &CartSessions{
		deps:     deps,
		store:    kvstore.WithPrefix(deps.Store, strings.TrimSuffix(deps.KeyPrefix, ":")+":"),
		now:      clock,
		logger:   logger.Named("cart_sessions"),
		sessions: make(map[string]*sessionEntry),
	}, nil
}

// NewSessionID issues a fresh session identifier.
func (m *CartSessions) NewSessionID() string {
	return ulid.Make().String()
}

// ValidSessionID reports whether id has the shape of an issued session id.
func ValidSessionID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// Engine returns the cart engine of sessionID, loading the persisted cart on first use. When
// background refresh is enabled, a freshly loaded non-empty cart has its prices reconciled.
// Sessions already in memory never wait on another session's store read.
func (m *CartSessions) Engine(ctx context.Context, sessionID string) (*CartEngine, error) {
	if !ValidSessionID(sessionID) {
		return nil, ErrCartSessionInvalid
	}
	if engine, ok := m.lookup(sessionID); ok {
		return engine, nil
	}

	v, err, _ := m.loads.Do(sessionID, func() (any, error) {
		return m.load(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CartEngine), nil
}

func (m *CartSessions) lookup(sessionID string) (*CartEngine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	entry.lastUsed = m.now()
	return entry.engine, true
}

// load reads the persisted cart without holding the registry lock.
func (m *CartSessions) load(ctx context.Context, sessionID string) (*CartEngine, error) {
	if engine, ok := m.lookup(sessionID); ok {
		return engine, nil
	}

	engine, err := NewCartEngine(ctx, CartEngineDeps{
		Store:      m.store,
		Catalog:    m.deps.Catalog,
		StorageKey: sessionID,
		CartID:     m.deps.CartID,
		Currency:   m.deps.Currency,
		Clock:      m.deps.Clock,
		Logger:     m.deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("cart sessions: load %s: %w", sessionID, err)
	}

	m.mu.Lock()
	if entry, ok := m.sessions[sessionID]; ok {
		entry.lastUsed = m.now()
		m.mu.Unlock()
		return entry.engine, nil
	}
	if len(m.sessions) >= m.deps.MaxSessions {
		m.evictOldestLocked()
	}
	m.sessions[sessionID] = &sessionEntry{engine: engine, lastUsed: m.now()}
	m.mu.Unlock()

	if m.deps.BackgroundRefresh && len(engine.Cart().Items) > 0 {
		engine.RefreshInBackground(ctx)
	}
	return engine, nil
}

// Cart is Engine behind the CartService interface.
func (m *CartSessions) Cart(ctx context.Context, sessionID string) (CartService, error) {
	engine, err := m.Engine(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// evictOldestLocked forgets the least recently used engine. Its cart stays persisted and is
// reloaded on the session's next request. Engines with a background refresh still running are
// skipped so the refresh cannot race a reloaded engine; if every engine is busy the registry
// grows past its cap until one settles.
func (m *CartSessions) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, entry := range m.sessions {
		if entry.engine.refreshPending() {
			continue
		}
		if oldestID == "" || entry.lastUsed.Before(oldest) {
			oldestID, oldest = id, entry.lastUsed
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
		m.logger.Debug("cart sessions: evicted idle session", zap.String("session_id", oldestID))
	}
}

// Len reports the number of sessions held in memory.
func (m *CartSessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Wait blocks until every background refresh has finished.
func (m *CartSessions) Wait() {
	m.mu.Lock()
	engines := make([]*CartEngine, 0, len(m.sessions))
	for _, entry := range m.sessions {
		engines = append(engines, entry.engine)
	}
	m.mu.Unlock()

	for _, engine := range engines {
		engine.Wait()
	}
}
