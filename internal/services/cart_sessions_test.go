package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ddreams3d/storefront/internal/domain"
	"github.com/ddreams3d/storefront/internal/platform/kvstore"
)

func TestCartSessionsIsolateCarts(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	sessions, err := NewCartSessions(CartSessionsDeps{Store: store, KeyPrefix: "cart"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alice, bob := sessions.NewSessionID(), sessions.NewSessionID()
	aliceCart, err := sessions.Engine(ctx, alice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := aliceCart.AddItem(ctx, testEntity("A", "a", "10", testEpoch), 1, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bobCart, err := sessions.Engine(ctx, bob)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bobCart.Cart().Items) != 0 {
		t.Fatalf("expected carts to be isolated per session")
	}

	again, _ := sessions.Engine(ctx, alice)
	if again != aliceCart {
		t.Fatalf("expected the same engine for a known session")
	}
	if _, ok, _ := store.Get(ctx, "cart:"+alice); !ok {
		t.Fatalf("expected the cart persisted under the session key")
	}
	if sessions.Len() != 2 {
		t.Fatalf("expected two sessions, got %d", sessions.Len())
	}

	if _, err := sessions.Engine(ctx, "../../etc"); !errors.Is(err, ErrCartSessionInvalid) {
		t.Fatalf("expected ErrCartSessionInvalid, got %v", err)
	}
}

func TestCartSessionsEvictAndReload(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(testEpoch)
	store := kvstore.NewMemory()
	sessions, err := NewCartSessions(CartSessionsDeps{Store: store, MaxSessions: 1, Clock: clock.Now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first := sessions.NewSessionID()
	engine, _ := sessions.Engine(ctx, first)
	if _, err := engine.AddItem(ctx, testEntity("A", "a", "10", testEpoch), 2, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(time.Second)
	if _, err := sessions.Engine(ctx, sessions.NewSessionID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessions.Len() != 1 {
		t.Fatalf("expected the idle session evicted, got %d sessions", sessions.Len())
	}

	reloaded, _ := sessions.Engine(ctx, first)
	if reloaded == engine {
		t.Fatalf("expected a fresh engine after eviction")
	}
	if reloaded.Cart().ItemCount() != 2 {
		t.Fatalf("expected the evicted cart reloaded from the store")
	}
}

func TestCartSessionsRefreshLoadedCarts(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	lookup := &stubCatalogLookup{
		getFunc: func(_ context.Context, _ domain.EntityKind, id string) (CatalogEntity, bool, error) {
			return testEntity(id, "a", "7.00", testEpoch), true, nil
		},
	}
	seed, _ := NewCartSessions(CartSessionsDeps{Store: store})
	session := seed.NewSessionID()
	engine, _ := seed.Engine(ctx, session)
	if _, err := engine.AddItem(ctx, testEntity("A", "a", "5.00", testEpoch), 1, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sessions, err := NewCartSessions(CartSessionsDeps{Store: store, Catalog: lookup, BackgroundRefresh: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, err := sessions.Engine(ctx, session)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sessions.Wait()

	requireSubtotal(t, loaded.Cart(), "7.00")
}

func TestNewCartSessionsRequiresStore(t *testing.T) {
	if _, err := NewCartSessions(CartSessionsDeps{}); err == nil {
		t.Fatalf("expected an error without a store")
	}
	if ValidSessionID("") || ValidSessionID("not-a-ulid") {
		t.Fatalf("expected malformed session ids rejected")
	}
}

// blockingStore holds Get for one key until release is closed.
type blockingStore struct {
	*kvstore.Memory
	key     string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == s.key {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	return s.Memory.Get(ctx, key)
}

func TestCartSessionsSlowLoadDoesNotBlockOtherSessions(t *testing.T) {
	ctx := context.Background()
	seed, _ := NewCartSessions(CartSessionsDeps{Store: kvstore.NewMemory()})
	loaded, slow := seed.NewSessionID(), seed.NewSessionID()

	store := &blockingStore{
		Memory:  kvstore.NewMemory(),
		key:     "cart:" + slow,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	sessions, err := NewCartSessions(CartSessionsDeps{Store: store})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, err := sessions.Engine(ctx, loaded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	slowEngines := make(chan *CartEngine, 2)
	for i := 0; i < 2; i++ {
		go func() {
			engine, err := sessions.Engine(ctx, slow)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			slowEngines <- engine
		}()
	}
	<-store.entered

	fast := make(chan *CartEngine, 1)
	go func() {
		engine, _ := sessions.Engine(ctx, loaded)
		fast <- engine
	}()
	select {
	case engine := <-fast:
		if engine != first {
			t.Fatalf("expected the loaded engine back")
		}
	case <-time.After(500 * time.Millisecond):
		close(store.release)
		t.Fatalf("loaded session blocked behind another session's store read")
	}

	close(store.release)
	a, b := <-slowEngines, <-slowEngines
	if a == nil || a != b {
		t.Fatalf("expected concurrent loads of one session to share an engine")
	}
	if sessions.Len() != 2 {
		t.Fatalf("expected two sessions, got %d", sessions.Len())
	}
}

func TestCartSessionsEvictionSkipsRefreshingEngines(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(testEpoch)
	store := kvstore.NewMemory()
	release := make(chan struct{})
	lookup := &stubCatalogLookup{
		getFunc: func(_ context.Context, _ domain.EntityKind, id string) (CatalogEntity, bool, error) {
			<-release
			return testEntity(id, "a", "5.00", testEpoch), true, nil
		},
	}

	seed, _ := NewCartSessions(CartSessionsDeps{Store: store})
	busy := seed.NewSessionID()
	engine, _ := seed.Engine(ctx, busy)
	if _, err := engine.AddItem(ctx, testEntity("A", "a", "5.00", testEpoch), 1, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sessions, err := NewCartSessions(CartSessionsDeps{
		Store:             store,
		Catalog:           lookup,
		BackgroundRefresh: true,
		MaxSessions:       1,
		Clock:             clock.Now,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	refreshing, _ := sessions.Engine(ctx, busy)

	clock.Advance(time.Second)
	if _, err := sessions.Engine(ctx, sessions.NewSessionID()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again, _ := sessions.Engine(ctx, busy); again != refreshing {
		t.Fatalf("expected the refreshing engine kept in memory")
	}

	close(release)
	sessions.Wait()
}
