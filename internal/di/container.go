package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ddreams3d/storefront/internal/platform/config"
	pfirestore "github.com/ddreams3d/storefront/internal/platform/firestore"
	"github.com/ddreams3d/storefront/internal/platform/idempotency"
	"github.com/ddreams3d/storefront/internal/platform/kvstore"
	"github.com/ddreams3d/storefront/internal/repositories"
	firestoreRepo "github.com/ddreams3d/storefront/internal/repositories/firestore"
	"github.com/ddreams3d/storefront/internal/repositories/static"
	"github.com/ddreams3d/storefront/internal/services"
)

const (
	storeProbeKey       = "health:probe"
	storeProbeTimeout   = time.Second
	catalogProbeTimeout = 500 * time.Millisecond
)

// Container wires repositories, services, and storage for runtime use.
type Container struct {
	Config  config.Config
	Catalog *services.CatalogReader
	Carts   *services.CartSessions
	Health  repositories.HealthRepository
	Store   kvstore.Store

	// Idempotency keeps replayable cart mutation responses in Store.
	Idempotency *idempotency.KVStore

	logger    *zap.Logger
	provider  *pfirestore.Provider
	ownsStore bool
}

// Option customises container construction, primarily for tests.
type Option func(*options)

type options struct {
	store  kvstore.Store
	remote repositories.CatalogRepository
	clock  func() time.Time
}

// WithStore supplies the key/value store instead of opening the configured driver. The caller
// keeps ownership and closes it.
func WithStore(store kvstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRemoteCatalog supplies the remote catalog instead of dialing Firestore.
func WithRemoteCatalog(remote repositories.CatalogRepository) Option {
	return func(o *options) {
		o.remote = remote
	}
}

// WithClock injects the clock used by the catalog reader and carts.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// NewContainer constructs the runtime dependencies. The remote catalog is only wired when a
// Firestore project or emulator is configured; otherwise every read is served from the bundled
// dataset.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	dataset, err := static.Load()
	if err != nil {
		return nil, fmt.Errorf("load bundled catalog: %w", err)
	}

	c := &Container{Config: cfg, logger: logger}

	c.Store = o.store
	if c.Store == nil {
		store, err := kvstore.Open(ctx, cfg.Cart)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Cart.Driver, err)
		}
		c.Store = store
		c.ownsStore = true
	}
	c.Idempotency = idempotency.NewKVStore(c.Store)

	remote := o.remote
	if remote == nil && cfg.Firestore.Enabled() {
		c.provider = pfirestore.NewProvider(cfg.Firestore, providerOptions(cfg.Firestore)...)
		repo, err := firestoreRepo.NewCatalogRepository(c.provider, cfg.Firestore)
		if err != nil {
			_ = c.Close(ctx)
			return nil, fmt.Errorf("build firestore catalog: %w", err)
		}
		remote = repo
	}

	var snapshots kvstore.Store
	if cfg.Catalog.SnapshotEnabled {
		snapshots = c.Store
	}
	c.Catalog, err = services.NewCatalogReader(services.CatalogReaderDeps{
		Remote:        remote,
		Snapshots:     snapshots,
		Fallback:      dataset,
		Logger:        logger,
		Clock:         o.clock,
		RemoteTimeout: cfg.Catalog.RemoteTimeout,
		CoolDown:      cfg.Catalog.CoolDown,
		CacheTTL:      cfg.Catalog.CacheTTL,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build catalog reader: %w", err)
	}

	c.Carts, err = services.NewCartSessions(services.CartSessionsDeps{
		Store:             c.Store,
		Catalog:           c.Catalog,
		KeyPrefix:         cfg.Cart.StorageKey,
		CartID:            cfg.Cart.ID,
		Currency:          cfg.Cart.Currency,
		BackgroundRefresh: cfg.Cart.BackgroundRefresh,
		Clock:             o.clock,
		Logger:            logger,
	})
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build cart sessions: %w", err)
	}

	c.Health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "catalog", Timeout: catalogProbeTimeout, Check: c.Catalog.CheckRemote},
		{Name: "cart_store", Timeout: storeProbeTimeout, Critical: true, Check: c.probeStore},
	}, repositories.WithDependencyTimeout(storeProbeTimeout))
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("build health repository: %w", err)
	}

	if cfg.Catalog.SeedOnStart {
		c.seed(ctx)
	}
	return c, nil
}

func providerOptions(cfg config.FirestoreConfig) []pfirestore.ProviderOption {
	opts := []pfirestore.ProviderOption{pfirestore.WithDialTimeout(cfg.DialTimeout)}
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" && strings.TrimSpace(cfg.EmulatorHost) == "" {
		opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(path)))
	}
	return opts
}

func (c *Container) probeStore(ctx context.Context) error {
	_, _, err := c.Store.Get(ctx, storeProbeKey)
	return err
}

// seed writes the bundled dataset into empty remote collections. Failures are logged; the
// storefront still serves from fallback data.
func (c *Container) seed(ctx context.Context) {
	result, err := c.Catalog.Seed(ctx)
	switch {
	case errors.Is(err, services.ErrCatalogSeedUnavailable):
		c.logger.Info("catalog seed skipped: no remote catalog configured")
	case err != nil:
		c.logger.Warn("catalog seed failed", zap.Error(err))
	default:
		c.logger.Info("catalog seed finished",
			zap.Int("products", result.Products),
			zap.Int("services", result.Services),
			zap.Int("categories", result.Categories),
		)
	}
}

// Close waits for background cart work and releases the store and the Firestore client.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Carts != nil {
		c.Carts.Wait()
	}
	var errs []error
	if c.ownsStore && c.Store != nil {
		if err := kvstore.Close(c.Store); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if c.provider != nil {
		if err := c.provider.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	return errors.Join(errs...)
}
