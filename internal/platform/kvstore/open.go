package kvstore

import (
	"context"
	"fmt"

	"github.com/ddreams3d/storefront/internal/platform/config"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.CartConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewMemory(), nil
	case config.DriverBolt:
		return OpenBolt(cfg.BoltPath, cfg.BoltBucket)
	case config.DriverRedis:
		return NewRedis(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.RedisTTL,
		})
	default:
		return nil, fmt.Errorf("kvstore: unknown driver %q", cfg.Driver)
	}
}

// Close releases the store when it owns resources.
func Close(store Store) error {
	if closer, ok := store.(Closer); ok {
		return closer.Close()
	}
	return nil
}
