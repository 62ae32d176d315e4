// Package kvstore provides the small string key/value contract the storefront uses for
// client-local durable state (persisted carts, catalog snapshots, idempotency records) and its
// adapters.
package kvstore

import (
	"context"
	"errors"
)

// ErrClosed is returned by adapters after Close.
var ErrClosed = errors.New("kvstore: store is closed")

// Store is a synchronous string key/value store. Get reports ok=false for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Closer is implemented by adapters that own external resources.
type Closer interface {
	Close() error
}

// Prefixed namespaces every key of an underlying store.
type Prefixed struct {
	store  Store
	prefix string
}

// WithPrefix returns a Store whose keys are prefixed with prefix.
func WithPrefix(store Store, prefix string) *Prefixed {
	return &Prefixed{store: store, prefix: prefix}
}

// Get implements the Store interface.
func (p *Prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.store.Get(ctx, p.prefix+key)
}

// Set implements the Store interface.
func (p *Prefixed) Set(ctx context.Context, key, value string) error {
	return p.store.Set(ctx, p.prefix+key, value)
}

// Remove implements the Store interface.
func (p *Prefixed) Remove(ctx context.Context, key string) error {
	return p.store.Remove(ctx, p.prefix+key)
}
