package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltOpenTimeout = 2 * time.Second

// Bolt persists values in a single bucket of a bbolt database file.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBolt opens (creating when needed) the database at path and ensures bucket exists.
func OpenBolt(path, bucket string) (*Bolt, error) {
	if bucket == "" {
		return nil, errors.New("kvstore: bolt bucket is required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("kvstore: open bolt %s: %w", path, err)
	}
	name := []byte(bucket)
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(name)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kvstore: create bucket %s: %w", bucket, err)
	}
	return &Bolt{db: db, bucket: name}, nil
}

// Get implements the Store interface.
func (b *Bolt) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var (
		value string
		ok    bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(b.bucket).Get([]byte(key))
		if raw != nil {
			// raw is only valid for the lifetime of the transaction.
			value, ok = string(raw), true
		}
		return nil
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return "", false, ErrClosed
	}
	return value, ok, err
}

// Set implements the Store interface.
func (b *Bolt) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), []byte(value))
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

// Remove implements the Store interface.
func (b *Bolt) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

// Close releases the database file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}

var (
	_ Store  = (*Bolt)(nil)
	_ Closer = (*Bolt)(nil)
)
