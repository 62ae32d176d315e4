package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ddreams3d/storefront/internal/platform/kvstore"
)

const keyPrefix = "idempotency:"

// KVStore keeps idempotency records as JSON documents in a kvstore.Store. Reservations are
// serialised within the process; expired records are replaced on the next reservation.
type KVStore struct {
	mu    sync.Mutex
	store kvstore.Store
}

// NewKVStore wraps store. Records live under the "idempotency:" namespace.
func NewKVStore(store kvstore.Store) *KVStore {
	return &KVStore{store: kvstore.WithPrefix(store, keyPrefix)}
}

var _ Store = (*KVStore)(nil)

// Reserve implements the Store interface.
func (s *KVStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok, err := s.load(ctx, key)
	if err != nil {
		return Reservation{}, err
	}
	if !ok || record.expired(now) {
		record = Record{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		if err := s.save(ctx, record); err != nil {
			return Reservation{}, err
		}
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

// SaveResponse implements the Store interface.
func (s *KVStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if ok && record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}

	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = sanitizeHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	return s.save(ctx, record)
}

// Release deletes the reservation so that subsequent attempts may retry.
func (s *KVStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Remove(ctx, recordID(key))
}

func (s *KVStore) load(ctx context.Context, key string) (Record, bool, error) {
	raw, ok, err := s.store.Get(ctx, recordID(key))
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load record: %w", err)
	}
	if !ok {
		return Record{}, false, nil
	}
	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		// An unreadable record is treated as absent and overwritten.
		return Record{}, false, nil
	}
	return record, true, nil
}

func (s *KVStore) save(ctx context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.store.Set(ctx, recordID(record.Key), string(data)); err != nil {
		return fmt.Errorf("idempotency: save record: %w", err)
	}
	return nil
}
