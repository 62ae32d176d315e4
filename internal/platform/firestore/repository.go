package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

const (
	seedTxAttempts = 3
	seedTxTimeout  = 30 * time.Second
)

// Decoder hydrates a typed value from a document snapshot.
type Decoder[T any] func(snap *firestore.DocumentSnapshot) (T, error)

// Encoder turns a typed value into a Firestore compatible payload.
type Encoder[T any] func(value T) (map[string]any, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed access to a single collection.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	decode     Decoder[T]
	encode     Encoder[T]
}

// NewBaseRepository binds a repository to collection. decode is required; encode is only
// needed for writes.
func NewBaseRepository[T any](provider *Provider, collection string, decode Decoder[T], encode Encoder[T]) *BaseRepository[T] {
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		decode:     decode,
		encode:     encode,
	}
}

// Name returns the collection name.
func (r *BaseRepository[T]) Name() string { return r.collection }

// Get fetches and decodes the document with the given ID.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return zero, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return zero, WrapError(r.op("get"), err)
	}
	value, err := r.decode(snapshot)
	if err != nil {
		return zero, fmt.Errorf("%s: decode document %s: %w", r.op("get"), snapshot.Ref.ID, err)
	}
	return value, nil
}

// Query executes a collection query and returns the decoded documents.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]T, error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	return r.collect(ctx, query.Documents(ctx))
}

// IsEmpty reports whether the collection currently holds no documents.
func (r *BaseRepository[T]) IsEmpty(ctx context.Context) (bool, error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return false, err
	}
	iter := coll.Limit(1).Documents(ctx)
	defer iter.Stop()
	_, err = iter.Next()
	if errors.Is(err, iterator.Done) {
		return true, nil
	}
	if err != nil {
		return false, WrapError(r.op("probe"), err)
	}
	return false, nil
}

// SeedIfEmpty writes values keyed by id in one transaction, unless the collection already
// holds documents. It reports how many documents were written.
func (r *BaseRepository[T]) SeedIfEmpty(ctx context.Context, values map[string]T) (int, error) {
	if r.encode == nil {
		return 0, WrapError(r.op("seed"), errors.New("firestore: encoder is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return 0, err
	}
	payloads := make(map[string]map[string]any, len(values))
	for id, value := range values {
		payload, err := r.encode(value)
		if err != nil {
			return 0, fmt.Errorf("%s: encode document %s: %w", r.op("seed"), id, err)
		}
		payloads[id] = payload
	}

	written := 0
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		written = 0
		iter := tx.Documents(coll.Limit(1))
		_, probeErr := iter.Next()
		iter.Stop()
		if probeErr == nil {
			return nil
		}
		if !errors.Is(probeErr, iterator.Done) {
			return probeErr
		}
		for id, payload := range payloads {
			if err := tx.Set(coll.Doc(id), payload); err != nil {
				return err
			}
			written++
		}
		return nil
	}, WithTxAttempts(seedTxAttempts), WithTxTimeout(seedTxTimeout))
	if err != nil {
		return 0, WrapError(r.op("seed"), err)
	}
	return written, nil
}

func (r *BaseRepository[T]) collect(ctx context.Context, iter *firestore.DocumentIterator) ([]T, error) {
	defer iter.Stop()
	var out []T
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		value, err := r.decode(snapshot)
		if err != nil {
			return nil, fmt.Errorf("%s: decode document %s: %w", r.op("query"), snapshot.Ref.ID, err)
		}
		out = append(out, value)
	}
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, WrapError(r.op("collection"), errors.New("firestore: provider is nil"))
	}
	if r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) documentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && r.collection != "" {
		name = r.collection
	}
	return name + "." + action
}

// MapDecoder returns the raw field map of a snapshot, never nil.
func MapDecoder(snap *firestore.DocumentSnapshot) (map[string]any, error) {
	data := snap.Data()
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
