package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
	ReadTime   time.Time
}

// MutationResult captures the update timestamp returned by Firestore mutations. It is zero for
// writes buffered in a session.
type MutationResult struct {
	UpdateTime time.Time
}

// Encoder serialises the strongly typed entity prior to persistence.
type Encoder[T any] func(ctx context.Context, value T) (any, error)

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(ctx context.Context, snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Matcher reports whether a buffered document belongs to a query's result set. Inside a session,
// buffered writes are merged into query results through it.
type Matcher[T any] func(id string, value T) bool

// BaseRepository provides typed helpers wrapping Firestore collection access. Calls made with a
// context carrying a Session read through the transaction and buffer their writes.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	encode     Encoder[T]
	decode     Decoder[T]
}

// NewBaseRepository constructs a BaseRepository bound to a collection.
func NewBaseRepository[T any](provider *Provider, collection string, encode Encoder[T], decode Decoder[T]) *BaseRepository[T] {
	if encode == nil {
		encode = IdentityEncoder[T]()
	}
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		encode:     encode,
		decode:     decode,
	}
}

// Set upserts the given value under the provided document ID.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T) (MutationResult, error) {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}

	payload, err := r.encode(ctx, value)
	if err != nil {
		return MutationResult{}, fmt.Errorf("firestore: encode document %s: %w", id, err)
	}

	if session, ok := SessionFrom(ctx); ok {
		session.stage(doc, stagedWrite{payload: payload, value: value})
		return MutationResult{}, nil
	}

	result, err := doc.Set(ctx, payload)
	if err != nil {
		return MutationResult{}, WrapError(r.op("set"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Create writes the value only when no document exists under id.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) (MutationResult, error) {
	if _, ok := SessionFrom(ctx); ok {
		if _, err := r.Get(ctx, id); err == nil {
			return MutationResult{}, WrapError(r.op("create"), status.Errorf(codes.AlreadyExists, "document %s already exists", id))
		} else if !isNotFound(err) {
			return MutationResult{}, err
		}
		return r.Set(ctx, id, value)
	}

	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}
	payload, err := r.encode(ctx, value)
	if err != nil {
		return MutationResult{}, fmt.Errorf("firestore: encode document %s: %w", id, err)
	}
	result, err := doc.Create(ctx, payload)
	if err != nil {
		return MutationResult{}, WrapError(r.op("create"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string) error {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return err
	}
	if session, ok := SessionFrom(ctx); ok {
		session.stage(doc, stagedWrite{deleted: true})
		return nil
	}
	if _, err := doc.Delete(ctx); err != nil {
		return WrapError(r.op("delete"), err)
	}
	return nil
}

// Get fetches the document by ID and decodes it into the strongly typed entity.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := r.documentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}

	session, inSession := SessionFrom(ctx)
	if inSession {
		if w, ok := session.lookup(doc); ok {
			if w.deleted {
				return Document[T]{}, WrapError(r.op("get"), status.Errorf(codes.NotFound, "document %s not found", id))
			}
			return Document[T]{ID: id, Data: w.value.(T)}, nil
		}
	}

	var snapshot *firestore.DocumentSnapshot
	if inSession {
		snapshot, err = session.tx.Get(doc)
	} else {
		snapshot, err = doc.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}

	return r.decodeDocument(ctx, snapshot)
}

// Query executes a collection query and returns the decoded documents. Inside a session, buffered
// writes replace stored versions, buffered deletes are dropped and new buffered documents accepted
// by match are appended. Callers that need ordering across merged results must sort them.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder, match Matcher[T]) ([]Document[T], error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	session, inSession := SessionFrom(ctx)
	var iter *firestore.DocumentIterator
	if inSession {
		iter = session.tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var docs []Document[T]
	seen := make(map[string]struct{})
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		seen[snapshot.Ref.ID] = struct{}{}
		if inSession {
			if w, ok := session.lookup(snapshot.Ref); ok {
				if w.deleted {
					continue
				}
				value := w.value.(T)
				if match != nil && !match(snapshot.Ref.ID, value) {
					continue
				}
				docs = append(docs, Document[T]{ID: snapshot.Ref.ID, Data: value})
				continue
			}
		}
		decoded, err := r.decodeDocument(ctx, snapshot)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
		}
		docs = append(docs, decoded)
	}

	if inSession && match != nil {
		for _, w := range session.staged(coll.Path) {
			if _, ok := seen[w.ref.ID]; ok || w.deleted {
				continue
			}
			value := w.value.(T)
			if match(w.ref.ID, value) {
				docs = append(docs, Document[T]{ID: w.ref.ID, Data: value})
			}
		}
	}
	return docs, nil
}

// Count runs an aggregation count over the query outside any session.
func (r *BaseRepository[T]) Count(ctx context.Context, build QueryBuilder) (int64, error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return 0, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	const alias = "total"
	result, err := query.NewAggregationQuery().WithCount(alias).Get(ctx)
	if err != nil {
		return 0, WrapError(r.op("count"), err)
	}
	raw, ok := result[alias]
	if !ok {
		return 0, WrapError(r.op("count"), errors.New("firestore: count result missing"))
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case interface{ GetIntegerValue() int64 }:
		return v.GetIntegerValue(), nil
	default:
		return 0, WrapError(r.op("count"), fmt.Errorf("firestore: unexpected count type %T", raw))
	}
}

func (r *BaseRepository[T]) decodeDocument(ctx context.Context, snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := r.decode(ctx, snapshot)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
		ReadTime:   snapshot.ReadTime,
	}, nil
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
	if r != nil {
		trimmed := strings.TrimSpace(r.collection)
		if trimmed != "" {
			name = trimmed
		}
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

// IdentityEncoder returns an encoder that writes the value unchanged.
func IdentityEncoder[T any]() Encoder[T] {
	return func(_ context.Context, value T) (any, error) {
		return value, nil
	}
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(_ context.Context, snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		if err := snap.DataTo(&target); err != nil {
			return target, err
		}
		return target, nil
	}
}
