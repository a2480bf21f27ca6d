package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync/atomic"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alimasry/go-docwatch/docpath"
	"github.com/alimasry/go-docwatch/docstore"
	"github.com/alimasry/go-docwatch/logger"
	"github.com/alimasry/go-docwatch/reactive"
)

// maxUnpackDepth bounds how deep unpack descends into nested values.
const maxUnpackDepth = 10

// FirestoreCollection is a Firestore-backed implementation of
// docstore.QueryCollection. Queries are expressed with firestore.Query.
type FirestoreCollection[T any] struct {
	ref    *firestore.CollectionRef
	path   string
	schema docstore.Schema
	log    logger.Logger
}

var _ docstore.QueryCollection[Record, firestore.Query] = (*FirestoreCollection[Record])(nil)

// NewFirestoreCollection creates a collection at path, which may name a
// subcollection such as "users/u1/posts".
func NewFirestoreCollection[T any](client *firestore.Client, path string, schema docstore.Schema, log logger.Logger) (*FirestoreCollection[T], error) {
	ref := client.Collection(path)
	if ref == nil {
		return nil, fmt.Errorf("%w: %q is not a Firestore collection path", docpath.ErrInvalidPath, path)
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &FirestoreCollection[T]{
		ref:    ref,
		path:   path,
		schema: schema,
		log:    log.With(zap.String("backend", "firestore"), zap.String("path", path)),
	}, nil
}

func (c *FirestoreCollection[T]) Path() string             { return c.path }
func (c *FirestoreCollection[T]) Schema() docstore.Schema { return c.schema }

func (c *FirestoreCollection[T]) Add(ctx context.Context, data T) (docstore.Doc[T], error) {
	ref, _, err := c.ref.Add(ctx, data)
	if err != nil {
		return nil, err
	}
	id := ref.ID
	return c.Doc(func() string { return id }), nil
}

func (c *FirestoreCollection[T]) Doc(id func() string) docstore.Doc[T] {
	return &firestoreDoc[T]{coll: c, id: id}
}

// GetAll runs query once. A nil query reads the whole collection.
func (c *FirestoreCollection[T]) GetAll(ctx context.Context, query docstore.QueryFunc[firestore.Query]) ([]docstore.Snapshot[T], error) {
	q := c.ref.Query
	if query != nil {
		var ok bool
		if q, ok = query(q); !ok {
			return []docstore.Snapshot[T]{}, nil
		}
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	result := []docstore.Snapshot[T]{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		s, err := c.snapshot(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

func (c *FirestoreCollection[T]) WatchFirst(query docstore.QueryFunc[firestore.Query], deps ...reactive.Source) *reactive.Handle[docstore.Snapshot[T]] {
	c.log.Debug("watch first subscribe")
	return watchQuery(c, docstore.Snapshot[T]{Loading: true, Collection: c}, docstore.Snapshot[T]{Collection: c},
		func(q firestore.Query) firestore.Query { return q.Limit(1) },
		func(snaps []docstore.Snapshot[T]) docstore.Snapshot[T] { return first(snaps, c) },
		query, deps...)
}

func (c *FirestoreCollection[T]) WatchAll(query docstore.QueryFunc[firestore.Query], deps ...reactive.Source) *reactive.Handle[[]docstore.Snapshot[T]] {
	c.log.Debug("watch all subscribe")
	return watchQuery[T, []docstore.Snapshot[T]](c, nil, []docstore.Snapshot[T]{},
		func(q firestore.Query) firestore.Query { return q },
		func(snaps []docstore.Snapshot[T]) []docstore.Snapshot[T] { return snaps },
		query, deps...)
}

// watchQuery listens to the query built by query and shape, publishing each
// result set through pick. The listener is restarted whenever deps change.
func watchQuery[T, R any](c *FirestoreCollection[T], initial, empty R, shape func(firestore.Query) firestore.Query, pick func([]docstore.Snapshot[T]) R, query docstore.QueryFunc[firestore.Query], deps ...reactive.Source) *reactive.Handle[R] {
	return reactive.Derive(initial, func(s *reactive.Scope, set func(R)) error {
		q := c.ref.Query
		if query != nil {
			var ok bool
			if q, ok = query(q); !ok {
				set(empty)
				return nil
			}
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.OnInvalidate(cancel)

		iter := shape(q).Snapshots(ctx)
		go func() {
			defer iter.Stop()
			for {
				qs, err := iter.Next()
				if err != nil {
					if !listenerStopped(ctx, err) {
						c.log.Error("watch query: listener failed", zap.Error(err))
					}
					return
				}
				docs, err := qs.Documents.GetAll()
				if err != nil {
					c.log.Error("watch query: read failed", zap.Error(err))
					continue
				}
				snaps := make([]docstore.Snapshot[T], 0, len(docs))
				for _, d := range docs {
					snap, err := c.snapshot(d)
					if err != nil {
						c.log.Error("watch query: decode failed", zap.String("id", d.Ref.ID), zap.Error(err))
						continue
					}
					snaps = append(snaps, snap)
				}
				if ctx.Err() == nil {
					set(pick(snaps))
				}
			}
		}()
		return nil
	}, deps...)
}

func (c *FirestoreCollection[T]) snapshot(snap *firestore.DocumentSnapshot) (docstore.Snapshot[T], error) {
	id := snap.Ref.ID
	data, err := decode[T](snap)
	if err != nil {
		return docstore.Snapshot[T]{}, err
	}
	return docstore.Snapshot[T]{
		ID:         id,
		Data:       data,
		Doc:        c.Doc(func() string { return id }),
		Collection: c,
	}, nil
}

type firestoreDoc[T any] struct {
	coll *FirestoreCollection[T]
	id   func() string
}

func (d *firestoreDoc[T]) ID() string { return d.id() }

func (d *firestoreDoc[T]) Collection() (docstore.Collection[T], error) { return d.coll, nil }

func (d *firestoreDoc[T]) ref() *firestore.DocumentRef {
	return d.coll.ref.Doc(d.id())
}

func (d *firestoreDoc[T]) Set(ctx context.Context, data T) error {
	_, err := d.ref().Set(ctx, data)
	return err
}

// Get returns nil data, and no error, when the document does not exist.
func (d *firestoreDoc[T]) Get(ctx context.Context) (*T, error) {
	snap, err := d.ref().Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[T](snap)
}

func (d *firestoreDoc[T]) Watch(deps ...reactive.Source) (*reactive.Handle[docstore.Snapshot[T]], error) {
	return docstore.WatchSubscription[T](d, deps...)
}

// Subscribe listens to the document on a background goroutine. fn first
// receives a loading placeholder, synchronously, and then one snapshot per
// server update.
func (d *firestoreDoc[T]) Subscribe(fn func(docstore.Snapshot[T])) (docstore.Unsubscribe, error) {
	id := d.id()
	log := d.coll.log.With(zap.String("id", id))
	log.Debug("watch doc subscribe")
	fn(docstore.Snapshot[T]{ID: id, Loading: true, Doc: d, Collection: d.coll})

	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	iter := d.coll.ref.Doc(id).Snapshots(ctx)
	go func() {
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if !listenerStopped(ctx, err) {
					log.Error("watch doc: listener failed", zap.Error(err))
				}
				return
			}
			s, err := d.coll.snapshot(snap)
			if err != nil {
				log.Error("watch doc: decode failed", zap.Error(err))
				continue
			}
			if done.Load() {
				return
			}
			fn(s)
		}
	}()
	return func() {
		if done.Swap(true) {
			return
		}
		log.Debug("watch doc unsubscribe")
		cancel()
	}, nil
}

// Update applies fields, whose keys may be dotted paths, to an existing
// document.
func (d *firestoreDoc[T]) Update(ctx context.Context, fields map[string]any) error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	updates := make([]firestore.Update, len(keys))
	for i, k := range keys {
		updates[i] = firestore.Update{Path: k, Value: fields[k]}
	}

	_, err := d.ref().Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %q", ErrNotFound, docpath.Join(d.coll.path, d.id()))
	}
	return err
}

func (d *firestoreDoc[T]) Delete(ctx context.Context) error {
	_, err := d.ref().Delete(ctx)
	return err
}

// listenerStopped reports whether err only means the listener was cancelled.
func listenerStopped(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled)
}

// decode reads a snapshot into T. Map-shaped documents get their document
// references replaced by slash-separated paths; other types use DataTo.
func decode[T any](snap *firestore.DocumentSnapshot) (*T, error) {
	if !snap.Exists() {
		return nil, nil
	}
	var out T
	if m, ok := any(&out).(*map[string]any); ok {
		*m = unpack(snap.Data(), 0).(map[string]any)
		return &out, nil
	}
	if err := snap.DataTo(&out); err != nil {
		return nil, fmt.Errorf("decode %q: %w", snap.Ref.ID, err)
	}
	return &out, nil
}

func unpack(v any, depth int) any {
	if depth > maxUnpackDepth {
		return v
	}
	switch x := v.(type) {
	case *firestore.DocumentRef:
		if x == nil {
			return nil
		}
		return refPath(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = unpack(e, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = unpack(e, depth+1)
		}
		return out
	default:
		return v
	}
}

// refPath returns the database-relative path of ref, such as "users/u1".
func refPath(ref *firestore.DocumentRef) string {
	var segs []string
	for d := ref; d != nil; {
		segs = append(segs, d.ID)
		if d.Parent == nil {
			break
		}
		segs = append(segs, d.Parent.ID)
		d = d.Parent.Parent
	}
	slices.Reverse(segs)
	return strings.Join(segs, "/")
}
