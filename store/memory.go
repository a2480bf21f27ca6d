package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/alimasry/go-docwatch/docpath"
	"github.com/alimasry/go-docwatch/docstore"
	"github.com/alimasry/go-docwatch/logger"
	"github.com/alimasry/go-docwatch/reactive"
)

type memRecord[T any] struct {
	data T
	seq  uint64
}

// MemoryCollection is an in-memory implementation of docstore.QueryCollection.
// Changes are delivered to subscribers synchronously, on the writer's goroutine.
type MemoryCollection[T any] struct {
	path   string
	schema docstore.Schema
	log    logger.Logger
	feed   feed

	mu   sync.RWMutex
	docs map[string]*memRecord[T]
	seq  uint64
}

var _ docstore.QueryCollection[Record, MemoryQuery[Record]] = (*MemoryCollection[Record])(nil)

func NewMemoryCollection[T any](path string, schema docstore.Schema, log logger.Logger) *MemoryCollection[T] {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &MemoryCollection[T]{
		path:   path,
		schema: schema,
		log:    log.With(zap.String("backend", "memory"), zap.String("path", path)),
		docs:   make(map[string]*memRecord[T]),
	}
}

func (c *MemoryCollection[T]) Path() string             { return c.path }
func (c *MemoryCollection[T]) Schema() docstore.Schema { return c.schema }

func (c *MemoryCollection[T]) Add(ctx context.Context, data T) (docstore.Doc[T], error) {
	id := ulid.Make().String()
	d := c.Doc(func() string { return id })
	if err := d.Set(ctx, data); err != nil {
		return nil, err
	}
	return d, nil
}

func (c *MemoryCollection[T]) Doc(id func() string) docstore.Doc[T] {
	return &memoryDoc[T]{coll: c, id: id}
}

// GetAll returns the documents matched by query, or all documents when
// query is nil.
func (c *MemoryCollection[T]) GetAll(_ context.Context, query docstore.QueryFunc[MemoryQuery[T]]) ([]docstore.Snapshot[T], error) {
	q := MemoryQuery[T]{}
	if query != nil {
		var ok bool
		if q, ok = query(q); !ok {
			return []docstore.Snapshot[T]{}, nil
		}
	}
	return c.run(q), nil
}

func (c *MemoryCollection[T]) WatchFirst(query docstore.QueryFunc[MemoryQuery[T]], deps ...reactive.Source) *reactive.Handle[docstore.Snapshot[T]] {
	c.log.Debug("watch first subscribe")
	return watchFeed(&c.feed, c.log,
		docstore.Snapshot[T]{Loading: true, Collection: c},
		docstore.Snapshot[T]{Collection: c},
		MemoryQuery[T]{}, query,
		func(q MemoryQuery[T]) (docstore.Snapshot[T], error) { return first(c.run(q.Limit(1)), c), nil },
		deps...)
}

func (c *MemoryCollection[T]) WatchAll(query docstore.QueryFunc[MemoryQuery[T]], deps ...reactive.Source) *reactive.Handle[[]docstore.Snapshot[T]] {
	c.log.Debug("watch all subscribe")
	return watchFeed[MemoryQuery[T], []docstore.Snapshot[T]](&c.feed, c.log, nil, []docstore.Snapshot[T]{}, MemoryQuery[T]{}, query,
		func(q MemoryQuery[T]) ([]docstore.Snapshot[T], error) { return c.run(q), nil },
		deps...)
}

func (c *MemoryCollection[T]) run(q MemoryQuery[T]) []docstore.Snapshot[T] {
	type entry struct {
		id  string
		rec memRecord[T]
	}
	c.mu.RLock()
	entries := make([]entry, 0, len(c.docs))
	for id, rec := range c.docs {
		if q.match(id, rec.data) {
			entries = append(entries, entry{id: id, rec: *rec})
		}
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if q.less != nil {
			a, b := entries[i].rec.data, entries[j].rec.data
			if q.less(a, b) {
				return true
			}
			if q.less(b, a) {
				return false
			}
		}
		return entries[i].rec.seq < entries[j].rec.seq
	})
	if q.limit > 0 && len(entries) > q.limit {
		entries = entries[:q.limit]
	}

	out := make([]docstore.Snapshot[T], len(entries))
	for i, e := range entries {
		data := e.rec.data
		out[i] = c.snapshot(e.id, &data)
	}
	return out
}

func (c *MemoryCollection[T]) snapshot(id string, data *T) docstore.Snapshot[T] {
	return docstore.Snapshot[T]{
		ID:         id,
		Data:       data,
		Doc:        c.Doc(func() string { return id }),
		Collection: c,
	}
}

func (c *MemoryCollection[T]) load(id string) docstore.Snapshot[T] {
	c.mu.RLock()
	rec, ok := c.docs[id]
	var data T
	if ok {
		data = rec.data
	}
	c.mu.RUnlock()
	if !ok {
		return c.snapshot(id, nil)
	}
	return c.snapshot(id, &data)
}

func (c *MemoryCollection[T]) put(id string, data T) {
	c.mu.Lock()
	rec, ok := c.docs[id]
	if !ok {
		c.seq++
		rec = &memRecord[T]{seq: c.seq}
		c.docs[id] = rec
	}
	rec.data = data
	c.mu.Unlock()
	c.feed.notify(id)
}

type memoryDoc[T any] struct {
	coll *MemoryCollection[T]
	id   func() string
}

func (d *memoryDoc[T]) ID() string { return d.id() }

func (d *memoryDoc[T]) Collection() (docstore.Collection[T], error) { return d.coll, nil }

func (d *memoryDoc[T]) Set(_ context.Context, data T) error {
	d.coll.put(d.id(), data)
	return nil
}

func (d *memoryDoc[T]) Get(_ context.Context) (*T, error) {
	return d.coll.load(d.id()).Data, nil
}

func (d *memoryDoc[T]) Watch(deps ...reactive.Source) (*reactive.Handle[docstore.Snapshot[T]], error) {
	return docstore.WatchSubscription[T](d, deps...)
}

func (d *memoryDoc[T]) Subscribe(fn func(docstore.Snapshot[T])) (docstore.Unsubscribe, error) {
	id := d.id()
	log := d.coll.log.With(zap.String("id", id))
	log.Debug("watch doc subscribe")
	unsubscribe, err := subscribeFeed(&d.coll.feed, log,
		docstore.Snapshot[T]{ID: id, Doc: d, Collection: d.coll},
		func() (docstore.Snapshot[T], error) { return d.coll.load(id), nil },
		fn)
	if err != nil {
		return nil, err
	}
	return func() {
		log.Debug("watch doc unsubscribe")
		unsubscribe()
	}, nil
}

func (d *memoryDoc[T]) Update(_ context.Context, fields map[string]any) error {
	id := d.id()
	c := d.coll
	c.mu.Lock()
	rec, ok := c.docs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, docpath.Join(c.path, id))
	}
	merged, err := mergeFields(rec.data, fields)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	rec.data = merged
	c.mu.Unlock()
	c.feed.notify(id)
	return nil
}

func (d *memoryDoc[T]) Delete(_ context.Context) error {
	id := d.id()
	c := d.coll
	c.mu.Lock()
	_, ok := c.docs[id]
	delete(c.docs, id)
	c.mu.Unlock()
	if ok {
		c.feed.notify(id)
	}
	return nil
}

// MemoryQuery is the query builder of MemoryCollection. Builders are values;
// each method returns a modified copy.
type MemoryQuery[T any] struct {
	filters []func(id string, data T) bool
	less    func(a, b T) bool
	limit   int
}

// Where keeps documents for which pred returns true.
func (q MemoryQuery[T]) Where(pred func(id string, data T) bool) MemoryQuery[T] {
	q.filters = append(q.filters[:len(q.filters):len(q.filters)], pred)
	return q
}

// OrderBy sorts results with less. Ties keep insertion order.
func (q MemoryQuery[T]) OrderBy(less func(a, b T) bool) MemoryQuery[T] {
	q.less = less
	return q
}

func (q MemoryQuery[T]) Limit(n int) MemoryQuery[T] {
	q.limit = n
	return q
}

func (q MemoryQuery[T]) match(id string, data T) bool {
	for _, f := range q.filters {
		if !f(id, data) {
			return false
		}
	}
	return true
}
