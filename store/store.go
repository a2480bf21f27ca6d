// Package store provides the backend collections that plug into a
// docstore.Registry: in-memory, SQLite and Firestore.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/alimasry/go-docwatch/docstore"
	"github.com/alimasry/go-docwatch/logger"
	"github.com/alimasry/go-docwatch/reactive"
)

// Record is the document type used for collections defined in configuration.
type Record = map[string]any

// ErrNotFound is returned by Update on a document that does not exist.
var ErrNotFound = errors.New("document not found")

type feedSub struct {
	id    int
	docID string
	fn    func()
}

// feed fans out change notifications for one collection. Subscribers with an
// empty docID hear about every document.
type feed struct {
	mu     sync.Mutex
	nextID int
	subs   []feedSub
}

func (f *feed) subscribe(docID string, fn func()) (cancel func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs = append(f.subs, feedSub{id: id, docID: docID, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, s := range f.subs {
				if s.id == id {
					f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// notify calls, in subscription order, every subscriber interested in docID.
func (f *feed) notify(docID string) {
	f.mu.Lock()
	var fns []func()
	for _, s := range f.subs {
		if s.docID == "" || s.docID == docID {
			fns = append(fns, s.fn)
		}
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// subscribeFeed implements Doc.Subscribe for backends whose changes arrive
// through a feed. load reads the current snapshot of the document. A failed
// initial load ends the subscription; later failures are logged and skipped.
func subscribeFeed[T any](f *feed, log logger.Logger, placeholder docstore.Snapshot[T], load func() (docstore.Snapshot[T], error), fn func(docstore.Snapshot[T])) (docstore.Unsubscribe, error) {
	placeholder.Loading = true
	fn(placeholder)

	var stopped atomic.Bool
	deliver := func() error {
		if stopped.Load() {
			return nil
		}
		snap, err := load()
		if err != nil {
			return err
		}
		fn(snap)
		return nil
	}
	cancel := f.subscribe(placeholder.ID, func() {
		if err := deliver(); err != nil {
			log.Error("watch doc: load failed", zap.String("id", placeholder.ID), zap.Error(err))
		}
	})
	unsubscribe := func() {
		stopped.Store(true)
		cancel()
	}
	if err := deliver(); err != nil {
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}

// watchFeed drives a query handle from a feed: every change in the
// collection re-runs the query. empty is published when query declines.
// Errors from the first run are reported through the handle; later ones are
// logged and the previous result is kept.
func watchFeed[Q, R any](f *feed, log logger.Logger, initial, empty R, base Q, query docstore.QueryFunc[Q], run func(Q) (R, error), deps ...reactive.Source) *reactive.Handle[R] {
	return reactive.Derive(initial, func(s *reactive.Scope, set func(R)) error {
		q := base
		if query != nil {
			var ok bool
			if q, ok = query(base); !ok {
				set(empty)
				return nil
			}
		}

		var stopped atomic.Bool
		refresh := func() error {
			if stopped.Load() {
				return nil
			}
			r, err := run(q)
			if err != nil {
				return err
			}
			set(r)
			return nil
		}
		cancel := f.subscribe("", func() {
			if err := refresh(); err != nil {
				log.Error("watch query: refresh failed", zap.Error(err))
			}
		})
		s.OnInvalidate(func() {
			stopped.Store(true)
			cancel()
		})
		return refresh()
	}, deps...)
}

// first returns the first snapshot of snaps, or the collection's "no
// document" snapshot.
func first[T any](snaps []docstore.Snapshot[T], c docstore.Collection[T]) docstore.Snapshot[T] {
	if len(snaps) == 0 {
		return docstore.Snapshot[T]{Collection: c}
	}
	return snaps[0]
}

// mergeFields applies fields to cur through its JSON form. Keys containing
// dots address nested objects, as in "address.city".
func mergeFields[T any](cur T, fields map[string]any) (T, error) {
	var zero T
	raw, err := json.Marshal(cur)
	if err != nil {
		return zero, fmt.Errorf("encode document: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return zero, fmt.Errorf("document is not an object: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		setPath(m, strings.Split(k, "."), fields[k])
	}

	raw, err = json.Marshal(m)
	if err != nil {
		return zero, fmt.Errorf("encode fields: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func setPath(m map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}
