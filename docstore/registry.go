package docstore

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/alimasry/go-docwatch/logger"
)

// Registry is a directory of collections keyed by path. Registries are plain
// values: build one per process, or one per test.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]any
	logger      logger.Logger
}

type RegistryOption func(*Registry)

// WithLogger sets the logger used by the registry and the watches it creates.
func WithLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		collections: make(map[string]any),
		logger:      logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores c under c.Path(). A collection already registered at that
// path is replaced.
func Register[T any](r *Registry, c Collection[T]) {
	path := c.Path()
	r.mu.Lock()
	_, replaced := r.collections[path]
	r.collections[path] = c
	r.mu.Unlock()

	if replaced {
		r.logger.Debug("collection replaced", zap.String("path", path))
	}
}

// Lookup returns the collection registered at path.
func Lookup[T any](r *Registry, path string) (Collection[T], error) {
	r.mu.RLock()
	c, ok := r.collections[path]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, path)
	}
	typed, ok := c.(Collection[T])
	if !ok {
		return nil, fmt.Errorf("%w: %q holds %T", ErrCollectionType, path, c)
	}
	return typed, nil
}

// LookupQuery returns the collection registered at path along with its query
// capability for the builder type Q.
func LookupQuery[T, Q any](r *Registry, path string) (QueryCollection[T, Q], error) {
	c, err := Lookup[T](r, path)
	if err != nil {
		return nil, err
	}
	qc, ok := c.(QueryCollection[T, Q])
	if !ok {
		return nil, fmt.Errorf("%w: %q does not support %T queries", ErrCollectionType, path, *new(Q))
	}
	return qc, nil
}

// Paths returns the registered collection paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	paths := make([]string, 0, len(r.collections))
	for p := range r.collections {
		paths = append(paths, p)
	}
	r.mu.RUnlock()
	sort.Strings(paths)
	return paths
}

// Schemas returns the schema of every registered collection, keyed by path.
func (r *Registry) Schemas() map[string]Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Schema, len(r.collections))
	for p, c := range r.collections {
		if s, ok := c.(interface{ Schema() Schema }); ok {
			out[p] = s.Schema()
		}
	}
	return out
}

// DocAt returns a Doc that resolves ref against the registry on every
// operation. collectionPath, when not empty, is the collection bare ids
// belong to and the only one qualified ids may name.
func DocAt[T any](r *Registry, ref func() Ref, collectionPath string) Doc[T] {
	return &docProxy[T]{
		ref:            ref,
		registry:       r,
		collectionPath: collectionPath,
	}
}
