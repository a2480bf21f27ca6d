// Package docstore maps collection paths to backend implementations and lets
// callers observe documents through them without holding on to a backend.
//
// A Registry is the directory of collections. Documents are addressed by
// references that are resolved lazily, on every operation, so a handle stays
// valid while the reference it was built from changes. WatchDocs merges the
// live snapshots of a changing list of references into one ordered,
// debounced slice.
package docstore

import (
	"context"

	"github.com/alimasry/go-docwatch/reactive"
)

// Ref locates a document. It is one of ID, Reference or Snapshot.
type Ref interface {
	// RefID returns the document id, possibly qualified as "path/id".
	RefID() string
	// RefCollection returns the owning collection path, or "" if unknown.
	RefCollection() string

	isRef()
}

// ID is a bare document id, or a combined "collection/path/id" string.
type ID string

func (id ID) RefID() string         { return string(id) }
func (id ID) RefCollection() string { return "" }
func (ID) isRef()                   {}

// Reference is a document id resolved against a known collection.
type Reference struct {
	ID         string
	Collection string
}

func (r Reference) RefID() string         { return r.ID }
func (r Reference) RefCollection() string { return r.Collection }
func (Reference) isRef()                  {}

// Snapshot is a point-in-time view of a document. Loading and a non-nil Data
// are mutually exclusive; an empty ID means no document. Snapshots are
// replaced on every update and must not be modified once published.
type Snapshot[T any] struct {
	ID         string
	Data       *T
	Loading    bool
	Doc        Doc[T]
	Collection Collection[T]
}

// Exists reports whether the snapshot carries document data.
func (s Snapshot[T]) Exists() bool { return s.Data != nil }

func (s Snapshot[T]) RefID() string { return s.ID }

func (s Snapshot[T]) RefCollection() string {
	if s.Collection == nil {
		return ""
	}
	return s.Collection.Path()
}

func (Snapshot[T]) isRef() {}

// Schema is backend-independent metadata describing a document shape.
type Schema struct {
	DisplayField string        `mapstructure:"displayField" json:"displayField,omitempty"`
	IconURLField string        `mapstructure:"iconUrlField" json:"iconUrlField,omitempty"`
	Fields       []SchemaField `mapstructure:"fields" json:"fields"`
}

// SchemaField describes one document field and how to present it.
type SchemaField struct {
	Name        string `mapstructure:"name" json:"name"`
	Label       string `mapstructure:"label" json:"label,omitempty"`
	Type        string `mapstructure:"type" json:"type,omitempty"`
	Input       string `mapstructure:"input" json:"input,omitempty"`
	Required    bool   `mapstructure:"required" json:"required,omitempty"`
	Placeholder string `mapstructure:"placeholder" json:"placeholder,omitempty"`
	Hint        string `mapstructure:"hint" json:"hint,omitempty"`
}

// Unsubscribe ends a subscription. Calling it more than once is harmless.
type Unsubscribe func()

// Collection is the capability contract every backend implements.
type Collection[T any] interface {
	// Path is the registry key of the collection.
	Path() string
	Schema() Schema
	Add(ctx context.Context, data T) (Doc[T], error)
	// Doc returns a handle whose id is re-evaluated on every operation.
	Doc(id func() string) Doc[T]
}

// QueryFunc refines a backend query. Returning false means there is nothing
// to query.
type QueryFunc[Q any] func(q Q) (Q, bool)

// QueryCollection is a Collection that can watch query results using the
// backend's own query builder Q.
type QueryCollection[T, Q any] interface {
	Collection[T]
	// WatchFirst follows the first document matched by query.
	WatchFirst(query QueryFunc[Q], deps ...reactive.Source) *reactive.Handle[Snapshot[T]]
	// WatchAll follows every document matched by query, or the whole
	// collection when query is nil.
	WatchAll(query QueryFunc[Q], deps ...reactive.Source) *reactive.Handle[[]Snapshot[T]]
}

// Doc is a handle to a single document.
type Doc[T any] interface {
	ID() string
	Collection() (Collection[T], error)
	Set(ctx context.Context, data T) error
	// Get returns nil without error when the document does not exist.
	Get(ctx context.Context) (*T, error)
	// Watch follows the document, re-subscribing whenever deps change.
	Watch(deps ...reactive.Source) (*reactive.Handle[Snapshot[T]], error)
	// Subscribe calls fn once with a loading placeholder before returning,
	// then with every snapshot the backend delivers until unsubscribed.
	Subscribe(fn func(Snapshot[T])) (Unsubscribe, error)
	Update(ctx context.Context, fields map[string]any) error
	Delete(ctx context.Context) error
}
