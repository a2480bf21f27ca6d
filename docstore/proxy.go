package docstore

import (
	"context"

	"github.com/alimasry/go-docwatch/docpath"
	"github.com/alimasry/go-docwatch/reactive"
)

// docProxy is a Doc that holds no document state of its own. Each call
// re-evaluates the reference and delegates to the backend doc it names.
type docProxy[T any] struct {
	ref            func() Ref
	registry       *Registry
	collectionPath string
}

var _ Doc[struct{}] = (*docProxy[struct{}])(nil)

func (p *docProxy[T]) locate() (path, id string, err error) {
	var combined string
	expected := p.collectionPath
	if ref := p.ref(); ref != nil {
		combined = ref.RefID()
		if c := ref.RefCollection(); c != "" {
			expected = c
		}
	}
	if expected == "" {
		path, id = docpath.Split(combined)
		return path, id, nil
	}
	return docpath.SplitWithin(combined, expected)
}

func (p *docProxy[T]) target() (Doc[T], error) {
	path, id, err := p.locate()
	if err != nil {
		return nil, err
	}
	c, err := Lookup[T](p.registry, path)
	if err != nil {
		return nil, err
	}
	return c.Doc(func() string { return id }), nil
}

// ID returns the id the reference currently resolves to, or "" if it does
// not parse.
func (p *docProxy[T]) ID() string {
	_, id, err := p.locate()
	if err != nil {
		return ""
	}
	return id
}

func (p *docProxy[T]) Collection() (Collection[T], error) {
	d, err := p.target()
	if err != nil {
		return nil, err
	}
	return d.Collection()
}

func (p *docProxy[T]) Set(ctx context.Context, data T) error {
	d, err := p.target()
	if err != nil {
		return err
	}
	return d.Set(ctx, data)
}

func (p *docProxy[T]) Get(ctx context.Context) (*T, error) {
	d, err := p.target()
	if err != nil {
		return nil, err
	}
	return d.Get(ctx)
}

// Watch re-resolves the reference each time deps change.
func (p *docProxy[T]) Watch(deps ...reactive.Source) (*reactive.Handle[Snapshot[T]], error) {
	return WatchSubscription[T](p, deps...)
}

func (p *docProxy[T]) Subscribe(fn func(Snapshot[T])) (Unsubscribe, error) {
	d, err := p.target()
	if err != nil {
		return nil, err
	}
	return d.Subscribe(fn)
}

func (p *docProxy[T]) Update(ctx context.Context, fields map[string]any) error {
	d, err := p.target()
	if err != nil {
		return err
	}
	return d.Update(ctx, fields)
}

func (p *docProxy[T]) Delete(ctx context.Context) error {
	d, err := p.target()
	if err != nil {
		return err
	}
	return d.Delete(ctx)
}
