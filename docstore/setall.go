package docstore

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Item is one entry for SetAll. Items without an ID are added with a
// backend-generated id.
type Item[T any] struct {
	ID   string
	Data T
}

// SetAll writes every item to c concurrently and returns the resulting docs
// in input order. The first error cancels the remaining writes' context.
func SetAll[T any](ctx context.Context, c Collection[T], items []Item[T]) ([]Doc[T], error) {
	docs := make([]Doc[T], len(items))
	g, ctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if item.ID == "" {
				d, err := c.Add(ctx, item.Data)
				if err != nil {
					return err
				}
				docs[i] = d
				return nil
			}
			id := item.ID
			d := c.Doc(func() string { return id })
			if err := d.Set(ctx, item.Data); err != nil {
				return err
			}
			docs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
