package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-docwatch/docstore"
)

type person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
	Home struct {
		City string `json:"city"`
	} `json:"home"`
}

func fixedID(id string) func() string { return func() string { return id } }

func TestMemoryCollection_SetAndGet(t *testing.T) {
	c := NewMemoryCollection[person]("people", docstore.Schema{}, nil)
	ctx := context.Background()
	d := c.Doc(fixedID("p1"))

	got, err := d.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, d.Set(ctx, person{Name: "ada", Age: 36}))
	got, err = d.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "ada", got.Name)
	require.Equal(t, 36, got.Age)

	coll, err := d.Collection()
	require.NoError(t, err)
	require.Equal(t, "people", coll.Path())
}

func TestMemoryCollection_AddGeneratesIDs(t *testing.T) {
	c := NewMemoryCollection[person]("people", docstore.Schema{}, nil)
	ctx := context.Background()

	a, err := c.Add(ctx, person{Name: "a"})
	require.NoError(t, err)
	b, err := c.Add(ctx, person{Name: "b"})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID())
	require.NotEqual(t, a.ID(), b.ID())

	all, err := c.GetAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, a.ID(), all[0].ID)
	require.Equal(t, b.ID(), all[1].ID)
}

func TestMemoryCollection_SubscribeDeliversPlaceholderThenData(t *testing.T) {
	c := NewMemoryCollection[person]("people", docstore.Schema{}, nil)
	ctx := context.Background()

	var got []docstore.Snapshot[person]
	unsubscribe, err := c.Doc(fixedID("p1")).Subscribe(func(s docstore.Snapshot[person]) {
		got = append(got, s)
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.True(t, got[0].Loading)
	require.Equal(t, "p1", got[0].ID)
	require.False(t, got[1].Loading)
	require.False(t, got[1].Exists())

	require.NoError(t, c.Doc(fixedID("p1")).Set(ctx, person{Name: "ada"}))
	require.Len(t, got, 3)
	require.True(t, got[2].Exists())
	require.Equal(t, "ada", got[2].Data.Name)

	// Other documents do not reach this subscriber.
	require.NoError(t, c.Doc(fixedID("p2")).Set(ctx, person{Name: "bob"}))
	require.Len(t, got, 3)

	require.NoError(t, c.Doc(fixedID("p1")).Delete(ctx))
	require.Len(t, got, 4)
	require.False(t, got[3].Exists())

	unsubscribe()
	require.NoError(t, c.Doc(fixedID("p1")).Set(ctx, person{Name: "again"}))
	require.Len(t, got, 4)
}

func TestMemoryCollection_Update(t *testing.T) {
	c := NewMemoryCollection[person]("people", docstore.Schema{}, nil)
	ctx := context.Background()
	d := c.Doc(fixedID("p1"))

	err := d.Update(ctx, map[string]any{"age": 1})
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.Set(ctx, person{Name: "ada", Age: 36}))
	require.NoError(t, d.Update(ctx, map[string]any{"age": 37, "home.city": "London"}))

	got, err := d.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "ada", got.Name)
	require.Equal(t, 37, got.Age)
	require.Equal(t, "London", got.Home.City)
}

func TestMemoryCollection_WatchAllFollowsQuery(t *testing.T) {
	c := NewMemoryCollection[person]("people", docstore.Schema{}, nil)
	ctx := context.Background()
	require.NoError(t, c.Doc(fixedID("a")).Set(ctx, person{Name: "a", Age: 30}))
	require.NoError(t, c.Doc(fixedID("b")).Set(ctx, person{Name: "b", Age: 20}))

	adults := func(q MemoryQuery[person]) (MemoryQuery[person], bool) {
		return q.Where(func(_ string, p person) bool { return p.Age >= 18 }).
			OrderBy(func(x, y person) bool { return x.Age < y.Age }), true
	}
	h := c.WatchAll(adults)
	defer h.Stop()
	require.NoError(t, h.Err())

	names := func() []string {
		var out []string
		for _, s := range h.Get() {
			out = append(out, s.Data.Name)
		}
		return out
	}
	require.Equal(t, []string{"b", "a"}, names())

	require.NoError(t, c.Doc(fixedID("c")).Set(ctx, person{Name: "c", Age: 10}))
	require.Equal(t, []string{"b", "a"}, names())

	require.NoError(t, c.Doc(fixedID("c")).Set(ctx, person{Name: "c", Age: 25}))
	require.Equal(t, []string{"b", "c", "a"}, names())

	h.Stop()
	require.NoError(t, c.Doc(fixedID("d")).Set(ctx, person{Name: "d", Age: 40}))
	require.Equal(t, []string{"b", "c", "a"}, names())
}

func TestMemoryCollection_WatchFirst(t *testing.T) {
	c := NewMemoryCollection[person]("people", docstore.Schema{}, nil)
	ctx := context.Background()

	byName := func(name string) docstore.QueryFunc[MemoryQuery[person]] {
		return func(q MemoryQuery[person]) (MemoryQuery[person], bool) {
			if name == "" {
				return q, false
			}
			return q.Where(func(_ string, p person) bool { return p.Name == name }), true
		}
	}

	h := c.WatchFirst(byName("ada"))
	defer h.Stop()
	require.Equal(t, "", h.Get().ID)
	require.False(t, h.Get().Loading)

	require.NoError(t, c.Doc(fixedID("p1")).Set(ctx, person{Name: "ada"}))
	require.Equal(t, "p1", h.Get().ID)

	none := c.WatchFirst(byName(""))
	defer none.Stop()
	require.Equal(t, "", none.Get().ID)
	require.False(t, none.Get().Loading)
}

func TestMemoryCollection_GetAllLimitAndDeclinedQuery(t *testing.T) {
	c := NewMemoryCollection[person]("people", docstore.Schema{}, nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, c.Doc(fixedID(id)).Set(ctx, person{Name: id}))
	}

	two, err := c.GetAll(ctx, func(q MemoryQuery[person]) (MemoryQuery[person], bool) {
		return q.Limit(2), true
	})
	require.NoError(t, err)
	require.Len(t, two, 2)
	require.Equal(t, "a", two[0].ID)

	none, err := c.GetAll(ctx, func(q MemoryQuery[person]) (MemoryQuery[person], bool) {
		return q, false
	})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMemoryCollection_WatchReResolvesDocument(t *testing.T) {
	c := NewMemoryCollection[person]("people", docstore.Schema{}, nil)
	ctx := context.Background()
	require.NoError(t, c.Doc(fixedID("p1")).Set(ctx, person{Name: "ada"}))

	h, err := c.Doc(fixedID("p1")).Watch()
	require.NoError(t, err)
	defer h.Stop()
	require.Equal(t, "ada", h.Get().Data.Name)

	require.NoError(t, c.Doc(fixedID("p1")).Update(ctx, map[string]any{"name": "lovelace"}))
	require.Equal(t, "lovelace", h.Get().Data.Name)
}
