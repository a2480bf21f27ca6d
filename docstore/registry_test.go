package docstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/alimasry/go-docwatch/docpath"
	"github.com/alimasry/go-docwatch/docstore"
	"github.com/alimasry/go-docwatch/reactive"
	"github.com/alimasry/go-docwatch/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type user struct {
	Name string `json:"name"`
}

type post struct {
	Title string `json:"title"`
}

func newUsers(r *docstore.Registry, path string) *store.MemoryCollection[user] {
	c := store.NewMemoryCollection[user](path, docstore.Schema{DisplayField: "name"}, nil)
	docstore.Register[user](r, c)
	return c
}

func put(t *testing.T, c docstore.Collection[user], id, name string) {
	t.Helper()
	require.NoError(t, c.Doc(func() string { return id }).Set(context.Background(), user{Name: name}))
}

func TestRegistry_LookupReturnsRegisteredInstance(t *testing.T) {
	r := docstore.NewRegistry()
	users := newUsers(r, "users")

	got, err := docstore.Lookup[user](r, "users")
	require.NoError(t, err)
	assert.Same(t, users, got)

	_, err = docstore.Lookup[user](r, "ghosts")
	require.ErrorIs(t, err, docstore.ErrUnknownCollection)

	_, err = docstore.Lookup[post](r, "users")
	require.ErrorIs(t, err, docstore.ErrCollectionType)
}

func TestRegistry_LaterRegistrationWins(t *testing.T) {
	r := docstore.NewRegistry()
	newUsers(r, "users")
	second := newUsers(r, "users")

	got, err := docstore.Lookup[user](r, "users")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Equal(t, []string{"users"}, r.Paths())
}

func TestRegistry_LookupQuery(t *testing.T) {
	r := docstore.NewRegistry()
	newUsers(r, "users")

	qc, err := docstore.LookupQuery[user, store.MemoryQuery[user]](r, "users")
	require.NoError(t, err)
	assert.Equal(t, "users", qc.Path())

	_, err = docstore.LookupQuery[user, store.SqliteQuery](r, "users")
	require.ErrorIs(t, err, docstore.ErrCollectionType)
}

func TestRegistry_PathsSorted(t *testing.T) {
	r := docstore.NewRegistry()
	newUsers(r, "b")
	newUsers(r, "a/x/c")
	newUsers(r, "a")
	assert.Equal(t, []string{"a", "a/x/c", "b"}, r.Paths())
}

func TestDocAt_ResolvesCombinedPath(t *testing.T) {
	r := docstore.NewRegistry()
	nested := newUsers(r, "a/b")
	put(t, nested, "c", "nested")

	d := docstore.DocAt[user](r, func() docstore.Ref { return docstore.ID("a/b/c") }, "")
	assert.Equal(t, "c", d.ID())
	got, err := d.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nested", got.Name)

	coll, err := d.Collection()
	require.NoError(t, err)
	assert.Equal(t, "a/b", coll.Path())
}

func TestDocAt_DefaultCollection(t *testing.T) {
	r := docstore.NewRegistry()
	users := newUsers(r, "users")
	put(t, users, "u1", "ada")
	ctx := context.Background()

	bare := docstore.DocAt[user](r, func() docstore.Ref { return docstore.ID("u1") }, "users")
	got, err := bare.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Name)

	qualified := docstore.DocAt[user](r, func() docstore.Ref { return docstore.ID("users/u1") }, "users")
	got, err = qualified.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Name)

	wrong := docstore.DocAt[user](r, func() docstore.Ref { return docstore.ID("posts/u1") }, "users")
	_, err = wrong.Get(ctx)
	require.ErrorIs(t, err, docpath.ErrInvalidPath)
	assert.Equal(t, "", wrong.ID())
}

func TestDocAt_StructuredReferences(t *testing.T) {
	r := docstore.NewRegistry()
	users := newUsers(r, "users")
	admins := newUsers(r, "admins")
	put(t, users, "u1", "user")
	put(t, admins, "u1", "admin")
	ctx := context.Background()

	d := docstore.DocAt[user](r, func() docstore.Ref {
		return docstore.Reference{ID: "u1", Collection: "admins"}
	}, "users")
	got, err := d.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "admin", got.Name)

	snap := users.Doc(func() string { return "u1" })
	h, err := snap.Watch()
	require.NoError(t, err)
	defer h.Stop()

	fromSnap := docstore.DocAt[user](r, func() docstore.Ref { return h.Get() }, "")
	got, err = fromSnap.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user", got.Name)
}

func TestDocAt_UnknownCollection(t *testing.T) {
	r := docstore.NewRegistry()
	d := docstore.DocAt[user](r, func() docstore.Ref { return docstore.ID("ghosts/g1") }, "")

	_, err := d.Get(context.Background())
	require.ErrorIs(t, err, docstore.ErrUnknownCollection)
	_, err = d.Subscribe(func(docstore.Snapshot[user]) {})
	require.ErrorIs(t, err, docstore.ErrUnknownCollection)
	require.ErrorIs(t, d.Set(context.Background(), user{}), docstore.ErrUnknownCollection)
}

func TestDocAt_FollowsChangingReference(t *testing.T) {
	r := docstore.NewRegistry()
	users := newUsers(r, "users")
	put(t, users, "u1", "ada")
	put(t, users, "u2", "grace")

	current := reactive.NewValue("u1")
	d := docstore.DocAt[user](r, func() docstore.Ref { return docstore.ID(current.Get()) }, "users")

	h, err := d.Watch(current)
	require.NoError(t, err)
	defer h.Stop()
	assert.Equal(t, "ada", h.Get().Data.Name)

	current.Set("u2")
	assert.Equal(t, "u2", d.ID())
	assert.Equal(t, "grace", h.Get().Data.Name)

	// Writes to the old document no longer reach the handle.
	put(t, users, "u1", "lovelace")
	assert.Equal(t, "grace", h.Get().Data.Name)

	put(t, users, "u2", "hopper")
	assert.Equal(t, "hopper", h.Get().Data.Name)
}

func TestDocAt_NilReference(t *testing.T) {
	r := docstore.NewRegistry()
	newUsers(r, "users")
	d := docstore.DocAt[user](r, func() docstore.Ref { return nil }, "users")
	assert.Equal(t, "", d.ID())

	got, err := d.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetAll(t *testing.T) {
	r := docstore.NewRegistry()
	users := newUsers(r, "users")
	ctx := context.Background()

	docs, err := docstore.SetAll[user](ctx, users, []docstore.Item[user]{
		{ID: "u1", Data: user{Name: "ada"}},
		{Data: user{Name: "generated"}},
		{ID: "u3", Data: user{Name: "grace"}},
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "u1", docs[0].ID())
	assert.NotEmpty(t, docs[1].ID())
	assert.Equal(t, "u3", docs[2].ID())

	got, err := docs[1].Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "generated", got.Name)

	all, err := users.GetAll(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRegistry_Schemas(t *testing.T) {
	r := docstore.NewRegistry()
	newUsers(r, "users")
	docstore.Register[post](r, store.NewMemoryCollection[post]("posts", docstore.Schema{DisplayField: "title"}, nil))

	assert.Equal(t, map[string]docstore.Schema{
		"users": {DisplayField: "name"},
		"posts": {DisplayField: "title"},
	}, r.Schemas())
}
