package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/alimasry/go-docwatch/docpath"
	"github.com/alimasry/go-docwatch/docstore"
	"github.com/alimasry/go-docwatch/logger"
	"github.com/alimasry/go-docwatch/reactive"
)

// SqliteDB holds every SQLite-backed collection in a single database file.
//
// Tables:
//
//	documents(collection, key, data)  PRIMARY KEY (collection, key)
//
// Change notifications are process-local: writes made by another process to
// the same file are not observed by subscribers.
type SqliteDB struct {
	db *sql.DB

	mu    sync.Mutex
	feeds map[string]*feed
}

func OpenSqlite(dbPath string) (*SqliteDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		key TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteDB{db: db, feeds: make(map[string]*feed)}, nil
}

func (s *SqliteDB) Close() error {
	return s.db.Close()
}

func (s *SqliteDB) feed(path string) *feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[path]
	if !ok {
		f = &feed{}
		s.feeds[path] = f
	}
	return f
}

// SqliteCollection stores documents of one collection as JSON rows of a
// SqliteDB.
type SqliteCollection[T any] struct {
	sdb    *SqliteDB
	path   string
	schema docstore.Schema
	log    logger.Logger
	feed   *feed
}

var _ docstore.QueryCollection[Record, SqliteQuery] = (*SqliteCollection[Record])(nil)

func NewSqliteCollection[T any](sdb *SqliteDB, path string, schema docstore.Schema, log logger.Logger) *SqliteCollection[T] {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &SqliteCollection[T]{
		sdb:    sdb,
		path:   path,
		schema: schema,
		log:    log.With(zap.String("backend", "sqlite"), zap.String("path", path)),
		feed:   sdb.feed(path),
	}
}

func (c *SqliteCollection[T]) Path() string             { return c.path }
func (c *SqliteCollection[T]) Schema() docstore.Schema { return c.schema }

func (c *SqliteCollection[T]) Add(ctx context.Context, data T) (docstore.Doc[T], error) {
	id := ulid.Make().String()
	d := c.Doc(func() string { return id })
	if err := d.Set(ctx, data); err != nil {
		return nil, err
	}
	return d, nil
}

func (c *SqliteCollection[T]) Doc(id func() string) docstore.Doc[T] {
	return &sqliteDoc[T]{coll: c, id: id}
}

func (c *SqliteCollection[T]) GetAll(ctx context.Context, query docstore.QueryFunc[SqliteQuery]) ([]docstore.Snapshot[T], error) {
	q := SqliteQuery{}
	if query != nil {
		var ok bool
		if q, ok = query(q); !ok {
			return []docstore.Snapshot[T]{}, nil
		}
	}
	return c.run(ctx, q)
}

func (c *SqliteCollection[T]) WatchFirst(query docstore.QueryFunc[SqliteQuery], deps ...reactive.Source) *reactive.Handle[docstore.Snapshot[T]] {
	c.log.Debug("watch first subscribe")
	return watchFeed(c.feed, c.log,
		docstore.Snapshot[T]{Loading: true, Collection: c},
		docstore.Snapshot[T]{Collection: c},
		SqliteQuery{}, query,
		func(q SqliteQuery) (docstore.Snapshot[T], error) {
			snaps, err := c.run(context.Background(), q.Limit(1))
			if err != nil {
				return docstore.Snapshot[T]{}, err
			}
			return first(snaps, c), nil
		},
		deps...)
}

func (c *SqliteCollection[T]) WatchAll(query docstore.QueryFunc[SqliteQuery], deps ...reactive.Source) *reactive.Handle[[]docstore.Snapshot[T]] {
	c.log.Debug("watch all subscribe")
	return watchFeed[SqliteQuery, []docstore.Snapshot[T]](c.feed, c.log, nil, []docstore.Snapshot[T]{}, SqliteQuery{}, query,
		func(q SqliteQuery) ([]docstore.Snapshot[T], error) { return c.run(context.Background(), q) },
		deps...)
}

func (c *SqliteCollection[T]) run(ctx context.Context, q SqliteQuery) ([]docstore.Snapshot[T], error) {
	stmt, args, err := q.build(c.path)
	if err != nil {
		return nil, err
	}
	rows, err := c.sdb.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []docstore.Snapshot[T]{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		var data T
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return nil, fmt.Errorf("decode %q: %w", docpath.Join(c.path, key), err)
		}
		result = append(result, c.snapshot(key, &data))
	}
	return result, rows.Err()
}

func (c *SqliteCollection[T]) snapshot(id string, data *T) docstore.Snapshot[T] {
	return docstore.Snapshot[T]{
		ID:         id,
		Data:       data,
		Doc:        c.Doc(func() string { return id }),
		Collection: c,
	}
}

func (c *SqliteCollection[T]) load(ctx context.Context, id string) (*T, error) {
	var raw string
	err := c.sdb.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND key = ?", c.path, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var data T
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode %q: %w", docpath.Join(c.path, id), err)
	}
	return &data, nil
}

type sqliteDoc[T any] struct {
	coll *SqliteCollection[T]
	id   func() string
}

func (d *sqliteDoc[T]) ID() string { return d.id() }

func (d *sqliteDoc[T]) Collection() (docstore.Collection[T], error) { return d.coll, nil }

func (d *sqliteDoc[T]) Set(ctx context.Context, data T) error {
	id := d.id()
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = d.coll.sdb.db.ExecContext(ctx,
		`INSERT INTO documents (collection, key, data) VALUES (?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET data = excluded.data`,
		d.coll.path, id, string(raw))
	if err != nil {
		return err
	}
	d.coll.feed.notify(id)
	return nil
}

func (d *sqliteDoc[T]) Get(ctx context.Context) (*T, error) {
	return d.coll.load(ctx, d.id())
}

func (d *sqliteDoc[T]) Watch(deps ...reactive.Source) (*reactive.Handle[docstore.Snapshot[T]], error) {
	return docstore.WatchSubscription[T](d, deps...)
}

func (d *sqliteDoc[T]) Subscribe(fn func(docstore.Snapshot[T])) (docstore.Unsubscribe, error) {
	id := d.id()
	log := d.coll.log.With(zap.String("id", id))
	log.Debug("watch doc subscribe")
	unsubscribe, err := subscribeFeed(d.coll.feed, log,
		docstore.Snapshot[T]{ID: id, Doc: d, Collection: d.coll},
		func() (docstore.Snapshot[T], error) {
			data, err := d.coll.load(context.Background(), id)
			if err != nil {
				return docstore.Snapshot[T]{}, err
			}
			return d.coll.snapshot(id, data), nil
		},
		fn)
	if err != nil {
		return nil, err
	}
	return func() {
		log.Debug("watch doc unsubscribe")
		unsubscribe()
	}, nil
}

func (d *sqliteDoc[T]) Update(ctx context.Context, fields map[string]any) error {
	id := d.id()
	c := d.coll
	tx, err := c.sdb.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND key = ?", c.path, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %q", ErrNotFound, docpath.Join(c.path, id))
	}
	if err != nil {
		return err
	}
	var cur T
	if err := json.Unmarshal([]byte(raw), &cur); err != nil {
		return fmt.Errorf("decode %q: %w", docpath.Join(c.path, id), err)
	}
	merged, err := mergeFields(cur, fields)
	if err != nil {
		return err
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET data = ? WHERE collection = ? AND key = ?", string(out), c.path, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.feed.notify(id)
	return nil
}

func (d *sqliteDoc[T]) Delete(ctx context.Context) error {
	id := d.id()
	res, err := d.coll.sdb.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND key = ?", d.coll.path, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		d.coll.feed.notify(id)
	}
	return nil
}

var (
	sqliteFieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
	sqliteOps          = map[string]bool{"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}
)

// SqliteQuery is the query builder of SqliteCollection. Fields are JSON
// paths into the stored document, such as "name" or "address.city".
type SqliteQuery struct {
	where []string
	args  []any
	order []string
	limit int
	err   error
}

func (q SqliteQuery) Where(field, op string, value any) SqliteQuery {
	if !sqliteFieldPattern.MatchString(field) {
		q.err = fmt.Errorf("sqlite query: invalid field %q", field)
		return q
	}
	if !sqliteOps[op] {
		q.err = fmt.Errorf("sqlite query: unsupported operator %q", op)
		return q
	}
	q.where = append(q.where[:len(q.where):len(q.where)], "json_extract(data, ?) "+op+" ?")
	q.args = append(q.args[:len(q.args):len(q.args)], "$."+field, value)
	return q
}

func (q SqliteQuery) OrderBy(field string, desc bool) SqliteQuery {
	if !sqliteFieldPattern.MatchString(field) {
		q.err = fmt.Errorf("sqlite query: invalid field %q", field)
		return q
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	q.order = append(q.order[:len(q.order):len(q.order)], fmt.Sprintf("json_extract(data, '$.%s') %s", field, dir))
	return q
}

func (q SqliteQuery) Limit(n int) SqliteQuery {
	q.limit = n
	return q
}

func (q SqliteQuery) build(collection string) (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	var b strings.Builder
	b.WriteString("SELECT key, data FROM documents WHERE collection = ?")
	args := append([]any{collection}, q.args...)
	for _, w := range q.where {
		b.WriteString(" AND ")
		b.WriteString(w)
	}
	b.WriteString(" ORDER BY ")
	for _, o := range q.order {
		b.WriteString(o)
		b.WriteString(", ")
	}
	b.WriteString("rowid ASC")
	if q.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.limit)
	}
	return b.String(), args, nil
}
