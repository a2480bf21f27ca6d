package store

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"

	"github.com/alimasry/go-docwatch/config"
	"github.com/alimasry/go-docwatch/docstore"
	"github.com/alimasry/go-docwatch/logger"
)

// Backends owns the shared connections behind configured collections.
type Backends struct {
	sqlite    *SqliteDB
	firestore *firestore.Client
}

// Open registers a Record collection in r for every entry of
// cfg.Collections. Connections are opened only for backends in use.
func Open(ctx context.Context, cfg *config.Config, r *docstore.Registry, log logger.Logger) (*Backends, error) {
	b := &Backends{}
	if cfg.Uses(config.BackendSqlite) {
		db, err := OpenSqlite(cfg.Sqlite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", cfg.Sqlite.Path, err)
		}
		b.sqlite = db
	}
	if cfg.Uses(config.BackendFirestore) {
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("open firestore %q: %w", cfg.Firestore.ProjectID, err)
		}
		b.firestore = client
	}

	for _, cc := range cfg.Collections {
		c, err := b.collection(cc, log)
		if err != nil {
			b.Close()
			return nil, err
		}
		docstore.Register(r, c)
		log.Info("collection registered", zap.String("path", cc.Path), zap.String("backend", cc.Backend))
	}
	return b, nil
}

func (b *Backends) collection(cc config.CollectionConfig, log logger.Logger) (docstore.Collection[Record], error) {
	switch cc.Backend {
	case config.BackendMemory:
		return NewMemoryCollection[Record](cc.Path, cc.Schema, log), nil
	case config.BackendSqlite:
		return NewSqliteCollection[Record](b.sqlite, cc.Path, cc.Schema, log), nil
	case config.BackendFirestore:
		c, err := NewFirestoreCollection[Record](b.firestore, cc.Path, cc.Schema, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("collection %q: unknown backend %q", cc.Path, cc.Backend)
	}
}

func (b *Backends) Close() error {
	var errs []error
	if b.sqlite != nil {
		errs = append(errs, b.sqlite.Close())
	}
	if b.firestore != nil {
		errs = append(errs, b.firestore.Close())
	}
	return errors.Join(errs...)
}
