// Package config contains the configuration of the docwatch server.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/alimasry/go-docwatch/docstore"
)

const (
	BackendMemory    = "memory"
	BackendSqlite    = "sqlite"
	BackendFirestore = "firestore"
)

type LogConfig struct {
	// Format is the log format: 'text' or 'json'.
	Format string

	// Level is the log level: 'none', 'debug', 'info', 'warn' or 'error'.
	Level string
}

type HTTPConfig struct {
	Addr string
}

type WatchConfig struct {
	// Debounce is the quiet period before updates to a document list are
	// published.
	Debounce time.Duration
}

type FirestoreConfig struct {
	ProjectID string `mapstructure:"projectId"`
}

type SqliteConfig struct {
	Path string
}

// CollectionConfig declares one collection to register at startup.
type CollectionConfig struct {
	Path    string
	Backend string
	Schema  docstore.Schema
}

type Config struct {
	Log         LogConfig
	HTTP        HTTPConfig
	Watch       WatchConfig
	Firestore   FirestoreConfig
	Sqlite      SqliteConfig
	Collections []CollectionConfig
}

// DefaultConfig returns the configuration used when no value is provided.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Watch: WatchConfig{
			Debounce: docstore.DefaultDebounce,
		},
		Sqlite: SqliteConfig{
			Path: "data/docwatch.db",
		},
	}
}

// Verify checks the configuration for values that cannot work together.
func (c *Config) Verify() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr must be set")
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce)
	}

	seen := make(map[string]bool, len(c.Collections))
	for i, coll := range c.Collections {
		if coll.Path == "" {
			return fmt.Errorf("collections[%d]: path must be set", i)
		}
		if seen[coll.Path] {
			return fmt.Errorf("collections[%d]: duplicate path %q", i, coll.Path)
		}
		seen[coll.Path] = true

		switch coll.Backend {
		case BackendMemory:
		case BackendSqlite:
			if c.Sqlite.Path == "" {
				return fmt.Errorf("collections[%d]: sqlite backend requires sqlite.path", i)
			}
		case BackendFirestore:
			if c.Firestore.ProjectID == "" {
				return fmt.Errorf("collections[%d]: firestore backend requires firestore.projectId", i)
			}
		default:
			return fmt.Errorf("collections[%d]: unknown backend %q (expected %s, %s or %s)",
				i, coll.Backend, BackendMemory, BackendSqlite, BackendFirestore)
		}
	}
	return nil
}

// Uses reports whether any collection is stored in backend.
func (c *Config) Uses(backend string) bool {
	for _, coll := range c.Collections {
		if coll.Backend == backend {
			return true
		}
	}
	return false
}
