package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Verify())
	require.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing_addr",
			mutate:  func(c *Config) { c.HTTP.Addr = "" },
			wantErr: "http.addr",
		},
		{
			name:    "negative_debounce",
			mutate:  func(c *Config) { c.Watch.Debounce = -time.Second },
			wantErr: "watch.debounce",
		},
		{
			name: "collection_without_path",
			mutate: func(c *Config) {
				c.Collections = []CollectionConfig{{Backend: BackendMemory}}
			},
			wantErr: "path must be set",
		},
		{
			name: "duplicate_path",
			mutate: func(c *Config) {
				c.Collections = []CollectionConfig{
					{Path: "users", Backend: BackendMemory},
					{Path: "users", Backend: BackendSqlite},
				}
			},
			wantErr: "duplicate path",
		},
		{
			name: "unknown_backend",
			mutate: func(c *Config) {
				c.Collections = []CollectionConfig{{Path: "users", Backend: "redis"}}
			},
			wantErr: "unknown backend",
		},
		{
			name: "firestore_without_project",
			mutate: func(c *Config) {
				c.Collections = []CollectionConfig{{Path: "users", Backend: BackendFirestore}}
			},
			wantErr: "firestore.projectId",
		},
		{
			name: "sqlite_without_path",
			mutate: func(c *Config) {
				c.Sqlite.Path = ""
				c.Collections = []CollectionConfig{{Path: "users", Backend: BackendSqlite}}
			},
			wantErr: "sqlite.path",
		},
		{
			name: "valid_mix",
			mutate: func(c *Config) {
				c.Firestore.ProjectID = "demo"
				c.Collections = []CollectionConfig{
					{Path: "users", Backend: BackendMemory},
					{Path: "posts", Backend: BackendSqlite},
					{Path: "users/u1/likes", Backend: BackendFirestore},
				}
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.mutate(cfg)
			err := cfg.Verify()
			if test.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, test.wantErr)
		})
	}
}

func TestUses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Collections = []CollectionConfig{{Path: "users", Backend: BackendSqlite}}
	require.True(t, cfg.Uses(BackendSqlite))
	require.False(t, cfg.Uses(BackendFirestore))
}
