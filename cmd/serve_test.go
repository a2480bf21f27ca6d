package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/alimasry/go-docwatch/config"
	"github.com/alimasry/go-docwatch/logger"
)

const testConfig = `
log:
  format: json
http:
  addr: ":9999"
watch:
  debounce: 250ms
collections:
  - path: users
    backend: memory
    schema:
      displayField: name
      fields:
        - name: name
          label: Name
          required: true
  - path: posts
    backend: sqlite
`

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestReadConfig_Defaults(t *testing.T) {
	resetViper(t)
	NewRootCommand()
	NewServeCommand()
	cfg, err := ReadConfig()
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig().HTTP.Addr, cfg.HTTP.Addr)
	require.Equal(t, config.DefaultConfig().Watch.Debounce, cfg.Watch.Debounce)
}

func TestReadConfig_FromFile(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	NewRootCommand()
	NewServeCommand()
	viper.SetConfigFile(path)

	cfg, err := ReadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Verify())

	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, ":9999", cfg.HTTP.Addr)
	require.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	require.Len(t, cfg.Collections, 2)
	require.Equal(t, "users", cfg.Collections[0].Path)
	require.Equal(t, config.BackendMemory, cfg.Collections[0].Backend)
	require.Equal(t, "name", cfg.Collections[0].Schema.DisplayField)
	require.Len(t, cfg.Collections[0].Schema.Fields, 1)
	require.True(t, cfg.Collections[0].Schema.Fields[0].Required)
	require.Equal(t, config.BackendSqlite, cfg.Collections[1].Backend)
}

func TestReadConfig_FlagsAndEnvOverrideFile(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	t.Setenv("DOCWATCH_LOG_LEVEL", "debug")

	NewRootCommand()
	serveCmd := NewServeCommand()
	viper.SetConfigFile(path)
	require.NoError(t, serveCmd.Flags().Set("http-addr", ":7777"))

	cfg, err := ReadConfig()
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.HTTP.Addr)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Sqlite.Path = filepath.Join(t.TempDir(), "docwatch.db")
	cfg.Collections = []config.CollectionConfig{
		{Path: "users", Backend: config.BackendMemory},
		{Path: "posts", Backend: config.BackendSqlite},
	}
	require.NoError(t, cfg.Verify())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, cfg, logger.NewNoopLogger()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := NewVersionCommand()
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "docwatch dev")
}
