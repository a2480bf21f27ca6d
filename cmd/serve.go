package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/alimasry/go-docwatch/config"
	"github.com/alimasry/go-docwatch/docstore"
	"github.com/alimasry/go-docwatch/logger"
	"github.com/alimasry/go-docwatch/server"
	"github.com/alimasry/go-docwatch/store"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the docwatch server",
		Long:  "Run the docwatch server. Collections are declared in the config file.",
		RunE:  serve,
		Args:  cobra.NoArgs,
	}
	bindServeFlags(cmd)
	return cmd
}

// bindServeFlags binds the cobra cmd flags to the equivalent config value
// being managed by viper.
func bindServeFlags(command *cobra.Command) {
	defaultConfig := config.DefaultConfig()
	flags := command.Flags()

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output: 'text' or 'json'")
	MustBindPFlag("log.format", flags.Lookup("log-format"))
	MustBindEnv("log.format", "DOCWATCH_LOG_FORMAT")

	flags.String("log-level", defaultConfig.Log.Level, "the log level: 'none', 'debug', 'info', 'warn' or 'error'")
	MustBindPFlag("log.level", flags.Lookup("log-level"))
	MustBindEnv("log.level", "DOCWATCH_LOG_LEVEL")

	flags.String("http-addr", defaultConfig.HTTP.Addr, "the host:port address to serve the WebSocket endpoint on")
	MustBindPFlag("http.addr", flags.Lookup("http-addr"))
	MustBindEnv("http.addr", "DOCWATCH_HTTP_ADDR")

	flags.Duration("watch-debounce", defaultConfig.Watch.Debounce, "the quiet period before document list updates are published")
	MustBindPFlag("watch.debounce", flags.Lookup("watch-debounce"))
	MustBindEnv("watch.debounce", "DOCWATCH_WATCH_DEBOUNCE")

	flags.String("firestore-project-id", defaultConfig.Firestore.ProjectID, "the Google Cloud project of Firestore-backed collections")
	MustBindPFlag("firestore.projectId", flags.Lookup("firestore-project-id"))
	MustBindEnv("firestore.projectId", "DOCWATCH_FIRESTORE_PROJECT_ID")

	flags.String("sqlite-path", defaultConfig.Sqlite.Path, "the database file of SQLite-backed collections")
	MustBindPFlag("sqlite.path", flags.Lookup("sqlite-path"))
	MustBindEnv("sqlite.path", "DOCWATCH_SQLITE_PATH")
}

// ReadConfig returns the configuration assembled from defaults, the config
// file, environment variables and flags. A missing config file is not an
// error.
func ReadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()

	viper.SetTypeByDefaultValue(true)
	err := viper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func serve(_ *cobra.Command, _ []string) error {
	cfg, err := ReadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Verify(); err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, log)
}

// run serves until ctx is done.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	registry := docstore.NewRegistry(docstore.WithLogger(log))
	backends, err := store.Open(ctx, cfg, registry, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Error("failed to close backends", zap.Error(err))
		}
	}()

	hub := server.NewHub(registry, server.WithLogger(log), server.WithDebounce(cfg.Watch.Debounce))
	go hub.Run()
	defer hub.Close()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           server.NewHandler(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", cfg.HTTP.Addr), zap.Strings("collections", registry.Paths()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
