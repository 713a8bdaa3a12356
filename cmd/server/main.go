package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fileshare/internal/server/api"
	"fileshare/internal/server/config"
	"fileshare/internal/server/database"
	"fileshare/internal/server/metrics"
	"fileshare/internal/server/registry"
	"fileshare/internal/server/service"
	"fileshare/internal/server/storage"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()

	cmd := &cobra.Command{
		Use:   "fileshare-server",
		Short: "Ephemeral file sharing server",
		Long: `fileshare-server accepts multi-file uploads, publishes them under an
unguessable share link and deletes them once they expire or, for one-time
shares, once they have been downloaded.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, _ := cmd.Flags().GetString("config"); path != "" {
				v.SetConfigFile(path)
			}
			cfg, err := config.LoadFrom(v)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().String("config", "", "path to a fileshare.yaml config file")
	cmd.Flags().String("port", "", "port to listen on (overrides PORT)")
	cmd.Flags().String("storage", "", "storage directory (overrides STORAGE_PATH)")
	_ = v.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = v.BindPFlag("storage_path", cmd.Flags().Lookup("storage"))

	cobra.OnInitialize(func() {
		// A missing .env is normal outside development.
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
		}
	})

	return cmd
}

func run(cfg *config.Config) error {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.ParseLogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"max_file_size", cfg.MaxFileSize,
		"max_total_size", cfg.MaxTotalSize,
		"default_expiry_seconds", cfg.DefaultExpirySeconds,
		"cleanup_interval", cfg.CleanupInterval,
		"ledger", cfg.DatabaseURL != "",
		"encryption", cfg.EncryptionKey != "",
	)

	ctx := context.Background()

	// Initialize storage
	store := storage.NewFileSystemStore(cfg.StoragePath, storage.Limits{
		MaxFileSize:  cfg.MaxFileSize,
		MaxTotalSize: cfg.MaxTotalSize,
		ChunkSize:    cfg.ChunkSize,
	})
	if cfg.EncryptionKey != "" {
		enc, err := storage.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("invalid encryption key: %w", err)
		}
		store.WithEncryption(enc)
	}
	if err := store.Verify(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	slog.Info("file storage initialized", "path", store.BasePath())

	m := metrics.New()
	hooks := []storage.DestroyHook{service.MetricsHook(m)}

	// Optional ledger
	var (
		ledger service.Ledger
		health api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		slog.Info("database migrations complete")

		repo := database.NewRepository(db)
		closed, err := repo.CloseOrphaned(ctx)
		if err != nil {
			return err
		}
		if closed > 0 {
			slog.Warn("closed ledger rows left open by a previous run", "count", closed)
		}

		ledger = repo
		health = db
		hooks = append(hooks, service.LedgerHook(repo))
	}

	// Registry, cleanup worker and sweeper
	reg := registry.New()
	cleaner := storage.NewCleaner(reg, store, cfg.CleanupQueueSize, hooks...)
	sweeper := storage.NewSweeper(reg, cleaner, cfg.CleanupInterval)

	cleanerCtx, cleanerCancel := context.WithCancel(context.Background())
	defer cleanerCancel()
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()

	cleaner.Start(cleanerCtx)
	if err := sweeper.Start(sweeperCtx); err != nil {
		return err
	}

	svc := service.NewShareService(reg, store, cleaner, cfg, m, ledger)

	// Setup HTTP router
	handler := api.NewHandler(svc, cfg, health)
	e := api.SetupRouter(handler, cfg, m.Registry)

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serverErr:
		slog.Error("server failed", "error", err)
		runErr = err
	}

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the sweeper before the worker so nothing is enqueued after the drain
	sweeperCancel()
	sweeper.Wait()
	cleanerCancel()
	cleaner.Wait()

	slog.Info("server exited cleanly", "remaining_groups", reg.Len())
	return runErr
}
