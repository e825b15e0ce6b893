package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	corecfg "github.com/tributary-io/tributary/internal/core/config"
	"github.com/tributary-io/tributary/internal/core/storage"
	"github.com/tributary-io/tributary/internal/core/storage/memory"
	"github.com/tributary-io/tributary/internal/core/storage/postgres"
	"github.com/tributary-io/tributary/internal/core/storage/sqlite"
	"github.com/tributary-io/tributary/internal/dispatch"
	"github.com/tributary-io/tributary/internal/migrations"
	"github.com/tributary-io/tributary/internal/poller"
	"github.com/tributary-io/tributary/internal/server"
	"github.com/tributary-io/tributary/internal/supervisor"
	"github.com/tributary-io/tributary/internal/transport/longpoll"
)

func main() {
	configPath := flag.String("config", "tributary.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"database_type", cfg.Database.Type,
		"platform", cfg.Platform.BaseURL,
		"accounts", len(cfg.AccountLoading.Accounts))

	// 2. Initialize Offset Store
	offsets, closeStore, err := openOffsetStore(cfg.Database)
	if err != nil {
		slog.Error("Failed to initialize offset store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// 3. Event sink: NDJSON on stdout, routed by event type. Logs go to
	// stderr so the event stream stays clean for piping.
	sink := dispatch.NewJSONLines(os.Stdout)
	router := dispatch.NewRouter().Fallback(sink)

	// 4. Shared app credentials for accounts without a static token.
	var exchange longpoll.CredentialProvider
	if cfg.Platform.AppID != "" && cfg.Platform.AppSecret != "" {
		exchange = longpoll.NewExchangeProvider(cfg.Platform.BaseURL, cfg.Platform.AppID, cfg.Platform.AppSecret, nil)
	}

	// 5. One polling session per enabled account.
	sup := supervisor.New()
	sup.OnError(func(accountID string, err error) {
		slog.Error("Session error", "account_id", accountID, "error", err)
	})

	enabled := 0
	for _, acct := range cfg.AccountLoading.Accounts {
		if acct.Disabled {
			slog.Info("Skipping disabled account", "account_id", acct.ID)
			continue
		}

		var creds longpoll.CredentialProvider
		switch {
		case acct.Token != "":
			creds = longpoll.NewStaticTokenProvider(acct.Token)
		case exchange != nil:
			creds = exchange
		default:
			slog.Error("Account has no token and platform.app_id/app_secret are not configured",
				"account_id", acct.ID)
			os.Exit(1)
		}

		tr, err := longpoll.NewClient(longpoll.Config{
			BaseURL:     cfg.Platform.BaseURL,
			AccountID:   acct.ID,
			Limit:       cfg.Platform.BatchSize,
			Credentials: creds,
		})
		if err != nil {
			slog.Error("Failed to build transport", "account_id", acct.ID, "error", err)
			os.Exit(1)
		}

		pollTimeout := cfg.Platform.PollTimeout()
		if acct.PollTimeoutSeconds > 0 {
			pollTimeout = time.Duration(acct.PollTimeoutSeconds) * time.Second
		}

		session, err := poller.New(poller.Config{
			AccountID:   acct.ID,
			Transport:   tr,
			Offsets:     offsets,
			Backoff:     cfg.Retry.Policy(),
			PollTimeout: pollTimeout,
			AutoResume:  cfg.Retry.AutoResume,
			ResumeDelay: cfg.Retry.ResumeDelay(),
		})
		if err != nil {
			slog.Error("Failed to build polling session", "account_id", acct.ID, "error", err)
			os.Exit(1)
		}
		session.OnEvent(router)

		if err := sup.Register(acct.ID, session); err != nil {
			slog.Error("Failed to register account", "account_id", acct.ID, "error", err)
			os.Exit(1)
		}
		enabled++
	}

	if enabled == 0 {
		slog.Error("No enabled accounts to poll", "config_dir", cfg.AccountLoading.ConfigDir)
		os.Exit(1)
	}

	// 6. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// Sessions start in the background; a failing account does not take the
	// process down with it.
	go func() {
		if err := sup.Start(ctx); err != nil {
			slog.Error("One or more sessions failed to start", "error", err)
		}
	}()

	// HTTP control server blocks until ctx is cancelled.
	if cfg.Server.Enabled {
		srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), sup, cfg.Server.Mode)
		if err := srv.Run(ctx); err != nil {
			slog.Error("Server stopped with error", "error", err)
		}
	} else {
		<-ctx.Done()
	}

	sup.Stop()
	slog.Info("Shutdown complete")
}

// openOffsetStore builds the durable cursor store selected by config and
// returns it with its cleanup function.
func openOffsetStore(cfg corecfg.DatabaseConfig) (storage.OffsetStore, func(), error) {
	switch cfg.Type {
	case "postgres":
		db, err := postgres.Open(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunMigrations(db, "postgres", cfg.AutoMigrate); err != nil {
			db.Close()
			return nil, nil, err
		}
		adapter, err := postgres.NewAdapter(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return adapter, func() { adapter.Close() }, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunMigrations(db, "sqlite", cfg.AutoMigrate); err != nil {
			db.Close()
			return nil, nil, err
		}
		store := sqlite.NewStore(db)
		return store, func() { store.Close() }, nil

	case "memory":
		slog.Warn("Using in-memory offset store; cursors will not survive a restart")
		return memory.NewStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
