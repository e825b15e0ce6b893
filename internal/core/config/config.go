package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tributary-io/tributary/internal/core/account"
	"github.com/tributary-io/tributary/internal/core/backoff"
)

// Config represents the top-level application config plus resolved account-loading config.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Platform PlatformConfig `koanf:"platform"`
	Accounts AccountsConfig `koanf:"accounts"`
	Retry    RetryConfig    `koanf:"retry"`

	// AccountLoading is populated by Load after parsing account files.
	AccountLoading AccountLoadingConfig `koanf:"-"`
}

type ServerConfig struct {
	Enabled bool   `koanf:"enabled"`
	Port    int    `koanf:"port"`
	Host    string `koanf:"host"`
	Mode    string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	Type         string `koanf:"type"` // postgres | sqlite | memory
	DSN          string `koanf:"dsn"`  // postgres connection string
	Path         string `koanf:"path"` // sqlite database file
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type PlatformConfig struct {
	BaseURL            string `koanf:"base_url"`
	PollTimeoutSeconds int    `koanf:"poll_timeout_seconds"`
	BatchSize          int    `koanf:"batch_size"`
	AppID              string `koanf:"app_id"`
	AppSecret          string `koanf:"app_secret"`
}

type AccountsConfig struct {
	ConfigDir       string `koanf:"config_dir"`
	RequireAccounts bool   `koanf:"require_accounts"`
}

type RetryConfig struct {
	InitialDelayMs int     `koanf:"initial_delay_ms"`
	MaxDelayMs     int     `koanf:"max_delay_ms"`
	Factor         float64 `koanf:"factor"`
	Jitter         float64 `koanf:"jitter"`
	MaxRetries     int     `koanf:"max_retries"` // -1 retries forever
	AutoResume     bool    `koanf:"auto_resume"`
	ResumeDelayMs  int     `koanf:"resume_delay_ms"` // 0 falls back to max_delay_ms
}

type AccountLoadingConfig struct {
	ConfigDir string
	Accounts  []account.Account
}

// PollTimeout is the long-poll hold duration requested from the platform.
func (p PlatformConfig) PollTimeout() time.Duration {
	return time.Duration(p.PollTimeoutSeconds) * time.Second
}

// Policy converts the retry section into a backoff policy.
func (r RetryConfig) Policy() backoff.Policy {
	return backoff.Policy{
		InitialDelay: time.Duration(r.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(r.MaxDelayMs) * time.Millisecond,
		Factor:       r.Factor,
		Jitter:       r.Jitter,
		MaxRetries:   r.MaxRetries,
	}
}

// ResumeDelay is the wait before an auto-resume reconnect attempt.
func (r RetryConfig) ResumeDelay() time.Duration {
	return time.Duration(r.ResumeDelayMs) * time.Millisecond
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	switch c.Database.Type {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for database.type postgres")
		}
	case "sqlite":
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required for database.type sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported database.type %q (must be postgres, sqlite or memory)", c.Database.Type)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}

	if strings.TrimSpace(c.Platform.BaseURL) == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	u, err := url.Parse(c.Platform.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid platform.base_url %q (must be an http or https URL)", c.Platform.BaseURL)
	}
	if c.Platform.PollTimeoutSeconds <= 0 {
		return fmt.Errorf("platform.poll_timeout_seconds must be > 0")
	}
	if c.Platform.BatchSize <= 0 {
		return fmt.Errorf("platform.batch_size must be > 0")
	}

	if strings.TrimSpace(c.Accounts.ConfigDir) == "" {
		return fmt.Errorf("accounts.config_dir is required")
	}

	if c.Retry.InitialDelayMs <= 0 {
		return fmt.Errorf("retry.initial_delay_ms must be > 0")
	}
	if c.Retry.MaxDelayMs < c.Retry.InitialDelayMs {
		return fmt.Errorf("retry.max_delay_ms must be >= retry.initial_delay_ms")
	}
	if c.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor must be >= 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be in [0, 1]")
	}
	if c.Retry.MaxRetries < backoff.Unbounded {
		return fmt.Errorf("retry.max_retries must be >= -1")
	}
	if c.Retry.ResumeDelayMs < 0 {
		return fmt.Errorf("retry.resume_delay_ms must be >= 0")
	}

	return nil
}

// Load parses config from file + env, validates it, then loads and validates polled accounts.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.enabled":                true,
		"server.port":                   8080,
		"server.host":                   "0.0.0.0",
		"server.mode":                   "release",
		"database.type":                 "sqlite",
		"database.dsn":                  "",
		"database.path":                 "tributary.db",
		"database.max_open_conns":       25,
		"database.max_idle_conns":       25,
		"database.auto_migrate":         true,
		"platform.base_url":             "",
		"platform.poll_timeout_seconds": 30,
		"platform.batch_size":           100,
		"platform.app_id":               "",
		"platform.app_secret":           "",
		"accounts.config_dir":           "./config/accounts",
		"accounts.require_accounts":     true,
		"retry.initial_delay_ms":        500,
		"retry.max_delay_ms":            60000,
		"retry.factor":                  2.0,
		"retry.jitter":                  0.1,
		"retry.max_retries":             backoff.Unbounded,
		"retry.auto_resume":             false,
		"retry.resume_delay_ms":         0,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TRIBUTARY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "TRIBUTARY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repo, err := account.NewFileSystemAccountRepository(cfg.Accounts.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	accounts, err := repo.List(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	enabled := 0
	for _, acct := range accounts {
		if !acct.Disabled {
			enabled++
		}
	}
	if cfg.Accounts.RequireAccounts && enabled == 0 {
		return nil, fmt.Errorf("no enabled accounts found in %q", cfg.Accounts.ConfigDir)
	}

	cfg.AccountLoading = AccountLoadingConfig{
		ConfigDir: cfg.Accounts.ConfigDir,
		Accounts:  accounts,
	}

	return &cfg, nil
}
