package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfigAndAccounts(t *testing.T) {
	root := t.TempDir()
	accountsDir := filepath.Join(root, "accounts")
	requireNoError(t, os.MkdirAll(accountsDir, 0o755))

	requireNoError(t, os.WriteFile(filepath.Join(accountsDir, "main.yaml"), []byte(`
id: "acct-main"
label: "Main workspace"
token: "tok-main"
`), 0o644))
	requireNoError(t, os.WriteFile(filepath.Join(accountsDir, "dormant.yaml"), []byte(`
id: "acct-dormant"
token: "tok-dormant"
disabled: true
`), 0o644))

	cfgPath := filepath.Join(root, "tributary.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
server:
  port: 8080
  host: "127.0.0.1"
  mode: "release"
database:
  type: "sqlite"
  path: "%s"
platform:
  base_url: "https://events.example.com"
  poll_timeout_seconds: 15
  batch_size: 250
accounts:
  config_dir: "%s"
retry:
  initial_delay_ms: 250
  max_delay_ms: 30000
  factor: 2.0
  jitter: 0.1
`, filepath.Join(root, "tributary.db"), accountsDir)), 0o644))

	cfg, err := Load(cfgPath)
	requireNoError(t, err)

	if len(cfg.AccountLoading.Accounts) != 2 {
		t.Fatalf("expected 2 loaded accounts, got %d", len(cfg.AccountLoading.Accounts))
	}
	if cfg.Platform.PollTimeout() != 15*time.Second {
		t.Fatalf("expected 15s poll timeout, got %v", cfg.Platform.PollTimeout())
	}
	if cfg.Retry.MaxRetries != -1 {
		t.Fatalf("expected unbounded retries by default, got %d", cfg.Retry.MaxRetries)
	}

	policy := cfg.Retry.Policy()
	if policy.InitialDelay != 250*time.Millisecond {
		t.Fatalf("expected 250ms initial delay, got %v", policy.InitialDelay)
	}
	if policy.MaxDelay != 30*time.Second {
		t.Fatalf("expected 30s max delay, got %v", policy.MaxDelay)
	}
}

func TestLoad_NoEnabledAccountsFailsStartup(t *testing.T) {
	root := t.TempDir()
	accountsDir := filepath.Join(root, "accounts")
	requireNoError(t, os.MkdirAll(accountsDir, 0o755))

	requireNoError(t, os.WriteFile(filepath.Join(accountsDir, "dormant.yaml"), []byte(`
id: "acct-dormant"
token: "tok-dormant"
disabled: true
`), 0o644))

	cfgPath := filepath.Join(root, "tributary.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
platform:
  base_url: "https://events.example.com"
accounts:
  config_dir: "%s"
  require_accounts: true
`, accountsDir)), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "no enabled accounts found") {
		t.Fatalf("expected no enabled accounts error, got %v", err)
	}
}

func TestLoad_MalformedAccountFileFailsStartup(t *testing.T) {
	root := t.TempDir()
	accountsDir := filepath.Join(root, "accounts")
	requireNoError(t, os.MkdirAll(accountsDir, 0o755))

	requireNoError(t, os.WriteFile(filepath.Join(accountsDir, "bad.yaml"), []byte(`
id: [not, a, string]
`), 0o644))

	cfgPath := filepath.Join(root, "tributary.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
platform:
  base_url: "https://events.example.com"
accounts:
  config_dir: "%s"
`, accountsDir)), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "failed to load accounts") {
		t.Fatalf("expected account load error, got %v", err)
	}
}

func TestLoad_InvalidServerPortFailsStartup(t *testing.T) {
	root := t.TempDir()
	accountsDir := filepath.Join(root, "accounts")
	requireNoError(t, os.MkdirAll(accountsDir, 0o755))

	cfgPath := filepath.Join(root, "tributary.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
server:
  port: -1
platform:
  base_url: "https://events.example.com"
accounts:
  config_dir: "%s"
`, accountsDir)), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "invalid server.port") {
		t.Fatalf("expected invalid server.port error, got %v", err)
	}
}

func TestLoad_InvalidDatabaseTypeFailsStartup(t *testing.T) {
	root := t.TempDir()
	accountsDir := filepath.Join(root, "accounts")
	requireNoError(t, os.MkdirAll(accountsDir, 0o755))

	cfgPath := filepath.Join(root, "tributary.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
database:
  type: "oracle"
platform:
  base_url: "https://events.example.com"
accounts:
  config_dir: "%s"
`, accountsDir)), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "unsupported database.type") {
		t.Fatalf("expected unsupported database.type error, got %v", err)
	}
}

func TestLoad_MissingBaseURLFailsStartup(t *testing.T) {
	root := t.TempDir()
	accountsDir := filepath.Join(root, "accounts")
	requireNoError(t, os.MkdirAll(accountsDir, 0o755))

	cfgPath := filepath.Join(root, "tributary.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
accounts:
  config_dir: "%s"
`, accountsDir)), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "platform.base_url is required") {
		t.Fatalf("expected missing base_url error, got %v", err)
	}
}

func TestLoad_InvalidRetryFactorFailsStartup(t *testing.T) {
	root := t.TempDir()
	accountsDir := filepath.Join(root, "accounts")
	requireNoError(t, os.MkdirAll(accountsDir, 0o755))

	cfgPath := filepath.Join(root, "tributary.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
platform:
  base_url: "https://events.example.com"
accounts:
  config_dir: "%s"
retry:
  factor: 0.5
`, accountsDir)), 0o644))

	_, err := Load(cfgPath)
	if err == nil || !strings.Contains(err.Error(), "retry.factor") {
		t.Fatalf("expected retry.factor error, got %v", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	accountsDir := filepath.Join(root, "accounts")
	requireNoError(t, os.MkdirAll(accountsDir, 0o755))

	requireNoError(t, os.WriteFile(filepath.Join(accountsDir, "main.yaml"), []byte(`
id: "acct-main"
token: "tok-main"
`), 0o644))

	cfgPath := filepath.Join(root, "tributary.yaml")
	requireNoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
server:
  port: 8080
platform:
  base_url: "https://events.example.com"
accounts:
  config_dir: "%s"
`, accountsDir)), 0o644))

	t.Setenv("TRIBUTARY_SERVER__PORT", "9090")
	t.Setenv("TRIBUTARY_PLATFORM__BATCH_SIZE", "500")

	cfg, err := Load(cfgPath)
	requireNoError(t, err)

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected env to override server.port, got %d", cfg.Server.Port)
	}
	if cfg.Platform.BatchSize != 500 {
		t.Fatalf("expected env to override platform.batch_size, got %d", cfg.Platform.BatchSize)
	}
}

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
