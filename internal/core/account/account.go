// Package account defines the polled accounts and their file-based repository.
package account

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Account is one platform account this instance polls.
// Accounts are loaded at startup from YAML files, one account per file.
type Account struct {
	// ID is the platform account identifier, unique across the fleet.
	ID string `yaml:"id"`

	// Label is a free-form operator-facing name shown in status output.
	Label string `yaml:"label"`

	// Token is the account's static bearer token. Empty means the
	// process-wide app credentials are exchanged for tokens instead.
	Token string `yaml:"token"`

	// PollTimeoutSeconds overrides the platform-wide long-poll hold.
	// Zero uses the platform default.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`

	// Disabled accounts are loaded and listed but never polled.
	Disabled bool `yaml:"disabled"`
}

// Repository defines the interface for loading polled accounts.
type Repository interface {
	// Get returns the account with the given ID, or an error if not found.
	Get(ctx context.Context, id string) (*Account, error)

	// List returns all loaded accounts, sorted by ID. Disabled accounts
	// are included; filtering is the caller's choice.
	List(ctx context.Context) ([]Account, error)
}

// FileSystemAccountRepository loads accounts from *.yaml files in a directory.
// Each file contains exactly one account at the top level. Accounts are loaded
// once at startup and cached in memory — no hot reload.
type FileSystemAccountRepository struct {
	dir      string
	accounts map[string]Account // keyed by ID
}

// NewFileSystemAccountRepository creates a new repository and eagerly loads
// all accounts from dir. Returns an error if any account file is malformed
// or invalid.
func NewFileSystemAccountRepository(dir string) (*FileSystemAccountRepository, error) {
	repo := &FileSystemAccountRepository{
		dir:      dir,
		accounts: make(map[string]Account),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemAccountRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no accounts directory — valid (zero accounts configured)
	}
	if err != nil {
		return fmt.Errorf("account dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("account path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading account dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading account file %s: %w", path, err)
		}

		var acct Account
		if err := yaml.Unmarshal(data, &acct); err != nil {
			return fmt.Errorf("parsing account file %s: %w", path, err)
		}
		if acct.ID == "" {
			continue // skip empty / comment-only files
		}

		if acct.PollTimeoutSeconds < 0 {
			return fmt.Errorf("account %q: poll_timeout_seconds must not be negative", acct.ID)
		}

		if _, exists := r.accounts[acct.ID]; exists {
			return fmt.Errorf("account %q: duplicate account id (check multiple YAML files)", acct.ID)
		}

		r.accounts[acct.ID] = acct
	}
	return nil
}

// Get returns the account with the given ID, or an error if not found.
func (r *FileSystemAccountRepository) Get(_ context.Context, id string) (*Account, error) {
	acct, ok := r.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %q not found", id)
	}
	return &acct, nil
}

// List returns all loaded accounts sorted by ID.
func (r *FileSystemAccountRepository) List(_ context.Context) ([]Account, error) {
	out := make([]Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
