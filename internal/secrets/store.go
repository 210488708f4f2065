package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mackeh/AegisGuard/internal/config"
)

// Store defines the interface for pluggable secret backends.
type Store interface {
	// Get retrieves a secret by key. Missing keys wrap ErrNotFound.
	Get(key string) (string, error)

	// Set stores a secret.
	Set(key string, value string) error

	// Delete removes a secret.
	Delete(key string) error

	// List returns all secret key names (not values).
	List() ([]string, error)
}

// AgeStore is the local age-encrypted backend.
type AgeStore struct {
	*Manager
}

// NewAgeStore creates a Store backed by age encryption in configDir.
func NewAgeStore(configDir string) *AgeStore {
	return &AgeStore{Manager: NewManager(configDir)}
}

// Open returns the backend cfg selects.
func Open(cfg config.SecretsConfig, configDir string) (Store, error) {
	switch cfg.Backend {
	case "", "age":
		return NewAgeStore(configDir), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:  cfg.VaultAddr,
			TokenEnv: cfg.VaultTokenEnv,
			Mount:    cfg.VaultMount,
		})
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}

// Source says where Resolve found a value.
type Source string

const (
	SourceEnv   Source = "env"
	SourceStore Source = "store"
	SourceNone  Source = "none"
)

// Resolve looks a secret up in the environment variable envName first, then
// under key in store. Finding nothing is not an error: callers decide
// whether an empty secret is acceptable.
func Resolve(envName, key string, store Store) (string, Source, error) {
	if envName != "" {
		if v := os.Getenv(envName); v != "" {
			return v, SourceEnv, nil
		}
	}
	if store == nil || key == "" {
		return "", SourceNone, nil
	}

	v, err := store.Get(key)
	switch {
	case err == nil:
		return v, SourceStore, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return "", SourceNone, nil
	default:
		return "", SourceNone, fmt.Errorf("failed to read secret %q: %w", key, err)
	}
}

// Dir is where the age store lives under a config dir.
func Dir(configDir string) string {
	return filepath.Join(configDir, "secrets")
}
