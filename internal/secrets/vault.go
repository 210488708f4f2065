package secrets

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// VaultStore implements Store using HashiCorp Vault's KV v2 API. Each secret
// is one KV entry whose "value" field holds the secret.
type VaultStore struct {
	address string
	token   string
	mount   string
	path    string
	client  *http.Client
}

// VaultConfig holds configuration for connecting to Vault.
type VaultConfig struct {
	Address  string // e.g. "https://vault.example.com"
	TokenEnv string // env var holding the token, default VAULT_TOKEN
	Mount    string // KV mount, default "secret"
	Path     string // base path within the mount, default "aegisguard"
}

// NewVaultStore creates a Vault-backed secret store.
func NewVaultStore(cfg VaultConfig) (*VaultStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("vault address is not configured")
	}
	if cfg.TokenEnv == "" {
		cfg.TokenEnv = "VAULT_TOKEN"
	}
	token := os.Getenv(cfg.TokenEnv)
	if token == "" {
		return nil, fmt.Errorf("vault token not found in environment variable %s", cfg.TokenEnv)
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}
	if cfg.Path == "" {
		cfg.Path = "aegisguard"
	}

	return &VaultStore{
		address: strings.TrimRight(cfg.Address, "/"),
		token:   token,
		mount:   strings.Trim(cfg.Mount, "/"),
		path:    strings.Trim(cfg.Path, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// do sends one KV request; kind is "data" or "metadata".
func (v *VaultStore) do(method, kind, key string, body any) (*http.Response, error) {
	url := fmt.Sprintf("%s/v1/%s/%s/%s", v.address, v.mount, kind, v.path)
	if key != "" {
		url += "/" + key
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Vault-Token", v.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	return resp, nil
}

// Get reads the "value" field of key.
func (v *VaultStore) Get(key string) (string, error) {
	resp, err := v.do(http.MethodGet, "data", key, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vault returned status %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode vault response: %w", err)
	}

	val, ok := result.Data.Data["value"]
	if !ok {
		return "", fmt.Errorf("secret '%s' has no 'value' field", key)
	}
	return fmt.Sprintf("%v", val), nil
}

// Set writes a new version of key.
func (v *VaultStore) Set(key, value string) error {
	resp, err := v.do(http.MethodPost, "data", key, map[string]any{
		"data": map[string]string{"value": value},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("vault returned status %d", resp.StatusCode)
	}
	return nil
}

// Delete removes key and all its versions.
func (v *VaultStore) Delete(key string) error {
	resp, err := v.do(http.MethodDelete, "metadata", key, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("vault returned status %d", resp.StatusCode)
	}
	return nil
}

// List returns the key names under the base path.
func (v *VaultStore) List() ([]string, error) {
	resp, err := v.do("LIST", "metadata", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []string{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vault returned status %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode vault response: %w", err)
	}
	return result.Data.Keys, nil
}
