// Package secrets keeps deployment secrets such as the webhook signing key
// and API tokens out of the config file. The default backend is an
// age-encrypted YAML map under the config dir; Vault KV v2 is the alternative.
package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"filippo.io/age"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("secret not found")

// Manager handles secret encryption and storage
type Manager struct {
	configDir   string
	keyFile     string
	secretsFile string

	mu sync.Mutex
}

// NewManager creates a new secrets manager
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:   configDir,
		keyFile:     filepath.Join(configDir, "keys.txt"),
		secretsFile: filepath.Join(configDir, "secrets.age"),
	}
}

// Init generates a new age Identity (keypair) if one doesn't exist
// and returns its public recipient.
func (m *Manager) Init() (string, error) {
	if _, err := os.Stat(m.keyFile); err == nil {
		return "", fmt.Errorf("keys already exist at %s", m.keyFile)
	}
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("failed to generate identity: %w", err)
	}

	content := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
	if err := os.WriteFile(m.keyFile, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("failed to write key file: %w", err)
	}
	return identity.Recipient().String(), nil
}

// Recipient returns the public key for the managed identity.
func (m *Manager) Recipient() (string, error) {
	id, err := m.identity()
	if err != nil {
		return "", err
	}
	return id.Recipient().String(), nil
}

func (m *Manager) identity() (*age.X25519Identity, error) {
	f, err := os.Open(m.keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load keys (did you run 'secrets init'?): %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", m.keyFile, err)
	}
	for _, id := range ids {
		if x, ok := id.(*age.X25519Identity); ok {
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity in %s", m.keyFile)
}

// Get returns the value stored under key.
func (m *Manager) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.loadAll()
	if err != nil {
		return "", err
	}
	v, ok := all[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

// Set stores value under key, re-encrypting the whole map.
func (m *Manager) Set(key, value string) error {
	if key == "" {
		return errors.New("secret key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.loadAll()
	if err != nil {
		return err
	}
	all[key] = value
	return m.saveAll(all)
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.loadAll()
	if err != nil {
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	return m.saveAll(all)
}

// List returns the stored key names in sorted order.
func (m *Manager) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.loadAll()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Manager) loadAll() (map[string]string, error) {
	id, err := m.identity()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(m.secretsFile)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), id)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secrets: %w", err)
	}

	all := map[string]string{}
	if err := yaml.Unmarshal(plain, &all); err != nil {
		return nil, fmt.Errorf("failed to parse secrets: %w", err)
	}
	return all, nil
}

func (m *Manager) saveAll(all map[string]string) error {
	id, err := m.identity()
	if err != nil {
		return err
	}

	plain, err := yaml.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, id.Recipient())
	if err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}

	// Write then rename so a crash never leaves a half-written file.
	tmp := m.secretsFile + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write secrets: %w", err)
	}
	return os.Rename(tmp, m.secretsFile)
}
