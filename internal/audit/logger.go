// Package audit provides tamper-evident logging of guardrail decisions.
//
// Entries are JSON lines chained by SHA-256: each entry stores the hash of
// the previous one. Raw user text is never stored, only its digest.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const genesisHash = "genesis"

// Entry represents a single audit log entry
type Entry struct {
	Timestamp   time.Time      `json:"timestamp"`
	RequestID   string         `json:"request_id,omitempty"`
	Action      string         `json:"action"`
	Channel     string         `json:"channel,omitempty"`
	Decision    string         `json:"decision"`
	Reason      string         `json:"reason,omitempty"`
	Categories  []string       `json:"categories,omitempty"`
	Warnings    int            `json:"warnings,omitempty"`
	InputSHA256 string         `json:"input_sha256,omitempty"`
	InputChars  int            `json:"input_chars,omitempty"`
	Actor       string         `json:"actor,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	PrevHash    string         `json:"prev_hash"`
	Hash        string         `json:"hash,omitempty"`
}

// Logger provides append-only, tamper-evident logging
type Logger struct {
	file     *os.File
	mu       sync.Mutex
	lastHash string
}

// NewLogger opens (or creates) the log at path and resumes its chain.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	l := &Logger{file: file, lastHash: genesisHash}
	entries, err := ReadAll(path)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to resume audit chain: %w", err)
	}
	if n := len(entries); n > 0 {
		l.lastHash = entries[n-1].Hash
	}

	return l, nil
}

// Log appends e to the chain. Timestamp is set when zero; PrevHash and Hash
// are always overwritten.
func (l *Logger) Log(e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.PrevHash = l.lastHash
	e.Hash = ""
	hash, err := computeHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.Hash = hash

	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return Entry{}, fmt.Errorf("failed to write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return Entry{}, fmt.Errorf("failed to sync audit log: %w", err)
	}

	l.lastHash = e.Hash
	return e, nil
}

// Close closes the audit log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashInput returns the hex SHA-256 of text, which is what entries store
// in place of the text itself.
func HashInput(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// computeHash hashes the entry with its Hash field cleared.
func computeHash(e Entry) (string, error) {
	e.Hash = ""
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// ReadAll reads all entries from the log file. A missing file has no entries.
func ReadAll(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	entries := []Entry{}
	for i, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("failed to parse entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ErrTampered is returned by Verify when the chain does not check out.
var ErrTampered = errors.New("audit log tampered")

// Verify recomputes every entry hash and checks each link to its predecessor.
func Verify(path string) (bool, error) {
	entries, err := ReadAll(path)
	if err != nil {
		return false, err
	}

	prevHash := genesisHash
	for i, entry := range entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Errorf("%w: chain broken at entry %d (timestamp: %s)", ErrTampered, i, entry.Timestamp)
		}
		want, err := computeHash(entry)
		if err != nil {
			return false, err
		}
		if entry.Hash != want {
			return false, fmt.Errorf("%w: hash mismatch at entry %d (timestamp: %s)", ErrTampered, i, entry.Timestamp)
		}
		prevHash = entry.Hash
	}

	return true, nil
}
