// Package redactor scrubs secrets and PII from text before it is written
// anywhere durable, such as logs.
package redactor

import (
	"io"
	"strings"
	"sync"
)

// Scrubber masks structured sensitive data such as PII. It is satisfied by
// the guardrails PII detector.
type Scrubber interface {
	Redact(text string) string
}

// Redactor replaces literal secrets (API keys, webhook secrets) with
// [REDACTED] and then applies an optional Scrubber.
type Redactor struct {
	mu       sync.RWMutex
	secrets  []string
	scrubber Scrubber
}

// minSecretLen skips short values that would match common words.
const minSecretLen = 5

// New creates a new Redactor with an initial list of secrets
func New(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		r.Add(s)
	}
	return r
}

// WithScrubber sets the PII scrubber applied after secret replacement.
func (r *Redactor) WithScrubber(s Scrubber) *Redactor {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrubber = s
	return r
}

// Add adds a secret to the redaction list
func (r *Redactor) Add(secret string) {
	if len(secret) < minSecretLen {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets = append(r.secrets, secret)
}

// Redact replaces all known secrets with [REDACTED] and scrubs PII.
func (r *Redactor) Redact(input string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := input
	for _, secret := range r.secrets {
		if strings.Contains(result, secret) {
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	if r.scrubber != nil {
		result = r.scrubber.Redact(result)
	}
	return result
}

// RedactingWriter wraps an io.Writer and redacts each write.
// Callers should write whole records (one log line per Write); a secret
// split across two writes is not caught.
type RedactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// NewRedactingWriter creates a new writer that scrubs output
func NewRedactingWriter(w io.Writer, r *Redactor) *RedactingWriter {
	return &RedactingWriter{
		writer:   w,
		redactor: r,
	}
}

// Write reports len(p) on success even when redaction changed the length.
func (w *RedactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := io.WriteString(w.writer, redacted); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Sync flushes the underlying writer when it supports it.
func (w *RedactingWriter) Sync() error {
	if s, ok := w.writer.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
