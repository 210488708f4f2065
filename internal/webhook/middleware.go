package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mackeh/AegisGuard/internal/telemetry"
)

// DefaultMaxBodyBytes caps the body read for signature checks.
const DefaultMaxBodyBytes int64 = 1 << 20

// Options configures RequireSignature.
type Options struct {
	Secret   string
	Header   string
	MaxBytes int64
	Logger   *zap.Logger
	// OnReject, if set, runs after a request fails verification.
	OnReject func(r *http.Request, err error)
}

// RequireSignature verifies the raw body of every request before next sees it.
// Unsigned or mis-signed requests get 401. With no secret configured the
// middleware runs in open mode and only logs a warning at construction.
func RequireSignature(opts Options, next http.Handler) http.Handler {
	if opts.Header == "" {
		opts.Header = DefaultHeader
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBodyBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Secret == "" {
		logger.Warn("webhook secret not configured, inbound signatures are not verified")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, opts.MaxBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}

		if err := Authenticate(body, r.Header.Get(opts.Header), opts.Secret); err != nil {
			telemetry.SignatureChecksTotal.WithLabelValues(resultLabel(err)).Inc()
			logger.Warn("rejected inbound webhook",
				zap.Error(err),
				zap.String("remote", r.RemoteAddr),
				zap.Int("body_bytes", len(body)),
			)
			if opts.OnReject != nil {
				opts.OnReject(r, err)
			}
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if opts.Secret == "" {
			telemetry.SignatureChecksTotal.WithLabelValues("open").Inc()
		} else {
			telemetry.SignatureChecksTotal.WithLabelValues("valid").Inc()
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrMissingSignature):
		return "missing"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid"
	default:
		return "error"
	}
}
