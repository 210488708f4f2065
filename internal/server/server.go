package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/mackeh/AegisGuard/internal/config"
	"github.com/mackeh/AegisGuard/internal/egress"
	"github.com/mackeh/AegisGuard/internal/guardrails"
	"github.com/mackeh/AegisGuard/internal/notifications"
	"github.com/mackeh/AegisGuard/internal/pipeline"
	"github.com/mackeh/AegisGuard/internal/telemetry"
	"github.com/mackeh/AegisGuard/internal/webhook"
)

// DefaultWebhookSession is the session id given to inbound webhooks that name none.
const DefaultWebhookSession = "webhook-default"

const callbackTimeout = 10 * time.Second

// Options wires a Server. A nil Pipeline screens with the default engine
// and the echo generator.
type Options struct {
	Config        config.ServerConfig
	Pipeline      *pipeline.Handler
	Hub           *Hub
	Notifier      *notifications.Dispatcher
	WebhookSecret string
	WebhookHeader string
	// MaxChars caps text per channel on /v1/check/input.
	MaxChars      func(channel string) int
	MinConfidence float64
	// Callbacks restricts callback_url hosts. Nil admits any host once a
	// webhook secret is set; in open mode callbacks need a non-empty list.
	Callbacks     *egress.Allowlist
	Logger        *zap.Logger
}

// Server serves the guardrail API.
type Server struct {
	opts      Options
	engine    *guardrails.Engine
	callbacks *http.Client
	wg        sync.WaitGroup
}

// New creates a Server, filling unset options with defaults.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	if opts.WebhookHeader == "" {
		opts.WebhookHeader = webhook.DefaultHeader
	}
	if opts.MaxChars == nil {
		opts.MaxChars = func(string) int { return guardrails.DefaultMaxChars }
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = guardrails.DefaultMinConfidence
	}
	if opts.Config.MaxBodyBytes <= 0 {
		opts.Config.MaxBodyBytes = webhook.DefaultMaxBodyBytes
	}
	if opts.Pipeline == nil {
		opts.Pipeline = pipeline.New(pipeline.Options{Logger: opts.Logger})
	}
	return &Server{
		opts:      opts,
		engine:    opts.Pipeline.Engine(),
		callbacks: &http.Client{Timeout: callbackTimeout},
	}
}

// Hub returns the event hub verdicts are published to.
func (s *Server) Hub() *Hub { return s.opts.Hub }

// Handler returns the routed API with the middleware stack applied.
// ctx bounds background work such as rate-limiter eviction.
func (s *Server) Handler(ctx context.Context) http.Handler {
	auth := s.opts.Config.Auth
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/check/input", AuthMiddleware(auth, RoleOperator, s.handleCheckInput))
	mux.HandleFunc("POST /v1/check/output", AuthMiddleware(auth, RoleOperator, s.handleCheckOutput))
	mux.HandleFunc("POST /v1/pii/detect", AuthMiddleware(auth, RoleOperator, s.handleDetectPII))
	mux.HandleFunc("POST /v1/pii/redact", AuthMiddleware(auth, RoleOperator, s.handleRedactPII))
	mux.HandleFunc("POST /v1/injection/detect", AuthMiddleware(auth, RoleOperator, s.handleDetectInjection))
	mux.HandleFunc("POST /v1/agent", AuthMiddleware(auth, RoleOperator, s.handleAgent))

	mux.HandleFunc("GET /v1/lockdown", AuthMiddleware(auth, RoleViewer, s.handleLockdownStatus))
	mux.HandleFunc("POST /v1/lockdown", AuthMiddleware(auth, RoleAdmin, s.handleLockdown))
	mux.HandleFunc("GET /api/ws", AuthMiddleware(auth, RoleViewer, s.opts.Hub.ServeWS))

	// The inbound webhook authenticates by signature, not API key.
	mux.Handle("POST /webhook/inbound", webhook.RequireSignature(webhook.Options{
		Secret:   s.opts.WebhookSecret,
		Header:   s.opts.WebhookHeader,
		MaxBytes: s.opts.Config.MaxBodyBytes,
		Logger:   s.opts.Logger,
		OnReject: s.onSignatureRejected,
	}, http.HandlerFunc(s.handleWebhook)))

	h := Chain(mux,
		Recovery(s.opts.Logger),
		RequestID(),
		RequestLogger(s.opts.Logger),
		RateLimiter(ctx, s.opts.Config.RateLimit.RPS, s.opts.Config.RateLimit.Burst, s.opts.Logger),
	)
	// Pipeline spans become children of the request span.
	return otelhttp.NewHandler(h, "aegisguard.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests and callbacks.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("AegisGuard API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

// Wait blocks until pending webhook callbacks finish.
func (s *Server) Wait() {
	s.wg.Wait()
}

type textRequest struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

type checkInputResponse struct {
	guardrails.Verdict
	Truncated bool `json:"truncated,omitempty"`
}

func (s *Server) handleCheckInput(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	text := guardrails.EnforceLength(req.Text, s.opts.MaxChars(channelOr(req.Channel)))

	started := time.Now()
	v := s.engine.CheckInput(text)
	telemetry.ObserveCheck("input", pipeline.Outcome(v), s.categories(text), started)

	writeJSON(w, http.StatusOK, checkInputResponse{Verdict: v, Truncated: text != req.Text})
}

type checkOutputRequest struct {
	Text          string   `json:"text"`
	Confidence    *float64 `json:"confidence,omitempty"`
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

func (s *Server) handleCheckOutput(w http.ResponseWriter, r *http.Request) {
	var req checkOutputRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts := []guardrails.OutputOption{guardrails.WithMinConfidence(s.opts.MinConfidence)}
	if req.Confidence != nil {
		opts = append(opts, guardrails.WithConfidence(*req.Confidence))
	}
	if req.MinConfidence != nil {
		opts = append(opts, guardrails.WithMinConfidence(*req.MinConfidence))
	}

	started := time.Now()
	v := s.engine.CheckOutput(req.Text, opts...)
	telemetry.ObserveCheck("output", pipeline.Outcome(v), s.categories(req.Text), started)

	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDetectPII(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.DetectPII(req.Text))
}

func (s *Server) handleRedactPII(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, textRequest{Text: s.engine.RedactPII(req.Text)})
}

func (s *Server) handleDetectInjection(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.DetectInjection(req.Text))
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if !s.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = RequestIDFromContext(r.Context())
	}

	resp, err := s.opts.Pipeline.Handle(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream generation failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// webhookPayload is the body external systems POST to /webhook/inbound.
type webhookPayload struct {
	Input       string         `json:"input"`
	SessionID   string         `json:"session_id,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	Channel     string         `json:"channel,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type webhookResult struct {
	Status    string         `json:"status"`
	Output    string         `json:"output"`
	RequestID string         `json:"request_id"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var p webhookPayload
	if !s.decode(w, r, &p) {
		return
	}
	if p.CallbackURL != "" {
		// Unsigned callers may only reach hosts an operator listed.
		if s.opts.WebhookSecret == "" && s.opts.Callbacks.Empty() {
			s.opts.Logger.Warn("callback rejected in open mode")
			writeError(w, http.StatusBadRequest, "callback_url requires a webhook secret or callback_allowlist")
			return
		}
		if err := s.opts.Callbacks.CheckURL(p.CallbackURL); err != nil {
			s.opts.Logger.Warn("callback rejected", zap.Error(err))
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if p.SessionID == "" {
		p.SessionID = DefaultWebhookSession
	}
	if p.Channel == "" {
		p.Channel = "webhook"
	}
	if p.RequestID == "" {
		p.RequestID = RequestIDFromContext(r.Context())
	}

	resp, err := s.opts.Pipeline.Handle(r.Context(), pipeline.Request{
		ID:          p.RequestID,
		SessionID:   p.SessionID,
		Channel:     p.Channel,
		Text:        p.Input,
		CallbackURL: p.CallbackURL,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream generation failed")
		return
	}

	meta := make(map[string]any, len(p.Metadata)+len(resp.Metadata)+1)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	for k, v := range resp.Metadata {
		meta[k] = v
	}
	meta["source"] = "webhook"

	result := webhookResult{Status: "success", Output: resp.Output, RequestID: resp.ID, Metadata: meta}
	if p.CallbackURL != "" {
		s.sendCallback(r.Context(), p.CallbackURL, result)
	}
	writeJSON(w, http.StatusOK, result)
}

// sendCallback POSTs the result in the background, signed with the webhook
// secret so the receiver can verify it the same way.
func (s *Server) sendCallback(ctx context.Context, target string, result webhookResult) {
	body, err := json.Marshal(result)
	if err != nil {
		s.opts.Logger.Error("callback marshal failed", zap.Error(err))
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log := s.opts.Logger.With(zap.String("request_id", result.RequestID))
		if err := notifications.PostSigned(ctx, s.callbacks, target, body, s.opts.WebhookSecret, s.opts.WebhookHeader); err != nil {
			log.Warn("callback failed", zap.Error(err))
			return
		}
		log.Info("callback sent")
	}()
}

func (s *Server) onSignatureRejected(r *http.Request, err error) {
	s.opts.Notifier.Notify(r.Context(), notifications.Payload{
		Event:   notifications.EventSignatureRejected,
		Reason:  err.Error(),
		Details: map[string]any{"remote_addr": r.RemoteAddr, "path": r.URL.Path},
	})
	s.opts.Hub.Broadcast(WSEvent{Type: EventRejected, Data: map[string]string{"reason": err.Error()}})
}

type lockdownRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleLockdownStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Pipeline.State().Status())
}

func (s *Server) handleLockdown(w http.ResponseWriter, r *http.Request) {
	var req lockdownRequest
	if !s.decode(w, r, &req) {
		return
	}
	state := s.opts.Pipeline.State()
	if req.Enabled {
		if req.Reason == "" {
			req.Reason = "manual"
		}
		state.Lockdown(req.Reason)
		s.opts.Logger.Warn("lockdown enabled", zap.String("reason", req.Reason))
	} else {
		state.Unlock()
		s.opts.Logger.Warn("lockdown lifted")
	}

	status := state.Status()
	s.opts.Hub.Broadcast(WSEvent{Type: EventLockdown, Data: status})
	s.opts.Notifier.Notify(r.Context(), notifications.Payload{
		Event:     notifications.EventLockdown,
		RequestID: RequestIDFromContext(r.Context()),
		Reason:    req.Reason,
		Details:   map[string]any{"enabled": req.Enabled},
	})
	writeJSON(w, http.StatusOK, status)
}

// decode reads a size-capped JSON body into v, writing the error response
// itself when it fails.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.Config.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) categories(text string) []string {
	if !s.engine.Config().PIIFilter {
		return nil
	}
	r := s.engine.DetectPII(text)
	out := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		out[i] = string(c)
	}
	return out
}

func channelOr(channel string) string {
	if channel == "" {
		return pipeline.DefaultChannel
	}
	return channel
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
