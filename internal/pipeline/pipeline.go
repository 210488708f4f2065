// Package pipeline runs a request through the guardrails around a generator:
// length guard, input check, optional disposition policy, generation and
// output check. Every decision is logged, counted, audited and published.
package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mackeh/AegisGuard/internal/audit"
	"github.com/mackeh/AegisGuard/internal/guardrails"
	"github.com/mackeh/AegisGuard/internal/notifications"
	"github.com/mackeh/AegisGuard/internal/policy"
	"github.com/mackeh/AegisGuard/internal/system"
	"github.com/mackeh/AegisGuard/internal/telemetry"
)

// BlockedMessage is the only output a blocked request ever gets.
const BlockedMessage = "I'm sorry, but I can't process that request."

// Block reasons added by the pipeline on top of the guardrail reasons.
const (
	ReasonPolicyDenied = "policy_denied"
	ReasonLockdown     = "lockdown"
)

// DefaultChannel is used when a request names none.
const DefaultChannel = "default"

// Request is one inbound message.
type Request struct {
	ID          string `json:"id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Channel     string `json:"channel,omitempty"`
	Text        string `json:"text"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// Response is what the caller shows the user. Guardrail warnings live only
// in Metadata, never in Output.
type Response struct {
	ID       string         `json:"id"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata"`
}

// Event is a decision summary published to live subscribers.
type Event struct {
	RequestID  string   `json:"request_id"`
	Channel    string   `json:"channel"`
	Direction  string   `json:"direction"`
	Outcome    string   `json:"outcome"`
	Reason     string   `json:"reason,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Publisher receives decision events, e.g. the WebSocket hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// Options wires a Handler. Only Engine is required.
type Options struct {
	Engine        *guardrails.Engine
	Generator     Generator
	Policy        *policy.Engine
	Audit         *audit.Logger
	Notifier      *notifications.Dispatcher
	State         *system.State
	Publisher     Publisher
	Logger        *zap.Logger
	MaxChars      func(channel string) int
	MinConfidence float64
}

// Handler runs requests through the guardrails. It is safe for concurrent use.
type Handler struct {
	opts Options
}

// New creates a Handler, filling unset options with defaults.
func New(opts Options) *Handler {
	if opts.Engine == nil {
		opts.Engine = guardrails.NewEngine()
	}
	if opts.Generator == nil {
		opts.Generator = EchoGenerator{}
	}
	if opts.State == nil {
		opts.State = system.NewState()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxChars == nil {
		opts.MaxChars = func(string) int { return guardrails.DefaultMaxChars }
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = guardrails.DefaultMinConfidence
	}
	return &Handler{opts: opts}
}

// Engine returns the guardrail engine the handler screens with.
func (h *Handler) Engine() *guardrails.Engine { return h.opts.Engine }

// State returns the lockdown switch the handler honours.
func (h *Handler) State() *system.State { return h.opts.State }

// Handle screens req, generates an answer and screens that. Blocked input is
// a normal Response; only generator failures are errors.
func (h *Handler) Handle(ctx context.Context, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Channel == "" {
		req.Channel = DefaultChannel
	}
	log := h.opts.Logger.With(zap.String("request_id", req.ID), zap.String("channel", req.Channel))

	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.channel", req.Channel),
		attribute.Int("request.chars", utf8.RuneCountInString(req.Text)),
	)

	inputHash := audit.HashInput(req.Text)

	if h.opts.State.IsLockedDown() {
		log.Warn("request refused during lockdown")
		h.record(ctx, req, audit.Entry{Action: "check_input", Decision: "block", Reason: ReasonLockdown, InputSHA256: inputHash})
		h.publish(Event{RequestID: req.ID, Channel: req.Channel, Direction: "input", Outcome: telemetry.OutcomeBlocked, Reason: ReasonLockdown})
		span.SetAttributes(attribute.String("guard.block_reason", ReasonLockdown))
		return blockedResponse(req.ID, ReasonLockdown), nil
	}

	// Truncate first so pattern scans run on bounded text.
	maxChars := h.opts.MaxChars(req.Channel)
	text := guardrails.EnforceLength(req.Text, maxChars)
	truncated := text != req.Text
	if truncated {
		telemetry.TruncationsTotal.WithLabelValues(req.Channel).Inc()
		log.Warn("input truncated",
			zap.Int("original_chars", utf8.RuneCountInString(req.Text)),
			zap.Int("max_chars", maxChars),
		)
	}

	started := time.Now()
	in := h.opts.Engine.CheckInput(text)
	inCategories := h.categories(text)
	telemetry.ObserveCheck("input", Outcome(in), inCategories, started)

	if in.Blocked {
		return h.block(ctx, req, in.BlockReason, in, inCategories, inputHash), nil
	}

	if h.opts.Policy != nil {
		decision, err := h.opts.Policy.Evaluate(ctx, policy.Input{
			Direction:  "input",
			Channel:    req.Channel,
			Reason:     in.BlockReason,
			Categories: inCategories,
			Warnings:   in.Warnings,
			Confidence: 1,
		})
		if err != nil {
			log.Error("policy evaluation failed, denying", zap.Error(err))
		}
		telemetry.PolicyDecisionsTotal.WithLabelValues(decision.String()).Inc()
		if decision == policy.Deny {
			return h.block(ctx, req, ReasonPolicyDenied, in, inCategories, inputHash), nil
		}
	}

	if len(in.Warnings) > 0 {
		log.Info("input sanitized", zap.Strings("warnings", in.Warnings))
	}

	gen, err := h.opts.Generator.Generate(ctx, GenerateRequest{
		RequestID: req.ID,
		SessionID: req.SessionID,
		Channel:   req.Channel,
		Input:     in.SanitizedText,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generator failed")
		log.Error("generator failed", zap.Error(err))
		h.record(ctx, req, audit.Entry{Action: "generate", Decision: "error", InputSHA256: inputHash, Categories: inCategories})
		return Response{}, fmt.Errorf("generator failed: %w", err)
	}

	started = time.Now()
	out := h.opts.Engine.CheckOutput(gen.Output,
		guardrails.WithConfidence(gen.Confidence),
		guardrails.WithMinConfidence(h.opts.MinConfidence),
	)
	outCategories := h.categories(gen.Output)
	telemetry.ObserveCheck("output", Outcome(out), outCategories, started)

	warnings := out.Warnings
	if h.opts.Policy != nil {
		// Output is never withheld; a deny only adds a warning.
		decision, err := h.opts.Policy.Evaluate(ctx, policy.Input{
			Direction:  "output",
			Channel:    req.Channel,
			Categories: outCategories,
			Warnings:   out.Warnings,
			Confidence: gen.Confidence,
		})
		if err != nil {
			log.Error("output policy evaluation failed", zap.Error(err))
		}
		if decision == policy.Deny {
			warnings = append(append([]string{}, warnings...), "Policy flagged output")
		}
	}
	if len(warnings) > 0 {
		log.Info("output flagged", zap.Strings("warnings", warnings))
	}

	meta := map[string]any{}
	if len(warnings) > 0 {
		meta["guardrail_warnings"] = warnings
	}
	if len(in.Warnings) > 0 {
		meta["input_warnings"] = in.Warnings
	}
	if truncated {
		meta["truncated"] = true
	}

	decision := "allow"
	if len(in.Warnings) > 0 || len(out.Warnings) > 0 {
		decision = "sanitize"
	}
	h.record(ctx, req, audit.Entry{
		Action:      "agent_request",
		Decision:    decision,
		Categories:  mergeCategories(inCategories, outCategories),
		Warnings:    len(in.Warnings) + len(warnings),
		InputSHA256: inputHash,
		InputChars:  utf8.RuneCountInString(req.Text),
		Details:     map[string]any{"truncated": truncated, "confidence": gen.Confidence},
	})
	h.publish(Event{RequestID: req.ID, Channel: req.Channel, Direction: "output", Outcome: Outcome(out), Categories: outCategories, Warnings: warnings})

	span.SetAttributes(attribute.String("guard.decision", decision))
	return Response{ID: req.ID, Output: out.SanitizedText, Metadata: meta}, nil
}

func (h *Handler) block(ctx context.Context, req Request, reason string, v guardrails.Verdict, categories []string, inputHash string) Response {
	log := h.opts.Logger.With(zap.String("request_id", req.ID), zap.String("channel", req.Channel))
	log.Warn("input blocked", zap.String("reason", reason), zap.Strings("warnings", v.Warnings))

	payload := notifications.Payload{
		RequestID:  req.ID,
		Channel:    req.Channel,
		Reason:     reason,
		Categories: categories,
	}
	switch reason {
	case guardrails.ReasonPromptInjection:
		telemetry.InjectionBlocksTotal.Inc()
		payload.Event = notifications.EventInjectionBlocked
		payload.Pattern = h.opts.Engine.DetectInjection(v.SanitizedText).MatchedPattern
	case guardrails.ReasonPIIDetected:
		payload.Event = notifications.EventPIIBlocked
	default:
		payload.Event = notifications.EventPolicyDenied
	}
	h.opts.Notifier.Notify(ctx, payload)

	h.record(ctx, req, audit.Entry{
		Action:      "check_input",
		Decision:    "block",
		Reason:      reason,
		Categories:  categories,
		Warnings:    len(v.Warnings),
		InputSHA256: inputHash,
		InputChars:  utf8.RuneCountInString(req.Text),
	})
	h.publish(Event{RequestID: req.ID, Channel: req.Channel, Direction: "input", Outcome: telemetry.OutcomeBlocked, Reason: reason, Categories: categories, Warnings: v.Warnings})

	return blockedResponse(req.ID, reason)
}

func blockedResponse(id, reason string) Response {
	return Response{
		ID:       id,
		Output:   BlockedMessage,
		Metadata: map[string]any{"blocked": true, "reason": reason},
	}
}

func (h *Handler) record(_ context.Context, req Request, e audit.Entry) {
	if h.opts.Audit == nil {
		return
	}
	e.RequestID = req.ID
	e.Channel = req.Channel
	if _, err := h.opts.Audit.Log(e); err != nil {
		h.opts.Logger.Error("audit write failed", zap.String("request_id", req.ID), zap.Error(err))
	}
}

func (h *Handler) publish(e Event) {
	if h.opts.Publisher != nil {
		h.opts.Publisher.Publish("verdict", e)
	}
}

// Outcome classifies a verdict for metrics and events.
func Outcome(v guardrails.Verdict) string {
	switch {
	case v.Blocked:
		return telemetry.OutcomeBlocked
	case len(v.Warnings) == 0:
		return telemetry.OutcomePass
	case v.IsSafe:
		return telemetry.OutcomeSanitized
	default:
		return telemetry.OutcomeFlagged
	}
}

// categories lists the PII categories in text, or nothing when the PII filter is off.
func (h *Handler) categories(text string) []string {
	if !h.opts.Engine.Config().PIIFilter {
		return nil
	}
	r := h.opts.Engine.DetectPII(text)
	out := make([]string, len(r.Categories))
	for i, c := range r.Categories {
		out[i] = string(c)
	}
	return out
}

func mergeCategories(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, c := range append(append([]string{}, a...), b...) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
