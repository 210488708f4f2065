// Package guardrails screens text on both sides of an LLM call.
// Inbound text is blocked on prompt injection and has PII masked; outbound
// text is never blocked but is redacted and flagged when confidence is low.
package guardrails

import (
	"fmt"
	"unicode/utf8"
)

// Block reasons reported in Verdict.BlockReason.
const (
	ReasonPromptInjection = "prompt_injection"
	ReasonPIIDetected     = "pii_detected"
)

const (
	// DefaultMaxChars is the input length cap used when none is configured.
	DefaultMaxChars = 10000
	// TruncationMarker is appended to text cut by EnforceLength.
	TruncationMarker = "\n[TRUNCATED]"

	DefaultConfidence    = 1.0
	DefaultMinConfidence = 0.5
)

// Config toggles the engine's checks. It is fixed once the engine is built.
type Config struct {
	PIIFilter          bool `json:"pii_filter" yaml:"pii_filter"`
	InjectionDetection bool `json:"injection_detection" yaml:"injection_detection"`
	// MaskPII redacts PII found in input. When false, PII in input blocks the
	// request instead. Output is always redacted.
	MaskPII bool `json:"mask_pii" yaml:"mask_pii"`
}

// DefaultConfig enables every check and masks rather than blocks PII.
func DefaultConfig() Config {
	return Config{PIIFilter: true, InjectionDetection: true, MaskPII: true}
}

// Verdict is the outcome of a guardrail check.
type Verdict struct {
	IsSafe        bool     `json:"is_safe"`
	Warnings      []string `json:"warnings"`
	SanitizedText string   `json:"sanitized_text"`
	Blocked       bool     `json:"blocked"`
	BlockReason   string   `json:"block_reason,omitempty"`
}

// Engine applies the guardrail policy. It holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	cfg       Config
	catalog   *Catalog
	pii       *PIIDetector
	injection *InjectionDetector
}

// NewEngine creates an engine with the default config and catalog.
func NewEngine() *Engine {
	return New(DefaultConfig(), nil)
}

// New creates an engine over the given catalog. A nil catalog means the default.
func New(cfg Config, catalog *Catalog) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Engine{
		cfg:       cfg,
		catalog:   catalog,
		pii:       NewPIIDetector(catalog),
		injection: NewInjectionDetector(catalog),
	}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// Catalog returns the catalog the engine was built with.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// CheckInput screens user text before it reaches tools or a model.
// A blocked verdict always carries the original text unchanged.
func (e *Engine) CheckInput(text string) Verdict {
	if e.cfg.InjectionDetection {
		if inj := e.injection.Detect(text); inj.Detected {
			return Verdict{
				IsSafe:        false,
				Warnings:      []string{"Prompt injection detected: " + inj.MatchedPattern},
				SanitizedText: text,
				Blocked:       true,
				BlockReason:   ReasonPromptInjection,
			}
		}
	}

	v := Verdict{IsSafe: true, Warnings: []string{}, SanitizedText: text}
	if !e.cfg.PIIFilter {
		return v
	}

	res := e.pii.Detect(text)
	if !res.Found {
		return v
	}
	for _, c := range res.Categories {
		v.Warnings = append(v.Warnings, fmt.Sprintf("PII detected: %s", c))
	}
	if !e.cfg.MaskPII {
		v.IsSafe = false
		v.Blocked = true
		v.BlockReason = ReasonPIIDetected
		return v
	}
	v.SanitizedText = e.pii.Redact(text)
	return v
}

type outputOptions struct {
	confidence    float64
	minConfidence float64
}

// OutputOption adjusts a single CheckOutput call.
type OutputOption func(*outputOptions)

// WithConfidence sets the generator's self-reported confidence (default 1.0).
func WithConfidence(c float64) OutputOption {
	return func(o *outputOptions) { o.confidence = c }
}

// WithMinConfidence sets the threshold below which output is flagged (default 0.5).
func WithMinConfidence(m float64) OutputOption {
	return func(o *outputOptions) { o.minConfidence = m }
}

// CheckOutput screens model output before it reaches the user. It never blocks.
func (e *Engine) CheckOutput(text string, opts ...OutputOption) Verdict {
	o := outputOptions{confidence: DefaultConfidence, minConfidence: DefaultMinConfidence}
	for _, opt := range opts {
		opt(&o)
	}

	v := Verdict{Warnings: []string{}, SanitizedText: text}
	if o.confidence < o.minConfidence {
		v.Warnings = append(v.Warnings,
			fmt.Sprintf("Low confidence: %.2f (threshold: %.2f)", o.confidence, o.minConfidence))
	}

	if e.cfg.PIIFilter {
		if res := e.pii.Detect(text); res.Found {
			for _, c := range res.Categories {
				v.Warnings = append(v.Warnings, fmt.Sprintf("PII in output: %s", c))
			}
			v.SanitizedText = e.pii.Redact(text)
		}
	}

	v.IsSafe = len(v.Warnings) == 0
	return v
}

// DetectPII reports the PII categories present in text.
func (e *Engine) DetectPII(text string) PIIResult { return e.pii.Detect(text) }

// RedactPII masks all PII in text.
func (e *Engine) RedactPII(text string) string { return e.pii.Redact(text) }

// DetectInjection reports the first injection phrase found in text.
func (e *Engine) DetectInjection(text string) InjectionResult { return e.injection.Detect(text) }

// EnforceLength caps text at maxChars characters and appends TruncationMarker
// when it cuts. Characters are runes, so multi-byte text is never split.
// maxChars <= 0 means DefaultMaxChars.
func EnforceLength(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if len(text) <= maxChars || utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i] + TruncationMarker
		}
		n++
	}
	return text
}
