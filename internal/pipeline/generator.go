package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GenerateRequest is what a Generator receives: input that already passed
// the input guardrails.
type GenerateRequest struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Input     string `json:"input"`
}

// Generation is a generator's answer. Confidence is in [0,1].
type Generation struct {
	Output     string
	Confidence float64
}

// Generator produces model output for screened input.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (Generation, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	return f(ctx, req)
}

// EchoGenerator answers with the screened input. Useful for local testing
// of the guardrails without a model.
type EchoGenerator struct{}

// Generate echoes the input back with full confidence.
func (EchoGenerator) Generate(_ context.Context, req GenerateRequest) (Generation, error) {
	return Generation{Output: "You said: " + req.Input, Confidence: 1}, nil
}

// HTTPGenerator forwards screened input to an upstream HTTP endpoint.
//
// The upstream receives a JSON GenerateRequest and must answer with
// {"output": "...", "confidence": 0.0-1.0}. A missing confidence means 1.0.
type HTTPGenerator struct {
	client *http.Client
	url    string
}

// maxUpstreamBody caps how much of an upstream response is read.
const maxUpstreamBody = 4 << 20

// NewHTTPGenerator creates a generator posting to url. A zero timeout means 60s.
func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 60 * time.Second // Long timeout for LLM generation
	}
	return &HTTPGenerator{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

type upstreamResponse struct {
	Output     string   `json:"output"`
	Confidence *float64 `json:"confidence"`
}

// Generate posts req upstream and decodes the answer.
func (g *HTTPGenerator) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Generation{}, fmt.Errorf("upstream: marshal failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Generation{}, fmt.Errorf("upstream: request creation failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", req.RequestID)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Generation{}, fmt.Errorf("upstream: send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Generation{}, fmt.Errorf("upstream returned status: %d", resp.StatusCode)
	}

	var out upstreamResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUpstreamBody)).Decode(&out); err != nil {
		return Generation{}, fmt.Errorf("upstream: decode failed: %w", err)
	}

	gen := Generation{Output: out.Output, Confidence: 1}
	if out.Confidence != nil {
		gen.Confidence = *out.Confidence
	}
	return gen, nil
}
