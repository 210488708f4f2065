// Package simulate replays a labelled corpus through the guardrails and
// reports where the verdicts disagree with the labels. It backs the
// simulate command for custom corpora and scan for the built-in self-test.
package simulate

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mackeh/AegisGuard/internal/guardrails"
	"github.com/mackeh/AegisGuard/internal/policy"
)

// Expected outcomes. Input cases end in block, sanitize or pass; output
// cases in flag or pass since output is never blocked.
const (
	ExpectBlock    = "block"
	ExpectSanitize = "sanitize"
	ExpectFlag     = "flag"
	ExpectPass     = "pass"
)

// Case is one labelled example.
type Case struct {
	Name       string   `yaml:"name" json:"name"`
	Direction  string   `yaml:"direction,omitempty" json:"direction,omitempty"` // input (default) or output
	Channel    string   `yaml:"channel,omitempty" json:"channel,omitempty"`
	Text       string   `yaml:"text" json:"text"`
	Confidence *float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Expect     string   `yaml:"expect" json:"expect"`
	Reason     string   `yaml:"reason,omitempty" json:"reason,omitempty"`
	Categories []string `yaml:"categories,omitempty" json:"categories,omitempty"`
}

// Corpus is a list of cases, as read from YAML.
type Corpus struct {
	Cases []Case `yaml:"cases"`
}

// CaseResult is the verdict for one case.
type CaseResult struct {
	Name       string   `json:"name"`
	Expect     string   `json:"expect"`
	Got        string   `json:"got"`
	Reason     string   `json:"reason,omitempty"`
	Categories []string `json:"categories,omitempty"`
	OK         bool     `json:"ok"`
	Detail     string   `json:"detail,omitempty"`
}

// Report summarises a run.
type Report struct {
	Total   int          `json:"total"`
	Passed  int          `json:"passed"`
	Failed  int          `json:"failed"`
	Results []CaseResult `json:"results"`
}

// Load reads a YAML corpus from path.
func Load(path string) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML corpus.
func Parse(data []byte) (*Corpus, error) {
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse corpus: %w", err)
	}
	for i, tc := range c.Cases {
		if err := tc.validate(); err != nil {
			return nil, fmt.Errorf("case %d (%s): %w", i, tc.Name, err)
		}
	}
	return &c, nil
}

func (c Case) validate() error {
	switch c.Direction {
	case "", "input":
		switch c.Expect {
		case ExpectBlock, ExpectSanitize, ExpectPass:
			return nil
		}
		return fmt.Errorf("input cases expect block, sanitize or pass, got %q", c.Expect)
	case "output":
		switch c.Expect {
		case ExpectFlag, ExpectPass:
			return nil
		}
		return fmt.Errorf("output cases expect flag or pass, got %q", c.Expect)
	default:
		return fmt.Errorf("unknown direction %q", c.Direction)
	}
}

// Runner evaluates cases. Policy is optional.
type Runner struct {
	Engine        *guardrails.Engine
	Policy        *policy.Engine
	MinConfidence float64
}

// Run evaluates every case in the corpus.
func (r Runner) Run(ctx context.Context, c *Corpus) *Report {
	if r.Engine == nil {
		r.Engine = guardrails.NewEngine()
	}
	if r.MinConfidence <= 0 {
		r.MinConfidence = guardrails.DefaultMinConfidence
	}

	report := &Report{Results: make([]CaseResult, 0, len(c.Cases))}
	for _, tc := range c.Cases {
		res := r.evaluate(ctx, tc)
		report.Total++
		if res.OK {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func (r Runner) evaluate(ctx context.Context, tc Case) CaseResult {
	res := CaseResult{Name: tc.Name, Expect: tc.Expect}
	for _, cat := range r.Engine.DetectPII(tc.Text).Categories {
		res.Categories = append(res.Categories, string(cat))
	}

	if tc.Direction == "output" {
		var opts []guardrails.OutputOption
		if tc.Confidence != nil {
			opts = append(opts, guardrails.WithConfidence(*tc.Confidence))
		}
		opts = append(opts, guardrails.WithMinConfidence(r.MinConfidence))
		v := r.Engine.CheckOutput(tc.Text, opts...)
		res.Got = ExpectPass
		if len(v.Warnings) > 0 {
			res.Got = ExpectFlag
			res.Detail = strings.Join(v.Warnings, "; ")
		}
	} else {
		v := r.Engine.CheckInput(tc.Text)
		switch {
		case v.Blocked:
			res.Got, res.Reason = ExpectBlock, v.BlockReason
		case r.denied(ctx, tc, v, res.Categories):
			res.Got, res.Reason = ExpectBlock, "policy_denied"
		case len(v.Warnings) > 0:
			res.Got = ExpectSanitize
			res.Detail = strings.Join(v.Warnings, "; ")
		default:
			res.Got = ExpectPass
		}
	}

	res.OK = res.Got == tc.Expect
	if res.OK && tc.Reason != "" && tc.Reason != res.Reason {
		res.OK = false
		res.Detail = fmt.Sprintf("reason %q, want %q", res.Reason, tc.Reason)
	}
	if res.OK && len(tc.Categories) > 0 && !sameSet(tc.Categories, res.Categories) {
		res.OK = false
		res.Detail = fmt.Sprintf("categories %v, want %v", res.Categories, tc.Categories)
	}
	return res
}

func (r Runner) denied(ctx context.Context, tc Case, v guardrails.Verdict, categories []string) bool {
	if r.Policy == nil {
		return false
	}
	channel := tc.Channel
	if channel == "" {
		channel = "default"
	}
	decision, _ := r.Policy.Evaluate(ctx, policy.Input{
		Direction:  "input",
		Channel:    channel,
		Categories: categories,
		Warnings:   v.Warnings,
		Confidence: 1,
	})
	return decision == policy.Deny
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}
