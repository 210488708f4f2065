// Package policy evaluates an optional OPA/Rego disposition policy on top of
// the guardrail verdicts. Deployments use it to escalate, for example denying
// any input that carries an SSN on the sms channel.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decision represents the outcome of a policy evaluation
type Decision int

const (
	Allow Decision = iota
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Query is the rule every disposition policy must define.
const Query = "data.aegisguard.policy.decision"

// DefaultPolicy allows everything the guardrails let through.
const DefaultPolicy = `
package aegisguard.policy
import rego.v1

default decision = "allow"
`

// Input is the document a policy sees as input. It carries verdict metadata
// only, never the screened text.
type Input struct {
	Direction  string   `json:"direction"`
	Channel    string   `json:"channel"`
	Blocked    bool     `json:"blocked"`
	Reason     string   `json:"reason"`
	Categories []string `json:"categories"`
	Warnings   []string `json:"warnings"`
	Confidence float64  `json:"confidence"`
}

// Engine evaluates a prepared disposition policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine from a Rego policy string
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query(Query),
		rego.Module("policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego query: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadPolicy loads a policy from the specified path (rego file).
// An empty path selects DefaultPolicy.
func LoadPolicy(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return NewEngine(ctx, string(data))
}

// Evaluate returns the policy decision for in. Evaluation errors deny.
// A policy that produces no decision allows, since the guardrails have
// already screened the text.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	if in.Categories == nil {
		in.Categories = []string{}
	}
	if in.Warnings == nil {
		in.Warnings = []string{}
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return Deny, fmt.Errorf("policy evaluation failed: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Allow, nil
	}

	decisionStr, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return Deny, fmt.Errorf("policy returned non-string decision")
	}

	return parseDecision(decisionStr), nil
}

func parseDecision(s string) Decision {
	switch s {
	case "allow":
		return Allow
	default:
		return Deny // anything unrecognised fails closed
	}
}
