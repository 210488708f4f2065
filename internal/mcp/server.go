// Package mcp exposes the guardrails as Model Context Protocol tools over
// the stdio transport, so an assistant can screen text before acting on it.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mackeh/AegisGuard/internal/audit"
	"github.com/mackeh/AegisGuard/internal/guardrails"
)

const protocolVersion = "2024-11-05"

// JSON-RPC 2.0 types
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Tool describes an MCP tool.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

type toolFunc func(args json.RawMessage) (any, error)

// Server implements the MCP stdio protocol.
type Server struct {
	engine    *guardrails.Engine
	auditPath string
	version   string
	tools     []Tool
	handlers  map[string]toolFunc

	mu sync.Mutex // serialises writes
}

// NewServer creates an MCP server screening with engine. auditPath is the
// decision log guard_verify_audit_log checks.
func NewServer(engine *guardrails.Engine, auditPath, version string) *Server {
	if engine == nil {
		engine = guardrails.NewEngine()
	}
	s := &Server{engine: engine, auditPath: auditPath, version: version}

	textOnly := schema(map[string]any{
		"text": prop("string", "Text to screen"),
	}, "text")

	s.register(Tool{
		Name:        "guard_check_input",
		Description: "Screen user input: blocks prompt injection and redacts PII",
		InputSchema: textOnly,
	}, s.toolCheckInput)
	s.register(Tool{
		Name:        "guard_check_output",
		Description: "Screen model output: redacts PII and flags low confidence. Never blocks",
		InputSchema: schema(map[string]any{
			"text":           prop("string", "Model output to screen"),
			"confidence":     prop("number", "Model confidence in [0,1], default 1"),
			"min_confidence": prop("number", "Warning threshold, default 0.5"),
		}, "text"),
	}, s.toolCheckOutput)
	s.register(Tool{
		Name:        "guard_detect_pii",
		Description: "List the PII categories present in text",
		InputSchema: textOnly,
	}, s.toolDetectPII)
	s.register(Tool{
		Name:        "guard_redact_pii",
		Description: "Replace PII in text with [REDACTED_<CATEGORY>] placeholders",
		InputSchema: textOnly,
	}, s.toolRedactPII)
	s.register(Tool{
		Name:        "guard_detect_injection",
		Description: "Check text for prompt-injection phrases",
		InputSchema: textOnly,
	}, s.toolDetectInjection)
	s.register(Tool{
		Name:        "guard_verify_audit_log",
		Description: "Verify the integrity of the decision audit log hash chain",
		InputSchema: schema(map[string]any{}),
	}, s.toolVerifyAuditLog)

	return s
}

func (s *Server) register(t Tool, fn toolFunc) {
	if s.handlers == nil {
		s.handlers = make(map[string]toolFunc)
	}
	s.tools = append(s.tools, t)
	s.handlers[t.Name] = fn
}

func schema(props map[string]any, required ...string) map[string]any {
	out := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

// Run reads newline-delimited JSON-RPC requests from in and writes
// responses to out until in is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(out, response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "Parse error"}})
			continue
		}
		// Notifications carry no id and get no reply.
		if len(req.ID) == 0 && strings.HasPrefix(req.Method, "notifications/") {
			continue
		}

		s.write(out, s.handleRequest(ctx, req))
	}

	return scanner.Err()
}

func (s *Server) handleRequest(ctx context.Context, req request) response {
	switch req.Method {
	case "initialize":
		return response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]any{
				"protocolVersion": protocolVersion,
				"capabilities": map[string]any{
					"tools": map[string]any{},
				},
				"serverInfo": map[string]any{
					"name":    "aegisguard",
					"version": s.version,
				},
			},
		}

	case "ping":
		return response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}}

	case "tools/list":
		return response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]any{"tools": s.tools},
		}

	case "tools/call":
		return s.handleToolCall(ctx, req)

	default:
		return response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: -32601, Message: fmt.Sprintf("Method not found: %s", req.Method)},
		}
	}
}

func (s *Server) handleToolCall(_ context.Context, req request) response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "Invalid params"}}
	}

	fn, ok := s.handlers[params.Name]
	if !ok {
		return response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: fmt.Sprintf("Unknown tool: %s", params.Name)}}
	}

	result, err := fn(params.Arguments)
	if err != nil {
		return response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]any{
				"content": []map[string]any{
					{"type": "text", "text": fmt.Sprintf("Error: %v", err)},
				},
				"isError": true,
			},
		}
	}

	text, _ := json.MarshalIndent(result, "", "  ")
	return response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": string(text)},
			},
		},
	}
}

type textArgs struct {
	Text *string `json:"text"`
}

var errTextRequired = errors.New("argument 'text' is required")

func parseText(args json.RawMessage) (string, error) {
	var a textArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if a.Text == nil {
		return "", errTextRequired
	}
	return *a.Text, nil
}

func (s *Server) toolCheckInput(args json.RawMessage) (any, error) {
	text, err := parseText(args)
	if err != nil {
		return nil, err
	}
	return s.engine.CheckInput(guardrails.EnforceLength(text, guardrails.DefaultMaxChars)), nil
}

func (s *Server) toolCheckOutput(args json.RawMessage) (any, error) {
	var a struct {
		Text          *string  `json:"text"`
		Confidence    *float64 `json:"confidence"`
		MinConfidence *float64 `json:"min_confidence"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if a.Text == nil {
		return nil, errTextRequired
	}
	var opts []guardrails.OutputOption
	if a.Confidence != nil {
		opts = append(opts, guardrails.WithConfidence(*a.Confidence))
	}
	if a.MinConfidence != nil {
		opts = append(opts, guardrails.WithMinConfidence(*a.MinConfidence))
	}
	return s.engine.CheckOutput(*a.Text, opts...), nil
}

func (s *Server) toolDetectPII(args json.RawMessage) (any, error) {
	text, err := parseText(args)
	if err != nil {
		return nil, err
	}
	return s.engine.DetectPII(text), nil
}

func (s *Server) toolRedactPII(args json.RawMessage) (any, error) {
	text, err := parseText(args)
	if err != nil {
		return nil, err
	}
	return map[string]string{"text": s.engine.RedactPII(text)}, nil
}

func (s *Server) toolDetectInjection(args json.RawMessage) (any, error) {
	text, err := parseText(args)
	if err != nil {
		return nil, err
	}
	return s.engine.DetectInjection(text), nil
}

func (s *Server) toolVerifyAuditLog(json.RawMessage) (any, error) {
	if s.auditPath == "" {
		return nil, errors.New("audit log is not configured")
	}
	entries, err := audit.ReadAll(s.auditPath)
	if err != nil {
		return nil, err
	}
	valid, err := audit.Verify(s.auditPath)
	if err != nil {
		return map[string]any{"valid": false, "entries": len(entries), "error": err.Error()}, nil
	}
	return map[string]any{"valid": valid, "entries": len(entries)}, nil
}

func (s *Server) write(out io.Writer, resp response) {
	data, _ := json.Marshal(resp)
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(out, "%s\n", data)
}
