// Package policy evaluates the OPA admission policy for new connections.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is what the admission policy sees about a connecting client.
type Input struct {
	SessionID         string
	SourceAddress     string
	UserAgent         string
	ActiveConnections int
	MaxConnections    int
}

func (in Input) toMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id":         in.SessionID,
		"source_address":     in.SourceAddress,
		"user_agent":         in.UserAgent,
		"active_connections": in.ActiveConnections,
		"max_connections":    in.MaxConnections,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.admission.decision"),
		rego.Module("admission.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine reads the policy from path, or uses DefaultPolicy when path is empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return NewEngine(ctx, string(content))
}

// Admit evaluates the admission policy.
// The decision rule may return a string ("allow"/"deny") or an object {decision, reason}.
func (e *Engine) Admit(ctx context.Context, in Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(in.toMap()))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allowed: true, Reason: "default"}, nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		return Decision{Allowed: v != DecisionDeny}, nil
	case map[string]interface{}:
		decision, _ := v["decision"].(string)
		reason, _ := v["reason"].(string)
		return Decision{Allowed: decision != DecisionDeny, Reason: reason}, nil
	}
	return Decision{Allowed: true, Reason: "unexpected return type"}, nil
}

// DefaultPolicy admits every connection. The connection ceiling is enforced by the counter.
const DefaultPolicy = `
package admission

default decision = "allow"
`
