// Package policy gates video submissions with an OPA policy.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.submission.result"),
		rego.Module("submission.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the submission policy.
// Input should be a map with keys: video_ref, max_duration_sec, language.
// Returns: decision (allow, block), reason, error.
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "allow", "default", nil
	}

	val := results[0].Expressions[0].Value
	if obj, ok := val.(map[string]interface{}); ok {
		decision, _ := obj["decision"].(string)
		reason, _ := obj["reason"].(string)
		if decision == "" {
			decision = "allow"
		}
		return decision, reason, nil
	}
	if s, ok := val.(string); ok {
		return s, "", nil
	}

	return "allow", "unexpected return type", nil
}

// DefaultPolicy is the default submission policy.
const DefaultPolicy = `
package submission

default result := {"decision": "allow", "reason": ""}

result := {"decision": "block", "reason": "unsupported video scheme"} if {
	not allowed_scheme
}

result := {"decision": "block", "reason": "duration cap exceeds limit"} if {
	allowed_scheme
	input.max_duration_sec > 14400
}

allowed_scheme if startswith(input.video_ref, "file://")
allowed_scheme if startswith(input.video_ref, "https://")
allowed_scheme if startswith(input.video_ref, "s3://")
`
