package policy

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/open-policy-agent/opa/v1/topdown"
)

// OPAEngine implements the Engine interface using embedded OPA/Rego.
type OPAEngine struct {
	mu   sync.RWMutex
	path string

	// Compiled query for evaluation
	query rego.PreparedEvalQuery
}

// NewOPAEngine creates a new OPA engine from a .rego policy file.
func NewOPAEngine(path string) (*OPAEngine, error) {
	e := &OPAEngine{path: path}
	if err := e.Reload(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// NewOPAEngineFromSource creates a new OPA engine from raw Rego source.
func NewOPAEngineFromSource(source string) (*OPAEngine, error) {
	e := &OPAEngine{}
	if err := e.loadSource(source); err != nil {
		return nil, err
	}
	return e, nil
}

// Evaluate runs the Rego policy against the given mutation.
//
// The policy must define the following in package adminsync:
//
//	verdict: "allow" | "deny"
//	rule_name: string (optional)
//	message: string (optional)
//
// Input available to the policy:
//
//	input.resource: string
//	input.operation: "create" | "update" | "delete"
//	input.target_id: string
//	input.payload: object
//
// Unlike the YAML engine, an undefined verdict allows: Rego validation
// is layered on top of the resource's required-field rules.
func (e *OPAEngine) Evaluate(ctx context.Context, input *EvalInput) (*EvalResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	inputMap := map[string]any{
		"resource":  input.Resource,
		"operation": input.Operation,
		"target_id": input.TargetID,
		"payload":   map[string]any{},
	}
	if input.Payload != nil {
		inputMap["payload"] = input.Payload
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(inputMap))
	if err != nil {
		if topdown.IsError(err) {
			return &EvalResult{
				Verdict: VerdictDeny,
				Rule:    "_opa_error",
				Message: "OPA evaluation error: " + err.Error(),
			}, nil
		}
		return nil, fmt.Errorf("OPA evaluation failed: %w", err)
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &EvalResult{Verdict: VerdictAllow, Rule: "_opa_default"}, nil
	}

	resultMap, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return &EvalResult{
			Verdict: VerdictDeny,
			Rule:    "_opa_parse_error",
			Message: "unexpected OPA result type",
		}, nil
	}

	return parseOPAResult(resultMap), nil
}

// Reload re-reads the Rego policy file from disk and recompiles.
func (e *OPAEngine) Reload(_ context.Context) error {
	if e.path == "" {
		return nil
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("reading OPA policy file: %w", err)
	}
	return e.loadSource(string(data))
}

func (e *OPAEngine) loadSource(source string) error {
	if _, err := ast.ParseModuleWithOpts("policy.rego", source, ast.ParserOptions{RegoVersion: ast.RegoV1}); err != nil {
		return fmt.Errorf("parsing Rego policy: %w", err)
	}

	r := rego.New(
		rego.Query("data.adminsync"),
		rego.Module("policy.rego", source),
		rego.Store(inmem.New()),
	)

	query, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("preparing OPA query: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.query = query
	return nil
}

func parseOPAResult(m map[string]any) *EvalResult {
	result := &EvalResult{Verdict: VerdictAllow}

	if v, ok := m["verdict"].(string); ok && v == string(VerdictDeny) {
		result.Verdict = VerdictDeny
	}
	if r, ok := m["rule_name"].(string); ok {
		result.Rule = r
	}
	if msg, ok := m["message"].(string); ok {
		result.Message = msg
	}
	return result
}
