package policy

import "context"

// Engine is the interface for validation backends.
type Engine interface {
	// Evaluate checks a mutation against loaded rules and returns a verdict.
	Evaluate(ctx context.Context, input *EvalInput) (*EvalResult, error)

	// Reload reloads rules from their source.
	Reload(ctx context.Context) error
}

// Chain evaluates engines in order. The first deny wins; otherwise the
// result of the last engine is returned.
type Chain []Engine

func (c Chain) Evaluate(ctx context.Context, input *EvalInput) (*EvalResult, error) {
	result := &EvalResult{Verdict: VerdictAllow, Rule: "_default"}
	for _, e := range c {
		r, err := e.Evaluate(ctx, input)
		if err != nil {
			return nil, err
		}
		if r.Denied() {
			return r, nil
		}
		result = r
	}
	return result, nil
}

func (c Chain) Reload(ctx context.Context) error {
	for _, e := range c {
		if err := e.Reload(ctx); err != nil {
			return err
		}
	}
	return nil
}
