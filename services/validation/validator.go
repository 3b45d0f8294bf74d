// Package validation defines the content-validation capability the
// orchestrator consumes after every successful provider call. The scoring
// heuristics themselves live outside this module; implementations adapt
// whatever validator the host application uses.
package validation

import "context"

// Result is a quality assessment of generated content.
type Result struct {
	// Score is the 0-100 quality score. It selects the cache TTL band.
	Score int

	// Passed reports whether the content cleared the validator's own
	// acceptance checks.
	Passed bool

	// Issues describes what the validator objected to, for logging.
	Issues []string
}

// Validator scores generated content.
type Validator interface {
	Validate(ctx context.Context, content string) (Result, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, content string) (Result, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, content string) (Result, error) {
	return f(ctx, content)
}
