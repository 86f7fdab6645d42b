package page

import "context"

// Evaluator runs code in the context.
type Evaluator interface {
	Eval(ctx context.Context, code, sourceURL string) error
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, code, sourceURL string) error

// Eval calls f.
func (f EvaluatorFunc) Eval(ctx context.Context, code, sourceURL string) error {
	return f(ctx, code, sourceURL)
}

// NopEvaluator accepts any code.
type NopEvaluator struct{}

// Eval implements Evaluator.
func (NopEvaluator) Eval(context.Context, string, string) error { return nil }
