// Package oracle wraps the external language-model calls: interpreting a
// free-text instruction into a typed intent, and scoring a lead's
// qualification. Both services are treated as untrusted and failure-prone;
// anything they return is parsed strictly or rejected at this boundary.
package oracle

import (
	"context"
	"fmt"

	"dealdesk/internal/domain"
)

// Interpreter classifies a raw instruction for a given actor role.
type Interpreter interface {
	Interpret(ctx context.Context, command string, role domain.Role) (domain.Interpretation, error)
}

// ScoreInput is the qualification context for one lead.
type ScoreInput struct {
	Name    string
	Company string
	Notes   string
	Value   int64
}

// Scorer produces a BANT-style qualification report.
type Scorer interface {
	Score(ctx context.Context, in ScoreInput) (domain.QualificationReport, error)
}

// Error wraps any oracle failure: transport, timeout, or a malformed
// response. Callers downgrade it to a generic failure reply; it must never
// escape to the UI as an unhandled error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("oracle %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Disabled satisfies both interfaces when no model is configured. Every
// call fails with an *Error, which callers already treat as a degraded
// outcome rather than a crash.
type Disabled struct{}

func (Disabled) Interpret(context.Context, string, domain.Role) (domain.Interpretation, error) {
	return domain.Interpretation{}, &Error{Op: "interpret", Err: errDisabled}
}

func (Disabled) Score(context.Context, ScoreInput) (domain.QualificationReport, error) {
	return domain.QualificationReport{}, &Error{Op: "score", Err: errDisabled}
}

var errDisabled = fmt.Errorf("oracle disabled: GEMINI_API_KEY not set")
