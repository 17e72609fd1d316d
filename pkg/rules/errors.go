package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownRule is returned when a rule type has no registered handler.
	ErrUnknownRule = errors.New("rules: unknown rule type")
	// ErrEngineUnavailable is returned when an expression engine is not
	// configured or not compiled in.
	ErrEngineUnavailable = errors.New("rules: expression engine unavailable")
	// ErrInvalidRule is returned when rule data does not fit its type.
	ErrInvalidRule = errors.New("rules: invalid rule")
	// ErrUnknownFunction is returned when an expression calls a function
	// that was never registered.
	ErrUnknownFunction = errors.New("rules: unknown function")

	errEmptyExpression = errors.New("expression must not be empty")
)

// Phases reported by EvaluationError.
const (
	PhaseCompile  = "compile"
	PhaseEvaluate = "evaluate"
)

// EvaluationError reports an expression rule that failed to compile or run.
type EvaluationError struct {
	Engine string
	Phase  string
	Expr   string
	// Scope names the owner of the rule, for example "profile:3".
	Scope string
	Err   error
}

func (e *EvaluationError) Error() string {
	var b strings.Builder
	b.WriteString("rules: ")
	b.WriteString(e.Engine)
	if e.Phase != "" {
		b.WriteString(" " + e.Phase)
	}
	if e.Scope != "" {
		b.WriteString(" (" + e.Scope + ")")
	}
	if e.Expr != "" {
		fmt.Fprintf(&b, " %q", e.Expr)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// annotate returns err as an EvaluationError. When err already carries one,
// only its blank fields are filled.
func annotate(err error, engine, phase, expr, scope string) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		return &EvaluationError{Engine: engine, Phase: phase, Expr: expr, Scope: scope, Err: err}
	}
	fill := func(field *string, value string) {
		if *field == "" {
			*field = value
		}
	}
	fill(&evalErr.Engine, engine)
	fill(&evalErr.Phase, phase)
	fill(&evalErr.Expr, expr)
	fill(&evalErr.Scope, scope)
	return err
}
