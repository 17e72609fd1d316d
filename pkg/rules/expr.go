package rules

import (
	"maps"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// exprEvaluator is the default engine. Environment keys are top-level
// variables and also sit under "env"; registered functions are callable by
// name. Unknown variables evaluate to nil so a profile can test facts the
// host does not always provide.
type exprEvaluator struct {
	engine
}

// NewExprEvaluator constructs an Evaluator backed by expr-lang/expr.
func NewExprEvaluator(opts ...EngineOption) Evaluator {
	return &exprEvaluator{engine: newEngine(TypeExpr, opts)}
}

func (e *exprEvaluator) Evaluate(ctx RuleContext, expr string) (any, error) {
	return evaluateOnce(&e.engine, ctx, expr, e.compile, e.run)
}

func (e *exprEvaluator) Compile(expr string) (CompiledRule, error) {
	return compileProgram(&e.engine, expr, e.compile, e.run)
}

func (e *exprEvaluator) compile(expr string) (*exprvm.Program, error) {
	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range e.functions.Names() {
		options = append(options, exprlang.Function(name, func(args ...any) (any, error) {
			return e.call(name, args...)
		}))
	}
	return exprlang.Compile(expr, options...)
}

func (e *exprEvaluator) run(ctx RuleContext, program *exprvm.Program) (any, error) {
	vars := make(map[string]any, len(ctx.Env)+3)
	maps.Copy(vars, ctx.Env)
	vars["env"] = map[string]any(ctx.Env)
	vars["now"] = ctx.timestamp()
	if e.functions != nil {
		vars["call"] = e.call
	}
	return exprlang.Run(program, vars)
}
