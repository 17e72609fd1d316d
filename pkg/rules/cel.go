package rules

import (
	"sync"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// celEvaluator runs cel-go programs. The environment is the map variable
// "env" (env.route == "chat") and registered functions are reached through
// call("name", arg).
type celEvaluator struct {
	engine

	envOnce sync.Once
	env     *celgo.Env
	envErr  error
}

// NewCELEvaluator constructs an Evaluator backed by cel-go.
func NewCELEvaluator(opts ...EngineOption) Evaluator {
	return &celEvaluator{engine: newEngine(TypeCEL, opts)}
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expr string) (any, error) {
	return evaluateOnce(&e.engine, ctx, expr, e.compile, e.run)
}

func (e *celEvaluator) Compile(expr string) (CompiledRule, error) {
	return compileProgram(&e.engine, expr, e.compile, e.run)
}

func (e *celEvaluator) compile(expr string) (celgo.Program, error) {
	env, err := e.environment()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return env.Program(ast)
}

func (e *celEvaluator) run(ctx RuleContext, program celgo.Program) (any, error) {
	out, _, err := program.Eval(map[string]any{
		"env": map[string]any(ctx.Env),
		"now": ctx.timestamp(),
	})
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}

func (e *celEvaluator) environment() (*celgo.Env, error) {
	e.envOnce.Do(func() {
		opts := []celgo.EnvOption{
			celgo.Variable("env", celgo.MapType(celgo.StringType, celgo.DynType)),
			celgo.Variable("now", celgo.TimestampType),
		}
		if e.functions != nil {
			opts = append(opts, celgo.Function("call",
				celgo.Overload("call_string",
					[]*celgo.Type{celgo.StringType},
					celgo.DynType,
					celgo.UnaryBinding(func(name ref.Val) ref.Val {
						return e.callRef(name)
					}),
				),
				celgo.Overload("call_string_dyn",
					[]*celgo.Type{celgo.StringType, celgo.DynType},
					celgo.DynType,
					celgo.BinaryBinding(func(name, arg ref.Val) ref.Val {
						return e.callRef(name, arg)
					}),
				),
			))
		}
		e.env, e.envErr = celgo.NewEnv(opts...)
	})
	return e.env, e.envErr
}

func (e *celEvaluator) callRef(name ref.Val, values ...ref.Val) ref.Val {
	fn, ok := name.Value().(string)
	if !ok {
		return types.NewErr("rules: call name must be a string")
	}
	args := make([]any, len(values))
	for i, val := range values {
		args[i] = val.Value()
	}
	result, err := e.call(fn, args...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}
