//go:build js_eval

package rules

import (
	"fmt"

	"github.com/dop251/goja"
)

// jsEvaluator runs expressions in a fresh goja runtime per evaluation.
// Environment keys are globals and also sit under "env".
type jsEvaluator struct {
	engine
}

// NewJSEvaluator constructs an Evaluator backed by goja.
func NewJSEvaluator(opts ...EngineOption) Evaluator {
	return &jsEvaluator{engine: newEngine(TypeJS, opts)}
}

// JSAvailable reports whether the js rule engine is compiled in.
func JSAvailable() bool {
	return true
}

func (e *jsEvaluator) Evaluate(ctx RuleContext, expr string) (any, error) {
	return evaluateOnce(&e.engine, ctx, expr, e.compile, e.run)
}

func (e *jsEvaluator) Compile(expr string) (CompiledRule, error) {
	return compileProgram(&e.engine, expr, e.compile, e.run)
}

func (e *jsEvaluator) compile(expr string) (*goja.Program, error) {
	return goja.Compile("", fmt.Sprintf("(function(){ return (%s); })()", expr), false)
}

func (e *jsEvaluator) run(ctx RuleContext, program *goja.Program) (any, error) {
	vm := goja.New()
	if err := e.bind(vm, ctx); err != nil {
		return nil, err
	}
	value, err := vm.RunProgram(program)
	if err != nil {
		return nil, err
	}
	return value.Export(), nil
}

func (e *jsEvaluator) bind(vm *goja.Runtime, ctx RuleContext) error {
	globals := make(map[string]any, len(ctx.Env)+3)
	for key, value := range ctx.Env {
		globals[key] = value
	}
	globals["env"] = map[string]any(ctx.Env)
	globals["now"] = ctx.timestamp()
	if e.functions != nil {
		globals["call"] = e.call
		for _, name := range e.functions.Names() {
			globals[name] = func(args ...any) (any, error) {
				return e.call(name, args...)
			}
		}
	}
	for key, value := range globals {
		if err := vm.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}
