package rules

// EngineOption configures an expression engine (expr, cel or js).
type EngineOption func(*engine)

// WithCache shares compiled programs through cache. Keys are prefixed with
// the engine name.
func WithCache(cache ProgramCache) EngineOption {
	return func(e *engine) {
		e.cache = cache
	}
}

// WithFunctions exposes a copy of registry to expressions, by name and
// through call(name, args...).
func WithFunctions(registry *FunctionRegistry) EngineOption {
	return func(e *engine) {
		e.functions = registry.Clone()
	}
}

// engine is the state every expression evaluator carries.
type engine struct {
	name      string
	cache     ProgramCache
	functions *FunctionRegistry
}

func newEngine(name string, opts []EngineOption) engine {
	e := engine{name: name}
	for _, opt := range opts {
		if opt != nil {
			opt(&e)
		}
	}
	return e
}

// Engine reports the rule type the evaluator serves.
func (e *engine) Engine() string {
	return e.name
}

func (e *engine) call(name string, args ...any) (any, error) {
	return e.functions.Call(name, args...)
}

// programFor returns the program for expr, compiling and caching it on a miss.
func programFor[P any](e *engine, expr string, compile func(string) (P, error)) (P, error) {
	var zero P
	if expr == "" {
		return zero, annotate(errEmptyExpression, e.name, PhaseCompile, expr, "")
	}
	key := e.name + ":" + expr
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(P); ok {
				return program, nil
			}
		}
	}
	program, err := compile(expr)
	if err != nil {
		return zero, annotate(err, e.name, PhaseCompile, expr, "")
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

// program pairs a compiled expression with the runner of its engine.
type program[P any] struct {
	engine string
	expr   string
	code   P
	run    func(RuleContext, P) (any, error)
}

func compileProgram[P any](e *engine, expr string, compile func(string) (P, error), run func(RuleContext, P) (any, error)) (CompiledRule, error) {
	code, err := programFor(e, expr, compile)
	if err != nil {
		return nil, err
	}
	return &program[P]{engine: e.name, expr: expr, code: code, run: run}, nil
}

func (p *program[P]) Evaluate(ctx RuleContext) (any, error) {
	ctx = ctx.withDefaults()
	out, err := p.run(ctx, p.code)
	if err != nil {
		return nil, annotate(err, p.engine, PhaseEvaluate, p.expr, ctx.Scope)
	}
	return out, nil
}

func evaluateOnce[P any](e *engine, ctx RuleContext, expr string, compile func(string) (P, error), run func(RuleContext, P) (any, error)) (any, error) {
	compiled, err := compileProgram(e, expr, compile, run)
	if err != nil {
		return nil, err
	}
	return compiled.Evaluate(ctx)
}
