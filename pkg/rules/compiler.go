package rules

import (
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"sync"
	"time"
)

// Matcher reports whether an environment satisfies a compiled predicate.
type Matcher func(Env) bool

// MatchFunc implements a custom rule type. data is the rule's raw data.
type MatchFunc func(data any, env Env) (bool, error)

// Never is the matcher used when a predicate fails to compile.
func Never(Env) bool { return false }

// Always is the matcher for an empty predicate.
func Always(Env) bool { return true }

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithEvaluator replaces the evaluator used for an expression rule type
// (TypeExpr, TypeCEL or TypeJS).
func WithEvaluator(ruleType string, evaluator Evaluator) CompilerOption {
	return func(c *Compiler) {
		c.evaluators[ruleType] = evaluator
	}
}

// WithEvaluatorLogger attaches an evaluator logger.
func WithEvaluatorLogger(logger EvaluatorLogger) CompilerOption {
	return func(c *Compiler) {
		if logger == nil {
			c.logger = noopEvaluatorLogger{}
			return
		}
		c.logger = logger
	}
}

// WithFunctionRegistry exposes registry functions to the default evaluators.
func WithFunctionRegistry(registry *FunctionRegistry) CompilerOption {
	return func(c *Compiler) {
		c.functions = registry.Clone()
	}
}

// WithProgramCache shares cache across the default evaluators.
func WithProgramCache(cache ProgramCache) CompilerOption {
	return func(c *Compiler) {
		c.cache = cache
	}
}

// Compiler turns persisted rule lists into matchers. Route patterns and custom
// types are captured when a list is compiled, so callers recompile after
// changing them.
type Compiler struct {
	mu         sync.RWMutex
	routes     map[string]*regexp.Regexp
	sources    map[string]string
	types      map[string]MatchFunc
	evaluators map[string]Evaluator

	functions *FunctionRegistry
	cache     ProgramCache
	logger    EvaluatorLogger
}

// NewCompiler constructs a compiler with expr, cel and (when compiled in) js
// evaluators sharing one program cache.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{
		routes:     map[string]*regexp.Regexp{},
		sources:    map[string]string{},
		types:      map[string]MatchFunc{},
		evaluators: map[string]Evaluator{},
		logger:     noopEvaluatorLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.cache == nil {
		c.cache = NewMapCache()
	}
	engineOpts := []EngineOption{WithCache(c.cache), WithFunctions(c.functions)}
	defaults := map[string]func(...EngineOption) Evaluator{
		TypeExpr: NewExprEvaluator,
		TypeCEL:  NewCELEvaluator,
		TypeJS:   NewJSEvaluator,
	}
	for ruleType, build := range defaults {
		if _, ok := c.evaluators[ruleType]; ok {
			continue
		}
		if evaluator := build(engineOpts...); evaluator != nil {
			c.evaluators[ruleType] = evaluator
		}
	}
	return c
}

// SetRoutes replaces the named route patterns used by route rules. Patterns are
// regular expressions matched against env["path"]. On error nothing changes.
func (c *Compiler) SetRoutes(routes map[string]string) error {
	compiled := make(map[string]*regexp.Regexp, len(routes))
	for name, pattern := range routes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("rules: route %q: %w", name, err)
		}
		compiled[name] = re
	}
	c.mu.Lock()
	c.routes = compiled
	c.sources = maps.Clone(routes)
	c.mu.Unlock()
	return nil
}

// Routes returns a copy of the registered route patterns.
func (c *Compiler) Routes() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.sources)
}

// RegisterType adds or replaces a custom rule type.
func (c *Compiler) RegisterType(name string, fn MatchFunc) error {
	if name == "" {
		return fmt.Errorf("rules: rule type name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("rules: rule type %q has nil match function", name)
	}
	if isBuiltin(name) {
		return fmt.Errorf("rules: rule type %q is built in", name)
	}
	c.mu.Lock()
	c.types[name] = fn
	c.mu.Unlock()
	return nil
}

func isBuiltin(name string) bool {
	switch name {
	case TypeAnd, TypeOr, TypeNot, TypeEquals, TypeIn, TypeExists, TypeRegex, TypeRoute, TypeExpr, TypeCEL, TypeJS:
		return true
	}
	return false
}

// Compile builds a matcher for list. The list is an implicit AND and an empty
// list always matches. scope labels evaluation errors and log events.
func (c *Compiler) Compile(list []Rule, scope string) (Matcher, error) {
	if len(list) == 0 {
		return Always, nil
	}
	predicate, err := c.all(list, scope)
	if err != nil {
		return Never, err
	}
	return Matcher(predicate), nil
}

func (c *Compiler) all(list []Rule, scope string) (func(Env) bool, error) {
	predicates := make([]func(Env) bool, 0, len(list))
	for _, rule := range list {
		predicate, err := c.compile(rule, scope)
		if err != nil {
			return nil, err
		}
		predicates = append(predicates, predicate)
	}
	return func(env Env) bool {
		for _, predicate := range predicates {
			if !predicate(env) {
				return false
			}
		}
		return true
	}, nil
}

func (c *Compiler) compile(rule Rule, scope string) (func(Env) bool, error) {
	switch rule.Type {
	case TypeAnd, TypeNot:
		list, err := children(rule)
		if err != nil {
			return nil, err
		}
		inner, err := c.all(list, scope)
		if err != nil {
			return nil, err
		}
		if rule.Type == TypeNot {
			return func(env Env) bool { return !inner(env) }, nil
		}
		return inner, nil
	case TypeOr:
		list, err := children(rule)
		if err != nil {
			return nil, err
		}
		predicates := make([]func(Env) bool, 0, len(list))
		for _, child := range list {
			predicate, err := c.compile(child, scope)
			if err != nil {
				return nil, err
			}
			predicates = append(predicates, predicate)
		}
		return func(env Env) bool {
			for _, predicate := range predicates {
				if predicate(env) {
					return true
				}
			}
			return false
		}, nil
	case TypeEquals:
		data, err := decodeData(rule, func(d *equalsData) error { return requireKey(d.Key) })
		if err != nil {
			return nil, err
		}
		return func(env Env) bool {
			value, ok := env.Lookup(data.Key)
			return ok && valuesEqual(value, data.Value)
		}, nil
	case TypeIn:
		data, err := decodeData(rule, func(d *inData) error { return requireKey(d.Key) })
		if err != nil {
			return nil, err
		}
		return func(env Env) bool {
			value, ok := env.Lookup(data.Key)
			if !ok {
				return false
			}
			for _, candidate := range data.Values {
				if valuesEqual(value, candidate) {
					return true
				}
			}
			return false
		}, nil
	case TypeExists:
		data, err := decodeData(rule, func(d *keyData) error { return requireKey(d.Key) })
		if err != nil {
			return nil, err
		}
		return func(env Env) bool {
			value, ok := env.Lookup(data.Key)
			return ok && value != nil
		}, nil
	case TypeRegex:
		data, err := decodeData(rule, func(d *regexData) error { return requireKey(d.Key) })
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(data.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: regex: %v", ErrInvalidRule, err)
		}
		return func(env Env) bool {
			value, ok := env.Lookup(data.Key)
			return ok && value != nil && re.MatchString(fmt.Sprint(value))
		}, nil
	case TypeRoute:
		data, err := decodeData(rule, func(d *routeData) error {
			if d.Name == "" {
				return fmt.Errorf("name must not be empty")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		c.mu.RLock()
		pattern := c.routes[data.Name]
		c.mu.RUnlock()
		return func(env Env) bool {
			if route, ok := env["route"].(string); ok && route == data.Name {
				return true
			}
			path, ok := env["path"].(string)
			return ok && pattern != nil && pattern.MatchString(path)
		}, nil
	case TypeExpr, TypeCEL, TypeJS:
		return c.compileExpression(rule, scope)
	}

	c.mu.RLock()
	fn := c.types[rule.Type]
	c.mu.RUnlock()
	if fn == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, rule.Type)
	}
	data := rule.Data
	engine := "custom:" + rule.Type
	return func(env Env) bool {
		start := time.Now()
		ok, err := fn(data, env)
		c.logger.LogEvaluation(EvaluatorLogEvent{
			Engine:   engine,
			Scope:    scope,
			Duration: time.Since(start),
			Result:   ok,
			Err:      err,
		})
		return err == nil && ok
	}, nil
}

func (c *Compiler) compileExpression(rule Rule, scope string) (func(Env) bool, error) {
	text, err := expression(rule)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	evaluator := c.evaluators[rule.Type]
	c.mu.RUnlock()
	if evaluator == nil {
		return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, rule.Type)
	}
	program, err := evaluator.Compile(text)
	if err != nil {
		return nil, annotate(err, rule.Type, PhaseCompile, text, scope)
	}
	return func(env Env) bool {
		start := time.Now()
		result, err := program.Evaluate(RuleContext{Env: env, Scope: scope})
		err = annotate(err, rule.Type, PhaseEvaluate, text, scope)
		c.logger.LogEvaluation(EvaluatorLogEvent{
			Engine:   rule.Type,
			Expr:     text,
			Scope:    scope,
			Duration: time.Since(start),
			Result:   result,
			Err:      err,
		})
		matched, ok := result.(bool)
		return err == nil && ok && matched
	}, nil
}

// valuesEqual compares environment and rule values. Numbers compare by value
// regardless of their Go type since persisted rules decode as float64.
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(value any) (float64, bool) {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	return 0, false
}
