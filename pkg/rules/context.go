package rules

import (
	"strings"
	"time"
)

// Env is the environment bag a profile predicate is evaluated against, for
// example the current route, path or user facts.
type Env map[string]any

// Lookup resolves key in env. Exact keys win; otherwise dotted keys walk
// nested maps ("user.login").
func (e Env) Lookup(key string) (any, bool) {
	if e == nil || key == "" {
		return nil, false
	}
	if value, ok := e[key]; ok {
		return value, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}
	var current any = map[string]any(e)
	for _, part := range strings.Split(key, ".") {
		node, ok := asStringMap(current)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Clone returns a shallow copy of env.
func (e Env) Clone() Env {
	out := make(Env, len(e))
	for key, value := range e {
		out[key] = value
	}
	return out
}

func asStringMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case Env:
		return typed, true
	default:
		return nil, false
	}
}

// RuleContext carries inputs needed when evaluating an expression rule.
type RuleContext struct {
	Env   Env
	Now   *time.Time
	Scope string
}

func (ctx RuleContext) withDefaults() RuleContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Env == nil {
		ctx.Env = Env{}
	}
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	return *ctx.withDefaults().Now
}

// Evaluator executes expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}
