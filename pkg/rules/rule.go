package rules

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/goliatone/go-settings/internal/hydrate"
)

// Rule types understood by the compiler. Custom types are added with
// Compiler.RegisterType.
const (
	TypeAnd    = "and"
	TypeOr     = "or"
	TypeNot    = "not"
	TypeEquals = "equals"
	TypeIn     = "in"
	TypeExists = "exists"
	TypeRegex  = "regex"
	TypeRoute  = "route"
	TypeExpr   = "expr"
	TypeCEL    = "cel"
	TypeJS     = "js"
)

// Rule is one node of a profile activation predicate, persisted as
// {"type": ..., "data": ...}. Combinators carry a list of rules as data,
// expression rules carry the expression string and leaf comparisons carry an
// object.
type Rule struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// And combines rules; every rule must match.
func And(rules ...Rule) Rule { return Rule{Type: TypeAnd, Data: rules} }

// Or combines rules; at least one rule must match.
func Or(rules ...Rule) Rule { return Rule{Type: TypeOr, Data: rules} }

// Not negates the conjunction of rules.
func Not(rules ...Rule) Rule { return Rule{Type: TypeNot, Data: rules} }

// Equals matches when env[key] equals value.
func Equals(key string, value any) Rule {
	return Rule{Type: TypeEquals, Data: map[string]any{"key": key, "value": value}}
}

// In matches when env[key] equals one of values.
func In(key string, values ...any) Rule {
	return Rule{Type: TypeIn, Data: map[string]any{"key": key, "values": values}}
}

// Exists matches when env has a non-nil value for key.
func Exists(key string) Rule {
	return Rule{Type: TypeExists, Data: map[string]any{"key": key}}
}

// Regex matches when the string form of env[key] matches pattern.
func Regex(key, pattern string) Rule {
	return Rule{Type: TypeRegex, Data: map[string]any{"key": key, "pattern": pattern}}
}

// Route matches when the environment is on the named route.
func Route(name string) Rule {
	return Rule{Type: TypeRoute, Data: map[string]any{"name": name}}
}

// Expr matches when the expr-lang expression evaluates to true.
func Expr(expression string) Rule { return Rule{Type: TypeExpr, Data: expression} }

// CEL matches when the CEL expression evaluates to true.
func CEL(expression string) Rule { return Rule{Type: TypeCEL, Data: expression} }

// JS matches when the JavaScript expression evaluates to true.
func JS(expression string) Rule { return Rule{Type: TypeJS, Data: expression} }

type keyData struct {
	Key string `json:"key"`
}

type equalsData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type inData struct {
	Key    string `json:"key"`
	Values []any  `json:"values"`
}

type regexData struct {
	Key     string `json:"key"`
	Pattern string `json:"pattern"`
}

type routeData struct {
	Name string `json:"name"`
}

type expressionData struct {
	Expression string `json:"expression"`
}

// decodeData hydrates rule data into T and runs validate on the result.
func decodeData[T any](rule Rule, validate func(*T) error) (T, error) {
	var zero T
	decoder := hydrate.NewDecoder[T](
		hydrate.WithPostHook[T](func(_ hydrate.Context, value *T) error {
			if validate == nil {
				return nil
			}
			return validate(value)
		}),
	)
	out, err := decoder.Decode(hydrate.Context{Source: "rule", Kind: rule.Type}, rule.Data)
	if errors.Is(err, hydrate.ErrNotObject) {
		return zero, fmt.Errorf("%w: %s: data must be an object", ErrInvalidRule, rule.Type)
	}
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrInvalidRule, rule.Type, err)
	}
	return out, nil
}

func requireKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	return nil
}

// children decodes combinator data into a rule list.
func children(rule Rule) ([]Rule, error) {
	switch data := rule.Data.(type) {
	case nil:
		return nil, nil
	case []Rule:
		return data, nil
	case Rule:
		return []Rule{data}, nil
	}
	raw, err := json.Marshal(rule.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRule, rule.Type, err)
	}
	var list []Rule
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %s: data must be a rule list", ErrInvalidRule, rule.Type)
	}
	return list, nil
}

// expression extracts the expression of an expr/cel/js rule. Data may be the
// bare string or {"expression": "..."}.
func expression(rule Rule) (string, error) {
	if text, ok := rule.Data.(string); ok {
		if text == "" {
			return "", fmt.Errorf("%w: %s: expression must not be empty", ErrInvalidRule, rule.Type)
		}
		return text, nil
	}
	data, err := decodeData(rule, func(d *expressionData) error {
		if d.Expression == "" {
			return fmt.Errorf("expression must not be empty")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return data.Expression, nil
}
