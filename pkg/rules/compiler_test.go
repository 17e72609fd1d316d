package rules

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

func mustCompile(t *testing.T, c *Compiler, list ...Rule) Matcher {
	t.Helper()
	matcher, err := c.Compile(list, "test")
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return matcher
}

func TestEmptyListAlwaysMatches(t *testing.T) {
	matcher := mustCompile(t, NewCompiler())
	if !matcher(nil) || !matcher(Env{"route": "x"}) {
		t.Fatalf("empty predicate should always match")
	}
}

func TestLeafRules(t *testing.T) {
	c := NewCompiler()
	env := Env{
		"route":   "dashboard",
		"channel": "streamer",
		"count":   3,
		"user":    map[string]any{"login": "alice", "roles": []any{"mod"}},
		"empty":   nil,
	}
	cases := []struct {
		name string
		rule Rule
		want bool
	}{
		{"equals string", Equals("route", "dashboard"), true},
		{"equals mismatch", Equals("route", "home"), false},
		{"equals numeric across types", Equals("count", 3.0), true},
		{"equals dotted path", Equals("user.login", "alice"), true},
		{"equals missing key", Equals("nope", nil), false},
		{"in", In("channel", "viewer", "streamer"), true},
		{"in miss", In("channel", "viewer"), false},
		{"exists", Exists("user.login"), true},
		{"exists nil value", Exists("empty"), false},
		{"regex", Regex("channel", "^stream"), true},
		{"regex miss", Regex("channel", "^view"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			matcher := mustCompile(t, c, tc.rule)
			if got := matcher(env); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCombinators(t *testing.T) {
	c := NewCompiler()
	env := Env{"route": "chat", "theme": "dark"}

	if !mustCompile(t, c, Equals("route", "chat"), Equals("theme", "dark"))(env) {
		t.Fatalf("top-level list should be an implicit AND that matches")
	}
	if mustCompile(t, c, Equals("route", "chat"), Equals("theme", "light"))(env) {
		t.Fatalf("implicit AND should fail when one rule fails")
	}
	if !mustCompile(t, c, Or(Equals("route", "home"), Equals("route", "chat")))(env) {
		t.Fatalf("or should match when any child matches")
	}
	if mustCompile(t, c, Or())(env) {
		t.Fatalf("empty or should not match")
	}
	if !mustCompile(t, c, Not(Equals("route", "home")))(env) {
		t.Fatalf("not should negate")
	}
	if !mustCompile(t, c, And(Equals("theme", "dark"), Not(Exists("missing"))))(env) {
		t.Fatalf("nested and/not should match")
	}
}

func TestPersistedRulesDecode(t *testing.T) {
	raw := `[{"type":"or","data":[{"type":"equals","data":{"key":"route","value":"chat"}},{"type":"in","data":{"key":"count","values":[1,2]}}]}]`
	var list []Rule
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	matcher := mustCompile(t, NewCompiler(), list...)
	if !matcher(Env{"count": 2}) {
		t.Fatalf("expected persisted in rule to match")
	}
	if matcher(Env{"route": "home", "count": 5}) {
		t.Fatalf("expected persisted rules not to match")
	}
}

func TestRouteRules(t *testing.T) {
	c := NewCompiler()
	if err := c.SetRoutes(map[string]string{"user": `^/u/[^/]+$`}); err != nil {
		t.Fatalf("set routes: %v", err)
	}
	matcher := mustCompile(t, c, Route("user"))
	if !matcher(Env{"route": "user"}) {
		t.Fatalf("route name should match")
	}
	if !matcher(Env{"path": "/u/alice"}) {
		t.Fatalf("path should match registered pattern")
	}
	if matcher(Env{"path": "/settings"}) {
		t.Fatalf("unrelated path should not match")
	}

	if err := c.SetRoutes(map[string]string{"broken": "("}); err == nil {
		t.Fatalf("expected invalid pattern error")
	}
	if got := c.Routes()["user"]; got != `^/u/[^/]+$` {
		t.Fatalf("failed SetRoutes must keep previous routes, got %q", got)
	}

	if err := c.SetRoutes(map[string]string{"user": `^/user/`}); err != nil {
		t.Fatalf("set routes: %v", err)
	}
	if !matcher(Env{"path": "/u/alice"}) {
		t.Fatalf("compiled matcher keeps the pattern it was built with")
	}
	if !mustCompile(t, c, Route("user"))(Env{"path": "/user/alice"}) {
		t.Fatalf("recompiled matcher should use the new pattern")
	}
}

func TestExpressionRules(t *testing.T) {
	registry := NewFunctionRegistry()
	if err := registry.Register("isMod", func(args ...any) (any, error) {
		return len(args) == 1 && args[0] == "alice", nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	c := NewCompiler(WithFunctionRegistry(registry))
	env := Env{"route": "chat", "count": 4, "user": "alice"}

	cases := []struct {
		name string
		rule Rule
		want bool
	}{
		{"expr", Expr(`route == "chat" && count > 3`), true},
		{"expr env binding", Expr(`env.route == "home"`), false},
		{"expr registry function", Expr(`isMod(user)`), true},
		{"expr non bool result", Expr(`count`), false},
		{"expr object data", Rule{Type: TypeExpr, Data: map[string]any{"expression": "count == 4"}}, true},
		{"cel", CEL(`env.route == "chat"`), true},
		{"cel call", CEL(`call("isMod", env.user) == true`), true},
		{"cel missing key errors to false", CEL(`env.missing == "x"`), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mustCompile(t, c, tc.rule)(env); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	c := NewCompiler()
	cases := []struct {
		name string
		rule Rule
		want error
	}{
		{"unknown type", Rule{Type: "bogus"}, ErrUnknownRule},
		{"missing key", Rule{Type: TypeEquals, Data: map[string]any{"value": 1}}, ErrInvalidRule},
		{"bad regex", Regex("k", "("), ErrInvalidRule},
		{"bad combinator data", Rule{Type: TypeAnd, Data: "nope"}, ErrInvalidRule},
		{"empty expression", Expr(""), ErrInvalidRule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			matcher, err := c.Compile([]Rule{tc.rule}, "test")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if matcher == nil || matcher(Env{}) {
				t.Fatalf("failed compile should yield a never-matching matcher")
			}
		})
	}

	_, err := c.Compile([]Rule{Expr("route ==")}, "profile:2")
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError for syntax error, got %v", err)
	}
	if evalErr.Engine != "expr" || evalErr.Scope != "profile:2" {
		t.Fatalf("unexpected metadata %+v", evalErr)
	}
}

func TestJSRuleRequiresEngine(t *testing.T) {
	c := NewCompiler()
	matcher, err := c.Compile([]Rule{JS(`route === "chat"`)}, "test")
	if JSAvailable() {
		if err != nil || !matcher(Env{"route": "chat"}) {
			t.Fatalf("expected js rule to match, err=%v", err)
		}
		return
	}
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestCustomRuleTypes(t *testing.T) {
	c := NewCompiler()
	if err := c.RegisterType(TypeEquals, func(any, Env) (bool, error) { return true, nil }); err == nil {
		t.Fatalf("expected builtin type to be protected")
	}
	if err := c.RegisterType("live", func(data any, env Env) (bool, error) {
		want, _ := data.(bool)
		live, _ := env["live"].(bool)
		if env["fail"] == true {
			return false, errors.New("lookup failed")
		}
		return live == want, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	matcher := mustCompile(t, c, Rule{Type: "live", Data: true})
	if !matcher(Env{"live": true}) {
		t.Fatalf("custom rule should match")
	}
	if matcher(Env{"live": true, "fail": true}) {
		t.Fatalf("custom rule errors should not match")
	}
}

func TestEvaluatorLoggerReceivesEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []EvaluatorLogEvent
	)
	c := NewCompiler(WithEvaluatorLogger(EvaluatorLoggerFunc(func(event EvaluatorLogEvent) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})))
	matcher := mustCompile(t, c, Expr(`route == "chat"`))
	matcher(Env{"route": "chat"})

	if len(events) != 1 {
		t.Fatalf("expected one log event, got %d", len(events))
	}
	if events[0].Engine != "expr" || events[0].Result != true || events[0].Err != nil {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if !strings.Contains(events[0].Expr, "route") {
		t.Fatalf("expected expression in event, got %q", events[0].Expr)
	}
}

func TestEnvLookup(t *testing.T) {
	env := Env{"a.b": 1, "a": map[string]any{"b": 2, "c": map[string]any{"d": 3}}}
	if v, _ := env.Lookup("a.b"); v != 1 {
		t.Fatalf("exact key should win, got %v", v)
	}
	if v, _ := env.Lookup("a.c.d"); v != 3 {
		t.Fatalf("expected nested lookup, got %v", v)
	}
	if _, ok := env.Lookup("a.c.x"); ok {
		t.Fatalf("missing nested key should report false")
	}
}
