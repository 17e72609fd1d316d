package rules

import (
	"errors"
	"testing"
)

func TestFunctionRegistry(t *testing.T) {
	registry := NewFunctionRegistry()
	if err := registry.Register("Upper", func(args ...any) (any, error) { return "X", nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register("upper", func(args ...any) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := registry.Register("nil", nil); err == nil {
		t.Fatalf("expected nil function to fail")
	}

	clone := registry.Clone()
	if err := clone.Register("extra", func(args ...any) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("register on clone: %v", err)
	}
	if got := registry.Names(); len(got) != 1 || got[0] != "Upper" {
		t.Fatalf("clone must not leak into original, got %v", got)
	}

	out, err := registry.Call("UPPER")
	if err != nil || out != "X" {
		t.Fatalf("unexpected call result %v %v", out, err)
	}
	if _, err := registry.Call("missing"); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction, got %v", err)
	}
	var nilRegistry *FunctionRegistry
	if _, err := nilRegistry.Call("x"); !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("expected ErrUnknownFunction for nil registry, got %v", err)
	}
	if nilRegistry.Clone() != nil || nilRegistry.Names() != nil {
		t.Fatalf("nil registry should clone and list as nil")
	}
	if err := registry.Register("  ", func(...any) (any, error) { return nil, nil }); err == nil {
		t.Fatalf("expected blank name to fail")
	}
}
