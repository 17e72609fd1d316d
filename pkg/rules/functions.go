package rules

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Function is a helper callable from expression rules, for example a
// feature-flag lookup the host application owns.
type Function func(args ...any) (any, error)

// FunctionRegistry holds the helpers exposed to expression rules. Lookups
// ignore case; Names keeps the spelling used at registration.
type FunctionRegistry struct {
	mu      sync.RWMutex
	entries map[string]namedFunction
}

type namedFunction struct {
	name string
	fn   Function
}

// NewFunctionRegistry constructs an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{entries: map[string]namedFunction{}}
}

// Register adds fn under name. Names are unique regardless of case.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return errors.New("rules: function name must not be empty")
	case fn == nil:
		return fmt.Errorf("rules: function %q is nil", name)
	}
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("rules: function %q registered twice", name)
	}
	if r.entries == nil {
		r.entries = map[string]namedFunction{}
	}
	r.entries[key] = namedFunction{name: name, fn: fn}
	return nil
}

// Clone returns an independent copy; nil stays nil.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := maps.Clone(r.entries)
	if entries == nil {
		entries = map[string]namedFunction{}
	}
	return &FunctionRegistry{entries: entries}
}

// Call runs the function registered under name.
func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	var (
		entry namedFunction
		ok    bool
	)
	if r != nil {
		r.mu.RLock()
		entry, ok = r.entries[strings.ToLower(name)]
		r.mu.RUnlock()
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return entry.fn(args...)
}

// Names returns the registered names in sorted order.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		names = append(names, entry.name)
	}
	slices.Sort(names)
	return names
}
