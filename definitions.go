package settings

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/goliatone/go-settings/pkg/events"
	"github.com/goliatone/go-settings/pkg/provider"
)

// MergeStrategy controls how overrides from several active profiles combine.
type MergeStrategy int

const (
	// MergeNone uses the first active profile that overrides the key.
	MergeNone MergeStrategy = iota
	// MergeMaps deep merges map values, stronger profiles first, with the
	// default as the weakest layer.
	MergeMaps
	// MergeArrays concatenates list values strongest first, default last.
	MergeArrays
)

func (s MergeStrategy) String() string {
	switch s {
	case MergeMaps:
		return "maps"
	case MergeArrays:
		return "arrays"
	default:
		return "none"
	}
}

// UIDescriptor is display metadata for a setting.
type UIDescriptor struct {
	// Path is the menu location, for example ["Chat", "Appearance"].
	Path        []string `json:"path,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Component   string   `json:"component,omitempty"`
	Sort        int      `json:"sort,omitempty"`
}

// Definition is the registered schema of one setting key.
type Definition struct {
	Key     string
	Default any
	// DefaultFunc computes the default from the resolving context. It may read
	// other keys, which should then be listed in Requires.
	DefaultFunc func(ctx *Context) any
	UI          *UIDescriptor
	Requires    []string
	// RequiredBy is derived from other definitions' Requires.
	RequiredBy []string
	// Changed runs when the main context's value for the key changes.
	Changed func(value, old any)
	Merge   MergeStrategy

	placeholder bool
}

// Placeholder reports whether the definition only exists because another
// definition requires the key.
func (d Definition) Placeholder() bool {
	return d.placeholder
}

func (d Definition) clone() Definition {
	d.Requires = slices.Clone(d.Requires)
	d.RequiredBy = slices.Clone(d.RequiredBy)
	if d.UI != nil {
		ui := *d.UI
		ui.Path = slices.Clone(d.UI.Path)
		d.UI = &ui
	}
	return d
}

func validateDefinition(key string, def Definition) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: key must not be empty", ErrInvalidDefinition)
	case reservedKey(key):
		return fmt.Errorf("%w: key %q is reserved", ErrInvalidDefinition, key)
	case def.Default != nil && def.DefaultFunc != nil:
		return fmt.Errorf("%w: %q sets both Default and DefaultFunc", ErrInvalidDefinition, key)
	}
	for _, req := range def.Requires {
		if req == key {
			return fmt.Errorf("%w: %q requires itself", ErrInvalidDefinition, key)
		}
		if strings.TrimSpace(req) == "" || reservedKey(req) {
			return fmt.Errorf("%w: %q requires invalid key %q", ErrInvalidDefinition, key, req)
		}
	}
	return nil
}

// Add registers def under key. Registering a key again replaces the
// definition but keeps the keys that require it.
func (m *Manager) Add(key string, def Definition) error {
	if err := validateDefinition(key, def); err != nil {
		return err
	}
	if def.Default != nil {
		normalized, err := provider.Normalize(def.Default)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidDefinition, key, err)
		}
		def.Default = normalized
	}
	def = def.clone()
	def.Key = key
	if len(def.Requires) > 0 {
		def.Requires = lo.Uniq(def.Requires)
	}
	def.placeholder = false

	m.mu.Lock()
	prev := m.definitions[key]
	def.RequiredBy = nil
	if prev != nil {
		def.RequiredBy = slices.Clone(prev.RequiredBy)
		for _, old := range prev.Requires {
			if slices.Contains(def.Requires, old) {
				continue
			}
			if target := m.definitions[old]; target != nil {
				target.RequiredBy = slices.DeleteFunc(target.RequiredBy, func(k string) bool { return k == key })
			}
		}
	}
	for _, req := range def.Requires {
		target := m.definitions[req]
		if target == nil {
			target = &Definition{Key: req, placeholder: true}
			m.definitions[req] = target
		}
		if !slices.Contains(target.RequiredBy, key) {
			target.RequiredBy = append(target.RequiredBy, key)
			sort.Strings(target.RequiredBy)
		}
	}
	m.definitions[key] = &def
	subject := def.clone()
	main := m.main
	m.mu.Unlock()

	m.emitter.Emit(events.Event{Name: events.AddedDefinition, Key: key, Subject: subject})
	if main != nil {
		main.Update(key)
	}
	return nil
}

// AddMany registers several definitions in key order. It stops at the first
// invalid definition.
func (m *Manager) AddMany(defs map[string]Definition) error {
	keys := lo.Keys(defs)
	sort.Strings(keys)
	for _, key := range keys {
		if err := m.Add(key, defs[key]); err != nil {
			return err
		}
	}
	return nil
}

// AddUI registers a definition that must carry a UI descriptor.
func (m *Manager) AddUI(key string, def Definition) error {
	if def.UI == nil {
		return fmt.Errorf("%w: %q has no UI descriptor", ErrInvalidDefinition, key)
	}
	return m.Add(key, def)
}

// Definition returns a copy of the definition for key.
func (m *Manager) Definition(key string) (Definition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.definitions[key]
	if !ok {
		return Definition{}, false
	}
	return def.clone(), true
}

// Definitions returns copies of every definition sorted by key.
func (m *Manager) Definitions() []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Definition, 0, len(m.definitions))
	for _, def := range m.definitions {
		out = append(out, def.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
