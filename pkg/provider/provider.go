// Package provider persists the flat settings key space and reports changes
// made by other processes or devices.
//
// Every provider keeps an in-memory mirror so reads are synchronous. Values are
// normalized through a JSON round trip on write, so numbers read back as
// float64 and structs as map[string]any.
package provider

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/goliatone/go-settings/layering"
)

const (
	KindMemory = "memory"
	KindLocal  = "local"
	KindCloud  = "cloud"
)

const namespaceSep = ":"

var (
	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("provider: closed")
	// ErrNotReady is returned when a provider is used before its initial load.
	ErrNotReady = errors.New("provider: not ready")
)

// Entry is one persisted key/value pair.
type Entry struct {
	Key   string
	Value any
}

// ChangeFunc receives changes made by an external actor. deleted reports a
// removed key, in which case value is nil.
type ChangeFunc func(key string, value any, deleted bool)

// Provider is a flat key/value store with an in-memory mirror.
type Provider interface {
	Kind() string
	Get(key string, def any) any
	Lookup(key string) (any, bool)
	Set(key string, value any) error
	Delete(key string) error
	Entries() []Entry
	Has(key string) bool
	Size() int
	// AwaitReady blocks until the initial load finished or ctx is done.
	AwaitReady(ctx context.Context) error
	// OnChange registers fn for external changes. Changes are delivered in
	// arrival order from a single goroutine.
	OnChange(fn ChangeFunc) (unsubscribe func())
	Close() error
}

// Normalize returns value as it reads back after persistence.
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("provider: value is not serializable: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("provider: value is not serializable: %w", err)
	}
	return out, nil
}

// Snapshot copies every entry of p into a map.
func Snapshot(p Provider) map[string]any {
	entries := p.Entries()
	out := make(map[string]any, len(entries))
	for _, entry := range entries {
		out[entry.Key] = entry.Value
	}
	return out
}

// mirror is the in-memory copy of the key space shared by every provider.
type mirror struct {
	mu     sync.RWMutex
	values map[string]any
}

func newMirror(seed map[string]any) (*mirror, error) {
	m := &mirror{values: make(map[string]any, len(seed))}
	for key, value := range seed {
		normalized, err := Normalize(value)
		if err != nil {
			return nil, fmt.Errorf("provider: seed key %q: %w", key, err)
		}
		m.values[key] = normalized
	}
	return m, nil
}

func (m *mirror) Get(key string, def any) any {
	if value, ok := m.Lookup(key); ok {
		return value
	}
	return def
}

func (m *mirror) Lookup(key string) (any, bool) {
	m.mu.RLock()
	value, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return layering.Clone(value), true
}

func (m *mirror) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[key]
	return ok
}

func (m *mirror) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

func (m *mirror) Entries() []Entry {
	m.mu.RLock()
	entries := make([]Entry, 0, len(m.values))
	for key, value := range m.values {
		entries = append(entries, Entry{Key: key, Value: layering.Clone(value)})
	}
	m.mu.RUnlock()
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.Key, b.Key) })
	return entries
}

func (m *mirror) store(key string, value any) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

func (m *mirror) remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	delete(m.values, key)
	return ok
}

// replace swaps the whole key space and returns the changes against the
// previous contents.
func (m *mirror) replace(next map[string]any) []change {
	m.mu.Lock()
	defer m.mu.Unlock()
	changes := diff(m.values, next)
	m.values = next
	return changes
}

func (m *mirror) copyValues() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.values))
	for key, value := range m.values {
		out[key] = value
	}
	return out
}

type change struct {
	key     string
	value   any
	deleted bool
}

// diff lists keys whose values differ between prev and next. Top-level keys
// come before namespaced ones so a list key is reported ahead of its entries;
// ties are sorted by key.
func diff(prev, next map[string]any) []change {
	var changes []change
	for key, value := range next {
		old, ok := prev[key]
		if !ok || !reflect.DeepEqual(old, value) {
			changes = append(changes, change{key: key, value: value})
		}
	}
	for key := range prev {
		if _, ok := next[key]; !ok {
			changes = append(changes, change{key: key, deleted: true})
		}
	}
	slices.SortFunc(changes, func(a, b change) int {
		return cmp.Or(
			cmp.Compare(strings.Count(a.key, namespaceSep), strings.Count(b.key, namespaceSep)),
			strings.Compare(a.key, b.key),
		)
	})
	return changes
}
