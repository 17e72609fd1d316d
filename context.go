package settings

import (
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/goliatone/go-settings/layering"
	"github.com/goliatone/go-settings/pkg/events"
	"github.com/goliatone/go-settings/pkg/rules"
)

// Context resolves effective values for one environment. It keeps the active
// profiles in priority order, a resolution cache and per-key usage counters.
// Contexts never write to the provider.
type Context struct {
	manager *Manager
	main    bool
	emitter *events.Emitter

	mu     sync.Mutex
	env    rules.Env
	active []*Profile
	cache  map[string]any
	uses   map[string]int
	closed bool
	// epoch counts cache swaps by SelectProfiles; gen also counts recomputes
	// by update. A value resolved under an older counter is not stored.
	epoch uint64
	gen   uint64
}

func newContext(m *Manager, env rules.Env, main bool) *Context {
	if env == nil {
		env = rules.Env{}
	}
	return &Context{
		manager: m,
		main:    main,
		emitter: events.New(),
		env:     env.Clone(),
		cache:   map[string]any{},
		uses:    map[string]int{},
	}
}

// On subscribes to the context's changed and uses_changed events.
func (c *Context) On(topic string, handler events.Handler) *events.Subscription {
	return c.emitter.On(topic, handler)
}

func (c *Context) Off(sub *events.Subscription) {
	c.emitter.Off(sub)
}

// Environment returns a copy of the environment bag.
func (c *Context) Environment() rules.Env {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.env.Clone()
}

// Profiles returns the active profiles, highest priority first.
func (c *Context) Profiles() []*Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.active)
}

func (c *Context) isActive(id int) bool {
	return containsProfile(c.Profiles(), id)
}

// SelectProfiles re-evaluates every profile against the environment, in
// persisted order, and recomputes cached keys. changed is emitted for each
// cached key whose value differs afterwards.
func (c *Context) SelectProfiles() {
	env := c.Environment()
	var active []*Profile
	for _, p := range c.manager.Profiles() {
		if p.Matches(env) {
			active = append(active, p)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.active = active
	previous := c.cache
	c.cache = map[string]any{}
	c.epoch++
	c.gen++
	epoch := c.epoch
	c.mu.Unlock()

	keys := make([]string, 0, len(previous))
	for key := range previous {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := c.resolve(key)
		c.mu.Lock()
		if c.epoch != epoch {
			// A newer selection recomputes from here.
			c.mu.Unlock()
			return
		}
		c.cache[key] = value
		c.mu.Unlock()
		old := previous[key]
		if !reflect.DeepEqual(old, value) {
			c.emitChanged(key, value, old)
		}
	}
}

// Get returns the effective value of key and counts the use.
func (c *Context) Get(key string) any {
	c.mu.Lock()
	value, cached := c.cache[key]
	for !cached {
		gen := c.gen
		c.mu.Unlock()
		resolved := c.resolve(key)
		c.mu.Lock()
		if existing, ok := c.cache[key]; ok {
			value, cached = existing, true
		} else if c.gen == gen {
			c.cache[key] = resolved
			value, cached = resolved, true
		}
	}
	old := c.uses[key]
	c.uses[key] = old + 1
	c.mu.Unlock()

	c.emitter.Emit(events.Event{Name: events.UsesChanged, Key: key, Value: old + 1, OldValue: old})
	return layering.Clone(value)
}

// Uses returns how often key was read through Get.
func (c *Context) Uses(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uses[key]
}

// Has reports whether an active profile overrides key or a definition
// provides a default for it.
func (c *Context) Has(key string) bool {
	for _, p := range c.Profiles() {
		if p.Has(key) {
			return true
		}
	}
	def, ok := c.manager.Definition(key)
	return ok && (def.Default != nil || def.DefaultFunc != nil)
}

// Keys returns the cached keys in order.
func (c *Context) Keys() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.cache))
	for key := range c.cache {
		keys = append(keys, key)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Update recomputes a cached key and emits changed when its value differs.
// Keys that require it are updated in turn. Uncached keys are left alone.
func (c *Context) Update(key string) {
	c.update(key, map[string]bool{})
}

func (c *Context) update(key string, visited map[string]bool) {
	if visited[key] {
		return
	}
	visited[key] = true

	c.mu.Lock()
	_, cached := c.cache[key]
	c.gen++
	epoch := c.epoch
	c.mu.Unlock()
	if cached {
		value := c.resolve(key)
		c.mu.Lock()
		old, stillCached := c.cache[key]
		stored := stillCached && c.epoch == epoch
		if stored {
			c.cache[key] = value
		}
		c.mu.Unlock()
		if stored && !reflect.DeepEqual(old, value) {
			c.emitChanged(key, value, old)
		}
	}

	if def, ok := c.manager.Definition(key); ok {
		for _, dependent := range def.RequiredBy {
			c.update(dependent, visited)
		}
	}
}

// UpdateContext merges partial into the environment and reselects profiles
// when anything changed.
func (c *Context) UpdateContext(partial map[string]any) {
	c.mu.Lock()
	changed := false
	for key, value := range partial {
		if current, ok := c.env[key]; !ok || !reflect.DeepEqual(current, value) {
			c.env[key] = layering.Clone(value)
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.SelectProfiles()
	}
}

// SetContext replaces the environment and reselects profiles when it
// differs from the current one.
func (c *Context) SetContext(env map[string]any) {
	next := rules.Env(env).Clone()
	c.mu.Lock()
	changed := !reflect.DeepEqual(map[string]any(c.env), map[string]any(next))
	c.env = next
	c.mu.Unlock()
	if changed {
		c.SelectProfiles()
	}
}

// Close detaches a non-main context from the manager.
func (c *Context) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.manager.removeContext(c)
}

// resolve computes the effective value of key without touching the cache.
func (c *Context) resolve(key string) any {
	def, defined := c.manager.Definition(key)

	var layers []any
	for _, p := range c.Profiles() {
		value, ok := p.Lookup(key)
		if !ok {
			continue
		}
		if !defined || def.Merge == MergeNone {
			return value
		}
		layers = append(layers, value)
	}

	var fallback any
	if defined {
		if def.DefaultFunc != nil {
			fallback = def.DefaultFunc(c)
		} else {
			fallback = layering.Clone(def.Default)
		}
	}
	if len(layers) == 0 {
		return fallback
	}
	if fallback != nil {
		layers = append(layers, fallback)
	}

	switch def.Merge {
	case MergeMaps:
		return layering.MergeLayers(layers...)
	case MergeArrays:
		if merged := layering.Concat(layers...); merged != nil {
			return merged
		}
	}
	return layers[0]
}

func (c *Context) emitChanged(key string, value, old any) {
	if c.main {
		if def, ok := c.manager.Definition(key); ok && def.Changed != nil {
			def.Changed(value, old)
		}
	}
	c.emitter.Emit(events.Event{Name: events.Changed, Key: key, Value: value, OldValue: old})
}
