// Package settings synchronizes flat key/value settings across processes and
// devices and resolves them through conditionally active profiles.
//
// A Manager owns the provider, the ordered profile list, the definition
// registry and a main Context. Values are read through a Context, which walks
// its active profiles highest priority first and falls back to the
// definition's default. Changes made elsewhere arrive through the provider
// and are routed to the owning profile and every context that has it active.
package settings

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/goliatone/go-settings/pkg/activity"
	"github.com/goliatone/go-settings/pkg/events"
	"github.com/goliatone/go-settings/pkg/provider"
	"github.com/goliatone/go-settings/pkg/remote"
	"github.com/goliatone/go-settings/pkg/rules"
)

// Manager coordinates the provider, profiles, contexts and definitions.
type Manager struct {
	cfg        config
	log        Logger
	provider   provider.Provider
	closers    []io.Closer
	compiler   *rules.Compiler
	fetcher    remote.Fetcher
	emitter    *events.Emitter
	activity   *activity.Emitter
	migrations *MigrationManager

	lifetime context.Context
	cancel   context.CancelFunc

	// listMu serializes read-modify-write cycles of the persisted profile
	// list. It is never held while events are emitted.
	listMu sync.Mutex

	mu          sync.RWMutex
	definitions map[string]*Definition
	profiles    []*Profile
	byID        map[int]*Profile
	contexts    []*Context
	main        *Context
	started     bool
	closed      bool
	unsubscribe func()

	updates updateState
}

// New constructs a manager. The provider is chosen here, once: an explicit
// WithProvider wins, then a Redis address (option or SETTINGS_REDIS_ADDR)
// selects the cloud provider, then a file path selects the local provider and
// otherwise values live in memory.
func New(opts ...Option) (*Manager, error) {
	cfg := applyOptions(opts)
	p, closers, err := createProvider(cfg)
	if err != nil {
		return nil, err
	}

	ruleOpts := append([]rules.CompilerOption{
		rules.WithEvaluatorLogger(rules.StructuredEvaluatorLogger(cfg.logger)),
	}, cfg.ruleOpts...)

	m := &Manager{
		cfg:         cfg,
		log:         cfg.logger,
		provider:    p,
		closers:     closers,
		compiler:    rules.NewCompiler(ruleOpts...),
		fetcher:     cfg.fetcher,
		emitter:     events.New(),
		activity:    activity.NewEmitter(cfg.activityHooks, activity.WithClock(cfg.now)),
		definitions: map[string]*Definition{},
		byID:        map[int]*Profile{},
	}
	m.lifetime, m.cancel = context.WithCancel(context.Background())
	m.migrations = newMigrationManager(m)
	return m, nil
}

// Start waits for the provider, runs core migrations, seeds the default
// profile, builds the main context and starts listening for external
// changes. Calling Start again is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	started, closed := m.started, m.closed
	m.mu.RUnlock()
	if closed {
		return provider.ErrClosed
	}
	if started {
		return nil
	}

	if err := m.provider.AwaitReady(ctx); err != nil {
		return fmt.Errorf("settings: await provider: %w", err)
	}
	if err := m.LoadProfiles(true); err != nil {
		return err
	}
	if _, err := m.migrations.Process(ctx, CoreMigrationScope); err != nil {
		return err
	}
	if err := m.LoadProfiles(true); err != nil {
		return err
	}
	if err := m.persistDefaultProfile(); err != nil {
		return err
	}

	main := newContext(m, nil, true)
	main.On(string(events.Changed), m.emitter.Emit)
	main.On(string(events.UsesChanged), m.emitter.Emit)

	m.mu.Lock()
	m.main = main
	m.contexts = append(m.contexts, main)
	m.started = true
	m.mu.Unlock()

	main.SelectProfiles()
	unsubscribe := m.provider.OnChange(m.onProviderChange)
	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	if m.cfg.autoUpdates {
		m.ScheduleUpdates()
	}
	m.log.Info("settings: started", "provider", m.provider.Kind(), "profiles", len(m.Profiles()))
	return nil
}

// Close stops the update sweep, detaches from the provider and releases the
// resources the manager created. A provider passed with WithProvider stays
// open.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	m.mu.Unlock()

	m.stopUpdates()
	m.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
	return closeAll(m.closers)
}

// Provider returns the underlying provider.
func (m *Manager) Provider() provider.Provider {
	return m.provider
}

// Migrations returns the migration registry.
func (m *Manager) Migrations() *MigrationManager {
	return m.migrations
}

// Main returns the main context, or nil before Start.
func (m *Manager) Main() *Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.main
}

// Get reads key through the main context. It returns nil before Start.
func (m *Manager) Get(key string) any {
	if main := m.Main(); main != nil {
		return main.Get(key)
	}
	return nil
}

// Uses returns the main context's usage counter for key.
func (m *Manager) Uses(key string) int {
	if main := m.Main(); main != nil {
		return main.Uses(key)
	}
	return 0
}

// On subscribes to manager events: changed:<key> and uses_changed:<key> from
// the main context, profile lifecycle events and added-definition.
func (m *Manager) On(topic string, handler events.Handler) *events.Subscription {
	return m.emitter.On(topic, handler)
}

func (m *Manager) Off(sub *events.Subscription) {
	m.emitter.Off(sub)
}

// NewContext creates a context for env with profiles already selected.
func (m *Manager) NewContext(env map[string]any) *Context {
	c := newContext(m, env, false)
	m.mu.Lock()
	m.contexts = append(m.contexts, c)
	m.mu.Unlock()
	c.SelectProfiles()
	return c
}

func (m *Manager) removeContext(c *Context) {
	if c.main {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, candidate := range m.contexts {
		if candidate == c {
			m.contexts = append(m.contexts[:i], m.contexts[i+1:]...)
			return
		}
	}
}

func (m *Manager) contextsSnapshot() []*Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Context(nil), m.contexts...)
}

func (m *Manager) reselectAll() {
	for _, c := range m.contextsSnapshot() {
		c.SelectProfiles()
	}
}

func (m *Manager) invalidateMatchers() {
	for _, p := range m.Profiles() {
		p.invalidate()
	}
}

// profileValueChanged refreshes key in every context that has p active.
func (m *Manager) profileValueChanged(p *Profile, key string) {
	id := p.ID()
	for _, c := range m.contextsSnapshot() {
		if c.isActive(id) {
			c.Update(key)
		}
	}
}

// onProviderChange routes an external change. A profiles change reloads the
// profile list; p:<id>:<key> changes go to the live profile; anything else is
// dropped.
func (m *Manager) onProviderChange(key string, value any, deleted bool) {
	if key == ProfilesKey {
		if err := m.LoadProfiles(false); err != nil {
			m.log.Warn("settings: reload after external change failed", "error", err)
		}
		return
	}
	id, subkey, ok := ParseProfileKey(key)
	if !ok {
		m.log.Debug("settings: ignoring external change", "key", key)
		return
	}
	p := m.Profile(id)
	if p == nil {
		m.log.Debug("settings: external change for unknown profile", "key", key)
		return
	}
	p.externalChange(subkey, value, deleted)
}

// UpdateRoutes replaces the named route patterns used by route rules. Every
// profile matcher is invalidated and contexts reselect.
func (m *Manager) UpdateRoutes(routes map[string]string) error {
	if err := m.compiler.SetRoutes(routes); err != nil {
		return fmt.Errorf("settings: update routes: %w", err)
	}
	m.invalidateMatchers()
	m.reselectAll()
	return nil
}

// RegisterMatchFunction adds a custom rule type usable in profile contexts.
func (m *Manager) RegisterMatchFunction(name string, fn rules.MatchFunc) error {
	if err := m.compiler.RegisterType(name, fn); err != nil {
		return fmt.Errorf("settings: register match function: %w", err)
	}
	m.invalidateMatchers()
	m.reselectAll()
	return nil
}

func (m *Manager) reportActivity(event activity.Event) {
	if !m.activity.Enabled() {
		return
	}
	if err := m.activity.Emit(m.lifetime, event); err != nil {
		m.log.Warn("settings: activity hook failed", "verb", event.Verb, "error", err)
	}
}

func (m *Manager) activityInput(p *Profile) activity.ProfileEventInput {
	data := p.Data()
	return activity.ProfileEventInput{
		ProfileID: data.ID,
		Name:      data.Name,
		URL:       data.URL,
		Index:     m.indexOf(data.ID),
	}
}
