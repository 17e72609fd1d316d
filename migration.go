package settings

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-settings/pkg/provider"
)

// MigrationFunc transforms stored settings. It works on the raw provider and
// is responsible for its own partial failures.
type MigrationFunc func(ctx context.Context, p provider.Provider) error

// Migration is one named step of a scope.
type Migration struct {
	Name        string
	Description string
	Run         MigrationFunc
}

// MigrationResult reports the outcome of one pending step.
type MigrationResult struct {
	Scope    string
	Name     string
	Applied  bool
	Err      error
	Duration time.Duration
}

// MigrationManager runs named steps per scope, each at most once. Applied
// names are persisted under the migrations key.
type MigrationManager struct {
	manager *Manager

	mu     sync.Mutex
	scopes map[string][]Migration
}

func newMigrationManager(m *Manager) *MigrationManager {
	return &MigrationManager{
		manager: m,
		scopes:  map[string][]Migration{CoreMigrationScope: nil},
	}
}

// Register appends a step to scope. Names are unique within a scope.
func (mm *MigrationManager) Register(scope, name string, fn MigrationFunc) error {
	return mm.RegisterMigration(scope, Migration{Name: name, Run: fn})
}

// RegisterMigration appends migration to scope.
func (mm *MigrationManager) RegisterMigration(scope string, migration Migration) error {
	if scope == "" || migration.Name == "" {
		return fmt.Errorf("settings: migration scope and name are required")
	}
	if migration.Run == nil {
		return fmt.Errorf("settings: migration %s/%s has no function", scope, migration.Name)
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if slices.ContainsFunc(mm.scopes[scope], func(existing Migration) bool { return existing.Name == migration.Name }) {
		return fmt.Errorf("settings: migration %s/%s already registered", scope, migration.Name)
	}
	mm.scopes[scope] = append(mm.scopes[scope], migration)
	return nil
}

// Scopes returns the known scopes in order.
func (mm *MigrationManager) Scopes() []string {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	scopes := make([]string, 0, len(mm.scopes))
	for scope := range mm.scopes {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// Applied returns the names recorded as applied for scope.
func (mm *MigrationManager) Applied(scope string) []string {
	return mm.applied()[scope]
}

// Pending returns the names of steps in scope that have not been applied.
func (mm *MigrationManager) Pending(scope string) ([]string, error) {
	steps, err := mm.steps(scope)
	if err != nil {
		return nil, err
	}
	done := mm.Applied(scope)
	var pending []string
	for _, step := range steps {
		if !slices.Contains(done, step.Name) {
			pending = append(pending, step.Name)
		}
	}
	return pending, nil
}

// Process runs the pending steps of scope in registration order. A failing
// or panicking step is logged, reported in the results and retried on the
// next run; it does not stop later steps. An unknown scope is an error.
func (mm *MigrationManager) Process(ctx context.Context, scope string) ([]MigrationResult, error) {
	steps, err := mm.steps(scope)
	if err != nil {
		return nil, err
	}
	log := mm.manager.log
	applied := mm.applied()
	var results []MigrationResult
	for _, step := range steps {
		if slices.Contains(applied[scope], step.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		start := time.Now()
		runErr := runMigration(ctx, step, mm.manager.provider)
		result := MigrationResult{Scope: scope, Name: step.Name, Duration: time.Since(start), Err: runErr}
		if runErr != nil {
			log.Warn("settings: migration failed", "scope", scope, "name", step.Name, "error", runErr)
			results = append(results, result)
			continue
		}

		// Re-read the marker: the step may have rewritten the store.
		applied = mm.applied()
		applied[scope] = append(applied[scope], step.Name)
		if err := mm.manager.provider.Set(MigrationsKey, applied); err != nil {
			result.Err = fmt.Errorf("settings: record migration %s/%s: %w", scope, step.Name, err)
			log.Warn("settings: migration not recorded", "scope", scope, "name", step.Name, "error", err)
			results = append(results, result)
			continue
		}
		result.Applied = true
		log.Info("settings: migration applied", "scope", scope, "name", step.Name, "duration", result.Duration)
		results = append(results, result)
	}
	return results, nil
}

func (mm *MigrationManager) steps(scope string) ([]Migration, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	steps, ok := mm.scopes[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMigrationScope, scope)
	}
	return slices.Clone(steps), nil
}

// applied decodes the migrations marker. Malformed entries are ignored.
func (mm *MigrationManager) applied() map[string][]string {
	out := map[string][]string{}
	raw, ok := mm.manager.provider.Get(MigrationsKey, nil).(map[string]any)
	if !ok {
		return out
	}
	for scope, value := range raw {
		list, ok := value.([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			if name, ok := item.(string); ok {
				out[scope] = append(out[scope], name)
			}
		}
	}
	return out
}

func runMigration(ctx context.Context, step Migration, p provider.Provider) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("settings: migration %s panicked: %v", step.Name, r)
		}
	}()
	return step.Run(ctx, p)
}
