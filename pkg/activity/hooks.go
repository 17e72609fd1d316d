// Package activity reports settings lifecycle activity (profiles created,
// refreshed or deleted, backups restored) to audit hooks.
package activity

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Origins of a change.
const (
	// OriginLocal marks changes made through the manager's API.
	OriginLocal = "local"
	// OriginRemote marks changes applied from a fetched profile document.
	OriginRemote = "remote"
	// OriginRestore marks changes applied from a backup.
	OriginRestore = "restore"
)

// Event is one activity record. Ids are strings so callers are not tied to a
// particular id type.
type Event struct {
	Verb       string
	ActorID    string
	UserID     string
	TenantID   string
	ObjectType string
	ObjectID   string
	Channel    string
	Origin     string
	// Keys are the setting keys the activity touched.
	Keys       []string
	Metadata   map[string]any
	OccurredAt time.Time
}

// Complete reports whether the event names a verb and an object.
func (e Event) Complete() bool {
	return e.Verb != "" && e.ObjectType != "" && e.ObjectID != ""
}

// Normalized returns a trimmed copy that owns its keys and metadata. Keys are
// sorted and deduplicated. A zero OccurredAt becomes the current time.
func (e Event) Normalized() Event {
	out := e
	for _, field := range []*string{&out.Verb, &out.ActorID, &out.UserID, &out.TenantID, &out.ObjectType, &out.ObjectID, &out.Channel, &out.Origin} {
		*field = strings.TrimSpace(*field)
	}
	out.Keys = nil
	if len(e.Keys) > 0 {
		out.Keys = lo.Uniq(lo.Compact(lo.Map(e.Keys, func(key string, _ int) string { return strings.TrimSpace(key) })))
		slices.Sort(out.Keys)
	}
	out.Metadata = nil
	if len(e.Metadata) > 0 {
		out.Metadata = maps.Clone(e.Metadata)
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = time.Now()
	}
	return out
}

// Hook receives normalized activity events.
type Hook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, event Event) error

// Notify calls fn.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans events out to every hook in order.
type Hooks []Hook

// Compact returns the non-nil hooks, or nil when there are none.
func (h Hooks) Compact() Hooks {
	out := lo.Filter(h, func(hook Hook, _ int) bool { return hook != nil })
	if len(out) == 0 {
		return nil
	}
	return out
}

// Notify normalizes event and hands it to every hook. Incomplete events are
// dropped. Hook failures do not stop the fan-out and are returned joined.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}
	event = event.Normalized()
	if !event.Complete() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("activity: %s: %w", event.Verb, errors.Join(errs...))
}
