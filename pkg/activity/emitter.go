package activity

import (
	"context"
	"slices"
	"strings"
	"time"
)

// DefaultChannel is stamped on events that name no channel.
const DefaultChannel = "settings"

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithChannel sets the channel stamped on events without one.
func WithChannel(channel string) EmitterOption {
	return func(e *Emitter) {
		if channel = strings.TrimSpace(channel); channel != "" {
			e.channel = channel
		}
	}
}

// WithClock sets the time source for events without an OccurredAt.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithVerbs limits emission to the listed verbs.
func WithVerbs(verbs ...string) EmitterOption {
	return func(e *Emitter) {
		e.verbs = slices.Clone(verbs)
	}
}

// Emitter stamps defaults on events and forwards them to hooks. A nil or
// hookless Emitter is disabled.
type Emitter struct {
	hooks   Hooks
	channel string
	now     func() time.Time
	verbs   []string
}

// NewEmitter builds an emitter over the non-nil hooks.
func NewEmitter(hooks Hooks, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		hooks:   hooks.Compact(),
		channel: DefaultChannel,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Enabled reports whether any hook would receive events.
func (e *Emitter) Enabled() bool {
	return e != nil && len(e.hooks) > 0
}

// Emit forwards event unless the emitter is disabled or filters its verb.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if len(e.verbs) > 0 && !slices.Contains(e.verbs, strings.TrimSpace(event.Verb)) {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	if strings.TrimSpace(event.Origin) == "" {
		event.Origin = OriginLocal
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	return e.hooks.Notify(ctx, event)
}
