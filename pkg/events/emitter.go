// Package events implements the publish/subscribe channel shared by the
// settings manager, its profiles and its contexts.
//
// Topics are either a bare event name ("changed") which receives every event of
// that name, or a name scoped to a setting key ("changed:ui.theme"). Handlers
// run synchronously on the emitting goroutine, outside any emitter lock, in
// subscription order.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Name identifies an event kind.
type Name string

const (
	Changed           Name = "changed"
	UsesChanged       Name = "uses_changed"
	ProfileCreated    Name = "profile-created"
	ProfileChanged    Name = "profile-changed"
	ProfileDeleted    Name = "profile-deleted"
	ProfilesReordered Name = "profiles-reordered"
	AddedDefinition   Name = "added-definition"
)

// Topic builds a subscription topic. An empty key yields the bare name.
func Topic(name Name, key string) string {
	if key == "" {
		return string(name)
	}
	return string(name) + ":" + key
}

// Event carries the payload for every event kind. Value/OldValue hold setting
// values for changed events and usage counts for uses_changed events.
type Event struct {
	Name      Name
	Key       string
	Value     any
	OldValue  any
	Deleted   bool
	ProfileID int
	Subject   any
}

// Handler receives events.
type Handler func(Event)

var subscriptionSeq atomic.Uint64

// Subscription is a handle to a registered handler. It stays valid when the
// emitter that owns it hands its subscribers over to another emitter.
type Subscription struct {
	id      uint64
	topic   string
	handler Handler
	owner   atomic.Pointer[Emitter]
}

// Topic returns the topic the handler listens on.
func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe removes the handler from whichever emitter currently owns it.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	if owner := s.owner.Load(); owner != nil {
		owner.Off(s)
	}
}

// Emitter dispatches events to subscribers.
type Emitter struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

// New constructs an empty emitter.
func New() *Emitter {
	return &Emitter{subs: make(map[string][]*Subscription)}
}

// On registers handler for topic.
func (e *Emitter) On(topic string, handler Handler) *Subscription {
	sub := &Subscription{
		id:      subscriptionSeq.Add(1),
		topic:   topic,
		handler: handler,
	}
	sub.owner.Store(e)

	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[string][]*Subscription)
	}
	e.subs[topic] = append(e.subs[topic], sub)
	e.mu.Unlock()
	return sub
}

// Off removes a subscription. Unknown subscriptions are ignored.
func (e *Emitter) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.subs[sub.topic]
	for i, candidate := range list {
		if candidate == sub {
			list = slices.Delete(list, i, i+1)
			break
		}
	}
	if len(list) == 0 {
		delete(e.subs, sub.topic)
	} else {
		e.subs[sub.topic] = list
	}
	sub.owner.CompareAndSwap(e, nil)
}

// Emit delivers event to subscribers of its bare name and, when the event has
// a key, to subscribers of the keyed topic.
func (e *Emitter) Emit(event Event) {
	if e == nil {
		return
	}
	e.mu.RLock()
	targets := append([]*Subscription(nil), e.subs[string(event.Name)]...)
	if event.Key != "" {
		targets = append(targets, e.subs[Topic(event.Name, event.Key)]...)
	}
	e.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	slices.SortFunc(targets, func(a, b *Subscription) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	for _, sub := range targets {
		if sub.handler != nil {
			sub.handler(event)
		}
	}
}

// Listeners reports how many handlers are registered for topic.
func (e *Emitter) Listeners(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[topic])
}

// Len reports the total number of registered handlers.
func (e *Emitter) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	total := 0
	for _, list := range e.subs {
		total += len(list)
	}
	return total
}

// Rebind moves every subscription from e to target. Existing Subscription
// handles keep working and now unsubscribe from target.
func (e *Emitter) Rebind(target *Emitter) {
	if e == nil || target == nil || e == target {
		return
	}
	e.mu.Lock()
	moved := e.subs
	e.subs = make(map[string][]*Subscription)
	e.mu.Unlock()

	target.mu.Lock()
	if target.subs == nil {
		target.subs = make(map[string][]*Subscription)
	}
	for topic, list := range moved {
		for _, sub := range list {
			sub.owner.Store(target)
		}
		target.subs[topic] = append(target.subs[topic], list...)
	}
	target.mu.Unlock()
}
