package activity

import (
	"context"
	"slices"
	"sync"
)

// CaptureHook records events for tests. Err is returned from every Notify.
type CaptureHook struct {
	Err error

	mu     sync.Mutex
	events []Event
}

// Notify records event.
func (h *CaptureHook) Notify(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event.Normalized())
	return h.Err
}

// Events returns the recorded events in order.
func (h *CaptureHook) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.events)
}

// Verbs returns the verbs of the recorded events in order.
func (h *CaptureHook) Verbs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	verbs := make([]string, len(h.events))
	for i, event := range h.events {
		verbs[i] = event.Verb
	}
	return verbs
}

// Reset drops the recorded events.
func (h *CaptureHook) Reset() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}
