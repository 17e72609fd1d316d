package provider

import (
	"context"
	"sync/atomic"

	"github.com/goliatone/go-settings/layering"
)

// Memory is an in-process provider. It is ready immediately and only reports
// changes applied through Inject, which stands in for another process writing
// to shared storage.
type Memory struct {
	*mirror
	changes *dispatcher
	closed  atomic.Bool
}

var _ Provider = (*Memory)(nil)

// NewMemory constructs a Memory provider holding seed.
func NewMemory(seed map[string]any) (*Memory, error) {
	m, err := newMirror(seed)
	if err != nil {
		return nil, err
	}
	return &Memory{mirror: m, changes: newDispatcher()}, nil
}

func (p *Memory) Kind() string { return KindMemory }

func (p *Memory) Set(key string, value any) error {
	if p.closed.Load() {
		return ErrClosed
	}
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}
	p.store(key, normalized)
	return nil
}

func (p *Memory) Delete(key string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.remove(key)
	return nil
}

func (p *Memory) AwaitReady(context.Context) error {
	return nil
}

func (p *Memory) OnChange(fn ChangeFunc) func() {
	return p.changes.subscribe(fn)
}

// Inject applies a change as if another actor made it and notifies listeners.
func (p *Memory) Inject(key string, value any, deleted bool) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if deleted {
		if p.remove(key) {
			p.changes.publish(change{key: key, deleted: true})
		}
		return nil
	}
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}
	p.store(key, normalized)
	p.changes.publish(change{key: key, value: layering.Clone(normalized)})
	return nil
}

func (p *Memory) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.changes.close()
	return nil
}
