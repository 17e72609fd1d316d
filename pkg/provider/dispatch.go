package provider

import "sync"

// dispatcher queues external changes and delivers them to listeners from one
// goroutine, preserving arrival order.
type dispatcher struct {
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []change
	listeners []*listener
	closed    bool
	done      chan struct{}
}

type listener struct {
	fn ChangeFunc
}

func newDispatcher() *dispatcher {
	d := &dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) subscribe(fn ChangeFunc) func() {
	if fn == nil {
		return func() {}
	}
	l := &listener{fn: fn}
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, candidate := range d.listeners {
				if candidate == l {
					d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (d *dispatcher) publish(changes ...change) {
	if len(changes) == 0 {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.queue = append(d.queue, changes...)
		d.cond.Signal()
	}
	d.mu.Unlock()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue = d.queue[1:]
		listeners := append([]*listener(nil), d.listeners...)
		d.mu.Unlock()

		for _, l := range listeners {
			l.fn(next.key, next.value, next.deleted)
		}
	}
}

// close stops accepting changes, delivers what is queued and waits for the
// delivery goroutine to exit.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}
