package provider

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-settings/layering"
	"github.com/goliatone/go-settings/pkg/logging"
)

// Cloud keeps the key space in a Redis hash shared by every instance using the
// same prefix. Writes land in the local mirror at once and are flushed to
// Redis in batches; each flush publishes the changed keys so other instances
// can update their mirrors.
//
// A remote change to a key with an unflushed local write is ignored: the local
// write is newer from this instance's point of view and will overwrite it.
type Cloud struct {
	*mirror
	client  redis.UniversalClient
	origin  string
	hash    string
	channel string
	logger  logging.Logger
	changes *dispatcher
	cfg     options

	ready     chan struct{}
	degraded  atomic.Bool
	pubsub    *redis.PubSub
	pendingMu sync.Mutex
	pending   map[string]pendingWrite
	inflight  map[string]pendingWrite
	writes    uint64
	flushMu   sync.Mutex

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ Provider = (*Cloud)(nil)

// pendingWrite is a buffered write; seq orders a batch by write time.
type pendingWrite struct {
	value   any
	deleted bool
	seq     uint64
}

// cloudMessage is published on the change channel for every flushed key.
type cloudMessage struct {
	Origin  string          `json:"origin"`
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

// NewCloud starts a cloud provider on client. The initial load runs in the
// background; use AwaitReady before reading. The caller keeps ownership of
// client.
func NewCloud(client redis.UniversalClient, opts ...Option) (*Cloud, error) {
	if client == nil {
		return nil, fmt.Errorf("provider: redis client is required")
	}
	cfg := applyOptions(opts)
	m, err := newMirror(cfg.seed)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Cloud{
		mirror:   m,
		client:   client,
		origin:   uuid.NewString(),
		hash:     cfg.prefix + ":values",
		channel:  cfg.prefix + ":changes",
		logger:   cfg.logger,
		changes:  newDispatcher(),
		cfg:      cfg,
		ready:    make(chan struct{}),
		pending:  map[string]pendingWrite{},
		inflight: map[string]pendingWrite{},
		cancel:   cancel,
	}
	p.pubsub = client.Subscribe(ctx, p.channel)

	p.wg.Add(2)
	go p.load(ctx)
	go p.flushLoop(ctx)
	return p, nil
}

func (p *Cloud) Kind() string { return KindCloud }

// Origin identifies this instance in published change messages.
func (p *Cloud) Origin() string { return p.origin }

// Degraded reports whether the initial load fell back to the seed data.
func (p *Cloud) Degraded() bool { return p.degraded.Load() }

func (p *Cloud) AwaitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Cloud) OnChange(fn ChangeFunc) func() {
	return p.changes.subscribe(fn)
}

func (p *Cloud) Set(key string, value any) error {
	if p.closed.Load() {
		return ErrClosed
	}
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}
	p.pendingMu.Lock()
	p.store(key, normalized)
	p.writes++
	p.pending[key] = pendingWrite{value: layering.Clone(normalized), seq: p.writes}
	p.pendingMu.Unlock()
	return nil
}

func (p *Cloud) Delete(key string) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.pendingMu.Lock()
	p.remove(key)
	p.writes++
	p.pending[key] = pendingWrite{deleted: true, seq: p.writes}
	p.pendingMu.Unlock()
	return nil
}

// Pending reports the number of buffered writes not yet sent to Redis.
func (p *Cloud) Pending() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}

// Flush sends buffered writes to Redis and publishes them. Failed writes are
// requeued unless a newer write for the same key arrived meanwhile.
func (p *Cloud) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.pendingMu.Lock()
	if len(p.pending) == 0 {
		p.pendingMu.Unlock()
		return nil
	}
	batch := p.pending
	p.pending = map[string]pendingWrite{}
	p.inflight = batch
	p.pendingMu.Unlock()

	err := p.send(ctx, batch)

	p.pendingMu.Lock()
	p.inflight = map[string]pendingWrite{}
	if err != nil {
		for key, write := range batch {
			if _, newer := p.pending[key]; !newer {
				p.pending[key] = write
			}
		}
	}
	p.pendingMu.Unlock()
	return err
}

// send writes and publishes batch in the order the keys were last written,
// so other instances see a list key before the entries it describes.
func (p *Cloud) send(ctx context.Context, batch map[string]pendingWrite) error {
	keys := make([]string, 0, len(batch))
	for key := range batch {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int { return cmp.Compare(batch[a].seq, batch[b].seq) })

	pipe := p.client.Pipeline()
	for _, key := range keys {
		write := batch[key]
		msg := cloudMessage{Origin: p.origin, Key: key, Deleted: write.deleted}
		if write.deleted {
			pipe.HDel(ctx, p.hash, key)
		} else {
			raw, err := json.Marshal(write.value)
			if err != nil {
				return fmt.Errorf("provider: encode %q: %w", key, err)
			}
			pipe.HSet(ctx, p.hash, key, string(raw))
			msg.Value = raw
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("provider: encode change %q: %w", key, err)
		}
		pipe.Publish(ctx, p.channel, string(payload))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("provider: flush %d keys: %w", len(keys), err)
	}
	return nil
}

func (p *Cloud) flushLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("cloud settings flush failed", "error", err, "pending", p.Pending())
			}
		}
	}
}

// load confirms the subscription, hydrates the mirror from the hash and then
// consumes change messages until the provider closes.
func (p *Cloud) load(ctx context.Context) {
	defer p.wg.Done()

	loadCtx, cancel := context.WithTimeout(ctx, p.cfg.readyTimeout)
	err := p.hydrate(loadCtx)
	cancel()
	if err != nil {
		p.degraded.Store(true)
		p.logger.Warn("cloud settings unavailable, using local data", "error", err)
	}
	close(p.ready)

	messages := p.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			p.apply(msg.Payload)
		}
	}
}

func (p *Cloud) hydrate(ctx context.Context) error {
	if _, err := p.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("provider: subscribe %s: %w", p.channel, err)
	}
	raw, err := p.client.HGetAll(ctx, p.hash).Result()
	if err != nil {
		return fmt.Errorf("provider: load %s: %w", p.hash, err)
	}
	next := make(map[string]any, len(raw))
	for key, encoded := range raw {
		var value any
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			p.logger.Warn("cloud settings value is not valid JSON", "key", key, "error", err)
			continue
		}
		next[key] = value
	}

	// Writes made before the load finished win over stored values.
	p.pendingMu.Lock()
	current := p.copyValues()
	for key, write := range p.pending {
		if write.deleted {
			delete(next, key)
			continue
		}
		next[key] = current[key]
	}
	p.replace(next)
	p.pendingMu.Unlock()
	return nil
}

func (p *Cloud) apply(payload string) {
	var msg cloudMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		p.logger.Warn("cloud settings change is malformed", "error", err)
		return
	}
	if msg.Origin == p.origin || msg.Key == "" {
		return
	}

	var value any
	if !msg.Deleted {
		if err := json.Unmarshal(msg.Value, &value); err != nil {
			p.logger.Warn("cloud settings change value is malformed", "key", msg.Key, "error", err)
			return
		}
	}

	p.pendingMu.Lock()
	_, pending := p.pending[msg.Key]
	_, inflight := p.inflight[msg.Key]
	if pending || inflight {
		p.pendingMu.Unlock()
		p.logger.Debug("ignoring remote change for key with local write", "key", msg.Key)
		return
	}
	if msg.Deleted {
		existed := p.remove(msg.Key)
		p.pendingMu.Unlock()
		if existed {
			p.changes.publish(change{key: msg.Key, deleted: true})
		}
		return
	}
	p.store(msg.Key, value)
	p.pendingMu.Unlock()
	p.changes.publish(change{key: msg.Key, value: layering.Clone(value)})
}

// Close flushes buffered writes, stops background work and closes the
// subscription. The redis client is left open.
func (p *Cloud) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		flushCtx, cancel := context.WithTimeout(context.Background(), p.cfg.readyTimeout)
		if flushErr := p.Flush(flushCtx); flushErr != nil {
			err = flushErr
		}
		cancel()

		p.cancel()
		if closeErr := p.pubsub.Close(); closeErr != nil && !errors.Is(closeErr, redis.ErrClosed) {
			err = errors.Join(err, closeErr)
		}
		p.wg.Wait()
		p.changes.close()
	})
	return err
}
