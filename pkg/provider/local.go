package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"

	"github.com/goliatone/go-settings/layering"
	"github.com/goliatone/go-settings/pkg/logging"
)

// Local persists the key space as a JSON object file. Writes replace the file
// atomically. When watching is enabled, writes made to the file by other
// processes are reloaded and reported as changes; writes made through this
// provider are not.
type Local struct {
	*mirror
	path    string
	logger  logging.Logger
	changes *dispatcher

	// io serializes file writes with reloads so a reload never observes the
	// file lagging behind the mirror.
	io sync.Mutex

	watcher *fsnotify.Watcher
	closeCh chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	closed    bool
}

var _ Provider = (*Local)(nil)

// NewLocal loads path, creating it from the seed option when missing.
func NewLocal(path string, opts ...Option) (*Local, error) {
	if path == "" {
		return nil, fmt.Errorf("provider: local path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("provider: local path: %w", err)
	}
	cfg := applyOptions(opts)

	values, found, err := readValues(abs)
	if err != nil {
		return nil, err
	}
	if !found {
		values = cfg.seed
	}
	m, err := newMirror(values)
	if err != nil {
		return nil, err
	}

	p := &Local{
		mirror:  m,
		path:    abs,
		logger:  cfg.logger,
		changes: newDispatcher(),
		closeCh: make(chan struct{}),
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		p.changes.close()
		return nil, fmt.Errorf("provider: local dir: %w", err)
	}
	if !found {
		if err := p.persist(); err != nil {
			p.changes.close()
			return nil, err
		}
	}
	if cfg.watch {
		if err := p.startWatch(); err != nil {
			p.changes.close()
			return nil, err
		}
	}
	return p, nil
}

// Path returns the absolute path of the backing file.
func (p *Local) Path() string { return p.path }

func (p *Local) Kind() string { return KindLocal }

func (p *Local) AwaitReady(context.Context) error { return nil }

func (p *Local) OnChange(fn ChangeFunc) func() {
	return p.changes.subscribe(fn)
}

func (p *Local) Set(key string, value any) error {
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}
	p.io.Lock()
	defer p.io.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.store(key, normalized)
	return p.persist()
}

func (p *Local) Delete(key string) error {
	p.io.Lock()
	defer p.io.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.remove(key) {
		return nil
	}
	return p.persist()
}

// Reload rereads the file and reports differing keys as changes.
func (p *Local) Reload() error {
	p.io.Lock()
	defer p.io.Unlock()
	if p.closed {
		return ErrClosed
	}
	return p.reload()
}

func (p *Local) reload() error {
	values, found, err := readValues(p.path)
	if err != nil {
		return err
	}
	if !found {
		// Removed or mid-write; keep the mirror until content reappears.
		return nil
	}
	next := make(map[string]any, len(values))
	for key, value := range values {
		next[key] = value
	}
	changes := p.replace(next)
	for i := range changes {
		changes[i].value = layering.Clone(changes[i].value)
	}
	p.changes.publish(changes...)
	return nil
}

func (p *Local) persist() error {
	raw, err := json.MarshalIndent(p.copyValues(), "", "  ")
	if err != nil {
		return fmt.Errorf("provider: encode %s: %w", p.path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p.path), "."+filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("provider: write %s: %w", p.path, err)
	}
	tmpName := tmp.Name()
	cleanup := func(cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("provider: write %s: %w", p.path, cause)
	}
	if _, err := tmp.Write(raw); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("provider: write %s: %w", p.path, err)
	}
	return nil
}

func (p *Local) startWatch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("provider: watch %s: %w", p.path, err)
	}
	// Watch the directory: atomic replaces swap the inode, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("provider: watch %s: %w", p.path, err)
	}
	p.watcher = watcher
	p.wg.Add(1)
	go p.watchLoop()
	return nil
}

func (p *Local) watchLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closeCh:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := p.Reload(); err != nil && !errors.Is(err, ErrClosed) {
				p.logger.Warn("settings file reload failed", "path", p.path, "error", err)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("settings file watcher error", "path", p.path, "error", err)
		}
	}
}

func (p *Local) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.io.Lock()
		p.closed = true
		p.io.Unlock()

		close(p.closeCh)
		if p.watcher != nil {
			err = p.watcher.Close()
		}
		p.wg.Wait()
		p.changes.close()
	})
	return err
}

// readValues decodes the JSON object at path. found is false when the file
// does not exist or is empty (a writer truncated it and has not finished).
func readValues(path string) (map[string]any, bool, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("provider: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	values := map[string]any{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, false, fmt.Errorf("provider: decode %s: %w", path, err)
	}
	return values, true, nil
}

// ReadFile returns the values stored in a local settings file. A missing or
// empty file yields nil without error.
func ReadFile(path string) (map[string]any, error) {
	values, _, err := readValues(path)
	return values, err
}
