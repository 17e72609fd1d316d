package provider

import (
	"time"

	"github.com/goliatone/go-settings/pkg/logging"
)

const (
	DefaultPrefix        = "settings"
	DefaultFlushInterval = 250 * time.Millisecond
	DefaultReadyTimeout  = 5 * time.Second
)

// Option configures Local and Cloud providers.
type Option func(*options)

type options struct {
	logger        logging.Logger
	seed          map[string]any
	prefix        string
	flushInterval time.Duration
	readyTimeout  time.Duration
	watch         bool
}

func applyOptions(opts []Option) options {
	cfg := options{
		logger:        logging.Nop(),
		prefix:        DefaultPrefix,
		flushInterval: DefaultFlushInterval,
		readyTimeout:  DefaultReadyTimeout,
		watch:         true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithLogger sets the logger used for background failures.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logging.OrNop(logger)
	}
}

// WithSeed provides the contents used when no persisted data is available:
// a missing local file or an unreachable cloud store.
func WithSeed(seed map[string]any) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithPrefix namespaces cloud keys and channels. Defaults to "settings".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithFlushInterval sets how often buffered cloud writes are sent.
func WithFlushInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.flushInterval = interval
		}
	}
}

// WithReadyTimeout bounds the initial cloud load.
func WithReadyTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.readyTimeout = timeout
		}
	}
}

// WithWatch toggles the local file watcher. Enabled by default.
func WithWatch(enabled bool) Option {
	return func(o *options) {
		o.watch = enabled
	}
}
