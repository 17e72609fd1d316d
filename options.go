package settings

import (
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-settings/pkg/activity"
	"github.com/goliatone/go-settings/pkg/logging"
	"github.com/goliatone/go-settings/pkg/provider"
	"github.com/goliatone/go-settings/pkg/remote"
	"github.com/goliatone/go-settings/pkg/rules"
)

// Environment variables consulted when no provider option is given.
const (
	EnvRedisAddr   = "SETTINGS_REDIS_ADDR"
	EnvRedisPrefix = "SETTINGS_REDIS_PREFIX"
	EnvFile        = "SETTINGS_FILE"
)

const (
	DefaultUpdateDelay    = 5 * time.Second
	DefaultUpdateInterval = time.Hour
	DefaultProfileName    = "Default Profile"
	CoreMigrationScope    = "core"
)

// Option configures a Manager.
type Option func(*config)

type config struct {
	provider      provider.Provider
	providerOpts  []provider.Option
	redisClient   redis.UniversalClient
	redisAddr     string
	filePath      string
	logger        Logger
	fetcher       remote.Fetcher
	ruleOpts      []rules.CompilerOption
	activityHooks activity.Hooks
	autoUpdates   bool
	updateDelay   time.Duration
	interval      time.Duration
	now           func() time.Time
	lookupEnv     func(string) (string, bool)
}

func applyOptions(opts []Option) config {
	cfg := config{
		logger:      logging.Nop(),
		autoUpdates: true,
		updateDelay: DefaultUpdateDelay,
		interval:    DefaultUpdateInterval,
		now:         time.Now,
		lookupEnv:   os.LookupEnv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.fetcher == nil {
		cfg.fetcher = remote.NewFetcher()
	}
	return cfg
}

func (cfg config) env(name string) string {
	if cfg.lookupEnv == nil {
		return ""
	}
	value, _ := cfg.lookupEnv(name)
	return strings.TrimSpace(value)
}

// WithProvider uses p instead of probing for one. The caller keeps ownership
// and closes it after the manager.
func WithProvider(p provider.Provider) Option {
	return func(cfg *config) {
		cfg.provider = p
	}
}

// WithRedis selects the cloud provider on a client created for addr.
func WithRedis(addr string) Option {
	return func(cfg *config) {
		cfg.redisAddr = strings.TrimSpace(addr)
	}
}

// WithRedisClient selects the cloud provider on an existing client. The
// manager does not close the client.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(cfg *config) {
		cfg.redisClient = client
	}
}

// WithFile selects the local provider backed by path. With a cloud provider
// the file seeds the initial values instead.
func WithFile(path string) Option {
	return func(cfg *config) {
		cfg.filePath = strings.TrimSpace(path)
	}
}

// WithProviderOptions passes options to the selected local or cloud provider.
func WithProviderOptions(opts ...provider.Option) Option {
	return func(cfg *config) {
		cfg.providerOpts = append(cfg.providerOpts, opts...)
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger Logger) Option {
	return func(cfg *config) {
		cfg.logger = logging.OrNop(logger)
	}
}

// WithFetcher replaces the fetcher used for remote profiles.
func WithFetcher(fetcher remote.Fetcher) Option {
	return func(cfg *config) {
		cfg.fetcher = fetcher
	}
}

// WithRuleOptions configures the profile rule compiler.
func WithRuleOptions(opts ...rules.CompilerOption) Option {
	return func(cfg *config) {
		cfg.ruleOpts = append(cfg.ruleOpts, opts...)
	}
}

// WithActivityHooks reports profile lifecycle activity to hooks. Nil entries
// are dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	hooks = hooks.Compact()
	return func(cfg *config) {
		cfg.activityHooks = hooks
	}
}

// WithAutoUpdates toggles scheduling the remote profile sweep on Start.
func WithAutoUpdates(enabled bool) Option {
	return func(cfg *config) {
		cfg.autoUpdates = enabled
	}
}

// WithUpdateSchedule sets the debounce before the first sweep and the
// interval between later sweeps.
func WithUpdateSchedule(delay, interval time.Duration) Option {
	return func(cfg *config) {
		if delay > 0 {
			cfg.updateDelay = delay
		}
		if interval > 0 {
			cfg.interval = interval
		}
	}
}

// WithClock overrides the time source used for remote check timestamps.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithEnvLookup overrides how SETTINGS_* variables are read.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(cfg *config) {
		cfg.lookupEnv = lookup
	}
}
