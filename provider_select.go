package settings

import (
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-settings/pkg/provider"
)

// createProvider picks the provider once, at construction. closers holds
// resources the manager created and must release on Close.
func createProvider(cfg config) (p provider.Provider, closers []io.Closer, err error) {
	if cfg.provider != nil {
		return cfg.provider, nil, nil
	}

	opts := append([]provider.Option{provider.WithLogger(cfg.logger)}, cfg.providerOpts...)
	path := cfg.filePath
	if path == "" {
		path = cfg.env(EnvFile)
	}

	client := cfg.redisClient
	if client == nil {
		addr := cfg.redisAddr
		if addr == "" {
			addr = cfg.env(EnvRedisAddr)
		}
		if addr != "" {
			created := redis.NewClient(&redis.Options{Addr: addr})
			client = created
			closers = append(closers, created)
		}
	}

	if client != nil {
		if prefix := cfg.env(EnvRedisPrefix); prefix != "" {
			opts = append([]provider.Option{provider.WithPrefix(prefix)}, opts...)
		}
		if path != "" {
			seed, err := provider.ReadFile(path)
			if err != nil {
				cfg.logger.Warn("settings: ignoring unreadable seed file", "path", path, "error", err)
			} else if seed != nil {
				opts = append([]provider.Option{provider.WithSeed(seed)}, opts...)
			}
		}
		cloud, err := provider.NewCloud(client, opts...)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("settings: cloud provider: %w", err)
		}
		cfg.logger.Info("settings: using cloud provider", "origin", cloud.Origin())
		return cloud, append(closers, cloud), nil
	}

	if path != "" {
		local, err := provider.NewLocal(path, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("settings: local provider: %w", err)
		}
		cfg.logger.Info("settings: using local provider", "path", local.Path())
		return local, []io.Closer{local}, nil
	}

	memory, err := provider.NewMemory(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("settings: memory provider: %w", err)
	}
	cfg.logger.Debug("settings: using memory provider")
	return memory, []io.Closer{memory}, nil
}

func closeAll(closers []io.Closer) error {
	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
