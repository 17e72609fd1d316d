package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	settings "github.com/goliatone/go-settings"
	"github.com/goliatone/go-settings/internal/config"
	"github.com/goliatone/go-settings/pkg/logging"
)

// app carries the global flags shared by every command.
type app struct {
	configPath  string
	envFile     string
	file        string
	redisAddr   string
	definitions string
	output      string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "settingsctl",
		Short:         "Inspect and edit a synchronized settings store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.output != "" && a.output != "json" {
				return fmt.Errorf("unsupported --output value: use 'json'")
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&a.envFile, "env-file", "", "Environment file loaded before the configuration (default .env when present)")
	flags.StringVarP(&a.file, "file", "f", "", "Local settings file (overrides configuration)")
	flags.StringVar(&a.redisAddr, "redis", "", "Redis address of a cloud store (overrides configuration)")
	flags.StringVar(&a.definitions, "definitions", "", "YAML or JSON file with setting definitions")
	flags.StringVarP(&a.output, "output", "o", "", "Output format (json)")

	root.AddCommand(
		newGetCmd(a),
		newSetCmd(a),
		newDeleteCmd(a),
		newListCmd(a),
		newProfilesCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		newMigrateCmd(a),
		newSchemaCmd(a),
		newCheckUpdatesCmd(a),
	)
	return root
}

// run opens the configured store, starts a manager for the duration of fn
// and closes it afterwards. Background updates are disabled.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, m *settings.Manager) error) error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	if a.file != "" {
		cfg.Store.File = a.file
	}
	if a.redisAddr != "" {
		cfg.Store.RedisAddr = a.redisAddr
	}
	cfg.Updates.Enabled = false

	logger, closer := logging.New(cfg.LoggerConfig())
	defer closer.Close()

	m, err := settings.New(cfg.ManagerOptions(logger)...)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("settingsctl: close store", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	if len(cfg.Routes) > 0 {
		if err := m.UpdateRoutes(cfg.Routes); err != nil {
			return err
		}
	}
	if a.definitions != "" {
		defs, err := loadDefinitions(a.definitions)
		if err != nil {
			return err
		}
		if err := m.AddMany(defs); err != nil {
			return err
		}
	}
	return fn(ctx, m)
}

func (a *app) json() bool {
	return a.output == "json"
}

// definitionEntry is the file form of a setting definition.
type definitionEntry struct {
	Default     any      `yaml:"default"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Component   string   `yaml:"component"`
	Path        []string `yaml:"path"`
	Sort        int      `yaml:"sort"`
	Requires    []string `yaml:"requires"`
	Merge       string   `yaml:"merge"`
}

func loadDefinitions(path string) (map[string]settings.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("definitions: %w", err)
	}
	var entries map[string]definitionEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("definitions: decode %s: %w", path, err)
	}

	defs := make(map[string]settings.Definition, len(entries))
	keys := lo.Keys(entries)
	sort.Strings(keys)
	for _, key := range keys {
		entry := entries[key]
		merge, err := parseMerge(entry.Merge)
		if err != nil {
			return nil, fmt.Errorf("definitions: %s: %w", key, err)
		}
		def := settings.Definition{
			Default:  entry.Default,
			Requires: entry.Requires,
			Merge:    merge,
		}
		if entry.Title != "" || entry.Component != "" || len(entry.Path) > 0 {
			def.UI = &settings.UIDescriptor{
				Path:        entry.Path,
				Title:       entry.Title,
				Description: entry.Description,
				Component:   entry.Component,
				Sort:        entry.Sort,
			}
		}
		defs[key] = def
	}
	return defs, nil
}

func parseMerge(value string) (settings.MergeStrategy, error) {
	switch value {
	case "", "none":
		return settings.MergeNone, nil
	case "maps":
		return settings.MergeMaps, nil
	case "arrays":
		return settings.MergeArrays, nil
	default:
		return settings.MergeNone, fmt.Errorf("unknown merge strategy %q", value)
	}
}
