package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	settings "github.com/goliatone/go-settings"
)

func newGetCmd(a *app) *cobra.Command {
	var envPairs []string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Resolve a setting the way a context with --env sees it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := parseEnv(envPairs)
			if err != nil {
				return err
			}
			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				ctx := m.Main()
				if len(env) > 0 {
					ctx = m.NewContext(env)
					defer ctx.Close()
				}
				trace := ctx.Trace(args[0])
				if a.json() {
					return printJSON(cmd.OutOrStdout(), trace)
				}

				rows := pterm.TableData{{"Property", "Value"}}
				rows = append(rows, []string{"Key", trace.Key})
				rows = append(rows, []string{"Value", formatValue(trace.Value)})
				rows = append(rows, []string{"Source", trace.Source})
				for _, layer := range trace.Layers {
					if layer.Found {
						rows = append(rows, []string{fmt.Sprintf("Profile %d (%s)", layer.ProfileID, layer.Name), formatValue(layer.Value)})
					}
				}
				return printTable(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&envPairs, "env", "e", nil, "Context environment entry as key=value (repeatable)")
	return cmd
}

func newSetCmd(a *app) *cobra.Command {
	var profileID int
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store an override in a profile; the value is read as JSON when it parses",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				p, err := lookupProfile(m, profileID)
				if err != nil {
					return err
				}
				value := parseValue(args[1])
				if err := p.Set(args[0], value); err != nil {
					return err
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), map[string]any{"profile": p.ID(), "key": args[0], "value": value})
				}
				pterm.Success.Printfln("Set %s in profile %d (%s)", args[0], p.ID(), p.Name())
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&profileID, "profile", "p", 0, "Profile id")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var profileID int
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove an override from a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				p, err := lookupProfile(m, profileID)
				if err != nil {
					return err
				}
				existed := p.Has(args[0])
				if err := p.Delete(args[0]); err != nil {
					return err
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), map[string]any{"profile": p.ID(), "key": args[0], "deleted": existed})
				}
				if !existed {
					pterm.Warning.Printfln("Profile %d has no override for %s", p.ID(), args[0])
					return nil
				}
				pterm.Success.Printfln("Deleted %s from profile %d", args[0], p.ID())
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&profileID, "profile", "p", 0, "Profile id")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var profileID int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the overrides of a profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				p, err := lookupProfile(m, profileID)
				if err != nil {
					return err
				}
				entries := p.Entries()
				if a.json() {
					return printJSON(cmd.OutOrStdout(), entries)
				}
				if len(entries) == 0 {
					pterm.Info.Printfln("Profile %d has no overrides", p.ID())
					return nil
				}
				keys := lo.Keys(entries)
				sort.Strings(keys)
				rows := pterm.TableData{{"Key", "Value"}}
				rows = append(rows, lo.Map(keys, func(key string, _ int) []string {
					return []string{key, formatValue(entries[key])}
				})...)
				return printTable(cmd.OutOrStdout(), rows)
			})
		},
	}
	cmd.Flags().IntVarP(&profileID, "profile", "p", 0, "Profile id")
	return cmd
}

func lookupProfile(m *settings.Manager, id int) (*settings.Profile, error) {
	p := m.Profile(id)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", settings.ErrProfileNotFound, strconv.Itoa(id))
	}
	return p, nil
}
