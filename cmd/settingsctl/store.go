package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	settings "github.com/goliatone/go-settings"
	"github.com/goliatone/go-settings/schema/openapi"
)

func newBackupCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot every persisted key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, m *settings.Manager) error {
				backup, err := m.GetFullBackup(ctx)
				if err != nil {
					return err
				}
				if out == "" {
					return printJSON(cmd.OutOrStdout(), backup)
				}
				if err := writeJSONFile(out, backup); err != nil {
					return err
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), map[string]any{"file": out, "keys": len(backup.Values)})
				}
				pterm.Success.Printfln("Wrote %d keys to %s", len(backup.Values), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file (default stdout)")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace the whole store with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var backup settings.Backup
			if err := json.Unmarshal(raw, &backup); err != nil {
				return fmt.Errorf("%w: %v", settings.ErrInvalidBackup, err)
			}
			return a.run(cmd, func(ctx context.Context, m *settings.Manager) error {
				if err := m.RestoreBackup(ctx, backup); err != nil {
					return err
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), map[string]any{"restored": len(backup.Values), "profiles": len(m.Profiles())})
				}
				pterm.Success.Printfln("Restored %d keys, %d profiles", len(backup.Values), len(m.Profiles()))
				return nil
			})
		},
	}
}

// migrationRow is the reported form of a migration step.
type migrationRow struct {
	Scope    string `json:"scope"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [scope]",
		Short: "Run pending migrations of a scope and report every scope's state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, m *settings.Manager) error {
				mm := m.Migrations()
				scopes := mm.Scopes()
				if len(args) == 1 {
					scopes = []string{args[0]}
				}

				rows := []migrationRow{}
				var failed int
				for _, scope := range scopes {
					results, err := mm.Process(ctx, scope)
					if err != nil {
						return err
					}
					ran := map[string]bool{}
					for _, result := range results {
						ran[result.Name] = true
						row := migrationRow{Scope: scope, Name: result.Name, Status: "applied", Duration: result.Duration.String()}
						if result.Err != nil {
							row.Status, row.Error = "failed", result.Err.Error()
							failed++
						}
						rows = append(rows, row)
					}
					for _, name := range mm.Applied(scope) {
						if !ran[name] {
							rows = append(rows, migrationRow{Scope: scope, Name: name, Status: "done"})
						}
					}
				}

				if a.json() {
					if err := printJSON(cmd.OutOrStdout(), rows); err != nil {
						return err
					}
				} else if len(rows) == 0 {
					pterm.Info.Println("No migrations registered")
				} else {
					table := pterm.TableData{{"Scope", "Name", "Status", "Detail"}}
					table = append(table, lo.Map(rows, func(row migrationRow, _ int) []string {
						return []string{row.Scope, row.Name, row.Status, lo.Ternary(row.Error != "", row.Error, row.Duration)}
					})...)
					if err := printTable(cmd.OutOrStdout(), table); err != nil {
						return err
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d migration(s) failed", failed)
				}
				return nil
			})
		},
	}
}

func newSchemaCmd(a *app) *cobra.Command {
	var (
		format string
		title  string
	)
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Describe the registered definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				switch format {
				case "openapi":
					doc, err := m.OpenAPISchema(openapi.WithInfo(title, "1.0.0"))
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), doc)
				case "fields", "":
					fields := m.Schema()
					if a.json() {
						return printJSON(cmd.OutOrStdout(), fields)
					}
					if len(fields) == 0 {
						pterm.Info.Println("No definitions registered; pass --definitions")
						return nil
					}
					rows := pterm.TableData{{"Path", "Type", "Title", "Component", "Requires"}}
					rows = append(rows, lo.Map(fields, func(field settings.FieldDescriptor, _ int) []string {
						return []string{field.Path, field.Type, field.Title, field.Component, strings.Join(field.Requires, ", ")}
					})...)
					return printTable(cmd.OutOrStdout(), rows)
				default:
					return fmt.Errorf("unknown --format %q: use fields or openapi", format)
				}
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "fields", "Schema format (fields, openapi)")
	cmd.Flags().StringVar(&title, "title", "Settings", "Document title for --format openapi")
	return cmd
}

func newCheckUpdatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check-updates",
		Short: "Refresh every profile that has a remote URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, m *settings.Manager) error {
				report, checkErr := m.CheckUpdates(ctx)
				if a.json() {
					if err := printJSON(cmd.OutOrStdout(), map[string]int{
						"checked": report.Checked,
						"updated": report.Updated,
						"failed":  report.Failed,
					}); err != nil {
						return err
					}
					return checkErr
				}
				rows := pterm.TableData{
					{"Checked", "Updated", "Failed"},
					{strconv.Itoa(report.Checked), strconv.Itoa(report.Updated), strconv.Itoa(report.Failed)},
				}
				if err := printTable(cmd.OutOrStdout(), rows); err != nil {
					return err
				}
				if report.Failed > 0 {
					pterm.Warning.Printfln("%d remote profile(s) could not be refreshed", report.Failed)
				}
				return checkErr
			})
		},
	}
}

func writeJSONFile(path string, value any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o600)
}
