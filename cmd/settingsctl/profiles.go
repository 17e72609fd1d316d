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
	"github.com/goliatone/go-settings/pkg/remote"
	"github.com/goliatone/go-settings/pkg/rules"
)

// profileRow is the listed form of a profile.
type profileRow struct {
	Index     int          `json:"index"`
	ID        int          `json:"id"`
	Name      string       `json:"name"`
	URL       string       `json:"url,omitempty"`
	Disabled  bool         `json:"disabled,omitempty"`
	Overrides int          `json:"overrides"`
	Context   []rules.Rule `json:"context,omitempty"`
}

func newProfilesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"profile"},
		Short:   "Manage profiles",
	}
	cmd.AddCommand(
		newProfilesListCmd(a),
		newProfilesCreateCmd(a),
		newProfilesDeleteCmd(a),
		newProfilesMoveCmd(a),
		newProfilesExportCmd(a),
		newProfilesImportCmd(a),
	)
	return cmd
}

func newProfilesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles in priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				list := lo.Map(m.Profiles(), func(p *settings.Profile, index int) profileRow {
					data := p.Data()
					return profileRow{
						Index:     index,
						ID:        data.ID,
						Name:      data.Name,
						URL:       data.URL,
						Disabled:  data.Disabled,
						Overrides: len(p.Keys()),
						Context:   data.Context,
					}
				})
				if a.json() {
					return printJSON(cmd.OutOrStdout(), list)
				}

				rows := pterm.TableData{{"#", "ID", "Name", "Rules", "Overrides", "Remote", "Enabled"}}
				rows = append(rows, lo.Map(list, func(row profileRow, _ int) []string {
					return []string{
						strconv.Itoa(row.Index),
						strconv.Itoa(row.ID),
						row.Name,
						strconv.Itoa(len(row.Context)),
						strconv.Itoa(row.Overrides),
						lo.Ternary(row.URL == "", "-", row.URL),
						lo.Ternary(row.Disabled, "no", "yes"),
					}
				})...)
				return printTable(cmd.OutOrStdout(), rows)
			})
		},
	}
}

func newProfilesCreateCmd(a *app) *cobra.Command {
	var (
		description string
		url         string
		contextJSON string
		disabled    bool
		values      []string
	)
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a profile with the lowest unused id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := settings.ProfileOptions{
				Description: description,
				URL:         url,
				Disabled:    disabled,
			}
			if len(args) == 1 {
				opts.Name = args[0]
			}
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &opts.Context); err != nil {
					return fmt.Errorf("invalid --context: %w", err)
				}
			}
			if len(values) > 0 {
				parsed, err := parseEnv(values)
				if err != nil {
					return fmt.Errorf("invalid --set: %w", err)
				}
				opts.Values = parsed
			}

			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				p, err := m.CreateProfile(opts)
				if err != nil {
					return err
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), p.Data())
				}
				pterm.Success.Printfln("Created profile %d (%s)", p.ID(), p.Name())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Profile description")
	cmd.Flags().StringVar(&url, "url", "", "Remote document URL the profile is refreshed from")
	cmd.Flags().StringVar(&contextJSON, "context", "", `Activation rules as JSON, e.g. '[{"type":"route","data":{"name":"chat"}}]'`)
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the profile disabled")
	cmd.Flags().StringArrayVar(&values, "set", nil, "Initial override as key=value (repeatable)")
	return cmd
}

func newProfilesDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a profile and its overrides",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				if err := m.DeleteProfile(id); err != nil {
					return err
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": id})
				}
				pterm.Success.Printfln("Deleted profile %d", id)
				return nil
			})
		},
	}
}

func newProfilesMoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <index>",
		Short: "Move a profile to a new priority index (0 is strongest)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[1])
			}
			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				if err := m.MoveProfile(id, index); err != nil {
					return err
				}
				order := lo.Map(m.Profiles(), func(p *settings.Profile, _ int) int { return p.ID() })
				if a.json() {
					return printJSON(cmd.OutOrStdout(), map[string]any{"order": order})
				}
				pterm.Success.Printfln("Profile order: %s", strings.Join(lo.Map(order, func(id int, _ int) string {
					return strconv.Itoa(id)
				}), ", "))
				return nil
			})
		},
	}
}

func newProfilesExportCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a profile as a portable document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				p, err := lookupProfile(m, id)
				if err != nil {
					return err
				}
				doc, err := p.Export()
				if err != nil {
					return err
				}
				if out == "" {
					return printJSON(cmd.OutOrStdout(), doc)
				}
				if err := writeJSONFile(out, doc); err != nil {
					return err
				}
				pterm.Success.Printfln("Exported profile %d to %s", id, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file (default stdout)")
	return cmd
}

func newProfilesImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create a profile from an exported document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := remote.Decode(raw, remote.DetectFormat("", args[0]), args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(_ context.Context, m *settings.Manager) error {
				p, err := m.ImportProfile(doc)
				if err != nil {
					return err
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), p.Data())
				}
				pterm.Success.Printfln("Imported profile %d (%s)", p.ID(), p.Name())
				return nil
			})
		},
	}
}

func parseID(value string) (int, error) {
	id, err := strconv.Atoi(value)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid profile id %q", value)
	}
	return id, nil
}
