package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	settings "github.com/goliatone/go-settings"
)

type cli struct {
	t     *testing.T
	store string
	dir   string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	return &cli{t: t, dir: dir, store: filepath.Join(dir, "settings.json")}
}

// run executes settingsctl against the temp store with JSON output.
func (c *cli) run(args ...string) ([]byte, error) {
	c.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--file", c.store, "--output", "json"}, args...))
	err := cmd.Execute()
	return out.Bytes(), err
}

func (c *cli) decode(target any, args ...string) {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, string(out))
	require.NoError(c.t, json.Unmarshal(out, target), string(out))
}

func (c *cli) write(name, body string) string {
	c.t.Helper()
	path := filepath.Join(c.dir, name)
	require.NoError(c.t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestSetGetDeleteList(t *testing.T) {
	c := newCLI(t)

	var set map[string]any
	c.decode(&set, "set", "theme", "dark")
	assert.Equal(t, "dark", set["value"])

	c.decode(&set, "set", "font", `{"size": 14}`)
	assert.Equal(t, map[string]any{"size": float64(14)}, set["value"])

	var trace settings.Trace
	c.decode(&trace, "get", "theme")
	assert.Equal(t, "dark", trace.Value)
	assert.Equal(t, "profile:0", trace.Source)

	var entries map[string]any
	c.decode(&entries, "list")
	assert.Equal(t, map[string]any{"theme": "dark", "font": map[string]any{"size": float64(14)}}, entries)

	var deleted map[string]any
	c.decode(&deleted, "delete", "theme")
	assert.Equal(t, true, deleted["deleted"])
	c.decode(&deleted, "delete", "theme")
	assert.Equal(t, false, deleted["deleted"])

	c.decode(&trace, "get", "theme")
	assert.Nil(t, trace.Value)
	assert.Equal(t, "none", trace.Source)

	_, err := c.run("set", "theme", "x", "--profile", "9")
	assert.ErrorIs(t, err, settings.ErrProfileNotFound)
}

func TestGetUsesContextEnvironment(t *testing.T) {
	c := newCLI(t)

	var created settings.ProfileData
	c.decode(&created, "profiles", "create", "Mobile",
		"--context", `[{"type":"in","data":{"key":"device","values":["phone"]}}]`,
		"--set", "font=large")
	assert.Equal(t, 1, created.ID)

	var order map[string][]int
	c.decode(&order, "profiles", "move", "1", "0")
	assert.Equal(t, []int{1, 0}, order["order"])

	var trace settings.Trace
	c.decode(&trace, "get", "font", "--env", "device=phone")
	assert.Equal(t, "large", trace.Value)
	assert.Equal(t, "profile:1", trace.Source)

	c.decode(&trace, "get", "font", "--env", "device=desktop")
	assert.Nil(t, trace.Value)

	_, err := c.run("get", "font", "--env", "device")
	assert.ErrorContains(t, err, "expected key=value")
}

func TestProfilesLifecycle(t *testing.T) {
	c := newCLI(t)

	var created settings.ProfileData
	c.decode(&created, "profiles", "create", "--description", "night shift")
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, "Unnamed Profile 1", created.Name)

	var list []profileRow
	c.decode(&list, "profiles", "list")
	require.Len(t, list, 2)
	assert.Equal(t, settings.DefaultProfileName, list[0].Name)
	assert.Equal(t, 1, list[1].ID)

	exported := filepath.Join(c.dir, "profile.json")
	_, err := c.run("set", "color", "blue", "--profile", "1")
	require.NoError(t, err)
	_, err = c.run("profiles", "export", "1", "--out", exported)
	require.NoError(t, err)

	var deleted map[string]int
	c.decode(&deleted, "profiles", "delete", "1")
	assert.Equal(t, 1, deleted["deleted"])

	_, err = c.run("profiles", "delete", "0")
	assert.ErrorIs(t, err, settings.ErrDefaultProfile)

	var imported settings.ProfileData
	c.decode(&imported, "profiles", "import", exported)
	assert.Equal(t, 1, imported.ID)
	assert.Equal(t, "night shift", imported.Description)

	var entries map[string]any
	c.decode(&entries, "list", "--profile", "1")
	assert.Equal(t, map[string]any{"color": "blue"}, entries)
}

func TestBackupRestore(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("set", "theme", "dark")
	require.NoError(t, err)

	backupFile := filepath.Join(c.dir, "backup.json")
	var written map[string]any
	c.decode(&written, "backup", "--out", backupFile)
	assert.Equal(t, backupFile, written["file"])

	_, err = c.run("set", "theme", "light")
	require.NoError(t, err)
	_, err = c.run("profiles", "create", "Extra")
	require.NoError(t, err)

	var restored map[string]int
	c.decode(&restored, "restore", backupFile)
	assert.Equal(t, 1, restored["profiles"])

	var trace settings.Trace
	c.decode(&trace, "get", "theme")
	assert.Equal(t, "dark", trace.Value)

	_, err = c.run("restore", c.write("bad.json", `{"version": 2, "type": "partial", "values": {}}`))
	assert.ErrorIs(t, err, settings.ErrInvalidBackup)
}

func TestSchemaFromDefinitionsFile(t *testing.T) {
	c := newCLI(t)
	defs := c.write("definitions.yaml", `
volume:
  default: 7
  title: Volume
  component: slider
chat.font:
  default: sans
  path: [Chat]
  title: Font
plugins:
  default: [core]
  merge: arrays
`)

	var fields []settings.FieldDescriptor
	c.decode(&fields, "--definitions", defs, "schema")
	paths := make([]string, 0, len(fields))
	for _, field := range fields {
		paths = append(paths, field.Path)
	}
	assert.Equal(t, []string{"chat.font", "plugins", "volume"}, paths)

	var doc map[string]any
	c.decode(&doc, "--definitions", defs, "schema", "--format", "openapi", "--title", "Chat")
	assert.Equal(t, "Chat", doc["info"].(map[string]any)["title"])
	schemas := doc["components"].(map[string]any)["schemas"].(map[string]any)
	volume := schemas["Settings"].(map[string]any)["properties"].(map[string]any)["volume"].(map[string]any)
	assert.Equal(t, "integer", volume["type"])
	assert.Equal(t, "slider", volume["x-component"])

	_, err := c.run("--definitions", c.write("merge.yaml", "x:\n  merge: sideways\n"), "schema")
	assert.ErrorContains(t, err, "unknown merge strategy")
}

func TestCheckUpdatesFromFile(t *testing.T) {
	c := newCLI(t)
	remoteDoc := c.write("team.yaml", `
profile:
  name: Team
values:
  color: green
`)

	var created settings.ProfileData
	c.decode(&created, "profiles", "create", "--url", remoteDoc)

	var report map[string]int
	c.decode(&report, "check-updates")
	assert.Equal(t, map[string]int{"checked": 1, "updated": 1, "failed": 0}, report)

	var list []profileRow
	c.decode(&list, "profiles", "list")
	require.Len(t, list, 2)
	assert.Equal(t, "Team", list[1].Name)

	var entries map[string]any
	c.decode(&entries, "list", "--profile", "1")
	assert.Equal(t, map[string]any{"color": "green"}, entries)
}

func TestMigrateReportsEmptyRegistry(t *testing.T) {
	c := newCLI(t)
	var rows []migrationRow
	c.decode(&rows, "migrate")
	assert.Empty(t, rows)

	_, err := c.run("migrate", "plugins")
	assert.ErrorIs(t, err, settings.ErrUnknownMigrationScope)
}

func TestRejectsUnknownOutput(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--output", "xml", "list"})
	assert.ErrorContains(t, cmd.Execute(), "unsupported --output")
}
