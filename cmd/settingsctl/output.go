package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pterm/pterm"
)

func printJSON(w io.Writer, value any) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

func printTable(w io.Writer, rows pterm.TableData) error {
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(rows).Render()
}

// formatValue renders a setting value compactly for tables.
func formatValue(value any) string {
	if value == nil {
		return "-"
	}
	if s, ok := value.(string); ok {
		return s
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(raw)
}

// parseValue reads a command line value as JSON, falling back to the raw
// string.
func parseValue(input string) any {
	var value any
	if err := json.Unmarshal([]byte(input), &value); err == nil {
		return value
	}
	return input
}

// parseEnv turns key=value pairs into a context environment.
func parseEnv(pairs []string) (map[string]any, error) {
	env := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --env %q: expected key=value", pair)
		}
		env[strings.TrimSpace(key)] = parseValue(value)
	}
	return env, nil
}
