package settings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/goliatone/go-settings/schema/openapi"
)

// FieldDescriptor describes one setting path and its inferred type. Map
// defaults are flattened into dotted paths below the setting key.
type FieldDescriptor struct {
	Path      string   `json:"path"`
	Type      string   `json:"type"`
	Title     string   `json:"title,omitempty"`
	Component string   `json:"component,omitempty"`
	UIPath    []string `json:"ui_path,omitempty"`
	Requires  []string `json:"requires,omitempty"`
}

// Schema describes every registered definition, sorted by path. Computed
// defaults are reported with type "computed" and placeholders are skipped.
func (m *Manager) Schema() []FieldDescriptor {
	fields := []FieldDescriptor{}
	for _, def := range m.Definitions() {
		if def.Placeholder() {
			continue
		}
		var derived []FieldDescriptor
		switch {
		case def.DefaultFunc != nil:
			derived = []FieldDescriptor{{Path: def.Key, Type: "computed"}}
		default:
			derived = deriveFieldDescriptors(def.Default, def.Key)
			if len(derived) == 0 {
				derived = []FieldDescriptor{{Path: def.Key, Type: "nil"}}
			}
		}
		derived[0].Requires = def.Requires
		if def.UI != nil {
			derived[0].Title = def.UI.Title
			derived[0].Component = def.UI.Component
			derived[0].UIPath = def.UI.Path
		}
		fields = append(fields, derived...)
	}
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Path < fields[j].Path })
	return fields
}

// OpenAPISchema renders the registered definitions as an OpenAPI document
// whose root component holds one property per key.
func (m *Manager) OpenAPISchema(opts ...openapi.Option) (map[string]any, error) {
	var fields []openapi.Field
	for _, def := range m.Definitions() {
		if def.Placeholder() {
			continue
		}
		field := openapi.Field{
			Key:      def.Key,
			Default:  def.Default,
			Computed: def.DefaultFunc != nil,
			Requires: def.Requires,
		}
		if def.UI != nil {
			field.Title = def.UI.Title
			field.Description = def.UI.Description
			field.Component = def.UI.Component
		}
		fields = append(fields, field)
	}
	return openapi.Generate(fields, opts...)
}

func deriveFieldDescriptors(value any, prefix string) []FieldDescriptor {
	if value == nil {
		return nil
	}

	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			return []FieldDescriptor{{
				Path: prefix,
				Type: "map[string]any",
			}}
		}
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var fields []FieldDescriptor
		for _, key := range keys {
			fields = append(fields, deriveFieldDescriptors(typed[key], joinPath(prefix, key))...)
		}
		return fields
	case []any:
		elementType := "any"
		if len(typed) > 0 {
			elementType = typeName(typed[0])
		}
		return []FieldDescriptor{{
			Path: prefix,
			Type: "[]" + elementType,
		}}
	default:
		if prefix == "" {
			return nil
		}
		return []FieldDescriptor{{
			Path: prefix,
			Type: typeName(typed),
		}}
	}
}

func typeName(value any) string {
	if value == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", value)
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return strings.Join([]string{prefix, segment}, ".")
}
