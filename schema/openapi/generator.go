// Package openapi renders registered setting definitions as an OpenAPI
// document. Each key becomes a property of a single root component; the
// property schema is inferred from the default value.
package openapi

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Field describes one setting key.
type Field struct {
	Key         string
	Default     any
	Title       string
	Description string
	Component   string
	// Computed marks keys whose default is produced at read time; no default
	// is published for them.
	Computed bool
	Requires []string
}

// Generate builds an OpenAPI document with one GET operation returning the
// settings component.
func Generate(fields []Field, opts ...Option) (map[string]any, error) {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	root, err := settingsSchema(fields)
	if err != nil {
		return nil, err
	}
	return options.document(root), nil
}

func settingsSchema(fields []Field) (map[string]any, error) {
	properties := make(map[string]any, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			return nil, fmt.Errorf("openapi: field key cannot be empty")
		}
		if _, dup := properties[key]; dup {
			return nil, fmt.Errorf("openapi: duplicate field %q", key)
		}
		schema := map[string]any{}
		if !field.Computed {
			built, err := buildSchema(reflect.ValueOf(field.Default))
			if err != nil {
				return nil, fmt.Errorf("openapi: field %q: %w", key, err)
			}
			schema = built
			if field.Default != nil {
				schema["default"] = field.Default
			}
		}
		if field.Title != "" {
			schema["title"] = field.Title
		}
		if field.Description != "" {
			schema["description"] = field.Description
		}
		if field.Component != "" {
			schema["x-component"] = field.Component
		}
		if len(field.Requires) > 0 {
			requires := append([]string(nil), field.Requires...)
			sort.Strings(requires)
			schema["x-requires"] = requires
		}
		properties[key] = schema
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}, nil
}

func buildSchema(rv reflect.Value) (map[string]any, error) {
	if !rv.IsValid() {
		return map[string]any{"nullable": true}, nil
	}

	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return map[string]any{"nullable": true}, nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return map[string]any{"nullable": true}, nil
		}
		return buildSchema(rv.Elem())
	case reflect.Bool:
		return map[string]any{"type": "boolean"}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}, nil
	case reflect.Float32, reflect.Float64:
		// Normalized defaults carry every number as float64.
		f := rv.Float()
		if f == float64(int64(f)) {
			return map[string]any{"type": "integer"}, nil
		}
		return map[string]any{"type": "number"}, nil
	case reflect.String:
		return map[string]any{"type": "string"}, nil
	case reflect.Struct:
		if rv.Type() == reflect.TypeOf(time.Time{}) {
			return map[string]any{
				"type":   "string",
				"format": "date-time",
			}, nil
		}
		return nil, fmt.Errorf("unsupported struct %s", rv.Type())
	case reflect.Map:
		return schemaForMap(rv)
	case reflect.Slice, reflect.Array:
		return schemaForSlice(rv)
	default:
		return nil, fmt.Errorf("unsupported kind %s", rv.Kind())
	}
}

func schemaForMap(rv reflect.Value) (map[string]any, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("map key type %s unsupported", rv.Type().Key())
	}

	properties := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		child, err := buildSchema(iter.Value())
		if err != nil {
			return nil, err
		}
		properties[iter.Key().String()] = child
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
	}, nil
}

func schemaForSlice(rv reflect.Value) (map[string]any, error) {
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return map[string]any{
			"type":   "string",
			"format": "byte",
		}, nil
	}

	itemSchema := map[string]any{}
	if rv.Len() > 0 {
		built, err := buildSchema(rv.Index(0))
		if err != nil {
			return nil, err
		}
		itemSchema = built
	}
	return map[string]any{
		"type":  "array",
		"items": itemSchema,
	}, nil
}
