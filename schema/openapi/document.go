package openapi

import "strings"

// Options shapes the document around the settings component.
type Options struct {
	// OpenAPI is the document format version, 3.0.3 by default.
	OpenAPI     string
	Title       string
	Version     string
	Description string
	// Path is where the resolved settings are served, /settings by default.
	Path string
	// Component names the schema holding the settings object.
	Component string
}

// Option configures Generate.
type Option func(*Options)

func defaultOptions() Options {
	return Options{
		OpenAPI:   "3.0.3",
		Title:     "Settings",
		Version:   "1.0.0",
		Path:      "/settings",
		Component: "Settings",
	}
}

func setIfPresent(field *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*field = value
	}
}

// WithOpenAPIVersion overrides the OpenAPI version string.
func WithOpenAPIVersion(version string) Option {
	return func(o *Options) { setIfPresent(&o.OpenAPI, version) }
}

// WithInfo sets the info title and version; empty values keep the defaults.
func WithInfo(title, version string) Option {
	return func(o *Options) {
		setIfPresent(&o.Title, title)
		setIfPresent(&o.Version, version)
	}
}

// WithDescription sets the info description.
func WithDescription(description string) Option {
	return func(o *Options) { o.Description = strings.TrimSpace(description) }
}

// WithPath sets the path the settings document is served under.
func WithPath(path string) Option {
	return func(o *Options) { setIfPresent(&o.Path, path) }
}

// WithRootComponent names the component holding the settings object.
func WithRootComponent(name string) Option {
	return func(o *Options) { setIfPresent(&o.Component, name) }
}

// document wraps the settings schema in a single GET operation.
func (o Options) document(root map[string]any) map[string]any {
	info := map[string]any{
		"title":   o.Title,
		"version": o.Version,
	}
	if o.Description != "" {
		info["description"] = o.Description
	}
	response := map[string]any{
		"description": "Resolved settings",
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"$ref": "#/components/schemas/" + o.Component},
			},
		},
	}
	return map[string]any{
		"openapi": o.OpenAPI,
		"info":    info,
		"paths": map[string]any{
			o.Path: map[string]any{
				"get": map[string]any{
					"operationId": "get:" + o.Path,
					"responses":   map[string]any{"200": response},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{o.Component: root},
		},
	}
}
