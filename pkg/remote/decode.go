package remote

import (
	"bytes"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-settings/internal/hydrate"
)

// Format names a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// DetectFormat picks a format from a content type, falling back to the
// location's extension and then JSON.
func DetectFormat(contentType, location string) Format {
	if contentType != "" {
		if media, _, err := mime.ParseMediaType(contentType); err == nil {
			switch {
			case strings.Contains(media, "yaml"):
				return FormatYAML
			case strings.Contains(media, "toml"):
				return FormatTOML
			case strings.Contains(media, "json"):
				return FormatJSON
			}
		}
	}
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		location = location[:i]
	}
	switch strings.ToLower(path.Ext(location)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	}
	return FormatJSON
}

var documentDecoder = hydrate.NewDecoder[Document](
	hydrate.WithPreHook[Document](normalizeSections),
	hydrate.WithPostHook[Document](validateDocument),
)

// Decode parses body in format into a validated Document. source labels
// errors.
func Decode(body []byte, format Format, source string) (Document, error) {
	payload := map[string]any{}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(body, &payload)
	case FormatTOML:
		_, err = toml.NewDecoder(bytes.NewReader(body)).Decode(&payload)
	default:
		err = json.Unmarshal(body, &payload)
	}
	if err != nil {
		return Document{}, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, source, err)
	}
	doc, err := documentDecoder.Decode(hydrate.Context{Source: source, Kind: "document"}, payload)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// normalizeSections accepts documents that list values at the top level next
// to the profile section, as older exports did.
func normalizeSections(_ hydrate.Context, payload map[string]any) (map[string]any, error) {
	if _, ok := payload["values"]; ok {
		return payload, nil
	}
	if _, ok := payload["profile"]; !ok {
		return payload, nil
	}
	values := map[string]any{}
	for key, value := range payload {
		switch key {
		case "version", "type", "profile":
			continue
		}
		values[key] = value
		delete(payload, key)
	}
	payload["values"] = values
	return payload, nil
}

func validateDocument(_ hydrate.Context, doc *Document) error {
	if doc.Type != "" && doc.Type != DocumentType {
		return fmt.Errorf("unexpected document type %q", doc.Type)
	}
	if doc.Version > DocumentVersion {
		return fmt.Errorf("unsupported document version %d", doc.Version)
	}
	if doc.Profile == nil {
		return fmt.Errorf("missing profile section")
	}
	if name, ok := doc.Profile["name"]; ok {
		if _, isString := name.(string); !isString {
			return fmt.Errorf("profile name must be a string")
		}
	}
	if rules, ok := doc.Profile["context"]; ok && rules != nil {
		if _, isList := rules.([]any); !isList {
			return fmt.Errorf("profile context must be a list")
		}
	}
	for _, reserved := range []string{"id", "url"} {
		delete(doc.Profile, reserved)
	}
	if doc.Values == nil {
		doc.Values = map[string]any{}
	}
	return nil
}
