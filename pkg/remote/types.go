package remote

import (
	"context"
	"errors"
	"time"
)

// DocumentVersion is the current document format version.
const DocumentVersion = 2

// DocumentType tags profile documents.
const DocumentType = "profile"

var (
	ErrUnsupportedScheme = errors.New("remote: unsupported url scheme")
	ErrInvalidDocument   = errors.New("remote: invalid document")
	ErrNotFound          = errors.New("remote: document not found")
)

// Document is a remote profile definition.
type Document struct {
	Version int    `json:"version,omitempty"`
	Type    string `json:"type,omitempty"`
	// Profile holds profile fields (name, description, context, ...). It is
	// applied to the local profile as a JSON merge patch.
	Profile map[string]any `json:"profile"`
	// Values replaces the profile's override values.
	Values map[string]any `json:"values"`
}

// Meta is fetch metadata used for conditional requests.
type Meta struct {
	ETag      string    `json:"etag,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	CheckedAt time.Time `json:"checked_at,omitempty"`
}

// Result is the outcome of one fetch.
type Result struct {
	Document    Document
	Meta        Meta
	NotModified bool
}

// Fetcher retrieves a document. meta is what a previous fetch returned; a
// fetcher reports NotModified when the document is unchanged since then.
type Fetcher interface {
	Fetch(ctx context.Context, url string, meta Meta) (Result, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string, meta Meta) (Result, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string, meta Meta) (Result, error) {
	return f(ctx, url, meta)
}
