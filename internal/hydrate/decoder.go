// Package hydrate decodes loosely typed payloads (persisted profile data,
// remote documents, rule data) into typed structs.
package hydrate

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrNotObject is returned when a payload does not decode to a JSON object.
var ErrNotObject = errors.New("payload is not an object")

// Context identifies the payload being decoded in errors and hooks.
type Context struct {
	// Source names where the payload came from (a URL, "provider", "rule").
	Source string
	// Kind names the payload shape ("profile", "document", a rule type).
	Kind string
}

func (c Context) String() string {
	if c.Kind == "" {
		return c.Source
	}
	return c.Kind + "@" + c.Source
}

// Stage names the step of Decode that failed.
type Stage string

const (
	StagePayload Stage = "payload"
	StagePre     Stage = "pre-hook"
	StageDecode  Stage = "decode"
	StagePost    Stage = "post-hook"
)

// Error reports a failed Decode.
type Error struct {
	Context Context
	Stage   Stage
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hydrate: %s %s: %v", e.Stage, e.Context, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// PreHook rewrites the payload before decoding. Returning a nil map keeps
// the current payload.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook validates or completes the decoded value.
type PostHook[T any] func(Context, *T) error

// DecoderOption configures a Decoder.
type DecoderOption[T any] func(*Decoder[T])

// Decoder turns payloads into T: the payload is copied into a JSON object,
// passed through the pre hooks, decoded and passed through the post hooks.
type Decoder[T any] struct {
	pre       []PreHook
	post      []PostHook[T]
	strict    bool
	useNumber bool
}

// WithPreHook appends hook to the pre hooks.
func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.pre = append(d.pre, hook)
		}
	}
}

// WithPostHook appends hook to the post hooks.
func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.post = append(d.post, hook)
		}
	}
}

// WithStrict rejects fields T does not declare.
func WithStrict[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) { d.strict = true }
}

// WithUseNumber keeps numbers in untyped fields as json.Number.
func WithUseNumber[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) { d.useNumber = true }
}

func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts payload into T. payload may be a map, raw JSON bytes or
// any value that marshals to a JSON object; it is never mutated.
func (d *Decoder[T]) Decode(ctx Context, payload any) (T, error) {
	var zero T
	fail := func(stage Stage, err error) (T, error) {
		return zero, &Error{Context: ctx, Stage: stage, Err: err}
	}

	current, err := toObject(payload)
	if err != nil {
		return fail(StagePayload, err)
	}
	for _, hook := range d.pre {
		next, err := hook(ctx, current)
		if err != nil {
			return fail(StagePre, err)
		}
		if next != nil {
			current = next
		}
	}

	raw, err := json.Marshal(current)
	if err != nil {
		return fail(StageDecode, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if d.strict {
		dec.DisallowUnknownFields()
	}
	if d.useNumber {
		dec.UseNumber()
	}
	var out T
	if err := dec.Decode(&out); err != nil {
		return fail(StageDecode, err)
	}

	for _, hook := range d.post {
		if err := hook(ctx, &out); err != nil {
			return fail(StagePost, err)
		}
	}
	return out, nil
}

// toObject returns a private copy of payload as a JSON object.
func toObject(payload any) (map[string]any, error) {
	var raw []byte
	switch typed := payload.(type) {
	case nil:
		return nil, ErrNotObject
	case []byte:
		raw = typed
	case json.RawMessage:
		raw = typed
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if out == nil {
		return nil, ErrNotObject
	}
	return out, nil
}
