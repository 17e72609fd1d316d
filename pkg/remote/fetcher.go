package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/goliatone/go-settings/internal/hydrate"
	"github.com/goliatone/go-settings/layering"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 4 << 20
)

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(agent string) Option {
	return func(f *HTTPFetcher) {
		f.userAgent = agent
	}
}

// WithMaxBytes limits the document size.
func WithMaxBytes(limit int64) Option {
	return func(f *HTTPFetcher) {
		if limit > 0 {
			f.maxBytes = limit
		}
	}
}

// WithClock overrides the time source used for Meta.CheckedAt.
func WithClock(now func() time.Time) Option {
	return func(f *HTTPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// HTTPFetcher fetches http(s) URLs with If-None-Match and reads file URLs or
// bare paths from disk.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	now       func() time.Time
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewFetcher constructs an HTTPFetcher. The default client times out after
// DefaultTimeout.
func NewFetcher(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: "go-settings",
		maxBytes:  DefaultMaxBytes,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, location string, meta Meta) (Result, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return Result{}, fmt.Errorf("remote: parse %q: %w", location, err)
	}
	switch parsed.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, location, meta)
	case "file":
		return f.fetchFile(parsed.Path, location, meta)
	case "":
		return f.fetchFile(location, location, meta)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, location string, meta Meta) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return Result{}, fmt.Errorf("remote: request %q: %w", location, err)
	}
	req.Header.Set("Accept", "application/json, application/yaml, application/toml;q=0.9, */*;q=0.5")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("remote: fetch %q: %w", location, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		meta.CheckedAt = f.now()
		return Result{Meta: meta, NotModified: true}, nil
	case resp.StatusCode == http.StatusNotFound:
		return Result{}, fmt.Errorf("%w: %q", ErrNotFound, location)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{}, fmt.Errorf("remote: fetch %q: unexpected status %s", location, resp.Status)
	}

	body, err := f.read(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("remote: read %q: %w", location, err)
	}
	next := Meta{ETag: resp.Header.Get("ETag"), Hash: hash(body), CheckedAt: f.now()}
	return f.result(body, DetectFormat(resp.Header.Get("Content-Type"), location), location, meta, next)
}

func (f *HTTPFetcher) fetchFile(path, location string, meta Meta) (Result, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("%w: %q", ErrNotFound, location)
	}
	if err != nil {
		return Result{}, fmt.Errorf("remote: open %q: %w", location, err)
	}
	defer file.Close()

	body, err := f.read(file)
	if err != nil {
		return Result{}, fmt.Errorf("remote: read %q: %w", location, err)
	}
	next := Meta{Hash: hash(body), CheckedAt: f.now()}
	return f.result(body, DetectFormat("", path), location, meta, next)
}

func (f *HTTPFetcher) result(body []byte, format Format, location string, prev, next Meta) (Result, error) {
	if prev.Hash != "" && prev.Hash == next.Hash {
		if next.ETag == "" {
			next.ETag = prev.ETag
		}
		return Result{Meta: next, NotModified: true}, nil
	}
	doc, err := Decode(body, format, location)
	if err != nil {
		return Result{}, err
	}
	return Result{Document: doc, Meta: next}, nil
}

func (f *HTTPFetcher) read(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", f.maxBytes)
	}
	return body, nil
}

func hash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// StaticFetcher serves documents from memory. It is intended for tests and
// embedding fixed profiles.
type StaticFetcher struct {
	mu        sync.RWMutex
	documents map[string]staticRecord
	errs      map[string]error
	calls     map[string]int
}

type staticRecord struct {
	document Document
	hash     string
}

var _ Fetcher = (*StaticFetcher)(nil)

func NewStaticFetcher() *StaticFetcher {
	return &StaticFetcher{
		documents: map[string]staticRecord{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

// Put publishes doc at location, replacing any previous document or error.
func (s *StaticFetcher) Put(location string, doc Document) {
	raw := fmt.Sprintf("%v|%d|%s|%v|%v", location, doc.Version, doc.Type, doc.Profile, doc.Values)
	s.mu.Lock()
	s.documents[location] = staticRecord{document: doc, hash: hash([]byte(raw))}
	delete(s.errs, location)
	s.mu.Unlock()
}

// Fail makes fetches of location return err.
func (s *StaticFetcher) Fail(location string, err error) {
	s.mu.Lock()
	s.errs[location] = err
	s.mu.Unlock()
}

// Calls reports how often location was fetched.
func (s *StaticFetcher) Calls(location string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[location]
}

func (s *StaticFetcher) Fetch(ctx context.Context, location string, meta Meta) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	s.calls[location]++
	err := s.errs[location]
	record, ok := s.documents[location]
	s.mu.Unlock()

	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrNotFound, location)
	}
	next := Meta{ETag: `"` + record.hash[:16] + `"`, Hash: record.hash, CheckedAt: time.Now()}
	if meta.Hash == record.hash {
		return Result{Meta: next, NotModified: true}, nil
	}
	doc := layering.Clone(record.document)
	if err := validateDocument(hydrate.Context{Source: location, Kind: "document"}, &doc); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return Result{Document: doc, Meta: next}, nil
}
