// Package remote fetches profile documents published at a URL.
//
// A document carries profile fields and the profile's override values:
//
//	{"version": 2, "type": "profile",
//	 "profile": {"name": "Streaming", "context": [...]},
//	 "values": {"chat.width": 340}}
//
// Documents are decoded from JSON, YAML or TOML depending on the content type
// or file extension. Fetchers are conditional: the Meta returned by a previous
// fetch (ETag and content hash) lets the next fetch report NotModified.
//
// Data flow:
//
//	Fetcher.Fetch(url, meta) -> decode(format) -> hydrate -> Result{Document, Meta}
package remote
