package settings

import (
	"strconv"

	"github.com/goccy/go-json"
)

// Trace records how a context resolved one key across its active profiles.
type Trace struct {
	Key string `json:"key"`
	// Source is "profile:<id>" for the first overriding profile, "default"
	// when the definition supplied the value and "none" otherwise.
	Source string       `json:"source"`
	Value  any          `json:"value,omitempty"`
	Layers []Provenance `json:"layers"`
}

// Provenance describes one active profile's contribution to a traced key.
type Provenance struct {
	ProfileID int    `json:"profile_id"`
	Name      string `json:"name,omitempty"`
	Value     any    `json:"value,omitempty"`
	Found     bool   `json:"found"`
}

// Trace explains the value of key without counting a use.
func (c *Context) Trace(key string) Trace {
	trace := Trace{Key: key, Source: "none", Layers: []Provenance{}}
	for _, p := range c.Profiles() {
		value, found := p.Lookup(key)
		trace.Layers = append(trace.Layers, Provenance{ProfileID: p.ID(), Name: p.Name(), Value: value, Found: found})
		if found && trace.Source == "none" {
			trace.Source = "profile:" + strconv.Itoa(p.ID())
		}
	}
	if trace.Source == "none" {
		if def, ok := c.manager.Definition(key); ok && (def.Default != nil || def.DefaultFunc != nil) {
			trace.Source = "default"
		}
	}
	trace.Value = c.resolve(key)
	return trace
}

// ToJSON serialises the trace for logging or transport.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON decodes a payload produced by ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}
