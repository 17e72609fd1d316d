package settings

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/goccy/go-json"
	"github.com/samber/lo"

	"github.com/goliatone/go-settings/layering"
	"github.com/goliatone/go-settings/pkg/activity"
	"github.com/goliatone/go-settings/pkg/events"
	"github.com/goliatone/go-settings/pkg/remote"
	"github.com/goliatone/go-settings/pkg/rules"
)

// RemoteState records the last successful check of a remote profile.
type RemoteState struct {
	ETag      string    `json:"etag,omitempty"`
	Hash      string    `json:"hash,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// ProfileData is the persisted form of a profile, stored in order under the
// profiles key. Override values live under p:<id>:<key>.
type ProfileData struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Context     []rules.Rule `json:"context,omitempty"`
	URL         string       `json:"url,omitempty"`
	Disabled    bool         `json:"disabled,omitempty"`
	Remote      *RemoteState `json:"remote,omitempty"`
	// Extra holds persisted fields this version does not know. They are
	// written back unchanged.
	Extra map[string]any `json:"-"`
}

var profileDataFields = []string{"id", "name", "description", "context", "url", "disabled", "remote"}

type profileDataJSON ProfileData

func (d ProfileData) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(profileDataJSON(d))
	if err != nil || len(d.Extra) == 0 {
		return raw, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	for key, value := range d.Extra {
		if slices.Contains(profileDataFields, key) {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("profile field %q: %w", key, err)
		}
		fields[key] = encoded
	}
	return json.Marshal(fields)
}

func (d *ProfileData) UnmarshalJSON(raw []byte) error {
	var known profileDataJSON
	if err := json.Unmarshal(raw, &known); err != nil {
		return err
	}
	var extra map[string]any
	if err := json.Unmarshal(raw, &extra); err != nil {
		return err
	}
	for _, key := range profileDataFields {
		delete(extra, key)
	}
	known.Extra = nil
	if len(extra) > 0 {
		known.Extra = extra
	}
	*d = ProfileData(known)
	return nil
}

func (d ProfileData) clone() ProfileData {
	d.Context = layering.Clone(d.Context)
	if d.Remote != nil {
		state := *d.Remote
		d.Remote = &state
	}
	if d.Extra != nil {
		d.Extra = layering.Clone(d.Extra)
	}
	return d
}

// normalizeProfileData returns data as it reads back from a provider, so
// persisted and in-memory data compare with reflect.DeepEqual.
func normalizeProfileData(data ProfileData) (ProfileData, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return ProfileData{}, err
	}
	var out ProfileData
	if err := json.Unmarshal(raw, &out); err != nil {
		return ProfileData{}, err
	}
	return out, nil
}

func decodeProfiles(value any) ([]ProfileData, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var list []ProfileData
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Profile is a named, conditionally active layer of setting overrides.
type Profile struct {
	manager *Manager
	emitter *events.Emitter

	mu      sync.Mutex
	data    ProfileData
	matcher rules.Matcher
}

func newProfile(m *Manager, data ProfileData) *Profile {
	return &Profile{manager: m, emitter: events.New(), data: data}
}

func (p *Profile) ID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.ID
}

func (p *Profile) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.Name
}

func (p *Profile) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.URL
}

// Data returns a copy of the persisted profile data.
func (p *Profile) Data() ProfileData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.clone()
}

func (p *Profile) setData(data ProfileData) {
	p.mu.Lock()
	p.data = data
	p.matcher = nil
	p.mu.Unlock()
}

func (p *Profile) invalidate() {
	p.mu.Lock()
	p.matcher = nil
	p.mu.Unlock()
}

func (p *Profile) scope() string {
	return "profile:" + strconv.Itoa(p.ID())
}

// Matches reports whether the profile is active for env. The rule list is
// compiled on the first call after an invalidation; a list that fails to
// compile never matches.
func (p *Profile) Matches(env rules.Env) bool {
	p.mu.Lock()
	if p.data.Disabled {
		p.mu.Unlock()
		return false
	}
	matcher := p.matcher
	if matcher == nil {
		scope := "profile:" + strconv.Itoa(p.data.ID)
		compiled, err := p.manager.compiler.Compile(p.data.Context, scope)
		if err != nil {
			p.manager.log.Warn("settings: profile rules did not compile", "profile", p.data.ID, "error", err)
			compiled = rules.Never
		}
		p.matcher = compiled
		matcher = compiled
	}
	p.mu.Unlock()
	return matcher(env)
}

// On subscribes to the profile's events. Subscriptions follow the profile
// when a reload replaces the instance.
func (p *Profile) On(topic string, handler events.Handler) *events.Subscription {
	return p.emitter.On(topic, handler)
}

func (p *Profile) Off(sub *events.Subscription) {
	p.emitter.Off(sub)
}

// Get returns the override for key or def.
func (p *Profile) Get(key string, def any) any {
	return p.manager.provider.Get(ProfileKey(p.ID(), key), def)
}

// Lookup returns the override for key.
func (p *Profile) Lookup(key string) (any, bool) {
	return p.manager.provider.Lookup(ProfileKey(p.ID(), key))
}

// Has reports whether the profile overrides key.
func (p *Profile) Has(key string) bool {
	return p.manager.provider.Has(ProfileKey(p.ID(), key))
}

// Keys returns the overridden keys in order.
func (p *Profile) Keys() []string {
	prefix := profileKeyPrefix(p.ID())
	var keys []string
	for _, entry := range p.manager.provider.Entries() {
		if key, ok := strings.CutPrefix(entry.Key, prefix); ok && key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// Entries returns every override.
func (p *Profile) Entries() map[string]any {
	prefix := profileKeyPrefix(p.ID())
	out := map[string]any{}
	for _, entry := range p.manager.provider.Entries() {
		if key, ok := strings.CutPrefix(entry.Key, prefix); ok && key != "" {
			out[key] = entry.Value
		}
	}
	return out
}

// Set stores an override and emits changed when the stored value differs.
func (p *Profile) Set(key string, value any) error {
	if key == "" {
		return fmt.Errorf("settings: empty override key")
	}
	full := ProfileKey(p.ID(), key)
	old, _ := p.manager.provider.Lookup(full)
	if err := p.manager.provider.Set(full, value); err != nil {
		return fmt.Errorf("settings: set %s: %w", full, err)
	}
	current, _ := p.manager.provider.Lookup(full)
	if reflect.DeepEqual(old, current) {
		return nil
	}
	p.changed(key, current, old, false)
	return nil
}

// Delete removes an override.
func (p *Profile) Delete(key string) error {
	full := ProfileKey(p.ID(), key)
	old, ok := p.manager.provider.Lookup(full)
	if !ok {
		return nil
	}
	if err := p.manager.provider.Delete(full); err != nil {
		return fmt.Errorf("settings: delete %s: %w", full, err)
	}
	p.changed(key, nil, old, true)
	return nil
}

// Clear removes every override of the profile.
func (p *Profile) Clear() error {
	var errs []error
	for _, key := range p.Keys() {
		if err := p.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Edit applies fn to a copy of the profile data and saves the result. The id
// cannot change.
func (p *Profile) Edit(fn func(*ProfileData)) error {
	next := p.Data()
	id := next.ID
	fn(&next)
	next.ID = id
	normalized, err := normalizeProfileData(next)
	if err != nil {
		return fmt.Errorf("settings: profile %d: %w", id, err)
	}
	p.setData(normalized)
	return p.manager.SaveProfile(id)
}

// externalChange handles an override written by another process. The old
// value is not known at that point and is reported as nil.
func (p *Profile) externalChange(key string, value any, deleted bool) {
	p.changed(key, value, nil, deleted)
}

func (p *Profile) changed(key string, value, old any, deleted bool) {
	p.emitter.Emit(events.Event{
		Name:      events.Changed,
		Key:       key,
		Value:     value,
		OldValue:  old,
		Deleted:   deleted,
		ProfileID: p.ID(),
		Subject:   p,
	})
	p.manager.profileValueChanged(p, key)
}

// CheckUpdate refreshes a remote profile. It reports true when a changed
// document was applied. Failures leave the profile untouched.
func (p *Profile) CheckUpdate(ctx context.Context) (bool, error) {
	return p.checkUpdate(ctx, nil)
}

func (p *Profile) checkUpdate(ctx context.Context, current func() bool) (bool, error) {
	data := p.Data()
	if data.URL == "" {
		return false, nil
	}
	var meta remote.Meta
	if data.Remote != nil {
		meta = remote.Meta{ETag: data.Remote.ETag, Hash: data.Remote.Hash, CheckedAt: data.Remote.CheckedAt}
	}

	result, err := p.manager.fetcher.Fetch(ctx, data.URL, meta)
	if err != nil {
		p.manager.log.Warn("settings: remote profile check failed", "profile", data.ID, "url", data.URL, "error", err)
		return false, fmt.Errorf("settings: profile %d: %w", data.ID, err)
	}
	if result.NotModified {
		return false, nil
	}
	if current != nil && !current() {
		p.manager.log.Debug("settings: discarding superseded remote profile", "profile", data.ID)
		return false, nil
	}

	next, err := mergeRemoteProfile(data, result)
	if err == nil {
		_, err = p.manager.compiler.Compile(next.Context, p.scope())
	}
	if err != nil {
		p.manager.log.Warn("settings: rejected remote profile", "profile", data.ID, "url", data.URL, "error", err)
		return false, fmt.Errorf("settings: profile %d: %w", data.ID, err)
	}
	next.Remote = &RemoteState{ETag: result.Meta.ETag, Hash: result.Meta.Hash, CheckedAt: p.manager.cfg.now().UTC()}
	if next, err = normalizeProfileData(next); err != nil {
		return false, fmt.Errorf("settings: profile %d: %w", data.ID, err)
	}

	before := p.Entries()
	if err := p.replaceValues(result.Document.Values); err != nil {
		p.manager.log.Warn("settings: remote profile values not applied", "profile", data.ID, "error", err)
		p.rollback(data, before)
		return false, fmt.Errorf("settings: profile %d: %w", data.ID, err)
	}
	p.setData(next)
	if err := p.manager.SaveProfile(data.ID); err != nil {
		p.rollback(data, before)
		return false, err
	}
	input := p.manager.activityInput(p)
	input.Keys = lo.Keys(result.Document.Values)
	p.manager.reportActivity(activity.BuildProfileRefreshedEvent(input))
	return true, nil
}

// mergeRemoteProfile applies the document's profile section to data as an
// RFC 7386 merge patch. id and url keep their local values.
func mergeRemoteProfile(data ProfileData, result remote.Result) (ProfileData, error) {
	original, err := json.Marshal(data)
	if err != nil {
		return ProfileData{}, err
	}
	patch, err := json.Marshal(result.Document.Profile)
	if err != nil {
		return ProfileData{}, err
	}
	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return ProfileData{}, fmt.Errorf("merge remote profile: %w", err)
	}
	var next ProfileData
	if err := json.Unmarshal(merged, &next); err != nil {
		return ProfileData{}, fmt.Errorf("decode remote profile: %w", err)
	}
	next.ID = data.ID
	next.URL = data.URL
	return next, nil
}

// rollback restores the data and overrides captured before a failed refresh.
func (p *Profile) rollback(data ProfileData, values map[string]any) {
	p.setData(data)
	if err := p.replaceValues(values); err != nil {
		p.manager.log.Error("settings: remote profile rollback incomplete", "profile", data.ID, "error", err)
	}
}

func (p *Profile) replaceValues(values map[string]any) error {
	var errs []error
	for _, key := range p.Keys() {
		if _, keep := values[key]; keep {
			continue
		}
		if err := p.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := p.Set(key, values[key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Export returns the profile as a portable document. The id, url and remote
// state are left out.
func (p *Profile) Export() (remote.Document, error) {
	raw, err := json.Marshal(p.Data())
	if err != nil {
		return remote.Document{}, fmt.Errorf("settings: export profile: %w", err)
	}
	profile := map[string]any{}
	if err := json.Unmarshal(raw, &profile); err != nil {
		return remote.Document{}, fmt.Errorf("settings: export profile: %w", err)
	}
	for _, field := range []string{"id", "url", "remote"} {
		delete(profile, field)
	}
	return remote.Document{
		Version: remote.DocumentVersion,
		Type:    remote.DocumentType,
		Profile: profile,
		Values:  p.Entries(),
	}, nil
}

func profileIDs(list []*Profile) []int {
	ids := make([]int, len(list))
	for i, p := range list {
		ids[i] = p.ID()
	}
	return ids
}

func containsProfile(list []*Profile, id int) bool {
	return slices.ContainsFunc(list, func(p *Profile) bool { return p.ID() == id })
}
