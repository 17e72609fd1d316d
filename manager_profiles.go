package settings

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/samber/lo"

	"github.com/goliatone/go-settings/pkg/activity"
	"github.com/goliatone/go-settings/pkg/events"
	"github.com/goliatone/go-settings/pkg/remote"
	"github.com/goliatone/go-settings/pkg/rules"
)

// ProfileOptions describes a profile to create.
type ProfileOptions struct {
	Name        string
	Description string
	Context     []rules.Rule
	URL         string
	Disabled    bool
	// Values are stored as overrides of the new profile.
	Values map[string]any
}

// Profile returns the live profile with id, or nil.
func (m *Manager) Profile(id int) *Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[id]
}

// Profiles returns the profiles in priority order.
func (m *Manager) Profiles() []*Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.profiles)
}

func (m *Manager) indexOf(id int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, index, found := lo.FindIndexOf(m.profiles, func(p *Profile) bool { return p.ID() == id })
	if !found {
		return -1
	}
	return index
}

// LoadProfiles reconciles the persisted profile list with the live
// instances. Unchanged entries keep their instance; changed entries get a new
// instance that inherits the old one's subscribers. With suppress set, or when
// nothing changed, no events fire and contexts are left alone.
func (m *Manager) LoadProfiles(suppress bool) error {
	m.listMu.Lock()
	list, err := decodeProfiles(m.provider.Get(ProfilesKey, nil))
	if err != nil {
		m.listMu.Unlock()
		return fmt.Errorf("settings: decode profiles: %w", err)
	}
	list = withDefaultProfile(list)

	m.mu.Lock()
	previousIndex := make(map[int]int, len(m.profiles))
	for i, p := range m.profiles {
		previousIndex[p.ID()] = i
	}
	next := make([]*Profile, 0, len(list))
	byID := make(map[int]*Profile, len(list))
	var created, changed []*Profile
	for _, data := range list {
		if data.ID < 0 {
			m.log.Warn("settings: skipping profile with negative id", "profile", data.ID)
			continue
		}
		if _, dup := byID[data.ID]; dup {
			m.log.Warn("settings: skipping duplicate profile id", "profile", data.ID)
			continue
		}
		prev := m.byID[data.ID]
		var p *Profile
		switch {
		case prev == nil:
			p = newProfile(m, data)
			created = append(created, p)
		case reflect.DeepEqual(prev.Data(), data):
			p = prev
		default:
			p = newProfile(m, data)
			prev.emitter.Rebind(p.emitter)
			changed = append(changed, p)
		}
		next = append(next, p)
		byID[data.ID] = p
	}
	var dropped []*Profile
	for _, p := range m.profiles {
		if byID[p.ID()] == nil {
			dropped = append(dropped, p)
		}
	}
	reordered := false
	for i, p := range next {
		if before, ok := previousIndex[p.ID()]; ok && before != i {
			reordered = true
			break
		}
	}
	m.profiles = next
	m.byID = byID
	m.mu.Unlock()
	m.listMu.Unlock()

	if suppress || (len(created) == 0 && len(changed) == 0 && len(dropped) == 0 && !reordered) {
		return nil
	}
	for _, p := range created {
		m.emitProfileEvent(events.ProfileCreated, p)
	}
	for _, p := range changed {
		m.emitProfileEvent(events.ProfileChanged, p)
	}
	for _, p := range dropped {
		m.emitProfileEvent(events.ProfileDeleted, p)
	}
	if reordered {
		m.emitReordered()
	}
	m.reselectAll()
	return nil
}

// withDefaultProfile prepends the default profile when list has no id 0.
func withDefaultProfile(list []ProfileData) []ProfileData {
	if lo.ContainsBy(list, func(d ProfileData) bool { return d.ID == 0 }) {
		return list
	}
	return append([]ProfileData{{ID: 0, Name: DefaultProfileName}}, list...)
}

// persistDefaultProfile writes the live list when the stored one is missing
// the default profile.
func (m *Manager) persistDefaultProfile() error {
	m.listMu.Lock()
	defer m.listMu.Unlock()
	stored, err := decodeProfiles(m.provider.Get(ProfilesKey, nil))
	if err != nil {
		return fmt.Errorf("settings: decode profiles: %w", err)
	}
	if len(withDefaultProfile(stored)) == len(stored) {
		return nil
	}
	if err := m.persistProfiles(); err != nil {
		return fmt.Errorf("settings: seed default profile: %w", err)
	}
	return nil
}

// persistProfiles writes the live profile list. Callers hold listMu.
func (m *Manager) persistProfiles() error {
	list := lo.Map(m.Profiles(), func(p *Profile, _ int) ProfileData { return p.Data() })
	if err := m.provider.Set(ProfilesKey, list); err != nil {
		return fmt.Errorf("settings: save profiles: %w", err)
	}
	return nil
}

// CreateProfile adds a profile with the lowest unused id at the end of the
// list.
func (m *Manager) CreateProfile(opts ProfileOptions) (*Profile, error) {
	m.listMu.Lock()
	m.mu.RLock()
	id := 0
	for m.byID[id] != nil {
		id++
	}
	m.mu.RUnlock()

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("Unnamed Profile %d", id)
	}
	data, err := normalizeProfileData(ProfileData{
		ID:          id,
		Name:        name,
		Description: opts.Description,
		Context:     opts.Context,
		URL:         opts.URL,
		Disabled:    opts.Disabled,
	})
	if err != nil {
		m.listMu.Unlock()
		return nil, fmt.Errorf("settings: create profile: %w", err)
	}
	p := newProfile(m, data)

	m.mu.Lock()
	m.profiles = append(m.profiles, p)
	m.byID[id] = p
	m.mu.Unlock()
	if err := m.persistProfiles(); err != nil {
		m.mu.Lock()
		m.profiles = slices.DeleteFunc(m.profiles, func(candidate *Profile) bool { return candidate == p })
		delete(m.byID, id)
		m.mu.Unlock()
		m.listMu.Unlock()
		return nil, err
	}
	m.listMu.Unlock()

	keys := lo.Keys(opts.Values)
	slices.Sort(keys)
	for _, key := range keys {
		if err := p.Set(key, opts.Values[key]); err != nil {
			m.log.Warn("settings: initial profile value not stored", "profile", id, "key", key, "error", err)
		}
	}
	m.emitProfileEvent(events.ProfileCreated, p)
	m.reselectAll()
	return p, nil
}

// ImportProfile creates a profile from an exported document.
func (m *Manager) ImportProfile(doc remote.Document) (*Profile, error) {
	data, err := mergeRemoteProfile(ProfileData{}, remote.Result{Document: doc})
	if err != nil {
		return nil, fmt.Errorf("settings: import profile: %w", err)
	}
	if _, err := m.compiler.Compile(data.Context, "import"); err != nil {
		return nil, fmt.Errorf("settings: import profile: %w", err)
	}
	return m.CreateProfile(ProfileOptions{
		Name:        data.Name,
		Description: data.Description,
		Context:     data.Context,
		Disabled:    data.Disabled,
		Values:      doc.Values,
	})
}

// DeleteProfile removes a profile and its overrides. The default profile
// (id 0) cannot be deleted.
func (m *Manager) DeleteProfile(id int) error {
	if id == 0 {
		return ErrDefaultProfile
	}
	m.listMu.Lock()
	m.mu.Lock()
	p := m.byID[id]
	if p == nil {
		m.mu.Unlock()
		m.listMu.Unlock()
		return fmt.Errorf("%w: %d", ErrProfileNotFound, id)
	}
	previous := slices.Clone(m.profiles)
	m.profiles = slices.DeleteFunc(m.profiles, func(candidate *Profile) bool { return candidate == p })
	delete(m.byID, id)
	m.mu.Unlock()
	if err := m.persistProfiles(); err != nil {
		m.mu.Lock()
		m.profiles = previous
		m.byID[id] = p
		m.mu.Unlock()
		m.listMu.Unlock()
		return err
	}
	m.listMu.Unlock()

	m.reselectAll()
	if err := p.Clear(); err != nil {
		m.log.Warn("settings: deleted profile left overrides behind", "profile", id, "error", err)
	}
	m.emitProfileEvent(events.ProfileDeleted, p)
	return nil
}

// MoveProfile moves a profile to index, clamped to the list bounds. A lower
// index means a higher priority.
func (m *Manager) MoveProfile(id, index int) error {
	m.listMu.Lock()
	m.mu.Lock()
	p := m.byID[id]
	if p == nil {
		m.mu.Unlock()
		m.listMu.Unlock()
		return fmt.Errorf("%w: %d", ErrProfileNotFound, id)
	}
	from := slices.Index(m.profiles, p)
	index = max(0, min(index, len(m.profiles)-1))
	if from == index {
		m.mu.Unlock()
		m.listMu.Unlock()
		return nil
	}
	previous := slices.Clone(m.profiles)
	m.profiles = slices.Insert(slices.Delete(m.profiles, from, from+1), index, p)
	m.mu.Unlock()
	if err := m.persistProfiles(); err != nil {
		m.mu.Lock()
		m.profiles = previous
		m.mu.Unlock()
		m.listMu.Unlock()
		return err
	}
	m.listMu.Unlock()

	m.emitReordered()
	m.reselectAll()
	return nil
}

// SaveProfile persists the profile list after a profile's data changed.
func (m *Manager) SaveProfile(id int) error {
	m.listMu.Lock()
	p := m.Profile(id)
	if p == nil {
		m.listMu.Unlock()
		return fmt.Errorf("%w: %d", ErrProfileNotFound, id)
	}
	err := m.persistProfiles()
	m.listMu.Unlock()
	if err != nil {
		return err
	}
	m.emitProfileEvent(events.ProfileChanged, p)
	m.reselectAll()
	return nil
}

func (m *Manager) emitProfileEvent(name events.Name, p *Profile) {
	m.emitter.Emit(events.Event{Name: name, ProfileID: p.ID(), Subject: p})

	input := m.activityInput(p)
	switch name {
	case events.ProfileCreated:
		m.reportActivity(activity.BuildProfileCreatedEvent(input))
	case events.ProfileChanged:
		m.reportActivity(activity.BuildProfileChangedEvent(input))
	case events.ProfileDeleted:
		m.reportActivity(activity.BuildProfileDeletedEvent(input))
	}
}

func (m *Manager) emitReordered() {
	order := profileIDs(m.Profiles())
	m.emitter.Emit(events.Event{Name: events.ProfilesReordered, Subject: order})
	m.reportActivity(activity.BuildProfilesReorderedEvent(activity.ProfileEventInput{Order: order}))
}
