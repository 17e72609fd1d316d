package activity

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Verbs reported for profile lifecycle events.
const (
	VerbProfileCreated   = "settings.profile.created"
	VerbProfileChanged   = "settings.profile.changed"
	VerbProfileDeleted   = "settings.profile.deleted"
	VerbProfileRefreshed = "settings.profile.refreshed"
	VerbProfilesReorder  = "settings.profiles.reordered"
	VerbBackupRestored   = "settings.backup.restored"
)

// ObjectProfile and ObjectStore are the object types used by the builders.
const (
	ObjectProfile = "settings.profile"
	ObjectStore   = "settings.store"
)

// ProfileEventInput describes the common fields for profile lifecycle events.
type ProfileEventInput struct {
	ActorID  string
	UserID   string
	TenantID string
	Channel  string
	Origin   string
	// Keys are the override keys the event touched.
	Keys      []string
	Metadata  map[string]any
	ProfileID int
	Name      string
	URL       string
	// Index is the profile's slot in priority order, or -1 when unknown.
	Index      int
	Order      []int
	OccurredAt time.Time
}

// BuildProfileCreatedEvent constructs an activity event for a created profile.
func BuildProfileCreatedEvent(input ProfileEventInput) Event {
	return buildProfileEvent(VerbProfileCreated, input)
}

// BuildProfileChangedEvent constructs an activity event for a changed profile.
func BuildProfileChangedEvent(input ProfileEventInput) Event {
	return buildProfileEvent(VerbProfileChanged, input)
}

// BuildProfileDeletedEvent constructs an activity event for a deleted profile.
func BuildProfileDeletedEvent(input ProfileEventInput) Event {
	return buildProfileEvent(VerbProfileDeleted, input)
}

// BuildProfileRefreshedEvent reports a successful remote refresh. The origin
// defaults to OriginRemote.
func BuildProfileRefreshedEvent(input ProfileEventInput) Event {
	if strings.TrimSpace(input.Origin) == "" {
		input.Origin = OriginRemote
	}
	return buildProfileEvent(VerbProfileRefreshed, input)
}

// BuildProfilesReorderedEvent reports a new profile order. The object is the
// whole store rather than a single profile.
func BuildProfilesReorderedEvent(input ProfileEventInput) Event {
	event := buildEvent(VerbProfilesReorder, ObjectStore, "profiles", input)
	if len(input.Order) > 0 {
		event.Metadata = ensureMetadata(event.Metadata)
		event.Metadata["order"] = append([]int{}, input.Order...)
	}
	return event
}

// BuildBackupRestoredEvent reports a restored full backup. The origin
// defaults to OriginRestore.
func BuildBackupRestoredEvent(input ProfileEventInput) Event {
	if strings.TrimSpace(input.Origin) == "" {
		input.Origin = OriginRestore
	}
	return buildEvent(VerbBackupRestored, ObjectStore, "backup", input)
}

func buildProfileEvent(verb string, input ProfileEventInput) Event {
	event := buildEvent(verb, ObjectProfile, strconv.Itoa(input.ProfileID), input)
	event.Metadata = ensureMetadata(event.Metadata)
	event.Metadata["profile_id"] = input.ProfileID
	if name := strings.TrimSpace(input.Name); name != "" {
		event.Metadata["name"] = name
	}
	if url := strings.TrimSpace(input.URL); url != "" {
		event.Metadata["url"] = url
	}
	if input.Index >= 0 {
		event.Metadata["index"] = input.Index
	}
	return event
}

func buildEvent(verb, objectType, objectID string, input ProfileEventInput) Event {
	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		UserID:     strings.TrimSpace(input.UserID),
		TenantID:   strings.TrimSpace(input.TenantID),
		ObjectType: objectType,
		ObjectID:   objectID,
		Channel:    strings.TrimSpace(input.Channel),
		Origin:     strings.TrimSpace(input.Origin),
		Keys:       slices.Clone(input.Keys),
		Metadata:   maps.Clone(input.Metadata),
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
