// Package usersink forwards settings activity to a go-users ActivitySink.
package usersink

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/goliatone/go-settings/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts settings activity events to a go-users ActivitySink.
type Hook struct {
	Sink usertypes.ActivitySink
	// Actor is used when an event carries no parseable actor id, which is the
	// case for changes applied by the engine itself (remote refresh, sync).
	Actor uuid.UUID
	// Verbs limits forwarding to the listed verbs. Empty forwards everything.
	Verbs []string
}

// Notify maps the event into an ActivityRecord and forwards it to the sink.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}

	normalized := event.Normalized()
	if !normalized.Complete() {
		return nil
	}
	if len(h.Verbs) > 0 && !slices.Contains(h.Verbs, normalized.Verb) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	actor := parseUUID(normalized.ActorID)
	if actor == uuid.Nil {
		actor = h.Actor
	}
	data := map[string]any{}
	maps.Copy(data, normalized.Metadata)
	if normalized.Origin != "" {
		data["origin"] = normalized.Origin
	}
	if len(normalized.Keys) > 0 {
		data["keys"] = normalized.Keys
	}
	if len(data) == 0 {
		data = nil
	}

	return h.Sink.Log(ctx, usertypes.ActivityRecord{
		ActorID:    actor,
		UserID:     parseUUID(normalized.UserID),
		TenantID:   parseUUID(normalized.TenantID),
		Verb:       normalized.Verb,
		ObjectType: normalized.ObjectType,
		ObjectID:   normalized.ObjectID,
		Channel:    normalized.Channel,
		Data:       data,
		OccurredAt: normalized.OccurredAt,
	})
}

func parseUUID(input string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(input))
	if err != nil {
		return uuid.Nil
	}
	return id
}
