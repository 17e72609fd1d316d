package activity

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestEventNormalizedTrimsAndOwnsData(t *testing.T) {
	meta := map[string]any{"k": "v"}
	keys := []string{" theme ", "font", "theme", ""}
	evt := Event{
		Verb:       " settings.profile.changed ",
		ActorID:    " actor ",
		ObjectType: " settings.profile ",
		ObjectID:   " 42 ",
		Channel:    " settings ",
		Origin:     " remote ",
		Keys:       keys,
		Metadata:   meta,
	}

	got := evt.Normalized()

	if got.Verb != "settings.profile.changed" || got.ObjectType != "settings.profile" || got.ObjectID != "42" {
		t.Fatalf("unexpected normalized fields: %+v", got)
	}
	if got.ActorID != "actor" || got.Channel != "settings" || got.Origin != OriginRemote {
		t.Fatalf("unexpected trimming: %+v", got)
	}
	if !reflect.DeepEqual(got.Keys, []string{"font", "theme"}) {
		t.Fatalf("expected sorted unique keys, got %v", got.Keys)
	}
	if got.OccurredAt.IsZero() {
		t.Fatalf("expected OccurredAt to be set")
	}
	got.Metadata["k"] = "changed"
	got.Keys[0] = "changed"
	if meta["k"] != "v" || keys[1] != "font" {
		t.Fatalf("expected input untouched: %v %v", meta, keys)
	}
	if !got.Complete() || (Event{Verb: "x", ObjectType: "y"}).Complete() {
		t.Fatalf("unexpected completeness")
	}
}

func TestHooksNotifyDropsIncompleteEvents(t *testing.T) {
	capture := &CaptureHook{}
	if err := (Hooks{capture}).Notify(context.Background(), Event{Verb: "settings.profile.created"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got := capture.Events(); len(got) != 0 {
		t.Fatalf("expected no events captured, got %d", len(got))
	}
}

func TestHooksNotifyFanOutAndJoinErrors(t *testing.T) {
	errFirst := errors.New("sink offline")
	errSecond := errors.New("queue full")
	capture := &CaptureHook{}
	var ctxSeen bool
	hooks := Hooks{
		HookFunc(func(ctx context.Context, _ Event) error {
			ctxSeen = ctx != nil
			return nil
		}),
		HookFunc(func(context.Context, Event) error { return errFirst }),
		nil,
		capture,
		HookFunc(func(context.Context, Event) error { return errSecond }),
	}

	err := hooks.Notify(nil, Event{Verb: "settings.profile.changed", ObjectType: ObjectProfile, ObjectID: "1"})
	if !errors.Is(err, errFirst) || !errors.Is(err, errSecond) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if !ctxSeen {
		t.Fatalf("expected a non-nil context")
	}
	if got := capture.Events(); len(got) != 1 {
		t.Fatalf("expected later hooks to run after a failure, got %d events", len(got))
	}
	if got := hooks.Compact(); len(got) != 4 {
		t.Fatalf("expected nil hooks dropped, got %d", len(got))
	}
	if (Hooks{nil}).Compact() != nil {
		t.Fatalf("expected nil for hooks without entries")
	}
}

func TestEmitterStampsDefaults(t *testing.T) {
	capture := &CaptureHook{}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	if NewEmitter(nil).Enabled() || NewEmitter(Hooks{nil}).Enabled() {
		t.Fatalf("expected emitter without hooks to be disabled")
	}
	var disabled *Emitter
	if err := disabled.Emit(context.Background(), Event{Verb: "v", ObjectType: "o", ObjectID: "1"}); err != nil {
		t.Fatalf("expected nil emitter to be a no-op, got %v", err)
	}

	emitter := NewEmitter(Hooks{capture}, WithClock(func() time.Time { return now }))
	if err := emitter.Emit(context.Background(), Event{Verb: VerbProfileCreated, ObjectType: ObjectProfile, ObjectID: "1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	got := capture.Events()
	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	if got[0].Channel != DefaultChannel || got[0].Origin != OriginLocal || !got[0].OccurredAt.Equal(now) {
		t.Fatalf("expected defaults applied, got %+v", got[0])
	}
}

func TestEmitterKeepsExplicitFieldsAndFiltersVerbs(t *testing.T) {
	capture := &CaptureHook{}
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	emitter := NewEmitter(Hooks{capture}, WithChannel("audit"), WithVerbs(VerbProfileDeleted))

	if err := emitter.Emit(context.Background(), Event{Verb: VerbProfileCreated, ObjectType: ObjectProfile, ObjectID: "1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	err := emitter.Emit(context.Background(), Event{
		Verb:       VerbProfileDeleted,
		ObjectType: ObjectProfile,
		ObjectID:   "1",
		Origin:     OriginRemote,
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	if got := capture.Verbs(); !reflect.DeepEqual(got, []string{VerbProfileDeleted}) {
		t.Fatalf("expected only the allowed verb, got %v", got)
	}
	event := capture.Events()[0]
	if event.Channel != "audit" || event.Origin != OriginRemote || !event.OccurredAt.Equal(at) {
		t.Fatalf("unexpected event: %+v", event)
	}

	capture.Reset()
	if len(capture.Events()) != 0 {
		t.Fatalf("expected reset to drop events")
	}
}
