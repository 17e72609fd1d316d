package settings

import (
	"reflect"
	"sync"
	"testing"

	"github.com/goliatone/go-settings/pkg/events"
	"github.com/goliatone/go-settings/pkg/rules"
)

func TestGetReturnsHighestPriorityOverride(t *testing.T) {
	m, _ := newTestManager(t, seedProfiles(0, 1, 2))
	if err := m.Add("x", Definition{Default: 0}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := m.Get("x"); got != float64(0) {
		t.Fatalf("expected default, got %v", got)
	}
	if err := m.Profile(1).Set("x", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := m.Profile(2).Set("x", 2); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := m.Get("x"); got != float64(1) {
		t.Fatalf("expected first active profile to win, got %v", got)
	}
	if err := m.Profile(1).Delete("x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := m.Get("x"); got != float64(2) {
		t.Fatalf("expected fallback to next profile, got %v", got)
	}
}

func TestGetCountsUsesAndReturnsCopies(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if err := m.Add("layout", Definition{Default: map[string]any{"columns": 2}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	rec := &recorder{}
	m.On(events.Topic(events.UsesChanged, "layout"), rec.handle)

	first := m.Get("layout").(map[string]any)
	first["columns"] = 99
	second := m.Get("layout").(map[string]any)
	if second["columns"] != float64(2) {
		t.Fatalf("cached value was mutated through a returned copy: %v", second)
	}
	if got := m.Uses("layout"); got != 2 {
		t.Fatalf("expected 2 uses, got %d", got)
	}
	got := rec.snapshot()
	if len(got) != 2 || got[1].Value != 2 || got[1].OldValue != 1 {
		t.Fatalf("unexpected uses events %+v", got)
	}
}

func TestUpdateEmitsOnceAfterExternalChange(t *testing.T) {
	m, mem := newTestManager(t, nil)
	if err := m.Add("color", Definition{Default: "white"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := m.Get("color"); got != "white" {
		t.Fatalf("expected default, got %v", got)
	}
	rec := &recorder{}
	m.On(events.Topic(events.Changed, "color"), rec.handle)

	// Write behind the manager's back so no notification fires.
	if err := mem.Set(ProfileKey(0, "color"), "black"); err != nil {
		t.Fatalf("set: %v", err)
	}
	main := m.Main()
	main.Update("color")
	got := rec.snapshot()
	if len(got) != 1 || got[0].Value != "black" || got[0].OldValue != "white" {
		t.Fatalf("expected one changed event white -> black, got %+v", got)
	}
	main.Update("color")
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("expected no further events, got %+v", got)
	}
}

func TestExternalOverrideChangeReachesContexts(t *testing.T) {
	m, mem := newTestManager(t, nil)
	if err := m.Add("color", Definition{Default: "white"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	m.Get("color")
	rec := &recorder{}
	m.On(events.Topic(events.Changed, "color"), rec.handle)
	profileEvents := &recorder{}
	m.Profile(0).On(string(events.Changed), profileEvents.handle)

	if err := mem.Inject(ProfileKey(0, "color"), "blue", false); err != nil {
		t.Fatalf("inject: %v", err)
	}
	eventually(t, func() bool { return len(rec.snapshot()) == 1 }, "context changed event")
	if got := m.Get("color"); got != "blue" {
		t.Fatalf("expected blue, got %v", got)
	}
	pe := profileEvents.snapshot()
	if len(pe) != 1 || pe[0].Value != "blue" || pe[0].OldValue != nil {
		t.Fatalf("unexpected profile events %+v", pe)
	}

	if err := mem.Inject(ProfileKey(0, "color"), nil, true); err != nil {
		t.Fatalf("inject delete: %v", err)
	}
	eventually(t, func() bool { return len(rec.snapshot()) == 2 }, "revert to default")
	if got := m.Get("color"); got != "white" {
		t.Fatalf("expected default after delete, got %v", got)
	}

	// Malformed and unknown keys are ignored.
	for _, key := range []string{"p:x:color", "p:9:color", "global"} {
		if err := mem.Inject(key, "ignored", false); err != nil {
			t.Fatalf("inject %s: %v", key, err)
		}
	}
	if err := mem.Inject(ProfileKey(0, "color"), "green", false); err != nil {
		t.Fatalf("inject: %v", err)
	}
	eventually(t, func() bool { return len(rec.snapshot()) == 3 }, "later change still delivered")
}

func TestUpdateCascadesToDependents(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if err := m.Add("first", Definition{Default: "Ada"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add("greeting", Definition{
		Requires: []string{"first"},
		DefaultFunc: func(c *Context) any {
			return "hello " + c.Get("first").(string)
		},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := m.Get("greeting"); got != "hello Ada" {
		t.Fatalf("unexpected greeting %v", got)
	}
	rec := &recorder{}
	m.On(events.Topic(events.Changed, "greeting"), rec.handle)

	if err := m.Profile(0).Set("first", "Grace"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got := rec.snapshot()
	if len(got) != 1 || got[0].Value != "hello Grace" {
		t.Fatalf("expected dependent to update, got %+v", got)
	}
}

func TestUpdateOnUncachedKeyIsSilent(t *testing.T) {
	m, _ := newTestManager(t, nil)
	rec := &recorder{}
	m.On(string(events.Changed), rec.handle)
	if err := m.Profile(0).Set("never-read", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	m.Main().Update("never-read")
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("expected no events for uncached key, got %+v", got)
	}
}

func TestChangedCallbackRunsForMainContext(t *testing.T) {
	m, _ := newTestManager(t, nil)
	var calls [][2]any
	if err := m.Add("volume", Definition{Default: 5, Changed: func(value, old any) {
		calls = append(calls, [2]any{value, old})
	}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	m.Get("volume")
	ctx := m.NewContext(nil)
	defer ctx.Close()
	ctx.Get("volume")

	if err := m.Profile(0).Set("volume", 7); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(calls) != 1 || calls[0][0] != float64(7) || calls[0][1] != float64(5) {
		t.Fatalf("expected one callback from the main context, got %v", calls)
	}
}

func TestMergeStrategies(t *testing.T) {
	m, _ := newTestManager(t, seedProfiles(0, 1))
	if err := m.Add("theme", Definition{
		Default: map[string]any{"fg": "black", "bg": "white", "font": map[string]any{"size": 12}},
		Merge:   MergeMaps,
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add("plugins", Definition{Default: []any{"core"}, Merge: MergeArrays}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add("title", Definition{Default: "app"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	p0, p1 := m.Profile(0), m.Profile(1)
	mustSet := func(p *Profile, key string, value any) {
		t.Helper()
		if err := p.Set(key, value); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	mustSet(p0, "theme", map[string]any{"fg": "red"})
	mustSet(p1, "theme", map[string]any{"fg": "blue", "font": map[string]any{"size": 14}})
	mustSet(p0, "plugins", []any{"a"})
	mustSet(p1, "plugins", []any{"b"})
	mustSet(p1, "title", "second")

	wantTheme := map[string]any{"fg": "red", "bg": "white", "font": map[string]any{"size": float64(14)}}
	if got := m.Get("theme"); !reflect.DeepEqual(got, wantTheme) {
		t.Fatalf("unexpected merged theme %v", got)
	}
	if got := m.Get("plugins"); !reflect.DeepEqual(got, []any{"a", "b", "core"}) {
		t.Fatalf("unexpected concatenated plugins %v", got)
	}
	if got := m.Get("title"); got != "second" {
		t.Fatalf("expected only override to win, got %v", got)
	}
}

func TestContextEnvironmentSelectsProfiles(t *testing.T) {
	m, _ := newTestManager(t, nil)
	mobile, err := m.CreateProfile(ProfileOptions{
		Name:    "Mobile",
		Context: []rules.Rule{rules.In("device", "phone", "tablet")},
		Values:  map[string]any{"font": "large"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.MoveProfile(mobile.ID(), 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := m.Add("font", Definition{Default: "normal"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx := m.NewContext(map[string]any{"device": "desktop"})
	defer ctx.Close()
	if got := ctx.Get("font"); got != "normal" {
		t.Fatalf("expected normal on desktop, got %v", got)
	}
	rec := &recorder{}
	ctx.On(events.Topic(events.Changed, "font"), rec.handle)

	ctx.UpdateContext(map[string]any{"device": "phone"})
	if got := ctx.Get("font"); got != "large" {
		t.Fatalf("expected large on phone, got %v", got)
	}
	ctx.UpdateContext(map[string]any{"device": "phone"})
	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("expected a single changed event, got %+v", got)
	}
	if ctx.Environment()["device"] != "phone" {
		t.Fatalf("unexpected environment %v", ctx.Environment())
	}

	ctx.SetContext(map[string]any{})
	if got := ctx.Get("font"); got != "normal" {
		t.Fatalf("expected normal after reset, got %v", got)
	}
	if got := m.Get("font"); got != "normal" {
		t.Fatalf("main context must be unaffected, got %v", got)
	}
	if !ctx.Has("font") || ctx.Has("unknown") {
		t.Fatalf("unexpected Has results")
	}
	if got := ctx.Keys(); !reflect.DeepEqual(got, []string{"font"}) {
		t.Fatalf("unexpected cached keys %v", got)
	}
}

func TestClosedContextStopsReceivingUpdates(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := m.NewContext(nil)
	ctx.Get("x")
	ctx.Close()
	rec := &recorder{}
	ctx.On(string(events.Changed), rec.handle)

	if err := m.Profile(0).Set("x", 1); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("closed context received events %+v", got)
	}
}

func TestTraceReportsProvenance(t *testing.T) {
	m, _ := newTestManager(t, seedProfiles(0, 1))
	if err := m.Add("x", Definition{Default: "d"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	main := m.Main()
	trace := main.Trace("x")
	if trace.Source != "default" || trace.Value != "d" || len(trace.Layers) != 2 {
		t.Fatalf("unexpected trace %+v", trace)
	}
	if err := m.Profile(1).Set("x", "p1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	trace = main.Trace("x")
	if trace.Source != "profile:1" || trace.Value != "p1" || !trace.Layers[1].Found || trace.Layers[0].Found {
		t.Fatalf("unexpected trace %+v", trace)
	}
	if main.Uses("x") != 0 {
		t.Fatalf("trace must not count uses")
	}
	if got := main.Trace("missing").Source; got != "none" {
		t.Fatalf("expected none, got %q", got)
	}

	payload, err := trace.ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	decoded, err := TraceFromJSON(payload)
	if err != nil {
		t.Fatalf("from json: %v", err)
	}
	if decoded.Source != trace.Source || decoded.Value != "p1" || len(decoded.Layers) != 2 {
		t.Fatalf("unexpected decoded trace %+v", decoded)
	}
}

func TestGetDropsValueResolvedBeforeReselection(t *testing.T) {
	m, _ := newTestManager(t, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	if err := m.Add("k", Definition{DefaultFunc: func(*Context) any {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
		return "default"
	}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := m.CreateProfile(ProfileOptions{
		Name:    "Dark",
		Context: []rules.Rule{rules.Equals("mode", "dark")},
		Values:  map[string]any{"k": "override"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	c := m.NewContext(nil)
	defer c.Close()
	done := make(chan any, 1)
	go func() { done <- c.Get("k") }()
	<-entered
	c.UpdateContext(map[string]any{"mode": "dark"})
	close(release)

	if got := <-done; got != "override" {
		t.Fatalf("expected in-flight get to see the new selection, got %v", got)
	}
	if got := c.Get("k"); got != "override" {
		t.Fatalf("expected cached override, got %v", got)
	}
}

func TestUpdateAfterReselectionKeepsOverride(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if err := m.Add("k", Definition{Default: "default"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := m.CreateProfile(ProfileOptions{
		Name:    "Dark",
		Context: []rules.Rule{rules.Equals("mode", "dark")},
		Values:  map[string]any{"k": "override"},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	c := m.NewContext(nil)
	defer c.Close()
	if got := c.Get("k"); got != "default" {
		t.Fatalf("expected default, got %v", got)
	}

	c.UpdateContext(map[string]any{"mode": "dark"})
	c.Update("k")
	if got := c.Get("k"); got != "override" {
		t.Fatalf("expected override after reselection, got %v", got)
	}
}
