package provider

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recorded struct {
	key     string
	value   any
	deleted bool
}

type recorder struct {
	mu      sync.Mutex
	changes []recorded
}

func (r *recorder) fn(key string, value any, deleted bool) {
	r.mu.Lock()
	r.changes = append(r.changes, recorded{key: key, value: value, deleted: deleted})
	r.mu.Unlock()
}

func (r *recorder) snapshot() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.changes...)
}

func (r *recorder) waitFor(t *testing.T, n int) []recorded {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, 3*time.Second, 10*time.Millisecond)
	return r.snapshot()
}

func TestNormalize(t *testing.T) {
	type sample struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	got, err := Normalize(sample{Name: "x", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "x", "count": 2.0}, got)

	got, err = Normalize([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, got)

	_, err = Normalize(func() {})
	assert.Error(t, err)

	got, err = Normalize(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDiff(t *testing.T) {
	changes := diff(
		map[string]any{"a": 1.0, "b": "x", "gone": true},
		map[string]any{"a": 1.0, "b": "y", "new": []any{1.0}},
	)
	assert.Equal(t, []change{
		{key: "b", value: "y"},
		{key: "gone", deleted: true},
		{key: "new", value: []any{1.0}},
	}, changes)
}

func TestDiffReportsTopLevelKeysFirst(t *testing.T) {
	changes := diff(
		map[string]any{},
		map[string]any{"p:1:x": 1.0, "profiles": []any{}, "a:b": true},
	)
	keys := make([]string, 0, len(changes))
	for _, c := range changes {
		keys = append(keys, c.key)
	}
	assert.Equal(t, []string{"profiles", "a:b", "p:1:x"}, keys)
}

func TestMemoryReadsAndWrites(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, err := NewMemory(map[string]any{"seeded": 1})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, KindMemory, p.Kind())
	assert.Equal(t, 1.0, p.Get("seeded", nil))
	assert.Equal(t, "fallback", p.Get("missing", "fallback"))

	require.NoError(t, p.Set("b", map[string]any{"nested": []int{1}}))
	require.NoError(t, p.Set("a", "value"))
	assert.True(t, p.Has("a"))
	assert.Equal(t, 3, p.Size())

	entries := p.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"a", "b", "seeded"}, []string{entries[0].Key, entries[1].Key, entries[2].Key})

	value, ok := p.Lookup("b")
	require.True(t, ok)
	value.(map[string]any)["nested"] = "mutated"
	again, _ := p.Lookup("b")
	assert.Equal(t, map[string]any{"nested": []any{1.0}}, again, "reads must not alias the mirror")

	require.NoError(t, p.Delete("a"))
	assert.False(t, p.Has("a"))
}

func TestMemoryReportsOnlyInjectedChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p, err := NewMemory(nil)
	require.NoError(t, err)

	rec := &recorder{}
	unsubscribe := p.OnChange(rec.fn)

	require.NoError(t, p.Set("own", 1))
	require.NoError(t, p.Inject("external", "v", false))
	require.NoError(t, p.Inject("external", nil, true))
	require.NoError(t, p.Inject("never-existed", nil, true))

	got := rec.waitFor(t, 2)
	assert.Equal(t, []recorded{{key: "external", value: "v"}, {key: "external", deleted: true}}, got)

	unsubscribe()
	require.NoError(t, p.Inject("after", 1, false))
	require.NoError(t, p.Close())
	assert.Len(t, rec.snapshot(), 2)
	assert.ErrorIs(t, p.Set("x", 1), ErrClosed)
}

func TestDispatcherPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := newDispatcher()
	rec := &recorder{}
	d.subscribe(rec.fn)
	for i := 0; i < 50; i++ {
		d.publish(change{key: "k", value: float64(i)})
	}
	d.close()

	got := rec.snapshot()
	require.Len(t, got, 50, "close delivers queued changes")
	for i, c := range got {
		assert.Equal(t, float64(i), c.value)
	}
}
