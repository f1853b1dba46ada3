package feeds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type item struct {
	id string
	at time.Time
}

func newItemWindow(max int) *Window[item] {
	return NewWindow(max,
		func(i item) string { return i.id },
		func(i item) time.Time { return i.at },
	)
}

func TestWindowDeduplicates(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := newItemWindow(10)

	assert.Equal(t, 2, w.Add(item{"a", base}, item{"b", base.Add(time.Second)}))
	assert.Equal(t, 1, w.Add(item{"a", base}, item{"c", base.Add(2 * time.Second)}, item{"c", base.Add(2 * time.Second)}))
	assert.Equal(t, 0, w.Add(item{"b", base.Add(time.Second)}))

	ids := []string{}
	for _, it := range w.Items() {
		ids = append(ids, it.id)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

func TestWindowBound(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := newItemWindow(3)

	for i, id := range []string{"a", "b", "c", "d"} {
		w.Add(item{id, base.Add(time.Duration(i) * time.Minute)})
	}
	assert.Equal(t, 3, w.Len())
	assert.False(t, w.Has("a"), "oldest item evicted")
	assert.True(t, w.Has("d"))

	// an item older than everything retained does not count as added
	assert.Equal(t, 0, w.Add(item{"old", base.Add(-time.Hour)}))
	assert.False(t, w.Has("old"))

	assert.Equal(t, base.Add(3*time.Minute), w.Since())
}

func TestWindowSinceNeverMovesBack(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w := newItemWindow(5)
	assert.True(t, w.Since().IsZero())

	w.Add(item{"late", base.Add(time.Hour)})
	w.Add(item{"early", base})
	assert.Equal(t, base.Add(time.Hour), w.Since())

	assert.True(t, w.Remove("late"))
	assert.False(t, w.Remove("late"))
	assert.Equal(t, base.Add(time.Hour), w.Since())
	assert.Equal(t, 1, w.Len())
}
