package feeds

import (
	"slices"
	"time"
)

// Window keeps the newest items of a feed, at most once each. Items are ordered
// newest first by their timestamp; the seen set only covers retained items.
type Window[T any] struct {
	max  int
	key  func(T) string
	at   func(T) time.Time
	list []T
	seen map[string]struct{}
	high time.Time
}

// NewWindow creates a window holding at most max items
func NewWindow[T any](max int, key func(T) string, at func(T) time.Time) *Window[T] {
	if max <= 0 {
		max = 50
	}
	return &Window[T]{
		max:  max,
		key:  key,
		at:   at,
		seen: make(map[string]struct{}),
	}
}

// Add merges items and returns how many new ones are retained. Items already
// seen, duplicates within the batch and items too old for a full window are
// ignored.
func (w *Window[T]) Add(items ...T) int {
	var fresh []string
	for _, it := range items {
		k := w.key(it)
		if _, dup := w.seen[k]; dup {
			continue
		}
		w.seen[k] = struct{}{}
		w.list = append(w.list, it)
		fresh = append(fresh, k)
		if ts := w.at(it); ts.After(w.high) {
			w.high = ts
		}
	}
	if len(fresh) == 0 {
		return 0
	}

	slices.SortStableFunc(w.list, func(a, b T) int {
		return w.at(b).Compare(w.at(a))
	})
	if len(w.list) > w.max {
		for _, it := range w.list[w.max:] {
			delete(w.seen, w.key(it))
		}
		clear(w.list[w.max:])
		w.list = w.list[:w.max]
	}

	added := 0
	for _, k := range fresh {
		if _, ok := w.seen[k]; ok {
			added++
		}
	}
	return added
}

// Items returns a copy of the retained items, newest first
func (w *Window[T]) Items() []T {
	return slices.Clone(w.list)
}

// Len returns the number of retained items
func (w *Window[T]) Len() int { return len(w.list) }

// Has reports whether key is retained
func (w *Window[T]) Has(key string) bool {
	_, ok := w.seen[key]
	return ok
}

// Remove drops the item with key and reports whether it was retained
func (w *Window[T]) Remove(key string) bool {
	if _, ok := w.seen[key]; !ok {
		return false
	}
	delete(w.seen, key)
	w.list = slices.DeleteFunc(w.list, func(it T) bool { return w.key(it) == key })
	return true
}

// Since is the newest timestamp ever added, the anchor of catch-up fetches. It
// is zero until the first item arrives.
func (w *Window[T]) Since() time.Time { return w.high }
