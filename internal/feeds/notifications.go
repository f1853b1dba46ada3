package feeds

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/realtime"
)

// Notifications follows the signed-in user's queue. There is no REST endpoint
// behind it, so nothing arrives while disconnected.
type Notifications struct {
	feed
	allow map[string]bool

	mu   sync.Mutex
	win  *Window[events.NotificationMessage]
	read map[string]bool
}

// NewNotifications creates the feed; opts.Types filters by notification type
func NewNotifications(conn Conn, opts Options, log zerolog.Logger) *Notifications {
	opts = opts.withDefaults(time.Minute, 50)
	return &Notifications{
		feed:  newFeed("notifications", conn, log),
		allow: opts.allowList(),
		win: NewWindow(opts.Window,
			func(n events.NotificationMessage) string { return n.ID },
			func(n events.NotificationMessage) time.Time { return n.Timestamp.Time },
		),
		read: make(map[string]bool),
	}
}

// Run follows /user/queue/notifications
func (n *Notifications) Run(ctx context.Context) error {
	return n.run(ctx, map[string]realtime.Handler{
		events.TopicNotifications: n.onEvent,
	})
}

func (n *Notifications) onEvent(ev realtime.Event) {
	if msg, ok := decode[events.NotificationMessage](&n.feed, ev); ok {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = events.NewTime(time.Now())
		}
		n.Add(msg)
	}
}

// Add merges notifications and reports how many were new
func (n *Notifications) Add(msgs ...events.NotificationMessage) int {
	if n.allow != nil {
		kept := msgs[:0:0]
		for _, m := range msgs {
			if n.allow[m.Type] {
				kept = append(kept, m)
			}
		}
		msgs = kept
	}

	n.mu.Lock()
	added := n.win.Add(msgs...)
	for id := range n.read {
		if !n.win.Has(id) {
			delete(n.read, id)
		}
	}
	n.mu.Unlock()
	if added > 0 {
		n.notify()
	}
	return added
}

// Items returns the retained notifications, newest first, with local read marks
// applied
func (n *Notifications) Items() []events.NotificationMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	items := n.win.Items()
	for i := range items {
		if n.read[items[i].ID] {
			items[i].Read = true
		}
	}
	return items
}

// Unread counts the retained notifications not yet read
func (n *Notifications) Unread() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, m := range n.win.list {
		if !m.Read && !n.read[m.ID] {
			count++
		}
	}
	return count
}

// MarkRead marks one notification read and reports whether it is retained
func (n *Notifications) MarkRead(id string) bool {
	n.mu.Lock()
	ok := n.win.Has(id)
	if ok {
		n.read[id] = true
	}
	n.mu.Unlock()
	if ok {
		n.notify()
	}
	return ok
}

// MarkAllRead marks every retained notification read
func (n *Notifications) MarkAllRead() {
	n.mu.Lock()
	for _, m := range n.win.list {
		n.read[m.ID] = true
	}
	n.mu.Unlock()
	n.notify()
}
