package feeds

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/poll"
	"github.com/lirancohen/adminpulse/internal/realtime"
)

// ActivitySource serves GET /admin/activity
type ActivitySource interface {
	ListActivity(ctx context.Context, limit int, since time.Time) ([]events.AuditLogEvent, error)
}

// Activity is the admin audit log feed
type Activity struct {
	feed
	api   ActivitySource
	opts  Options
	allow map[string]bool

	mu  sync.Mutex
	win *Window[events.AuditLogEvent]
}

// NewActivity creates the feed; opts.Types filters by entity type
func NewActivity(conn Conn, api ActivitySource, opts Options, log zerolog.Logger) *Activity {
	opts = opts.withDefaults(120*time.Second, 50)
	a := &Activity{
		feed:  newFeed("activity", conn, log),
		api:   api,
		opts:  opts,
		allow: opts.allowList(),
		win: NewWindow(opts.Window,
			func(e events.AuditLogEvent) string { return strconv.FormatInt(e.ID, 10) },
			func(e events.AuditLogEvent) time.Time { return e.Timestamp.Time },
		),
	}
	a.poller = poll.New(a.name, opts.PollInterval, a.fetch, log)
	return a
}

// Run follows /topic/auditlog and polls while disconnected
func (a *Activity) Run(ctx context.Context) error {
	return a.run(ctx, map[string]realtime.Handler{
		events.TopicAuditLog: a.onEvent,
	})
}

func (a *Activity) onEvent(ev realtime.Event) {
	if e, ok := decode[events.AuditLogEvent](&a.feed, ev); ok {
		a.Add(e)
	}
}

// Add merges entries from either path and reports how many were new
func (a *Activity) Add(entries ...events.AuditLogEvent) int {
	if a.allow != nil {
		kept := entries[:0:0]
		for _, e := range entries {
			if a.allow[e.EntityType] {
				kept = append(kept, e)
			}
		}
		entries = kept
	}

	a.mu.Lock()
	n := a.win.Add(entries...)
	a.mu.Unlock()
	if n > 0 {
		a.notify()
	}
	return n
}

func (a *Activity) fetch(ctx context.Context) error {
	entries, err := a.api.ListActivity(ctx, a.opts.Limit, a.Since())
	if err != nil {
		return fmt.Errorf("failed to fetch activity: %w", err)
	}
	valid := entries[:0]
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			a.log.Warn().Err(err).Msg("dropping polled entry")
			continue
		}
		valid = append(valid, e)
	}
	a.Add(valid...)
	return nil
}

// Since is the newest entry timestamp seen so far
func (a *Activity) Since() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.win.Since()
}

// Entries returns the retained entries, newest first
func (a *Activity) Entries() []events.AuditLogEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.win.Items()
}
