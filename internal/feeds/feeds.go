// Package feeds builds the dashboard's derived state from realtime topics, falling
// back to HTTP polling while the socket is down
package feeds

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/poll"
	"github.com/lirancohen/adminpulse/internal/realtime"
)

// Status is the connection indicator shown next to a feed
type Status string

const (
	StatusLive         Status = "live"
	StatusPolling      Status = "polling"
	StatusDisconnected Status = "disconnected"
)

// Conn is the part of realtime.Manager the feeds use
type Conn interface {
	State() realtime.State
	Watch() (<-chan realtime.State, func())
	SubscribeAsync(topic string, h realtime.Handler) *realtime.Pending
}

// Options are shared by every feed
type Options struct {
	PollInterval time.Duration
	Window       int
	// Limit bounds a full fetch when nothing has been seen yet
	Limit int
	// Types is the allow-list of event or entity types; empty allows all
	Types []string
}

func (o Options) withDefaults(interval time.Duration, window int) Options {
	if o.PollInterval <= 0 {
		o.PollInterval = interval
	}
	if o.Window <= 0 {
		o.Window = window
	}
	if o.Limit <= 0 {
		o.Limit = o.Window
	}
	return o
}

func (o Options) allowList() map[string]bool {
	if len(o.Types) == 0 {
		return nil
	}
	allow := make(map[string]bool, len(o.Types))
	for _, t := range o.Types {
		allow[t] = true
	}
	return allow
}

// feed holds what every feed shares: the connection, the poller and the
// coalesced update signal
type feed struct {
	name    string
	conn    Conn
	log     zerolog.Logger
	poller  *poll.Engine
	updates chan struct{}
}

func newFeed(name string, conn Conn, log zerolog.Logger) feed {
	return feed{
		name:    name,
		conn:    conn,
		log:     log.With().Str("component", "feed").Str("feed", name).Logger(),
		updates: make(chan struct{}, 1),
	}
}

// Name identifies the feed in logs and output
func (f *feed) Name() string { return f.name }

// Updates signals that the feed's state changed. Signals coalesce, so readers
// should take a fresh snapshot on each receive.
func (f *feed) Updates() <-chan struct{} { return f.updates }

// ConnectionStatus reports where the feed's data currently comes from
func (f *feed) ConnectionStatus() Status {
	if f.conn.State() == realtime.Connected {
		return StatusLive
	}
	if f.poller != nil && f.poller.Active() {
		return StatusPolling
	}
	return StatusDisconnected
}

func (f *feed) notify() {
	select {
	case f.updates <- struct{}{}:
	default:
	}
}

// run binds every topic handler and drives the poller until ctx is done
func (f *feed) run(ctx context.Context, handlers map[string]realtime.Handler) error {
	g, ctx := errgroup.WithContext(ctx)
	for topic, h := range handlers {
		g.Go(func() error {
			bind(ctx, f.conn, topic, h, f.log)
			return nil
		})
	}
	if f.poller != nil {
		g.Go(func() error {
			return f.poller.Run(ctx, f.conn)
		})
	}
	return g.Wait()
}

// decode validates a pushed event at the feed boundary
func decode[T events.Message](f *feed, ev realtime.Event) (T, bool) {
	var zero T
	msg, err := events.Decode(ev.Topic, ev.Raw)
	if err != nil {
		f.log.Warn().Err(err).Str("topic", ev.Topic).Msg("dropping event")
		return zero, false
	}
	typed, ok := msg.(T)
	if !ok {
		f.log.Warn().Str("topic", ev.Topic).Msgf("unexpected payload %T", msg)
		return zero, false
	}
	return typed, true
}
