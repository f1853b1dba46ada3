package feeds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/poll"
	"github.com/lirancohen/adminpulse/internal/realtime"
)

// PricingSource serves GET /admin/pricing/events
type PricingSource interface {
	ListPricingEvents(ctx context.Context, limit int, since time.Time) ([]events.PricingEvent, error)
}

// Pricing tracks price changes and pricing rule edits
type Pricing struct {
	feed
	api   PricingSource
	opts  Options
	allow map[string]bool

	mu  sync.Mutex
	win *Window[events.PricingEvent]
}

// NewPricing creates the feed; opts.Types filters by event type
func NewPricing(conn Conn, api PricingSource, opts Options, log zerolog.Logger) *Pricing {
	opts = opts.withDefaults(30*time.Second, 100)
	p := &Pricing{
		feed:  newFeed("pricing", conn, log),
		api:   api,
		opts:  opts,
		allow: opts.allowList(),
		win: NewWindow(opts.Window,
			events.PricingEvent.Key,
			func(e events.PricingEvent) time.Time { return e.Timestamp.Time },
		),
	}
	p.poller = poll.New(p.name, opts.PollInterval, p.fetch, log)
	return p
}

// Run follows /topic/pricing and polls while disconnected
func (p *Pricing) Run(ctx context.Context) error {
	return p.run(ctx, map[string]realtime.Handler{
		events.TopicPricing: p.onEvent,
	})
}

func (p *Pricing) onEvent(ev realtime.Event) {
	if e, ok := decode[events.PricingEvent](&p.feed, ev); ok {
		p.Add(e)
	}
}

// Add merges events from either path and reports how many were new
func (p *Pricing) Add(evs ...events.PricingEvent) int {
	if p.allow != nil {
		kept := evs[:0:0]
		for _, e := range evs {
			if p.allow[e.Type] {
				kept = append(kept, e)
			}
		}
		evs = kept
	}

	p.mu.Lock()
	n := p.win.Add(evs...)
	p.mu.Unlock()
	if n > 0 {
		p.notify()
	}
	return n
}

func (p *Pricing) fetch(ctx context.Context) error {
	evs, err := p.api.ListPricingEvents(ctx, p.opts.Limit, p.Since())
	if err != nil {
		return fmt.Errorf("failed to fetch pricing events: %w", err)
	}
	valid := evs[:0]
	for _, e := range evs {
		if err := e.Validate(); err != nil {
			p.log.Warn().Err(err).Msg("dropping polled event")
			continue
		}
		valid = append(valid, e)
	}
	p.Add(valid...)
	return nil
}

// Since is the newest event timestamp seen so far
func (p *Pricing) Since() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.win.Since()
}

// Events returns the retained events, newest first
func (p *Pricing) Events() []events.PricingEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.win.Items()
}
