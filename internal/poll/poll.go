// Package poll runs a feed's HTTP catch-up loop while the realtime connection is
// down
package poll

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/realtime"
)

// StateSource publishes the connection state that switches polling on and off
type StateSource interface {
	State() realtime.State
	Watch() (<-chan realtime.State, func())
}

// FetchFunc performs one catch-up request and merges its result
type FetchFunc func(ctx context.Context) error

// Engine polls at a fixed interval while its source reports Disconnected. It stops
// on Connected, and on Closed since a closed connection is torn down.
type Engine struct {
	name     string
	interval time.Duration
	fetch    FetchFunc
	log      zerolog.Logger

	active   atomic.Bool
	inflight atomic.Bool
	fetches  atomic.Int64
	wg       sync.WaitGroup
}

// New creates an engine; call Run to drive it
func New(name string, interval time.Duration, fetch FetchFunc, log zerolog.Logger) *Engine {
	return &Engine{
		name:     name,
		interval: interval,
		fetch:    fetch,
		log:      log.With().Str("component", "poll").Str("feed", name).Logger(),
	}
}

// Active reports whether the polling interval is running
func (e *Engine) Active() bool { return e.active.Load() }

// Fetches returns how many fetches were started
func (e *Engine) Fetches() int64 { return e.fetches.Load() }

// Run follows src until ctx is done. Fetches already in flight when polling stops
// are allowed to finish and their results are merged.
func (e *Engine) Run(ctx context.Context, src StateSource) error {
	states, stop := src.Watch()
	defer stop()
	defer e.wg.Wait()

	var ticker *time.Ticker
	var tick <-chan time.Time

	start := func() {
		if ticker != nil {
			return
		}
		e.active.Store(true)
		e.log.Info().Dur("interval", e.interval).Msg("realtime unavailable, polling")
		e.launch(ctx)
		ticker = time.NewTicker(e.interval)
		tick = ticker.C
	}
	halt := func() {
		if ticker == nil {
			return
		}
		ticker.Stop()
		ticker, tick = nil, nil
		e.active.Store(false)
		e.log.Info().Msg("polling stopped")
	}
	defer halt()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-states:
			if !ok {
				return nil
			}
			if s == realtime.Disconnected {
				start()
			} else {
				halt()
			}
		case <-tick:
			e.launch(ctx)
		}
	}
}

// launch starts a fetch unless the previous one is still running
func (e *Engine) launch(ctx context.Context) {
	if !e.inflight.CompareAndSwap(false, true) {
		e.log.Debug().Msg("previous fetch still running, skipping tick")
		return
	}
	e.fetches.Add(1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.inflight.Store(false)
		if err := e.fetch(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn().Err(err).Msg("poll fetch failed, retrying next tick")
		}
	}()
}
