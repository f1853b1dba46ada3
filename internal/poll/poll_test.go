package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lirancohen/adminpulse/internal/realtime"
)

// fakeSource is a hand-driven connection state
type fakeSource struct {
	mu    sync.Mutex
	state realtime.State
	subs  []chan realtime.State
}

func (f *fakeSource) State() realtime.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) Watch() (<-chan realtime.State, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan realtime.State, 1)
	ch <- f.state
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeSource) set(s realtime.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func runEngine(t *testing.T, e *Engine, src StateSource) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, src) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestPollingFollowsConnectionState(t *testing.T) {
	src := &fakeSource{state: realtime.Disconnected}
	var calls atomic.Int32
	e := New("activity", 20*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	}, zerolog.Nop())

	runEngine(t, e, src)

	require.Eventually(t, e.Active, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	src.set(realtime.Connected)
	require.Eventually(t, func() bool { return !e.Active() }, time.Second, 5*time.Millisecond)

	stopped := calls.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load(), "no fetch while connected")

	src.set(realtime.Disconnected)
	require.Eventually(t, func() bool { return calls.Load() > stopped }, time.Second, 5*time.Millisecond, "immediate fetch on reactivation")
	assert.True(t, e.Active())

	src.set(realtime.Closed)
	require.Eventually(t, func() bool { return !e.Active() }, time.Second, 5*time.Millisecond, "teardown clears the interval")
}

func TestImmediateFetchOnActivation(t *testing.T) {
	src := &fakeSource{state: realtime.Disconnected}
	fetched := make(chan struct{}, 1)
	e := New("workflows", time.Hour, func(context.Context) error {
		fetched <- struct{}{}
		return nil
	}, zerolog.Nop())

	runEngine(t, e, src)

	select {
	case <-fetched:
	case <-time.After(time.Second):
		t.Fatal("no immediate fetch")
	}
}

func TestFailedFetchKeepsPolling(t *testing.T) {
	src := &fakeSource{state: realtime.Disconnected}
	var calls atomic.Int32
	e := New("pricing", 10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return errors.New("502 Bad Gateway")
	}, zerolog.Nop())

	runEngine(t, e, src)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, e.Active())
}

func TestSlowFetchSkipsTicks(t *testing.T) {
	src := &fakeSource{state: realtime.Disconnected}
	release := make(chan struct{})
	var running, maxRunning atomic.Int32
	e := New("security", 5*time.Millisecond, func(ctx context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			old := maxRunning.Load()
			if n <= old || maxRunning.CompareAndSwap(old, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, zerolog.Nop())

	runEngine(t, e, src)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int64(1), e.Fetches(), "ticks are skipped while a fetch is in flight")
	close(release)

	require.Eventually(t, func() bool { return e.Fetches() > 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestStartsInactiveWhenConnected(t *testing.T) {
	src := &fakeSource{state: realtime.Connected}
	e := New("activity", 5*time.Millisecond, func(context.Context) error { return nil }, zerolog.Nop())

	runEngine(t, e, src)
	time.Sleep(30 * time.Millisecond)
	assert.False(t, e.Active())
	assert.Zero(t, e.Fetches())
}
