package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/igm/sockjs-go/v3/sockjs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lirancohen/adminpulse/internal/broker"
)

const waitFor = 5 * time.Second

// backend is a broker behind a token check, recording every session so tests can
// cut the transport from the server side
type backend struct {
	hub    *broker.Hub
	srv    *httptest.Server
	issued atomic.Int32
	deny   atomic.Bool

	mu       sync.Mutex
	sessions []sockjs.Session
	tokens   []string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := &backend{hub: broker.NewHub(zerolog.Nop(), 64)}
	go b.hub.Run(ctx)

	opts := sockjs.DefaultOptions
	opts.HeartbeatDelay = 200 * time.Millisecond
	ws := sockjs.NewHandler("/ws", opts, func(sess sockjs.Session) {
		b.mu.Lock()
		b.sessions = append(b.sessions, sess)
		b.mu.Unlock()
		b.hub.ServeSession(sess, func(*http.Request) string { return "ana@shop.test" })
	})

	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if !strings.HasPrefix(token, "tok-") {
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}
		b.mu.Lock()
		b.tokens = append(b.tokens, token)
		b.mu.Unlock()
		ws.ServeHTTP(w, r)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) WSToken(ctx context.Context) (string, error) {
	if b.deny.Load() {
		return "", errors.New("401 Unauthorized")
	}
	return fmt.Sprintf("tok-%d", b.issued.Add(1)), nil
}

func (b *backend) usedTokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tokens...)
}

// kick closes every open session from the server side
func (b *backend) kick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sessions {
		s.Close(3000, "Go away!")
	}
	b.sessions = nil
}

func (b *backend) publish(dest, body string) {
	b.hub.Publish(broker.Message{Destination: dest, Body: []byte(body)})
}

func newTestManager(t *testing.T, b *backend) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		URL:            b.srv.URL,
		ReconnectDelay: 50 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
		IdleTimeout:    2 * time.Second,
		Logger:         zerolog.Nop(),
	}, b)
	require.NoError(t, err)
	t.Cleanup(m.Disconnect)
	return m
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	ch, stop := m.Watch()
	defer stop()
	timeout := time.After(waitFor)
	for {
		select {
		case s := <-ch:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("state %s not reached, still %s", want, m.State())
		}
	}
}

// collector records events delivered to a handler
type collector struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 64)}
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		c.mu.Lock()
		got := len(c.events)
		c.mu.Unlock()
		if got >= n {
			c.mu.Lock()
			defer c.mu.Unlock()
			return append([]Event(nil), c.events...)
		}
		select {
		case <-c.notify:
		case <-deadline:
			t.Fatalf("expected %d events, got %d", n, got)
		}
	}
}

func TestSubscribeBeforeConnect(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)
	events := newCollector()

	sub := m.Subscribe("/topic/pricing", events.handle)
	assert.Nil(t, sub, "subscribe while disconnected returns nil")
	assert.Equal(t, 1, m.Queued())

	m.Connect(context.Background())
	waitState(t, m, Connected)

	assert.Equal(t, 0, m.Queued())
	assert.Equal(t, []string{"/topic/pricing"}, m.Topics())
	require.Eventually(t, func() bool { return b.hub.Subscriptions("/topic/pricing") == 1 }, waitFor, 10*time.Millisecond)

	b.publish("/topic/pricing", `{"type":"PRICE_UPDATED","productId":"p1"}`)

	got := events.wait(t, 1)
	assert.Equal(t, "/topic/pricing", got[0].Topic)
	assert.Equal(t, map[string]any{"type": "PRICE_UPDATED", "productId": "p1"}, got[0].Payload)
	assert.NotEmpty(t, got[0].MessageID)
}

func TestQueueFlushFansOut(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)

	first, second, audit := newCollector(), newCollector(), newCollector()
	p1 := m.SubscribeAsync("/topic/workflows", first.handle)
	p2 := m.SubscribeAsync("/topic/workflows", second.handle)
	p3 := m.SubscribeAsync("/topic/auditlog", audit.handle)

	m.Connect(context.Background())
	waitState(t, m, Connected)

	for _, p := range []*Pending{p1, p2, p3} {
		select {
		case <-p.Done():
		default:
			t.Fatal("pending request not resolved on connect")
		}
		require.NotNil(t, p.Subscription())
		assert.True(t, p.Live())
	}

	assert.Equal(t, []string{"/topic/auditlog", "/topic/workflows"}, m.Topics())
	require.Eventually(t, func() bool {
		return b.hub.Subscriptions("/topic/workflows") == 1 && b.hub.Subscriptions("/topic/auditlog") == 1
	}, waitFor, 10*time.Millisecond, "one wire subscription per topic")

	b.publish("/topic/workflows", `{"executionId":"E1","eventType":"WORKFLOW_STARTED"}`)
	first.wait(t, 1)
	second.wait(t, 1)

	// dropping one handler keeps the wire subscription for the other
	m.Unsubscribe(p1.Subscription())
	assert.False(t, p1.Live())
	assert.Equal(t, []string{"/topic/auditlog", "/topic/workflows"}, m.Topics())

	b.publish("/topic/workflows", `{"executionId":"E1","eventType":"WORKFLOW_COMPLETED"}`)
	second.wait(t, 2)
	first.mu.Lock()
	assert.Len(t, first.events, 1)
	first.mu.Unlock()
}

func TestSubscribeWhileConnected(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)
	m.Connect(context.Background())
	waitState(t, m, Connected)

	events := newCollector()
	sub := m.Subscribe("/topic/security-events", events.handle)
	require.NotNil(t, sub)
	assert.True(t, sub.Active())
	assert.Equal(t, "/topic/security-events", sub.Topic())

	require.Eventually(t, func() bool { return b.hub.Subscriptions("/topic/security-events") == 1 }, waitFor, 10*time.Millisecond)
	b.publish("/topic/security-events", "plain text alert")

	got := events.wait(t, 1)
	assert.Equal(t, "plain text alert", got[0].Payload)
	assert.False(t, got[0].IsJSON())
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)
	m.Connect(context.Background())
	waitState(t, m, Connected)

	sub, err := m.SubscribeWait(context.Background(), "/topic/sessions", func(Event) {})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.hub.Subscriptions("/topic/sessions") == 1 }, waitFor, 10*time.Millisecond)

	assert.NotPanics(t, func() {
		m.Unsubscribe(sub)
		m.Unsubscribe(sub)
		m.Unsubscribe(nil)
	})
	assert.False(t, sub.Active())
	assert.Empty(t, m.Topics())
	require.Eventually(t, func() bool { return b.hub.Subscriptions("/topic/sessions") == 0 }, waitFor, 10*time.Millisecond)

	stale, err := m.SubscribeWait(context.Background(), "/topic/sessions", func(Event) {})
	require.NoError(t, err)
	m.Disconnect()
	assert.NotPanics(t, func() { m.Unsubscribe(stale) }, "handle from a dead connection")
	assert.False(t, stale.Active())
}

func TestDisconnectCancelsPending(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)

	p1 := m.SubscribeAsync("/topic/pricing", func(Event) {})
	p2 := m.SubscribeAsync("/topic/auditlog", func(Event) {})

	waitErr := make(chan error, 1)
	go func() {
		_, err := m.SubscribeWait(context.Background(), "/topic/workflows", func(Event) {})
		waitErr <- err
	}()
	require.Eventually(t, func() bool { return m.Queued() == 3 }, waitFor, 10*time.Millisecond)

	m.Disconnect()

	for _, p := range []*Pending{p1, p2} {
		select {
		case <-p.Done():
		case <-time.After(waitFor):
			t.Fatal("pending request not resolved by disconnect")
		}
		assert.Nil(t, p.Subscription())
		assert.False(t, p.Live())
	}
	assert.ErrorIs(t, <-waitErr, ErrSubscriptionCancelled)
	assert.Equal(t, 0, m.Queued())
	assert.False(t, m.IsConnected())
	assert.Equal(t, Closed, m.State())

	assert.NotPanics(t, m.Disconnect, "second disconnect")
}

func TestDisconnectTearsDownLiveConnection(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)

	sub := m.Subscribe("/topic/pricing", func(Event) {})
	assert.Nil(t, sub)
	m.Connect(context.Background())
	waitState(t, m, Connected)
	require.Eventually(t, func() bool { return b.hub.Subscriptions("/topic/pricing") == 1 }, waitFor, 10*time.Millisecond)

	m.Disconnect()
	assert.Equal(t, Closed, m.State())
	assert.Empty(t, m.Topics())
	require.Eventually(t, func() bool { return b.hub.Clients() == 0 }, waitFor, 10*time.Millisecond)

	// a later Connect starts over
	m.Connect(context.Background())
	waitState(t, m, Connected)
	assert.Empty(t, m.Topics())
}

func TestTokenFailureStaysDisconnected(t *testing.T) {
	b := newBackend(t)
	b.deny.Store(true)
	m := newTestManager(t, b)

	m.Connect(context.Background())
	assert.Equal(t, Disconnected, m.State())
	assert.Empty(t, b.usedTokens(), "no transport without a token")

	empty, err := NewManager(Config{URL: b.srv.URL, Logger: zerolog.Nop()}, TokenFunc(func(context.Context) (string, error) {
		return "", nil
	}))
	require.NoError(t, err)
	empty.Connect(context.Background())
	assert.Equal(t, Disconnected, empty.State())

	// the manager is inactive again, so the next Connect retries
	b.deny.Store(false)
	m.Connect(context.Background())
	waitState(t, m, Connected)
}

func TestConnectIsNoOpWhileActive(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)

	m.Connect(context.Background())
	m.Connect(context.Background())
	waitState(t, m, Connected)
	m.Connect(context.Background())

	assert.Equal(t, int32(1), b.issued.Load())
	assert.Equal(t, 1, b.hub.Clients())
}

func TestReconnectUsesFreshTokenAndResubscribes(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)
	events := newCollector()

	m.Connect(context.Background())
	waitState(t, m, Connected)
	sub := m.Subscribe("/topic/auditlog", events.handle)
	require.NotNil(t, sub)
	require.Eventually(t, func() bool { return b.hub.Subscriptions("/topic/auditlog") == 1 }, waitFor, 10*time.Millisecond)

	states, stop := m.Watch()
	defer stop()
	<-states // current

	b.kick()

	select {
	case s := <-states:
		assert.Equal(t, Disconnected, s)
	case <-time.After(waitFor):
		t.Fatal("transport loss not reported")
	}
	waitState(t, m, Connected)

	assert.Equal(t, []string{"tok-1", "tok-2"}, b.usedTokens())
	assert.True(t, sub.Active(), "handles survive a transport drop")
	require.Eventually(t, func() bool { return b.hub.Subscriptions("/topic/auditlog") == 1 }, waitFor, 10*time.Millisecond)

	b.publish("/topic/auditlog", `{"id":7}`)
	got := events.wait(t, 1)
	assert.Equal(t, map[string]any{"id": float64(7)}, got[0].Payload)
}

func TestHandlerPanicIsContained(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)
	m.Connect(context.Background())
	waitState(t, m, Connected)

	good := newCollector()
	m.Subscribe("/topic/pricing", func(Event) { panic("boom") })
	m.Subscribe("/topic/pricing", good.handle)
	require.Eventually(t, func() bool { return b.hub.Subscriptions("/topic/pricing") == 1 }, waitFor, 10*time.Millisecond)

	b.publish("/topic/pricing", `{"n":1}`)
	b.publish("/topic/pricing", `{"n":2}`)
	good.wait(t, 2)
	assert.True(t, m.IsConnected())
}

func TestDisconnectFromHandler(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)
	m.Connect(context.Background())
	waitState(t, m, Connected)

	returned := make(chan struct{})
	m.Subscribe("/topic/pricing", func(Event) {
		m.Disconnect()
		close(returned)
	})
	require.Eventually(t, func() bool { return b.hub.Subscriptions("/topic/pricing") == 1 }, waitFor, 10*time.Millisecond)

	b.publish("/topic/pricing", `{"n":1}`)
	select {
	case <-returned:
	case <-time.After(waitFor):
		t.Fatalf("Disconnect inside a handler did not return, state %s", m.State())
	}
	assert.Equal(t, Closed, m.State())
	require.Eventually(t, func() bool { return b.hub.Clients() == 0 }, waitFor, 10*time.Millisecond)

	// the old loop must not take over the next connection
	events := newCollector()
	m.Connect(context.Background())
	waitState(t, m, Connected)
	require.NotNil(t, m.Subscribe("/topic/auditlog", events.handle))
	require.Eventually(t, func() bool { return b.hub.Subscriptions("/topic/auditlog") == 1 }, waitFor, 10*time.Millisecond)
	b.publish("/topic/auditlog", `{"id":1}`)
	events.wait(t, 1)
	assert.Equal(t, 1, b.hub.Clients())
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		payload any
		isJSON  bool
	}{
		{"object", `{"id":7}`, map[string]any{"id": float64(7)}, true},
		{"json string", `"hello"`, "hello", true},
		{"plain text", `hello`, "hello", false},
		{"empty", ``, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Normalize("/topic/x", []byte(tt.body), "m-1")
			assert.Equal(t, tt.payload, ev.Payload)
			assert.Equal(t, tt.isJSON, ev.IsJSON())
			assert.Equal(t, "m-1", ev.MessageID)
		})
	}
}

func TestWatch(t *testing.T) {
	b := newBackend(t)
	m := newTestManager(t, b)

	ch, stop := m.Watch()
	assert.Equal(t, Disconnected, <-ch, "current state first")

	m.Disconnect()
	assert.Equal(t, Closed, <-ch)

	stop()
	stop()
	_, open := <-ch
	assert.False(t, open)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{URL: "http://localhost"}, nil)
	assert.Error(t, err)
	_, err = NewManager(Config{URL: "not a url"}, TokenFunc(func(context.Context) (string, error) { return "", nil }))
	assert.Error(t, err)
}
