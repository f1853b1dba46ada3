package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/igm/sockjs-go/v3/sockjs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lirancohen/adminpulse/internal/broker"
	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/realtime"
)

const waitFor = 5 * time.Second

// fakeConn reports a fixed state and never attaches subscriptions
type fakeConn struct {
	state realtime.State
}

func (f *fakeConn) State() realtime.State { return f.state }

func (f *fakeConn) Watch() (<-chan realtime.State, func()) {
	ch := make(chan realtime.State, 1)
	ch <- f.state
	return ch, func() {}
}

func (f *fakeConn) SubscribeAsync(string, realtime.Handler) *realtime.Pending { return nil }

func TestConnectionStatusWithoutEngine(t *testing.T) {
	conn := &fakeConn{state: realtime.Connected}
	a := NewActivity(conn, &fakeActivity{}, Options{}, zerolog.Nop())
	assert.Equal(t, StatusLive, a.ConnectionStatus())

	conn.state = realtime.Disconnected
	assert.Equal(t, StatusDisconnected, a.ConnectionStatus(), "poller not running yet")
}

// startBroker serves a broker over SockJS and returns a manager pointed at it
func startBroker(t *testing.T) (*broker.Hub, *realtime.Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := broker.NewHub(zerolog.Nop(), 64)
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.NewHandler("/ws", sockjs.DefaultOptions, func(*http.Request) string {
		return "ana@shop.test"
	}))
	t.Cleanup(srv.Close)

	m, err := realtime.NewManager(realtime.Config{
		URL:            srv.URL,
		ReconnectDelay: 50 * time.Millisecond,
		Logger:         zerolog.Nop(),
	}, realtime.TokenFunc(func(context.Context) (string, error) { return "dev", nil }))
	require.NoError(t, err)
	t.Cleanup(m.Disconnect)
	return hub, m
}

func runFeed(t *testing.T, run func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func TestActivityFollowsConnection(t *testing.T) {
	hub, m := startBroker(t)
	api := &fakeActivity{pages: [][]events.AuditLogEvent{{audit(1, 1)}}}
	a := NewActivity(m, api, Options{PollInterval: time.Hour}, zerolog.Nop())
	runFeed(t, a.Run)

	// before Connect the manager is disconnected, so the feed polls once
	require.Eventually(t, func() bool { return len(a.Entries()) == 1 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, StatusPolling, a.ConnectionStatus())

	m.Connect(context.Background())
	require.Eventually(t, func() bool { return hub.Subscriptions(events.TopicAuditLog) == 1 }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return a.ConnectionStatus() == StatusLive }, waitFor, 10*time.Millisecond)

	hub.Publish(broker.Message{
		Destination: events.TopicAuditLog,
		Body:        []byte(`{"id":2,"action":"CREATE","entityType":"ORDER","timestamp":"2026-03-01T12:02:00Z"}`),
	})
	// entry 1 again over the socket is deduplicated
	hub.Publish(broker.Message{
		Destination: events.TopicAuditLog,
		Body:        []byte(`{"id":1,"action":"UPDATE","entityType":"PRODUCT","timestamp":"2026-03-01T12:01:00Z"}`),
	})
	require.Eventually(t, func() bool { return len(a.Entries()) == 2 }, waitFor, 10*time.Millisecond)

	m.Disconnect()
	require.Eventually(t, func() bool { return a.ConnectionStatus() == StatusDisconnected }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return hub.Subscriptions(events.TopicAuditLog) == 0 }, waitFor, 10*time.Millisecond)

	// the binding queues its topic again and returns with the next Connect
	m.Connect(context.Background())
	require.Eventually(t, func() bool { return hub.Subscriptions(events.TopicAuditLog) == 1 }, waitFor, 10*time.Millisecond)
	hub.Publish(broker.Message{
		Destination: events.TopicAuditLog,
		Body:        []byte(`{"id":3,"action":"DELETE","entityType":"COUPON","timestamp":"2026-03-01T12:03:00Z"}`),
	})
	require.Eventually(t, func() bool { return len(a.Entries()) == 3 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, int64(3), a.Entries()[0].ID)
}
