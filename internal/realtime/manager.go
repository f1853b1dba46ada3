// Package realtime maintains the shared STOMP-over-SockJS connection to the admin
// backend and routes pushed frames to topic subscribers
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/stomp"
)

var (
	ErrEmptyToken            = errors.New("token endpoint returned no token")
	ErrSubscriptionCancelled = errors.New("subscription cancelled before the connection was ready")
	ErrBrokerError           = errors.New("broker sent ERROR frame")
	ErrTransportClosed       = errors.New("transport closed by server")
)

// Defaults
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultIdleTimeout    = 60 * time.Second
	DefaultPath           = "/ws"
)

// TokenSource issues the short-lived token that authenticates the websocket
type TokenSource interface {
	WSToken(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) WSToken(ctx context.Context) (string, error) { return f(ctx) }

// Config configures a Manager
type Config struct {
	// URL is the admin API base URL, e.g. https://api.shop.test
	URL string
	// Path of the SockJS endpoint below URL
	Path           string
	ReconnectDelay time.Duration
	ConnectTimeout time.Duration
	// IdleTimeout bounds the silence between two transport frames
	IdleTimeout time.Duration
	Logger      zerolog.Logger
	Dialer      *websocket.Dialer
}

// Manager owns the single logical connection. Create one per process and hand it
// to every feed.
type Manager struct {
	cfg      Config
	endpoint string
	host     string
	tokens   TokenSource
	dialer   *websocket.Dialer
	log      zerolog.Logger

	mu      sync.Mutex
	state   State
	active  bool
	epoch   uint64
	cancel  context.CancelFunc
	sess    *session
	topics  map[string]*topic
	wire    map[string]*topic
	pending []*Pending
	nextID  uint64

	watchers  map[uint64]chan State
	nextWatch uint64
}

// NewManager creates a disconnected manager
func NewManager(cfg Config, tokens TokenSource) (*Manager, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}

	base, err := url.Parse(cfg.URL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid realtime base URL %q", cfg.URL)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}
	dialer.HandshakeTimeout = cfg.ConnectTimeout

	return &Manager{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.URL, "/") + "/" + strings.TrimLeft(cfg.Path, "/"),
		host:     base.Hostname(),
		tokens:   tokens,
		dialer:   dialer,
		log:      cfg.Logger.With().Str("component", "realtime").Logger(),
		state:    Disconnected,
		topics:   make(map[string]*topic),
		wire:     make(map[string]*topic),
		watchers: make(map[uint64]chan State),
	}, nil
}

// Connect fetches a token and starts the connection loop in the background. It
// is a no-op while a connection loop is already running. A failed token fetch is
// logged and leaves the manager disconnected; ctx only bounds that first fetch.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.epoch++
	epoch := m.epoch
	m.setStateLocked(Disconnected)
	m.mu.Unlock()

	token, err := m.fetchToken(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to obtain websocket token, staying disconnected")
		m.mu.Lock()
		if m.epoch == epoch {
			m.active = false
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		// Disconnect ran while the token was in flight
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	go m.run(runCtx, epoch, token)
}

// Disconnect tears the connection down: queued subscriptions resolve to nil,
// active topics are unsubscribed, the transport is closed and every registry map
// is cleared. Safe to call repeatedly, before Connect and from a handler: it
// does not wait for the connection loop to exit, and a loop from an earlier
// epoch can neither install a session nor deliver another frame.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.epoch++
	m.active = false

	for _, p := range m.pending {
		p.resolveLocked(nil)
	}
	m.pending = nil

	sess := m.sess
	m.sess = nil
	var wireIDs []string
	for id := range m.wire {
		wireIDs = append(wireIDs, id)
	}
	m.topics = make(map[string]*topic)
	m.wire = make(map[string]*topic)

	cancel := m.cancel
	m.cancel = nil
	m.setStateLocked(Closed)
	m.mu.Unlock()

	if sess != nil {
		for _, id := range wireIDs {
			if err := sess.send(stomp.Unsubscribe(id)); err != nil {
				m.log.Debug().Err(err).Str("subscription", id).Msg("unsubscribe during disconnect failed")
			}
		}
		if err := sess.send(stomp.Disconnect(m.newID("disconnect"))); err != nil {
			m.log.Debug().Err(err).Msg("disconnect frame not sent")
		}
		sess.close()
	}
	if cancel != nil {
		cancel()
	}
	m.log.Info().Msg("disconnected")
}

func (m *Manager) fetchToken(ctx context.Context) (string, error) {
	token, err := m.tokens.WSToken(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch websocket token: %w", err)
	}
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// run keeps a session open until ctx is cancelled, retrying at a constant delay.
// Every attempt after the first starts from a fresh token.
func (m *Manager) run(ctx context.Context, epoch uint64, token string) {
	first := true
	operation := func() (struct{}, error) {
		if !first {
			fresh, err := m.fetchToken(ctx)
			if err != nil {
				return struct{}{}, err
			}
			token = fresh
		}
		first = false

		err := m.serveOnce(ctx, epoch, token)
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.ReconnectDelay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.log.Warn().Err(err).Dur("retry_in", next).Msg("realtime connection lost")
		}),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		m.log.Error().Err(err).Msg("realtime connection loop stopped")
	}
}

// serveOnce opens one transport session and serves it until it drops
func (m *Manager) serveOnce(ctx context.Context, epoch uint64, token string) error {
	s, err := m.open(ctx, token)
	if err != nil {
		return err
	}
	defer s.close()
	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	if !m.attach(s, epoch) {
		return context.Canceled
	}
	m.log.Info().Str("endpoint", m.endpoint).Msg("connected")

	err = m.serve(s)
	m.detach(s)
	return err
}

// attach installs a freshly connected session: topics that outlived the previous
// session are subscribed again, the pending queue is drained in order and only
// then is Connected published. Sessions opened by a loop from an earlier epoch
// are refused.
func (m *Manager) attach(s *session, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.epoch != epoch {
		return false
	}

	m.sess = s
	m.wire = make(map[string]*topic)
	for _, name := range sortedKeys(m.topics) {
		m.subscribeWireLocked(m.topics[name])
	}

	pending := m.pending
	m.pending = nil
	for _, p := range pending {
		p.resolveLocked(m.attachLocked(p.topic, p.handler))
	}

	m.setStateLocked(Connected)
	return true
}

// detach forgets a session that ended without an explicit Disconnect
func (m *Manager) detach(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != s {
		return
	}
	m.sess = nil
	m.wire = make(map[string]*topic)
	for _, t := range m.topics {
		t.wireID = ""
	}
	if m.state == Connected {
		m.setStateLocked(Disconnected)
	}
}

func (m *Manager) newID(prefix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newIDLocked(prefix)
}

func (m *Manager) newIDLocked(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}
