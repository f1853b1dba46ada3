package realtime

import (
	"context"
	"maps"
	"slices"

	"github.com/lirancohen/adminpulse/internal/stomp"
)

// Handler receives every event delivered on a topic
type Handler func(Event)

// topic is the registry entry for one destination: one wire subscription shared by
// every handler, delivered in subscription order
type topic struct {
	name   string
	wireID string
	subs   []*Subscription
}

// Subscription is the handle returned for one handler on one topic
type Subscription struct {
	m       *Manager
	topic   string
	handler Handler
}

// Topic returns the destination the handle listens on
func (s *Subscription) Topic() string { return s.topic }

// Active reports whether the handle still receives events. Handles die on
// Unsubscribe and on Disconnect; they survive a transport drop.
func (s *Subscription) Active() bool {
	if s == nil {
		return false
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.m.activeLocked(s)
}

// Pending is a subscription request queued until the connection is ready
type Pending struct {
	m       *Manager
	topic   string
	handler Handler

	done     chan struct{}
	resolved bool
	sub      *Subscription
}

// Done is closed once the request is attached or cancelled
func (p *Pending) Done() <-chan struct{} { return p.done }

// Subscription returns the attached handle, or nil while queued or after
// cancellation
func (p *Pending) Subscription() *Subscription {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.sub
}

// Live reports whether the request is still queued or attached to an active handle
func (p *Pending) Live() bool {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if !p.resolved {
		return true
	}
	return p.sub != nil && p.m.activeLocked(p.sub)
}

// Cancel withdraws a queued request or unsubscribes the attached handle
func (p *Pending) Cancel() {
	p.m.mu.Lock()
	if !p.resolved {
		p.m.pending = slices.DeleteFunc(p.m.pending, func(q *Pending) bool { return q == p })
		p.resolveLocked(nil)
		p.m.mu.Unlock()
		return
	}
	sub := p.sub
	p.m.mu.Unlock()
	p.m.Unsubscribe(sub)
}

func (p *Pending) resolveLocked(sub *Subscription) {
	if p.resolved {
		return
	}
	p.resolved = true
	p.sub = sub
	close(p.done)
}

// Subscribe attaches h to topic. While connected the handle is returned at once;
// otherwise the request is queued, nil is returned, and the handler is attached
// when the connection comes up. Callers that need the handle should use
// SubscribeAsync or SubscribeWait.
func (m *Manager) Subscribe(topic string, h Handler) *Subscription {
	return m.SubscribeAsync(topic, h).Subscription()
}

// SubscribeAsync is Subscribe returning the resolution slot of the request
func (m *Manager) SubscribeAsync(topic string, h Handler) *Pending {
	p := &Pending{m: m, topic: topic, handler: h, done: make(chan struct{})}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Connected && m.sess != nil {
		p.resolveLocked(m.attachLocked(topic, h))
		return p
	}
	m.pending = append(m.pending, p)
	m.log.Debug().Str("topic", topic).Int("queued", len(m.pending)).Msg("subscription queued until connected")
	return p
}

// SubscribeWait blocks until the request is attached. It fails with
// ErrSubscriptionCancelled when Disconnect drops the queue first.
func (m *Manager) SubscribeWait(ctx context.Context, topic string, h Handler) (*Subscription, error) {
	p := m.SubscribeAsync(topic, h)
	select {
	case <-p.Done():
		if sub := p.Subscription(); sub != nil {
			return sub, nil
		}
		return nil, ErrSubscriptionCancelled
	case <-ctx.Done():
		p.Cancel()
		return nil, ctx.Err()
	}
}

// Unsubscribe detaches the handle. The wire subscription is released with the
// topic's last handler. Nil, repeated and stale handles are ignored.
func (m *Manager) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.topics[s.topic]
	if t == nil {
		return
	}
	before := len(t.subs)
	t.subs = slices.DeleteFunc(t.subs, func(x *Subscription) bool { return x == s })
	if len(t.subs) == before || len(t.subs) > 0 {
		return
	}

	delete(m.topics, t.name)
	if t.wireID == "" || m.sess == nil {
		return
	}
	delete(m.wire, t.wireID)
	if err := m.sess.send(stomp.Unsubscribe(t.wireID)); err != nil {
		m.log.Debug().Err(err).Str("topic", t.name).Msg("unsubscribe not sent")
		return
	}
	m.log.Debug().Str("topic", t.name).Str("subscription", t.wireID).Msg("unsubscribed")
}

// Topics lists the destinations that currently hold a wire subscription
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.wire))
	for _, t := range m.wire {
		names = append(names, t.name)
	}
	slices.Sort(names)
	return names
}

// Queued returns the number of requests waiting for the connection
func (m *Manager) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// attachLocked adds a handler, issuing SUBSCRIBE only for a topic's first handler
func (m *Manager) attachLocked(name string, h Handler) *Subscription {
	t := m.topics[name]
	if t == nil {
		t = &topic{name: name}
		m.topics[name] = t
	}
	sub := &Subscription{m: m, topic: name, handler: h}
	t.subs = append(t.subs, sub)

	if t.wireID == "" {
		m.subscribeWireLocked(t)
	}
	return sub
}

func (m *Manager) subscribeWireLocked(t *topic) {
	t.wireID = m.newIDLocked("sub")
	m.wire[t.wireID] = t
	if err := m.sess.send(stomp.Subscribe(t.wireID, t.name)); err != nil {
		// The read loop notices the broken transport; the topic is
		// subscribed again on the next session.
		m.log.Warn().Err(err).Str("topic", t.name).Msg("subscribe not sent")
		return
	}
	m.log.Debug().Str("topic", t.name).Str("subscription", t.wireID).Msg("subscribed")
}

func (m *Manager) activeLocked(s *Subscription) bool {
	t := m.topics[s.topic]
	return t != nil && slices.Contains(t.subs, s)
}

func sortedKeys[V any](in map[string]V) []string {
	return slices.Sorted(maps.Keys(in))
}
