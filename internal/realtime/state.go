package realtime

import "sync"

// State is the connection status published to feeds
type State int

const (
	// Disconnected is the initial state and the state while retrying
	Disconnected State = iota
	// Connected holds between the broker's CONNECTED frame and the next transport loss
	Connected
	// Closed follows an explicit Disconnect until the next Connect
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the STOMP session is established
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Watch returns a channel carrying the connection state. The current state is
// delivered first; afterwards only the latest state is kept if the reader falls
// behind. The returned func stops the watch and closes the channel.
func (m *Manager) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.mu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = ch
	ch <- m.state
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			close(ch)
			m.mu.Unlock()
		})
	}
}

// setStateLocked records a transition and notifies watchers. m.mu must be held.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.log.Debug().Stringer("from", m.state).Stringer("to", s).Msg("connection state changed")
	m.state = s
	for _, ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
