package realtime

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/lirancohen/adminpulse/internal/stomp"
)

// Event is one pushed message, normalized for handlers
type Event struct {
	Topic     string
	MessageID string
	Raw       []byte
	// Payload is the decoded JSON value, or the body as a string when it is
	// not JSON
	Payload any

	json bool
}

// Normalize decodes a frame body optimistically as JSON
func Normalize(topic string, body []byte, messageID string) Event {
	ev := Event{Topic: topic, MessageID: messageID, Raw: body}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		ev.Payload = string(body)
	} else {
		ev.Payload = v
		ev.json = true
	}
	return ev
}

// IsJSON reports whether the payload was decoded from JSON
func (e Event) IsJSON() bool { return e.json }

// dispatch routes a MESSAGE frame by its subscription id, falling back to the
// destination header, and calls the topic's handlers outside the lock. Frames
// read from a session that is no longer current are dropped.
func (m *Manager) dispatch(s *session, f *frame.Frame) {
	subID := f.Header.Get(stomp.HdrSubscription)
	dest := f.Header.Get(stomp.HdrDestination)

	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	t := m.wire[subID]
	if t == nil {
		t = m.topics[dest]
	}
	if t == nil {
		m.mu.Unlock()
		m.log.Debug().Str("subscription", subID).Str("destination", dest).Msg("message for unknown subscription")
		return
	}
	name := t.name
	handlers := make([]Handler, len(t.subs))
	for i, s := range t.subs {
		handlers[i] = s.handler
	}
	m.mu.Unlock()

	ev := Normalize(name, f.Body, f.Header.Get(stomp.HdrMessageID))
	for _, h := range handlers {
		m.invoke(h, ev)
	}
}

func (m *Manager) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str("topic", ev.Topic).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("event handler panicked")
		}
	}()
	h(ev)
}
