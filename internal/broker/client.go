package broker

import (
	"net/http"
	"strings"
	"sync"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/igm/sockjs-go/v3/sockjs"

	"github.com/lirancohen/adminpulse/internal/stomp"
)

const serverName = "adminpulse-dev/1.0"

// UserFunc resolves the authenticated user of a SockJS session's first request
type UserFunc func(r *http.Request) string

// Client is one SockJS session speaking STOMP
type Client struct {
	hub  *Hub
	sess sockjs.Session
	id   string
	user string
	send chan string

	mu            sync.RWMutex
	connected     bool
	subscriptions map[string]string // subscription id -> destination
}

// NewHandler serves the SockJS endpoint at prefix
func (h *Hub) NewHandler(prefix string, opts sockjs.Options, user UserFunc) http.Handler {
	return sockjs.NewHandler(prefix, opts, func(sess sockjs.Session) {
		h.ServeSession(sess, user)
	})
}

// ServeSession runs a session until the client leaves
func (h *Hub) ServeSession(sess sockjs.Session, user UserFunc) {
	client := &Client{
		hub:           h,
		sess:          sess,
		id:            sess.ID(),
		send:          make(chan string, h.sendBuffer),
		subscriptions: make(map[string]string),
	}
	if user != nil && sess.Request() != nil {
		client.user = user(sess.Request())
	}

	if !h.add(client) {
		sess.Close(1001, "server shutting down")
		return
	}
	h.log.Debug().Str("session", client.id).Str("user", client.user).Msg("session opened")

	go client.writePump()
	client.readPump()
}

// readPump reads transport messages until the session closes
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.hub.log.Debug().Str("session", c.id).Msg("session closed")
	}()

	for {
		msg, err := c.sess.Recv()
		if err != nil {
			return
		}
		frames, err := stomp.Decode(msg)
		if err != nil {
			c.fail("malformed frame", err.Error())
			return
		}
		for _, f := range frames {
			if !c.handleFrame(f) {
				return
			}
		}
	}
}

// writePump forwards queued frames to the session
func (c *Client) writePump() {
	for msg := range c.send {
		if err := c.sess.Send(msg); err != nil {
			break
		}
	}
	// Hub dropped us or the session ended
	c.sess.Close(1000, "Normal closure")
}

// handleFrame applies one client frame; false ends the session
func (c *Client) handleFrame(f *frame.Frame) bool {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	if !connected && f.Command != frame.CONNECT && f.Command != frame.STOMP {
		c.fail("not connected", "expected CONNECT, got "+f.Command)
		return false
	}

	switch f.Command {
	case frame.CONNECT, frame.STOMP:
		if connected {
			c.fail("already connected", "")
			return false
		}
		if v := f.Header.Get(stomp.HdrAcceptVersion); v != "" && !acceptsVersion(v) {
			c.fail("unsupported protocol version", "supported version is "+stomp.Version)
			return false
		}
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.reply(stomp.Connected(serverName, c.user))
		return true

	case frame.SUBSCRIBE:
		id := f.Header.Get(stomp.HdrID)
		dest := f.Header.Get(stomp.HdrDestination)
		if id == "" || dest == "" {
			c.fail("invalid SUBSCRIBE", "id and destination are required")
			return false
		}
		c.mu.Lock()
		_, dup := c.subscriptions[id]
		if !dup {
			c.subscriptions[id] = dest
		}
		c.mu.Unlock()
		if dup {
			c.fail("duplicate subscription id", id)
			return false
		}

	case frame.UNSUBSCRIBE:
		id := f.Header.Get(stomp.HdrID)
		if id == "" {
			c.fail("invalid UNSUBSCRIBE", "id is required")
			return false
		}
		c.mu.Lock()
		delete(c.subscriptions, id)
		c.mu.Unlock()

	case frame.SEND:
		dest := f.Header.Get(stomp.HdrDestination)
		if dest == "" {
			c.fail("invalid SEND", "destination is required")
			return false
		}
		msg := Message{Destination: dest, Body: f.Body}
		if isUserDestination(dest) {
			msg.User = c.user
		}
		c.hub.Publish(msg)

	case frame.DISCONNECT:
		if receipt := f.Header.Get(stomp.HdrReceipt); receipt != "" {
			c.reply(stomp.Receipt(receipt))
		}
		c.closeSend()
		return false

	default:
		c.fail("unsupported command", f.Command)
		return false
	}

	if receipt := f.Header.Get(stomp.HdrReceipt); receipt != "" {
		c.reply(stomp.Receipt(receipt))
	}
	return true
}

// matching returns the subscription ids of c that should receive msg
func (c *Client) matching(msg Message) []string {
	if isUserDestination(msg.Destination) && msg.User != c.user {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, dest := range c.subscriptions {
		if dest == msg.Destination {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *Client) count(destination string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, dest := range c.subscriptions {
		if dest == destination {
			n++
		}
	}
	return n
}

// reply queues a frame for this client only
func (c *Client) reply(f *frame.Frame) {
	out, err := stomp.Encode(f)
	if err != nil {
		c.hub.log.Error().Err(err).Str("session", c.id).Msg("failed to encode reply")
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- out:
	default:
		c.hub.log.Warn().Str("session", c.id).Msg("reply dropped, send queue full")
	}
}

// fail reports a protocol violation with an ERROR frame and ends the session
func (c *Client) fail(message, detail string) {
	c.hub.log.Warn().Str("session", c.id).Str("error", message).Str("detail", detail).Msg("protocol error")
	c.reply(stomp.Error(message, detail))
	c.closeSend()
}

// closeSend lets the writer flush what is queued, then close the session
func (c *Client) closeSend() {
	c.hub.drop(c)
}

func acceptsVersion(header string) bool {
	for _, v := range strings.Split(header, ",") {
		if strings.TrimSpace(v) == stomp.Version {
			return true
		}
	}
	return false
}
