// Package broker is a small in-process STOMP broker served over SockJS sessions
package broker

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/stomp"
)

// UserPrefix marks destinations delivered only to the sessions of one user
const UserPrefix = "/user/"

// Message is a publication to a destination. User restricts delivery of user
// destinations to that user's sessions.
type Message struct {
	Destination string
	Body        []byte
	User        string
}

// Hub tracks connected clients and fans publications out to their subscriptions
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        zerolog.Logger
	sendBuffer int
}

// NewHub creates a hub; sendBuffer bounds each client's outbound queue
func NewHub(log zerolog.Logger, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "broker").Logger(),
		sendBuffer: sendBuffer,
	}
}

// Run is the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			close(h.done)
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.unregister:
			h.drop(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg Message) {
	messageID := uuid.NewString()

	var toDelete []*Client
	h.mu.RLock()
	for client := range h.clients {
		for _, subID := range client.matching(msg) {
			out, err := stomp.Encode(stomp.Message(subID, messageID, msg.Destination, msg.Body))
			if err != nil {
				h.log.Error().Err(err).Str("destination", msg.Destination).Msg("failed to encode message")
				continue
			}
			select {
			case client.send <- out:
			default:
				// Client buffer full, mark for removal
				toDelete = append(toDelete, client)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range toDelete {
		h.log.Warn().Str("session", client.id).Msg("client too slow, dropping")
		h.drop(client)
	}
}

// add registers a client before its first frame is read, so replies to CONNECT
// always find it
func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	h.clients[client] = true
	return true
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		close(client.send)
		delete(h.clients, client)
	}
}

// Publish queues a message for delivery
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	clientCount := len(h.clients)
	h.mu.RUnlock()
	h.log.Debug().Str("destination", msg.Destination).Int("clients", clientCount).Msg("publishing")
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Clients returns the number of connected sessions
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscriptions counts the subscriptions to destination across all sessions
func (h *Hub) Subscriptions(destination string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for client := range h.clients {
		n += client.count(destination)
	}
	return n
}

func isUserDestination(dest string) bool {
	return strings.HasPrefix(dest, UserPrefix)
}
