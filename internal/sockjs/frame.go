// Package sockjs implements the client side of the SockJS websocket transport framing
package sockjs

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies a SockJS transport frame
type Kind byte

const (
	KindOpen      Kind = 'o'
	KindHeartbeat Kind = 'h'
	KindArray     Kind = 'a'
	KindMessage   Kind = 'm'
	KindClose     Kind = 'c'
)

var ErrEmptyFrame = errors.New("sockjs: empty frame")

// Packet is one decoded transport frame
type Packet struct {
	Kind     Kind
	Messages []string
	Code     int
	Reason   string
}

// Decode parses a single websocket message received from a SockJS server
func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return Packet{}, ErrEmptyFrame
	}

	p := Packet{Kind: Kind(data[0])}
	rest := data[1:]

	switch p.Kind {
	case KindOpen, KindHeartbeat:
		return p, nil

	case KindArray:
		if err := json.Unmarshal(rest, &p.Messages); err != nil {
			return Packet{}, fmt.Errorf("sockjs: invalid array frame: %w", err)
		}
		return p, nil

	case KindMessage:
		var msg string
		if err := json.Unmarshal(rest, &msg); err != nil {
			return Packet{}, fmt.Errorf("sockjs: invalid message frame: %w", err)
		}
		p.Messages = []string{msg}
		return p, nil

	case KindClose:
		var parts []any
		if err := json.Unmarshal(rest, &parts); err != nil {
			return Packet{}, fmt.Errorf("sockjs: invalid close frame: %w", err)
		}
		if len(parts) > 0 {
			if code, ok := parts[0].(float64); ok {
				p.Code = int(code)
			}
		}
		if len(parts) > 1 {
			p.Reason, _ = parts[1].(string)
		}
		return p, nil

	default:
		return Packet{}, fmt.Errorf("sockjs: unknown frame type %q", data[0])
	}
}

// EncodeMessages builds the client-to-server payload, a JSON array of strings
func EncodeMessages(msgs ...string) ([]byte, error) {
	if msgs == nil {
		msgs = []string{}
	}
	return json.Marshal(msgs)
}

// TransportURL turns an http(s) endpoint such as https://api.example.com/ws into the
// websocket transport URL wss://api.example.com/ws/{server}/{session}/websocket,
// keeping the given query parameters
func TransportURL(endpoint string, query url.Values) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("sockjs: invalid endpoint: %w", err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("sockjs: unsupported scheme %q", u.Scheme)
	}

	server, err := serverID()
	if err != nil {
		return "", err
	}
	session := strings.ReplaceAll(uuid.NewString(), "-", "")

	u.Path = strings.TrimRight(u.Path, "/") + "/" + server + "/" + session + "/websocket"
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// serverID is the three digit routing segment required by the protocol
func serverID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", fmt.Errorf("sockjs: failed to generate server id: %w", err)
	}
	return fmt.Sprintf("%03d", n.Int64()), nil
}
