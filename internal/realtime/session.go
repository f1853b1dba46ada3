package realtime

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/lirancohen/adminpulse/internal/sockjs"
	"github.com/lirancohen/adminpulse/internal/stomp"
)

const writeWait = 10 * time.Second

// session is one websocket transport carrying one STOMP session
type session struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *session) send(f *frame.Frame) error {
	msg, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	payload, err := sockjs.EncodeMessages(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
}

// readPacket reads the next SockJS frame
func (s *session) readPacket() (sockjs.Packet, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return sockjs.Packet{}, fmt.Errorf("transport read failed: %w", err)
	}
	return sockjs.Decode(data)
}

// open dials the transport and completes the SockJS and STOMP handshakes within
// the connect timeout
func (m *Manager) open(ctx context.Context, token string) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	target, err := sockjs.TransportURL(m.endpoint, url.Values{"token": {token}})
	if err != nil {
		return nil, err
	}

	conn, resp, err := m.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to open realtime transport: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to open realtime transport: %w", err)
	}

	s := &session{conn: conn}
	stop := context.AfterFunc(ctx, s.close)

	if err := m.handshake(ctx, s); err != nil {
		stop()
		s.close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("realtime handshake aborted: %w", ctx.Err())
		}
		return nil, err
	}
	if !stop() {
		return nil, fmt.Errorf("realtime handshake aborted: %w", ctx.Err())
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (m *Manager) handshake(ctx context.Context, s *session) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return err
		}
	}

	p, err := s.readPacket()
	if err != nil {
		return err
	}
	if p.Kind != sockjs.KindOpen {
		return fmt.Errorf("expected sockjs open frame, got %q", p.Kind)
	}

	if err := s.send(stomp.Connect(m.host)); err != nil {
		return fmt.Errorf("failed to send CONNECT: %w", err)
	}

	for {
		p, err := s.readPacket()
		if err != nil {
			return err
		}
		switch p.Kind {
		case sockjs.KindHeartbeat:
			continue
		case sockjs.KindClose:
			return fmt.Errorf("%w: %d %s", ErrTransportClosed, p.Code, p.Reason)
		}

		for _, msg := range p.Messages {
			frames, err := stomp.Decode(msg)
			if err != nil {
				return err
			}
			for _, f := range frames {
				switch f.Command {
				case frame.CONNECTED:
					m.log.Debug().
						Str("version", f.Header.Get(stomp.HdrVersion)).
						Str("server", f.Header.Get(stomp.HdrServer)).
						Msg("stomp session established")
					return nil
				case frame.ERROR:
					return fmt.Errorf("%w: %s", ErrBrokerError, stomp.ErrorText(f))
				default:
					return fmt.Errorf("unexpected %s frame before CONNECTED", f.Command)
				}
			}
		}
	}
}

// serve reads frames until the transport drops, the broker reports an error or
// nothing arrives within the idle timeout
func (m *Manager) serve(s *session) error {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(m.cfg.IdleTimeout)); err != nil {
			return err
		}
		p, err := s.readPacket()
		if err != nil {
			return err
		}

		switch p.Kind {
		case sockjs.KindHeartbeat, sockjs.KindOpen:
			continue
		case sockjs.KindClose:
			return fmt.Errorf("%w: %d %s", ErrTransportClosed, p.Code, p.Reason)
		}

		for _, msg := range p.Messages {
			frames, err := stomp.Decode(msg)
			if err != nil {
				m.log.Warn().Err(err).Msg("dropping undecodable transport message")
				continue
			}
			for _, f := range frames {
				switch f.Command {
				case frame.MESSAGE:
					m.dispatch(s, f)
				case frame.ERROR:
					return fmt.Errorf("%w: %s", ErrBrokerError, stomp.ErrorText(f))
				case frame.RECEIPT:
					m.log.Debug().Str("receipt", f.Header.Get(stomp.HdrReceiptID)).Msg("receipt")
				default:
					m.log.Debug().Str("command", f.Command).Msg("ignoring frame")
				}
			}
		}
	}
}
