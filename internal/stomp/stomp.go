// Package stomp adapts STOMP 1.2 frames to message-oriented transports, where each
// transport message carries one or more complete frames
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
)

// Header names used by the client and the broker
const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrAck           = "ack"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrContentType   = "content-type"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrMessage       = "message"
	HdrServer        = "server"
	HdrUserName      = "user-name"
)

// Version is the only protocol version spoken here
const Version = "1.2"

var ErrNoFrame = errors.New("stomp: no frame in message")

// Encode serializes a frame into a transport message
func Encode(f *frame.Frame) (string, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return "", fmt.Errorf("stomp: failed to encode %s: %w", f.Command, err)
	}
	return buf.String(), nil
}

// Decode parses every frame in a transport message. Heart-beats are skipped, so a
// message holding only heart-beats yields no frames and no error.
func Decode(msg string) ([]*frame.Frame, error) {
	r := frame.NewReader(strings.NewReader(msg))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return frames, fmt.Errorf("stomp: failed to decode frame: %w", err)
		}
		if f == nil {
			continue
		}
		frames = append(frames, f)
	}
}

// DecodeOne parses a message that must contain exactly one frame
func DecodeOne(msg string) (*frame.Frame, error) {
	frames, err := Decode(msg)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, ErrNoFrame
	}
	return frames[0], nil
}

// Connect builds the client CONNECT frame. Heart-beating is left to the transport.
func Connect(host string) *frame.Frame {
	return frame.New(frame.CONNECT,
		HdrAcceptVersion, Version,
		HdrHost, host,
		HdrHeartBeat, "0,0",
	)
}

// Connected builds the broker reply to CONNECT
func Connected(server, user string) *frame.Frame {
	f := frame.New(frame.CONNECTED,
		HdrVersion, Version,
		HdrHeartBeat, "0,0",
		HdrServer, server,
	)
	if user != "" {
		f.Header.Add(HdrUserName, user)
	}
	return f
}

func Subscribe(id, destination string) *frame.Frame {
	return frame.New(frame.SUBSCRIBE,
		HdrID, id,
		HdrDestination, destination,
		HdrAck, "auto",
	)
}

func Unsubscribe(id string) *frame.Frame {
	return frame.New(frame.UNSUBSCRIBE, HdrID, id)
}

// Disconnect builds a DISCONNECT frame, asking for a receipt when one is given
func Disconnect(receipt string) *frame.Frame {
	f := frame.New(frame.DISCONNECT)
	if receipt != "" {
		f.Header.Add(HdrReceipt, receipt)
	}
	return f
}

func Receipt(id string) *frame.Frame {
	return frame.New(frame.RECEIPT, HdrReceiptID, id)
}

// Message builds a MESSAGE frame carrying a JSON body
func Message(subscription, messageID, destination string, body []byte) *frame.Frame {
	f := frame.New(frame.MESSAGE,
		HdrSubscription, subscription,
		HdrMessageID, messageID,
		HdrDestination, destination,
		HdrContentType, "application/json",
	)
	f.Body = body
	return f
}

// Error builds an ERROR frame
func Error(message, detail string) *frame.Frame {
	f := frame.New(frame.ERROR,
		HdrMessage, message,
		HdrContentType, "text/plain",
	)
	if detail != "" {
		f.Body = []byte(detail)
	}
	return f
}

// ErrorText renders an ERROR frame for logs
func ErrorText(f *frame.Frame) string {
	msg := f.Header.Get(HdrMessage)
	body := strings.TrimSpace(string(f.Body))
	switch {
	case msg != "" && body != "":
		return msg + ": " + body
	case msg != "":
		return msg
	case body != "":
		return body
	default:
		return "unspecified broker error"
	}
}
