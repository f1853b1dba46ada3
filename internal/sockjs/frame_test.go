package sockjs

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Packet
	}{
		{name: "open", in: "o", want: Packet{Kind: KindOpen}},
		{name: "heartbeat", in: "h", want: Packet{Kind: KindHeartbeat}},
		{name: "array", in: `a["one","two"]`, want: Packet{Kind: KindArray, Messages: []string{"one", "two"}}},
		{name: "single message", in: `m"solo"`, want: Packet{Kind: KindMessage, Messages: []string{"solo"}}},
		{name: "close", in: `c[3000,"Go away!"]`, want: Packet{Kind: KindClose, Code: 3000, Reason: "Go away!"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, ErrEmptyFrame)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Decode([]byte("x"))
		assert.Error(t, err)
	})

	t.Run("broken array", func(t *testing.T) {
		_, err := Decode([]byte(`a["unterminated`))
		assert.Error(t, err)
	})
}

func TestEncodeMessages(t *testing.T) {
	data, err := EncodeMessages("CONNECT\n\n\x00")
	require.NoError(t, err)
	assert.Equal(t, `["CONNECT\n\n\u0000"]`, string(data))

	data, err = EncodeMessages()
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))
}

func TestTransportURL(t *testing.T) {
	t.Run("http becomes ws and keeps query", func(t *testing.T) {
		raw, err := TransportURL("http://localhost:8080/ws", url.Values{"token": {"abc"}})
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "ws", u.Scheme)
		assert.Equal(t, "localhost:8080", u.Host)
		assert.Equal(t, "abc", u.Query().Get("token"))

		parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
		require.Len(t, parts, 4)
		assert.Equal(t, "ws", parts[0])
		assert.Len(t, parts[1], 3)
		assert.Len(t, parts[2], 32)
		assert.Equal(t, "websocket", parts[3])
	})

	t.Run("https becomes wss", func(t *testing.T) {
		raw, err := TransportURL("https://admin.example.com/ws/", nil)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(raw, "wss://admin.example.com/ws/"))
	})

	t.Run("each call uses a new session", func(t *testing.T) {
		a, _ := TransportURL("http://localhost/ws", nil)
		b, _ := TransportURL("http://localhost/ws", nil)
		assert.NotEqual(t, a, b)
	})

	t.Run("rejects unknown scheme", func(t *testing.T) {
		_, err := TransportURL("ftp://localhost/ws", nil)
		assert.Error(t, err)
	})
}
