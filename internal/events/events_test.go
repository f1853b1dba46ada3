package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeUnmarshal(t *testing.T) {
	want := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	tests := []struct {
		name string
		in   string
	}{
		{name: "rfc3339 with zone", in: `"2025-03-14T10:26:53+01:00"`},
		{name: "rfc3339 utc", in: `"2025-03-14T09:26:53Z"`},
		{name: "local date time", in: `"2025-03-14T09:26:53"`},
		{name: "space separated", in: `"2025-03-14 09:26:53"`},
		{name: "epoch millis", in: `1741944413000`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Time
			require.NoError(t, json.Unmarshal([]byte(tt.in), &got))
			assert.True(t, want.Equal(got.Time), "got %s", got.Time)
		})
	}

	t.Run("null stays zero", func(t *testing.T) {
		var got Time
		require.NoError(t, json.Unmarshal([]byte(`null`), &got))
		assert.True(t, got.IsZero())
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		var got Time
		assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &got))
	})
}

func TestDecode(t *testing.T) {
	t.Run("audit log entry", func(t *testing.T) {
		msg, err := Decode(TopicAuditLog, []byte(`{"id":42,"action":"UPDATE","entityType":"PRODUCT","entityName":"Blue Shirt","userEmail":"ana@shop.test","timestamp":"2025-01-02T03:04:05"}`))
		require.NoError(t, err)
		ev, ok := msg.(AuditLogEvent)
		require.True(t, ok)
		assert.Equal(t, KindAuditLog, ev.Kind())
		assert.Equal(t, int64(42), ev.ID)
		assert.Equal(t, "Blue Shirt", ev.EntityName)
	})

	t.Run("workflow event", func(t *testing.T) {
		msg, err := Decode(TopicWorkflows, []byte(`{"executionId":"E1","eventType":"STEP_STARTED","stepName":"charge","timestamp":"2025-01-02T03:04:05Z"}`))
		require.NoError(t, err)
		ev := msg.(WorkflowExecutionEvent)
		assert.Equal(t, "E1|STEP_STARTED|charge", ev.Key())
		assert.True(t, ev.IsStep())
	})

	t.Run("non JSON body", func(t *testing.T) {
		_, err := Decode(TopicPricing, []byte("price changed"))
		assert.ErrorIs(t, err, ErrNotJSON)
	})

	t.Run("unknown topic", func(t *testing.T) {
		_, err := Decode("/topic/unknown", []byte(`{}`))
		assert.ErrorIs(t, err, ErrUnknownTopic)
	})

	t.Run("fails validation", func(t *testing.T) {
		_, err := Decode(TopicWorkflows, []byte(`{"executionId":"E1","eventType":"STEP_STARTED"}`))
		assert.ErrorIs(t, err, ErrInvalidEvent)

		_, err = Decode(TopicSecurityEvents, []byte(`{"id":"s1","type":"LOGIN_FAILED","severity":"SEVERE","timestamp":"2025-01-02T03:04:05Z"}`))
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("wrong field types", func(t *testing.T) {
		_, err := Decode(TopicAuditLog, []byte(`{"id":"not-a-number"}`))
		assert.ErrorIs(t, err, ErrInvalidEvent)
	})
}

func TestPricingEventKey(t *testing.T) {
	ts := NewTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	a := PricingEvent{Type: PriceUpdated, ProductID: "p1", Timestamp: ts}
	b := PricingEvent{Type: PriceUpdated, ProductID: "p1", Timestamp: ts}
	c := PricingEvent{Type: PriceUpdated, ProductID: "p2", Timestamp: ts}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}
