package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSubjectDerivedFromTaskPrefix(t *testing.T) {
	q := &Queue{prefix: "tradepulse.tasks."}
	assert.Equal(t, "tradepulse.events", q.eventSubject())

	q = &Queue{prefix: "test.tasks."}
	assert.Equal(t, "test.events", q.eventSubject())
}

func TestEventsFanOutToEverySubscriber(t *testing.T) {
	q := setupTestQueue(t)

	received := make(chan *Event, 2)
	for i := 0; i < 2; i++ {
		sub, err := q.SubscribeEvents(func(evt *Event) {
			received <- evt
		})
		require.NoError(t, err)
		defer func() { _ = sub.Unsubscribe() }()
	}

	require.NoError(t, q.PublishEvent("signal_created", map[string]string{"symbol": "ETHUSDT"}))

	for i := 0; i < 2; i++ {
		select {
		case evt := <-received:
			assert.Equal(t, "signal_created", evt.Type)

			var payload map[string]string
			require.NoError(t, json.Unmarshal(evt.Payload, &payload))
			assert.Equal(t, "ETHUSDT", payload["symbol"])
		case <-time.After(5 * time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestEventPublisherSwallowsErrors(t *testing.T) {
	q := setupTestQueue(t)
	q.Close()

	// must not panic once the connection is gone
	q.Events().Publish("signal_created", map[string]string{"symbol": "BTCUSDT"})
}
