package events_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/progimage/progimage/src/pkg/events"
	"github.com/progimage/progimage/src/pkg/format"
	"github.com/progimage/progimage/src/pkg/images/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishToSubscribers(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()

	first, unsubFirst := hub.Subscribe()
	defer unsubFirst()
	second, unsubSecond := hub.Subscribe()

	hub.RecordChanged(events.EventCreated, &storage.Record{ID: 1, Format: format.JPG})

	for _, ch := range []<-chan events.Event{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, events.EventCreated, ev.Type)
			assert.EqualValues(t, 1, ev.Record.ID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	unsubSecond()
	_, ok := <-second
	assert.False(t, ok, "unsubscribed channel is closed")
	unsubSecond()
}

func TestHub_FullSubscriberDropsEvents(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()

	_, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	var err error
	for i := 0; i < 200; i++ {
		err = hub.Publish(events.Event{Type: events.EventPruned})
	}
	assert.Error(t, err)
}

func TestHub_ClosedRejectsPublish(t *testing.T) {
	hub := events.NewHub()
	ch, _ := hub.Subscribe()
	hub.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Error(t, hub.Publish(events.Event{Type: events.EventDeleted}))
	hub.Close()
}

func TestHub_Websocket(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()

	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Publish until the server side has subscribed.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	go func() {
		for i := 0; i < 50; i++ {
			hub.RecordChanged(events.EventConverted, &storage.Record{ID: 7, Format: format.PNG})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.EventConverted, ev.Type)
	assert.Equal(t, format.PNG, ev.Record.Format)
}
