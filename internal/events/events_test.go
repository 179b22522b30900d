package events

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parkwise/internal/models"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe("test_event", func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON("test_event", map[string]string{"foo": "bar"})
	require.NoError(t, err)

	assert.Equal(t, 1, callCount)
	assert.Equal(t, "test_event", received.Type)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, "bar", decoded["foo"])
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NotPanics(t, func() { bus.Publish(&Event{Type: "unknown"}) })
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("unknown", nil))
}

func TestNewJSONEvent(t *testing.T) {
	payload := BookingEventPayload{BookingID: 123, FacilityID: "f1"}
	event, err := NewJSONEvent("type", payload)
	require.NoError(t, err)

	assert.Equal(t, "type", event.Type)
	assert.False(t, event.CreatedAt.IsZero())
	assert.Equal(t, payload, event.Data)

	var decoded BookingEventPayload
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	assert.Equal(t, int64(123), decoded.BookingID)
}

func TestSlotStream(t *testing.T) {
	bus := NewEventBus()
	stream := NewSlotStream(bus, 2)

	ch, cancel := stream.Watch("f1")
	other, cancelOther := stream.Watch("f2")
	defer cancelOther()

	change := models.SlotChange{FacilityID: "f1", SlotIndex: 1, From: models.SlotFree, To: models.SlotOccupied, At: time.Now()}
	require.NoError(t, bus.PublishJSON(EventSlotChanged, change))

	select {
	case got := <-ch:
		assert.Equal(t, change.SlotIndex, got.SlotIndex)
		assert.Equal(t, models.SlotOccupied, got.To)
	default:
		t.Fatal("expected change for f1 watcher")
	}

	select {
	case <-other:
		t.Fatal("f2 watcher must not see f1 changes")
	default:
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.NotPanics(t, cancel)
}

func TestSlotStreamDropsForSlowWatcher(t *testing.T) {
	stream := NewSlotStream(nil, 1)
	_, cancel := stream.Watch("f1")
	defer cancel()

	for i := 0; i < 3; i++ {
		stream.Dispatch(models.SlotChange{FacilityID: "f1", SlotIndex: i + 1})
	}
	assert.Equal(t, uint64(2), stream.Dropped())
}
