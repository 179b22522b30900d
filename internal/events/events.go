package events

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

const (
	EventSlotChanged       = "slot_changed"
	EventBookingHeld       = "booking_held"
	EventBookingConfirmed  = "booking_confirmed"
	EventBookingCheckedIn  = "booking_checked_in"
	EventBookingCheckedOut = "booking_checked_out"
	EventBookingCancelled  = "booking_cancelled"
	EventBookingExpired    = "booking_expired"
	EventAnomalyDetected   = "anomaly_detected"
)

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID   int64     `json:"booking_id"`
	UserID      int64     `json:"user_id"`
	VehicleID   string    `json:"vehicle_id"`
	FacilityID  string    `json:"facility_id"`
	SlotIndex   int       `json:"slot_number"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"total_amount,omitempty"`
	At          time.Time `json:"at"`
}

// Event represents a lightweight domain event. Data carries the original
// value for in-process subscribers; Payload is its JSON form.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	Data      interface{}
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, Data: payload, CreatedAt: time.Now()}, nil
}
