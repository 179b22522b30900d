package events

import (
	"sync"
	"sync/atomic"

	"parkwise/internal/models"
)

// SlotStream fans slot changes out to per-facility watchers. A watcher that
// falls behind loses changes rather than blocking the publisher.
type SlotStream struct {
	mu       sync.Mutex
	watchers map[string]map[uint64]chan models.SlotChange
	nextID   uint64
	buffer   int
	dropped  atomic.Uint64
}

// NewSlotStream subscribes a stream to slot changes on the bus.
func NewSlotStream(bus *EventBus, buffer int) *SlotStream {
	if buffer <= 0 {
		buffer = models.DefaultWatchBuffer
	}
	s := &SlotStream{
		watchers: make(map[string]map[uint64]chan models.SlotChange),
		buffer:   buffer,
	}
	if bus != nil {
		bus.Subscribe(EventSlotChanged, s.handle)
	}
	return s
}

func (s *SlotStream) handle(event *Event) error {
	change, ok := event.Data.(models.SlotChange)
	if !ok {
		return nil
	}
	s.Dispatch(change)
	return nil
}

// Dispatch delivers a change to every watcher of its facility.
func (s *SlotStream) Dispatch(change models.SlotChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.watchers[change.FacilityID] {
		select {
		case ch <- change:
		default:
			s.dropped.Add(1)
		}
	}
}

// Watch returns a channel of changes for a facility and a cancel func that
// unregisters and closes it.
func (s *SlotStream) Watch(facilityID string) (<-chan models.SlotChange, func()) {
	ch := make(chan models.SlotChange, s.buffer)

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.watchers[facilityID] == nil {
		s.watchers[facilityID] = make(map[uint64]chan models.SlotChange)
	}
	s.watchers[facilityID][id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[facilityID], id)
			if len(s.watchers[facilityID]) == 0 {
				delete(s.watchers, facilityID)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Dropped returns how many changes were discarded for slow watchers.
func (s *SlotStream) Dropped() uint64 {
	return s.dropped.Load()
}
