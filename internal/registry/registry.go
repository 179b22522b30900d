package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"parkwise/internal/domain"
	"parkwise/internal/events"
	"parkwise/internal/logging"
	"parkwise/internal/metrics"
	"parkwise/internal/models"

	"github.com/rs/zerolog"
)

const (
	ReasonUnchanged = "unchanged"
	ReasonStale     = "stale"
	ReasonConflict  = "conflict"

	storeTimeout = 3 * time.Second
)

// slotCell serializes writers with mu; readers load the immutable state.
type slotCell struct {
	mu            sync.Mutex
	state         atomic.Pointer[models.Slot]
	lastBookingAt time.Time
}

type facilityEntry struct {
	facility models.Facility
	slots    []*slotCell
}

// Registry is the authoritative in-memory slot map. The facility set is fixed
// at construction; only slot state changes afterwards.
type Registry struct {
	facilities map[string]*facilityEntry
	order      []string
	store      domain.SlotStore
	bus        *events.EventBus
	stream     *events.SlotStream
	logger     *zerolog.Logger
}

// New provisions every slot of every facility as FREE.
func New(facilities []models.Facility, store domain.SlotStore, bus *events.EventBus, logger *zerolog.Logger) *Registry {
	r := &Registry{
		facilities: make(map[string]*facilityEntry, len(facilities)),
		store:      store,
		bus:        bus,
		stream:     events.NewSlotStream(bus, models.DefaultWatchBuffer),
		logger:     logging.Component(logger, "registry"),
	}

	for _, f := range facilities {
		entry := &facilityEntry{facility: f, slots: make([]*slotCell, f.TotalSlots)}
		cameraBySlot := make(map[int]string)
		for _, c := range f.Cameras {
			if c.SlotIndex != nil {
				cameraBySlot[*c.SlotIndex] = c.ID
			}
		}
		for i := range entry.slots {
			cell := &slotCell{}
			cell.state.Store(&models.Slot{
				FacilityID: f.ID,
				Index:      i + 1,
				CameraID:   cameraBySlot[i+1],
				Status:     models.SlotFree,
			})
			entry.slots[i] = cell
		}
		r.facilities[f.ID] = entry
		r.order = append(r.order, f.ID)
	}
	return r
}

func (r *Registry) Facility(facilityID string) (*models.Facility, error) {
	entry, ok := r.facilities[facilityID]
	if !ok {
		return nil, fmt.Errorf("facility %s: %w", facilityID, domain.ErrFacilityNotFound)
	}
	f := entry.facility
	return &f, nil
}

// Facilities returns every facility in configuration order.
func (r *Registry) Facilities() []*models.Facility {
	out := make([]*models.Facility, 0, len(r.order))
	for _, id := range r.order {
		f := r.facilities[id].facility
		out = append(out, &f)
	}
	return out
}

func (r *Registry) cell(facilityID string, slotIndex int) (*slotCell, error) {
	entry, ok := r.facilities[facilityID]
	if !ok {
		return nil, fmt.Errorf("facility %s: %w", facilityID, domain.ErrFacilityNotFound)
	}
	if !entry.facility.ValidSlot(slotIndex) {
		return nil, fmt.Errorf("facility %s slot %d: %w", facilityID, slotIndex, domain.ErrSlotNotFound)
	}
	return entry.slots[slotIndex-1], nil
}

func (r *Registry) Status(facilityID string, slotIndex int) (models.SlotStatus, error) {
	c, err := r.cell(facilityID, slotIndex)
	if err != nil {
		return "", err
	}
	return c.state.Load().Status, nil
}

// Slot returns the full state of one slot.
func (r *Registry) Slot(facilityID string, slotIndex int) (models.Slot, error) {
	c, err := r.cell(facilityID, slotIndex)
	if err != nil {
		return models.Slot{}, err
	}
	return *c.state.Load(), nil
}

// Snapshot returns the slots of a facility ordered by index.
func (r *Registry) Snapshot(facilityID string) ([]models.Slot, error) {
	entry, ok := r.facilities[facilityID]
	if !ok {
		return nil, fmt.Errorf("facility %s: %w", facilityID, domain.ErrFacilityNotFound)
	}
	out := make([]models.Slot, len(entry.slots))
	for i, c := range entry.slots {
		out[i] = *c.state.Load()
	}
	return out, nil
}

// Transition applies a camera, operator or booking status change.
//
// Camera and operator changes must be strictly newer than the slot state.
// Booking changes skip that check but may not be older than the previous
// booking change on the slot. A slot held by a booking only leaves OCCUPIED
// through Release.
func (r *Registry) Transition(facilityID string, slotIndex int, to models.SlotStatus, at time.Time, source models.TransitionSource) (models.TransitionResult, error) {
	if !to.Valid() {
		return models.TransitionResult{}, fmt.Errorf("status %q: %w", to, domain.ErrInvalidRequest)
	}
	c, err := r.cell(facilityID, slotIndex)
	if err != nil {
		return models.TransitionResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()

	if source == models.SourceBooking {
		if at.Before(c.lastBookingAt) {
			return models.TransitionResult{Reason: ReasonStale}, nil
		}
	} else if !at.After(cur.LastUpdated) {
		return models.TransitionResult{Reason: ReasonStale}, nil
	}

	if cur.Status == to {
		return models.TransitionResult{Reason: ReasonUnchanged}, nil
	}

	if cur.BookingID != 0 && source != models.SourceBooking {
		return models.TransitionResult{Reason: ReasonConflict},
			fmt.Errorf("facility %s slot %d held by booking %d: %w", facilityID, slotIndex, cur.BookingID, domain.ErrOccupancyBookingConflict)
	}

	next := *cur
	next.Status = to
	next.Source = source
	next.LastUpdated = laterOf(at, cur.LastUpdated)
	if source == models.SourceBooking {
		c.lastBookingAt = at
	}
	r.apply(c, cur, &next)

	return models.TransitionResult{Accepted: true}, nil
}

// Claim reserves a FREE slot for a booking. commit runs under the slot lock,
// must durably create the booking and returns its id; the slot flips to
// OCCUPIED only if it succeeds.
func (r *Registry) Claim(facilityID string, slotIndex int, at time.Time, commit func() (int64, error)) error {
	c, err := r.cell(facilityID, slotIndex)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	if at.Before(c.lastBookingAt) {
		return fmt.Errorf("facility %s slot %d: %w", facilityID, slotIndex, domain.ErrStaleTransition)
	}
	if cur.Status != models.SlotFree || cur.BookingID != 0 {
		return fmt.Errorf("facility %s slot %d is %s: %w", facilityID, slotIndex, cur.Status, domain.ErrSlotUnavailable)
	}

	bookingID, err := commit()
	if err != nil {
		return err
	}

	next := *cur
	next.Status = models.SlotOccupied
	next.Source = models.SourceBooking
	next.BookingID = bookingID
	next.LastUpdated = laterOf(at, cur.LastUpdated)
	c.lastBookingAt = at
	r.apply(c, cur, &next)
	return nil
}

// Release frees a slot held by bookingID.
func (r *Registry) Release(facilityID string, slotIndex int, bookingID int64, at time.Time) error {
	c, err := r.cell(facilityID, slotIndex)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	if cur.BookingID != bookingID {
		return fmt.Errorf("facility %s slot %d held by %d, not %d: %w",
			facilityID, slotIndex, cur.BookingID, bookingID, domain.ErrInvalidStateTransition)
	}
	if at.Before(c.lastBookingAt) {
		return fmt.Errorf("facility %s slot %d: %w", facilityID, slotIndex, domain.ErrStaleTransition)
	}

	next := *cur
	next.Status = models.SlotFree
	next.Source = models.SourceBooking
	next.BookingID = 0
	next.LastUpdated = laterOf(at, cur.LastUpdated)
	c.lastBookingAt = at
	r.apply(c, cur, &next)
	return nil
}

// Restore seeds slot state loaded from the store without publishing changes.
// Unknown facilities and out-of-range slots are skipped.
func (r *Registry) Restore(slots []models.Slot) int {
	restored := 0
	for _, s := range slots {
		c, err := r.cell(s.FacilityID, s.Index)
		if err != nil || !s.Status.Valid() {
			continue
		}
		c.mu.Lock()
		cur := c.state.Load()
		next := s
		if next.CameraID == "" {
			next.CameraID = cur.CameraID
		}
		c.state.Store(&next)
		if next.Source == models.SourceBooking {
			c.lastBookingAt = next.LastUpdated
		}
		c.mu.Unlock()
		restored++
	}
	return restored
}

// Recover seeds persisted slots and then reconciles them with the active
// bookings: holders that are no longer active are dropped and every active
// booking owns its slot again.
func (r *Registry) Recover(slots []models.Slot, active []*models.Booking) int {
	live := make(map[int64]struct{}, len(active))
	for _, b := range active {
		live[b.ID] = struct{}{}
	}

	cleaned := make([]models.Slot, 0, len(slots))
	for _, s := range slots {
		if s.BookingID != 0 {
			if _, ok := live[s.BookingID]; !ok {
				s.BookingID = 0
				s.Status = models.SlotFree
			}
		}
		cleaned = append(cleaned, s)
	}
	restored := r.Restore(cleaned)

	for _, b := range active {
		c, err := r.cell(b.FacilityID, b.SlotIndex)
		if err != nil {
			r.logger.Warn().Int64("booking_id", b.ID).Str("facility_id", b.FacilityID).Msg("active booking references unknown slot")
			continue
		}
		c.mu.Lock()
		cur := c.state.Load()
		if cur.BookingID != b.ID {
			next := *cur
			next.Status = models.SlotOccupied
			next.Source = models.SourceBooking
			next.BookingID = b.ID
			next.LastUpdated = laterOf(b.UpdatedAt, cur.LastUpdated)
			c.state.Store(&next)
			c.lastBookingAt = next.LastUpdated
			restored++
		}
		c.mu.Unlock()
	}
	return restored
}

// Watch streams accepted changes of one facility until cancel is called.
func (r *Registry) Watch(facilityID string) (<-chan models.SlotChange, func(), error) {
	if _, ok := r.facilities[facilityID]; !ok {
		return nil, nil, fmt.Errorf("facility %s: %w", facilityID, domain.ErrFacilityNotFound)
	}
	ch, cancel := r.stream.Watch(facilityID)
	return ch, cancel, nil
}

// apply must be called with c.mu held.
func (r *Registry) apply(c *slotCell, prev, next *models.Slot) {
	c.state.Store(next)

	change := models.SlotChange{
		FacilityID: next.FacilityID,
		SlotIndex:  next.Index,
		From:       prev.Status,
		To:         next.Status,
		At:         next.LastUpdated,
		Source:     next.Source,
		BookingID:  next.BookingID,
	}
	if change.BookingID == 0 {
		change.BookingID = prev.BookingID
	}

	metrics.IncSlotTransition(string(next.Source))

	if err := r.bus.PublishJSON(events.EventSlotChanged, change); err != nil {
		r.logger.Error().Err(err).Str("facility_id", next.FacilityID).Int("slot", next.Index).Msg("publish slot change")
	}

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.SaveSlot(ctx, *next); err != nil {
			r.logger.Error().Err(err).Str("facility_id", next.FacilityID).Int("slot", next.Index).Msg("persist slot state")
		}
	}

	r.logger.Debug().
		Str("facility_id", next.FacilityID).
		Int("slot", next.Index).
		Str("from", string(prev.Status)).
		Str("to", string(next.Status)).
		Str("source", string(next.Source)).
		Msg("slot transition")
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
