package occupancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"parkwise/internal/domain"
	"parkwise/internal/events"
	"parkwise/internal/logging"
	"parkwise/internal/metrics"
	"parkwise/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	ResultApplied       = "applied"
	ResultDuplicate     = "duplicate"
	ResultPending       = "pending"
	ResultUnchanged     = "unchanged"
	ResultStale         = "stale"
	ResultConflict      = "conflict"
	ResultBlocked       = "blocked"
	ResultLowConfidence = "low_confidence"
	ResultInvalid       = "invalid"
)

// SlotRegistry is the part of the registry the ingestor drives.
type SlotRegistry interface {
	Facilities() []*models.Facility
	Slot(facilityID string, slotIndex int) (models.Slot, error)
	Transition(facilityID string, slotIndex int, to models.SlotStatus, at time.Time, source models.TransitionSource) (models.TransitionResult, error)
}

// BookingReader looks up the booking holding a slot.
type BookingReader interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
}

type Config struct {
	Window        int
	Policy        string
	MinConfidence float64
	MinDwell      time.Duration
}

type cameraRef struct {
	facilityID string
	binding    models.CameraBinding
}

type slotKey struct {
	facilityID string
	index      int
}

// slotWindow is the debounce state of one slot.
type slotWindow struct {
	mu       sync.Mutex
	lastSeen time.Time
	recent   []models.SlotStatus
	run      models.SlotStatus
	runStart time.Time
	reported int64
}

// Ingestor turns camera detections into registry transitions.
type Ingestor struct {
	cfg      Config
	registry SlotRegistry
	log      domain.DetectionLog
	bookings BookingReader
	bus      domain.EventPublisher
	logger   *zerolog.Logger
	cameras  map[string]cameraRef

	mu      sync.Mutex
	windows map[slotKey]*slotWindow
}

// NewIngestor builds an ingestor. log, bookings and bus may be nil; without
// bookings every conflict is recorded as an anomaly.
func NewIngestor(cfg Config, registry SlotRegistry, log domain.DetectionLog, bookings BookingReader, bus domain.EventPublisher, logger *zerolog.Logger) *Ingestor {
	if cfg.Window <= 0 {
		cfg.Window = models.DefaultDetectionWindow
	}
	if cfg.Policy == "" {
		cfg.Policy = models.PolicyUnanimous
	}

	in := &Ingestor{
		cfg:      cfg,
		registry: registry,
		log:      log,
		bookings: bookings,
		bus:      bus,
		logger:   logging.Component(logger, "occupancy"),
		cameras:  make(map[string]cameraRef),
		windows:  make(map[slotKey]*slotWindow),
	}
	for _, f := range registry.Facilities() {
		for _, c := range f.Cameras {
			if _, dup := in.cameras[c.ID]; dup {
				in.logger.Warn().Str("camera_id", c.ID).Str("facility_id", f.ID).Msg("camera bound to more than one facility, ignoring")
				continue
			}
			in.cameras[c.ID] = cameraRef{facilityID: f.ID, binding: c}
		}
	}
	return in
}

// Ingest applies one detection. Invalid events return ErrInvalidDetectionEvent
// and leave state untouched; every other outcome is reported in the result.
func (in *Ingestor) Ingest(ctx context.Context, event models.DetectionEvent) (domain.IngestResult, error) {
	facilityID, idx, err := in.resolve(event)
	if err != nil {
		metrics.IncDetection(ResultInvalid)
		in.logger.Warn().Err(err).Str("camera_id", event.CameraID).Msg("dropping detection")
		return domain.IngestResult{Reason: ResultInvalid}, err
	}
	if event.ID == "" {
		event.ID = eventID(event, facilityID, idx)
	}

	result := domain.IngestResult{FacilityID: facilityID, SlotIndex: idx}

	w := in.window(slotKey{facilityID, idx})
	w.mu.Lock()
	defer w.mu.Unlock()

	if !event.Timestamp.After(w.lastSeen) {
		result.Reason = ResultDuplicate
		metrics.IncDetection(result.Reason)
		return result, nil
	}
	w.lastSeen = event.Timestamp

	if in.log != nil {
		if err := in.log.AppendDetection(ctx, event, facilityID, idx); err != nil {
			in.logger.Error().Err(err).Str("event_id", event.ID).Msg("append detection log")
		}
	}

	if event.Confidence < in.cfg.MinConfidence {
		result.Reason = ResultLowConfidence
		metrics.IncDetection(result.Reason)
		return result, nil
	}
	w.observe(event.Status, event.Timestamp, in.cfg.Window)

	consensus, ok := w.consensus(in.cfg.Policy, in.cfg.Window)
	if !ok || !w.dwelled(consensus, event.Timestamp, in.cfg.MinDwell) {
		result.Reason = ResultPending
		metrics.IncDetection(result.Reason)
		return result, nil
	}

	slot, err := in.registry.Slot(facilityID, idx)
	if err != nil {
		return result, err
	}
	switch {
	case slot.Status == consensus:
		result.Reason = ResultUnchanged
	case slot.Status == models.SlotBlocked:
		result.Reason = ResultBlocked
	default:
		res, err := in.registry.Transition(facilityID, idx, consensus, event.Timestamp, models.SourceCamera)
		switch {
		case errors.Is(err, domain.ErrOccupancyBookingConflict):
			result.Reason = ResultConflict
			in.reportConflict(ctx, w, slot, event)
		case err != nil:
			return result, err
		case res.Accepted:
			result.Applied = true
			result.Reason = ResultApplied
			w.reported = 0
		default:
			result.Reason = res.Reason
		}
	}

	metrics.IncDetection(result.Reason)
	return result, nil
}

func (in *Ingestor) resolve(event models.DetectionEvent) (string, int, error) {
	if event.CameraID == "" {
		return "", 0, fmt.Errorf("missing camera id: %w", domain.ErrInvalidDetectionEvent)
	}
	if event.Status != models.SlotFree && event.Status != models.SlotOccupied {
		return "", 0, fmt.Errorf("status %q: %w", event.Status, domain.ErrInvalidDetectionEvent)
	}
	if event.Confidence < 0 || event.Confidence > 1 {
		return "", 0, fmt.Errorf("confidence %v: %w", event.Confidence, domain.ErrInvalidDetectionEvent)
	}
	if event.Timestamp.IsZero() {
		return "", 0, fmt.Errorf("missing timestamp: %w", domain.ErrInvalidDetectionEvent)
	}

	ref, ok := in.cameras[event.CameraID]
	if !ok {
		return "", 0, fmt.Errorf("unknown camera %s: %w", event.CameraID, domain.ErrInvalidDetectionEvent)
	}

	var idx int
	switch {
	case ref.binding.SlotIndex != nil:
		idx = *ref.binding.SlotIndex
	case event.SlotIndex != nil:
		idx = *event.SlotIndex
	default:
		return "", 0, fmt.Errorf("camera %s needs an explicit slot: %w", event.CameraID, domain.ErrInvalidDetectionEvent)
	}

	if _, err := in.registry.Slot(ref.facilityID, idx); err != nil {
		return "", 0, fmt.Errorf("camera %s slot %d: %w", event.CameraID, idx, domain.ErrInvalidDetectionEvent)
	}
	return ref.facilityID, idx, nil
}

func (in *Ingestor) window(key slotKey) *slotWindow {
	in.mu.Lock()
	defer in.mu.Unlock()
	w, ok := in.windows[key]
	if !ok {
		w = &slotWindow{}
		in.windows[key] = w
	}
	return w
}

// eventID derives a stable id for events the camera sent without one, so a
// re-delivered frame maps onto the same audit log row.
func eventID(event models.DetectionEvent, facilityID string, idx int) string {
	name := fmt.Sprintf("%s|%s|%d|%s|%d", event.CameraID, facilityID, idx, event.Status, event.Timestamp.UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// reportConflict records one anomaly per confirmed or checked-in booking;
// repeated frames against the same booking and frames against a booking still
// in HOLD are not recorded. Caller holds w.mu.
func (in *Ingestor) reportConflict(ctx context.Context, w *slotWindow, slot models.Slot, event models.DetectionEvent) {
	if w.reported == slot.BookingID {
		return
	}
	if in.bookings != nil {
		booking, err := in.bookings.GetBooking(ctx, slot.BookingID)
		switch {
		case err != nil:
			in.logger.Warn().Err(err).Int64("booking_id", slot.BookingID).Msg("look up conflicting booking")
		case booking.Status == models.BookingHold:
			in.logger.Debug().Int64("booking_id", slot.BookingID).Str("camera_id", event.CameraID).Msg("camera reports free on a held slot")
			return
		}
	}

	anomaly := &models.Anomaly{
		Kind:           models.AnomalyOccupancyBookingConflict,
		FacilityID:     slot.FacilityID,
		SlotIndex:      slot.Index,
		BookingID:      slot.BookingID,
		CameraID:       event.CameraID,
		ObservedStatus: event.Status,
		DetectedAt:     event.Timestamp,
	}
	if in.log != nil {
		if err := in.log.RecordAnomaly(ctx, anomaly); err != nil {
			in.logger.Error().Err(err).Str("facility_id", slot.FacilityID).Int("slot", slot.Index).Msg("record anomaly")
			return
		}
	}
	w.reported = slot.BookingID
	metrics.IncAnomaly()

	if in.bus != nil {
		if err := in.bus.PublishJSON(events.EventAnomalyDetected, anomaly); err != nil {
			in.logger.Error().Err(err).Msg("publish anomaly")
		}
	}

	in.logger.Warn().
		Str("facility_id", slot.FacilityID).
		Int("slot", slot.Index).
		Int64("booking_id", slot.BookingID).
		Str("camera_id", event.CameraID).
		Msg("camera reports free on a booked slot")
}

func (w *slotWindow) observe(status models.SlotStatus, at time.Time, size int) {
	w.recent = append(w.recent, status)
	if len(w.recent) > size {
		w.recent = w.recent[len(w.recent)-size:]
	}
	if status != w.run {
		w.run = status
		w.runStart = at
	}
}

// consensus reports the status the full window agrees on under policy.
func (w *slotWindow) consensus(policy string, size int) (models.SlotStatus, bool) {
	if len(w.recent) < size {
		return "", false
	}

	counts := make(map[models.SlotStatus]int, 2)
	for _, s := range w.recent {
		counts[s]++
	}

	for status, n := range counts {
		switch policy {
		case models.PolicyMajority:
			if n*2 > size {
				return status, true
			}
		default:
			if n == size {
				return status, true
			}
		}
	}
	return "", false
}

func (w *slotWindow) dwelled(status models.SlotStatus, at time.Time, minDwell time.Duration) bool {
	if minDwell <= 0 {
		return true
	}
	return w.run == status && at.Sub(w.runStart) >= minDwell
}
