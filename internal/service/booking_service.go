package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parkwise/internal/billing"
	"parkwise/internal/clock"
	"parkwise/internal/domain"
	"parkwise/internal/events"
	"parkwise/internal/logging"
	"parkwise/internal/metrics"
	"parkwise/internal/models"

	"github.com/rs/zerolog"
)

type BookingConfig struct {
	HoldGrace          time.Duration
	MaxDurationMinutes int
}

// BookingService owns the booking lifecycle. Slot ownership goes through the
// registry; every mutation of an existing booking is serialized per booking id.
type BookingService struct {
	store    domain.BookingStore
	registry domain.SlotRegistry
	payments domain.PaymentGateway
	eventBus domain.EventPublisher
	clock    clock.Clock
	config   BookingConfig
	locks    *keyedMutex
	logger   *zerolog.Logger
}

func NewBookingService(
	store domain.BookingStore,
	registry domain.SlotRegistry,
	payments domain.PaymentGateway,
	eventBus domain.EventPublisher,
	clk clock.Clock,
	cfg BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	if cfg.HoldGrace <= 0 {
		cfg.HoldGrace = models.DefaultHoldGrace
	}
	if cfg.MaxDurationMinutes <= 0 {
		cfg.MaxDurationMinutes = 24 * 60
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &BookingService{
		store:    store,
		registry: registry,
		payments: payments,
		eventBus: eventBus,
		clock:    clk,
		config:   cfg,
		locks:    newKeyedMutex(),
		logger:   logging.Component(logger, "bookings"),
	}
}

var _ domain.BookingService = (*BookingService)(nil)

func (s *BookingService) validateHold(req *domain.HoldRequest) error {
	req.FacilityID = strings.TrimSpace(req.FacilityID)
	req.VehicleID = models.NormalizeRegistration(req.VehicleID)

	switch {
	case req.UserID <= 0:
		return fmt.Errorf("user id is required: %w", domain.ErrInvalidRequest)
	case req.FacilityID == "":
		return fmt.Errorf("facility id is required: %w", domain.ErrInvalidRequest)
	case req.VehicleID == "":
		return fmt.Errorf("vehicle id is required: %w", domain.ErrInvalidRequest)
	case req.DurationMinutes <= 0:
		return fmt.Errorf("duration must be positive: %w", domain.ErrInvalidRequest)
	case req.DurationMinutes > s.config.MaxDurationMinutes:
		return fmt.Errorf("duration exceeds %d minutes: %w", s.config.MaxDurationMinutes, domain.ErrInvalidRequest)
	}
	return nil
}

func (s *BookingService) checkVehicle(ctx context.Context, userID int64, registration string) error {
	vehicle, err := s.store.GetVehicle(ctx, registration)
	if errors.Is(err, domain.ErrVehicleNotFound) {
		return fmt.Errorf("vehicle %s is not registered: %w", registration, domain.ErrVehicleNotVerified)
	}
	if err != nil {
		return err
	}
	if !vehicle.Verified {
		return fmt.Errorf("vehicle %s: %w", registration, domain.ErrVehicleNotVerified)
	}
	if vehicle.UserID != userID {
		return fmt.Errorf("vehicle %s belongs to another user: %w", registration, domain.ErrVehicleNotVerified)
	}
	return nil
}

// candidateSlots returns the requested slot, or every FREE unheld slot in
// index order when none was requested.
func (s *BookingService) candidateSlots(facility *models.Facility, requested *int) ([]int, error) {
	if requested != nil {
		if !facility.ValidSlot(*requested) {
			return nil, fmt.Errorf("facility %s slot %d: %w", facility.ID, *requested, domain.ErrSlotNotFound)
		}
		return []int{*requested}, nil
	}

	slots, err := s.registry.Snapshot(facility.ID)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, slot := range slots {
		if slot.Status == models.SlotFree && slot.BookingID == 0 {
			out = append(out, slot.Index)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("facility %s has no free slots: %w", facility.ID, domain.ErrSlotUnavailable)
	}
	return out, nil
}

// RequestHold reserves a slot for a verified vehicle. The booking row is
// inserted inside the registry claim so no two holds can win the same slot.
func (s *BookingService) RequestHold(ctx context.Context, req domain.HoldRequest) (*models.Booking, error) {
	if err := s.validateHold(&req); err != nil {
		return nil, err
	}

	facility, err := s.registry.Facility(req.FacilityID)
	if err != nil {
		return nil, err
	}
	if err := s.checkVehicle(ctx, req.UserID, req.VehicleID); err != nil {
		return nil, err
	}

	candidates, err := s.candidateSlots(facility, req.SlotIndex)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	start := req.StartTime
	if start.IsZero() {
		start = now
	}

	var lastErr error
	for _, idx := range candidates {
		booking := &models.Booking{
			UserID:          req.UserID,
			VehicleID:       req.VehicleID,
			FacilityID:      facility.ID,
			SlotIndex:       idx,
			BookedStart:     start,
			BookedEnd:       start.Add(time.Duration(req.DurationMinutes) * time.Minute),
			DurationMinutes: req.DurationMinutes,
			BaseAmount:      billing.BaseAmount(req.DurationMinutes, facility.HourlyRate),
			PaymentStatus:   models.PaymentPending,
			Status:          models.BookingHold,
			HoldExpiresAt:   now.Add(s.config.HoldGrace),
			CreatedAt:       now,
		}

		err := s.registry.Claim(facility.ID, idx, now, func() (int64, error) {
			err := s.store.WithTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
				return tx.CreateBooking(ctx, booking)
			})
			return booking.ID, err
		})
		if err == nil {
			metrics.IncBookingTransition(string(models.BookingHold))
			s.publishEvent(events.EventBookingHeld, booking, now)
			s.logger.Info().
				Int64("booking_id", booking.ID).
				Str("facility_id", booking.FacilityID).
				Int("slot", booking.SlotIndex).
				Time("hold_expires_at", booking.HoldExpiresAt).
				Msg("Slot held")
			return booking, nil
		}
		if req.SlotIndex != nil || !errors.Is(err, domain.ErrSlotUnavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// ConfirmPayment moves a HOLD to CONFIRMED. PREPAID bookings are charged the
// base amount first; a failed charge leaves the hold in place for a retry.
func (s *BookingService) ConfirmPayment(ctx context.Context, id int64, mode models.PaymentMode) (*models.Booking, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("payment mode %q: %w", mode, domain.ErrInvalidRequest)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingHold {
		return nil, fmt.Errorf("confirm booking %d in %s: %w", id, booking.Status, domain.ErrInvalidStateTransition)
	}

	now := s.clock.Now()
	if !now.Before(booking.HoldExpiresAt) {
		if err := s.expire(ctx, booking, now); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrHoldExpired)
	}

	booking.PaymentMode = mode
	charged := false
	if mode == models.PaymentPrepaid {
		if err := s.payments.Charge(ctx, id, booking.BaseAmount); err != nil {
			metrics.IncPaymentFailure("charge")
			booking.PaymentStatus = models.PaymentFailed
			if uerr := s.update(ctx, booking); uerr != nil {
				s.logger.Error().Err(uerr).Int64("booking_id", id).Msg("record failed payment")
			}
			return nil, fmt.Errorf("charge booking %d: %v: %w", id, err, domain.ErrPaymentFailed)
		}
		charged = true
		booking.PaymentStatus = models.PaymentCompleted
	} else {
		booking.PaymentStatus = models.PaymentPending
	}

	booking.Status = models.BookingConfirmed
	if err := s.update(ctx, booking); err != nil {
		if charged {
			s.refund(ctx, booking, booking.BaseAmount)
		}
		return nil, err
	}

	metrics.IncBookingTransition(string(booking.Status))
	s.publishEvent(events.EventBookingConfirmed, booking, now)
	return booking, nil
}

func (s *BookingService) CheckIn(ctx context.Context, id int64) (*models.Booking, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingConfirmed {
		return nil, fmt.Errorf("check in booking %d in %s: %w", id, booking.Status, domain.ErrInvalidStateTransition)
	}

	now := s.clock.Now()
	booking.Status = models.BookingCheckedIn
	booking.CheckedInAt = &now
	if err := s.update(ctx, booking); err != nil {
		return nil, err
	}

	metrics.IncBookingTransition(string(booking.Status))
	s.publishEvent(events.EventBookingCheckedIn, booking, now)
	return booking, nil
}

// CheckOut bills the stay and frees the slot. A zero actual time means now;
// a time before check-in is rejected.
func (s *BookingService) CheckOut(ctx context.Context, id int64, actual time.Time) (*models.Charge, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingCheckedIn {
		return nil, fmt.Errorf("check out booking %d in %s: %w", id, booking.Status, domain.ErrInvalidStateTransition)
	}

	facility, err := s.registry.Facility(booking.FacilityID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if actual.IsZero() {
		actual = now
	}
	if booking.CheckedInAt != nil && actual.Before(*booking.CheckedInAt) {
		return nil, fmt.Errorf("checkout %s before check-in %s: %w",
			actual.Format(time.RFC3339), booking.CheckedInAt.Format(time.RFC3339), domain.ErrInvalidRequest)
	}
	charge := billing.ComputeCharge(booking, facility, actual)

	due := charge.TotalAmount
	if booking.PaymentMode == models.PaymentPrepaid {
		due = charge.ExtraTimeAmount
	}
	if due > 0 {
		if err := s.payments.Charge(ctx, id, due); err != nil {
			metrics.IncPaymentFailure("charge")
			booking.PaymentStatus = models.PaymentFailed
			if uerr := s.update(ctx, booking); uerr != nil {
				s.logger.Error().Err(uerr).Int64("booking_id", id).Msg("record failed payment")
			}
			return nil, fmt.Errorf("charge booking %d: %v: %w", id, err, domain.ErrPaymentFailed)
		}
	}

	booking.BaseAmount = charge.BaseAmount
	booking.ExtraTimeAmount = charge.ExtraTimeAmount
	booking.TotalAmount = charge.TotalAmount
	booking.PaymentStatus = models.PaymentCompleted
	booking.Status = models.BookingCheckedOut
	booking.CheckedOutAt = &actual
	if err := s.update(ctx, booking); err != nil {
		return nil, err
	}

	s.release(booking, now)
	metrics.IncBookingTransition(string(booking.Status))
	s.publishEvent(events.EventBookingCheckedOut, booking, now)
	return &charge, nil
}

// Cancel ends a booking that has not checked in yet.
func (s *BookingService) Cancel(ctx context.Context, id int64) (*models.Booking, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.Status != models.BookingHold && booking.Status != models.BookingConfirmed {
		return nil, fmt.Errorf("cancel booking %d in %s: %w", id, booking.Status, domain.ErrInvalidStateTransition)
	}

	now := s.clock.Now()
	paid := booking.PaymentMode == models.PaymentPrepaid && booking.PaymentStatus == models.PaymentCompleted

	booking.Status = models.BookingCancelled
	if err := s.update(ctx, booking); err != nil {
		return nil, err
	}
	if paid {
		s.refund(ctx, booking, booking.BaseAmount)
	}

	s.release(booking, now)
	metrics.IncBookingTransition(string(booking.Status))
	s.publishEvent(events.EventBookingCancelled, booking, now)
	return booking, nil
}

// ExpireStaleHolds expires every HOLD past its grace window and returns how
// many were expired. Failures on one booking do not stop the sweep.
func (s *BookingService) ExpireStaleHolds(ctx context.Context) (int, error) {
	now := s.clock.Now()
	holds, err := s.store.ListExpiredHolds(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, h := range holds {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := s.expireOne(ctx, h.ID, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("Expired stale holds")
	}
	return expired, errors.Join(errs...)
}

func (s *BookingService) expireOne(ctx context.Context, id int64, now time.Time) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	booking, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return false, err
	}
	// confirmed or cancelled while queued
	if booking.Status != models.BookingHold || now.Before(booking.HoldExpiresAt) {
		return false, nil
	}
	if err := s.expire(ctx, booking, now); err != nil {
		return false, err
	}
	return true, nil
}

// expire must be called with the booking lock held.
func (s *BookingService) expire(ctx context.Context, booking *models.Booking, now time.Time) error {
	booking.Status = models.BookingExpired
	if err := s.update(ctx, booking); err != nil {
		return err
	}
	s.release(booking, now)
	metrics.IncBookingTransition(string(booking.Status))
	s.publishEvent(events.EventBookingExpired, booking, now)
	return nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

func (s *BookingService) ListUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	return s.store.ListUserBookings(ctx, userID)
}

func (s *BookingService) update(ctx context.Context, booking *models.Booking) error {
	return s.store.WithTransaction(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.UpdateBooking(ctx, booking)
	})
}

// release runs after the booking update committed.
func (s *BookingService) release(booking *models.Booking, at time.Time) {
	if err := s.registry.Release(booking.FacilityID, booking.SlotIndex, booking.ID, at); err != nil {
		s.logger.Warn().Err(err).
			Int64("booking_id", booking.ID).
			Str("facility_id", booking.FacilityID).
			Int("slot", booking.SlotIndex).
			Msg("Failed to release slot")
	}
}

func (s *BookingService) refund(ctx context.Context, booking *models.Booking, amount float64) {
	if amount <= 0 {
		return
	}
	if err := s.payments.Refund(ctx, booking.ID, amount); err != nil {
		metrics.IncPaymentFailure("refund")
		s.logger.Error().Err(err).Int64("booking_id", booking.ID).Float64("amount", amount).Msg("Refund failed")
	}
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, at time.Time) {
	if s.eventBus == nil {
		return
	}
	payload := events.BookingEventPayload{
		BookingID:   booking.ID,
		UserID:      booking.UserID,
		VehicleID:   booking.VehicleID,
		FacilityID:  booking.FacilityID,
		SlotIndex:   booking.SlotIndex,
		Status:      string(booking.Status),
		TotalAmount: booking.TotalAmount,
		At:          at,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("Failed to publish event")
	}
}
