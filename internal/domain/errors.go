package domain

import "errors"

var (
	ErrSlotUnavailable          = errors.New("slot unavailable")
	ErrInvalidDetectionEvent    = errors.New("invalid detection event")
	ErrStaleTransition          = errors.New("stale transition")
	ErrOccupancyBookingConflict = errors.New("camera reports free on a booked slot")
	ErrPaymentFailed            = errors.New("payment failed")
	ErrBookingNotFound          = errors.New("booking not found")
	ErrInvalidStateTransition   = errors.New("invalid booking state transition")
	ErrVehicleNotVerified       = errors.New("vehicle not verified")
	ErrVehicleNotFound          = errors.New("vehicle not found")
	ErrVehicleExists            = errors.New("vehicle already registered")
	ErrFacilityNotFound         = errors.New("facility not found")
	ErrSlotNotFound             = errors.New("slot not found")
	ErrHoldExpired              = errors.New("hold expired")
	ErrInvalidRequest           = errors.New("invalid request")
	ErrConcurrentModification   = errors.New("concurrent modification")
	ErrAnomalyNotFound          = errors.New("anomaly not found")
)
