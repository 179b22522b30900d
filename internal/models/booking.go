package models

import "time"

type BookingStatus string

const (
	BookingHold       BookingStatus = "HOLD"
	BookingConfirmed  BookingStatus = "CONFIRMED"
	BookingCheckedIn  BookingStatus = "CHECKED_IN"
	BookingCheckedOut BookingStatus = "CHECKED_OUT"
	BookingCancelled  BookingStatus = "CANCELLED"
	BookingExpired    BookingStatus = "EXPIRED"
)

// Active reports whether a booking in this status still owns its slot.
func (s BookingStatus) Active() bool {
	switch s {
	case BookingHold, BookingConfirmed, BookingCheckedIn:
		return true
	}
	return false
}

// Terminal reports whether the booking is immutable history.
func (s BookingStatus) Terminal() bool {
	switch s {
	case BookingCheckedOut, BookingCancelled, BookingExpired:
		return true
	}
	return false
}

type PaymentMode string

const (
	PaymentPrepaid   PaymentMode = "PREPAID"
	PaymentPayAtExit PaymentMode = "PAY_AT_EXIT"
)

func (m PaymentMode) Valid() bool {
	return m == PaymentPrepaid || m == PaymentPayAtExit
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type Booking struct {
	ID              int64         `json:"id"`
	UserID          int64         `json:"user_id"`
	VehicleID       string        `json:"vehicle_id"`
	FacilityID      string        `json:"facility_id"`
	SlotIndex       int           `json:"slot_index"`
	BookedStart     time.Time     `json:"booked_start_time"`
	BookedEnd       time.Time     `json:"booked_end_time"`
	DurationMinutes int           `json:"booked_duration"`
	BaseAmount      float64       `json:"base_amount"`
	ExtraTimeAmount float64       `json:"extra_time_amount"`
	TotalAmount     float64       `json:"total_amount"`
	PaymentMode     PaymentMode   `json:"payment_mode,omitempty"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	Status          BookingStatus `json:"status"`
	HoldExpiresAt   time.Time     `json:"hold_expires_at"`
	CheckedInAt     *time.Time    `json:"checked_in_at,omitempty"`
	CheckedOutAt    *time.Time    `json:"checked_out_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Version         int64         `json:"version"`
}

// Charge is the result of a checkout billing calculation.
type Charge struct {
	BaseAmount      float64 `json:"base_amount"`
	ExtraTimeAmount float64 `json:"extra_time_amount"`
	TotalAmount     float64 `json:"total_amount"`
	OvertimeMinutes int     `json:"overtime_minutes"`
}
