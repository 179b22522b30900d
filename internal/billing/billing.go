package billing

import (
	"math"
	"time"

	"parkwise/internal/models"
)

// ComputeCharge prices a booking checked out at actual.
//
// Checkout at or before the booked end carries no overtime. Past the end,
// every started minute is billed at the hourly rate times the facility's
// overtime multiplier.
func ComputeCharge(booking *models.Booking, facility *models.Facility, actual time.Time) models.Charge {
	base := BaseAmount(booking.DurationMinutes, facility.HourlyRate)

	overtime := OvertimeMinutes(booking.BookedEnd, actual)
	extra := 0.0
	if overtime > 0 {
		extra = roundCents(float64(overtime) * facility.HourlyRate * facility.OvertimeMultiplier / 60)
	}

	return models.Charge{
		BaseAmount:      base,
		ExtraTimeAmount: extra,
		TotalAmount:     roundCents(base + extra),
		OvertimeMinutes: overtime,
	}
}

// BaseAmount is the price of the booked window.
func BaseAmount(durationMinutes int, hourlyRate float64) float64 {
	return roundCents(float64(durationMinutes) * hourlyRate / 60)
}

// OvertimeMinutes rounds any time past end up to whole minutes.
func OvertimeMinutes(end, actual time.Time) int {
	if !actual.After(end) {
		return 0
	}
	over := actual.Sub(end)
	minutes := over / time.Minute
	if over%time.Minute != 0 {
		minutes++
	}
	return int(minutes)
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
