package billing

import (
	"testing"
	"time"

	"parkwise/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestComputeCharge(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	facility := &models.Facility{ID: "f1", HourlyRate: 20, OvertimeMultiplier: 1.5}
	booking := &models.Booking{
		BookedStart:     start,
		BookedEnd:       start.Add(time.Hour),
		DurationMinutes: 60,
	}

	tests := []struct {
		name     string
		actual   time.Time
		extra    float64
		total    float64
		overtime int
	}{
		{name: "early", actual: start.Add(30 * time.Minute), extra: 0, total: 20},
		{name: "exactly at end", actual: booking.BookedEnd, extra: 0, total: 20},
		{name: "one minute late", actual: booking.BookedEnd.Add(time.Minute), extra: 0.5, total: 20.5, overtime: 1},
		{name: "one second late rounds up", actual: booking.BookedEnd.Add(time.Second), extra: 0.5, total: 20.5, overtime: 1},
		{name: "fifteen minutes late", actual: booking.BookedEnd.Add(15 * time.Minute), extra: 7.5, total: 27.5, overtime: 15},
		{name: "fifteen and a half", actual: booking.BookedEnd.Add(15*time.Minute + 30*time.Second), extra: 8, total: 28, overtime: 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charge := ComputeCharge(booking, facility, tt.actual)
			assert.Equal(t, 20.0, charge.BaseAmount)
			assert.Equal(t, tt.extra, charge.ExtraTimeAmount)
			assert.Equal(t, tt.total, charge.TotalAmount)
			assert.Equal(t, tt.overtime, charge.OvertimeMinutes)
		})
	}
}

func TestBaseAmountRounding(t *testing.T) {
	assert.Equal(t, 3.33, BaseAmount(10, 20))
	assert.Equal(t, 0.0, BaseAmount(0, 20))
	assert.Equal(t, 45.0, BaseAmount(90, 30))
}

func TestNoMultiplierMeansNoOvertimeCharge(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	facility := &models.Facility{HourlyRate: 20}
	booking := &models.Booking{BookedEnd: start, DurationMinutes: 30}

	charge := ComputeCharge(booking, facility, start.Add(10*time.Minute))
	assert.Equal(t, 10, charge.OvertimeMinutes)
	assert.Equal(t, 0.0, charge.ExtraTimeAmount)
	assert.Equal(t, 10.0, charge.TotalAmount)
}
