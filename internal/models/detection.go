package models

import "time"

// DetectionEvent is a classified observation from an ALPR/CV camera.
type DetectionEvent struct {
	ID         string     `json:"id,omitempty"`
	CameraID   string     `json:"camera_id"`
	SlotIndex  *int       `json:"slot_index,omitempty"`
	Status     SlotStatus `json:"status"`
	Confidence float64    `json:"confidence"`
	Timestamp  time.Time  `json:"timestamp"`
}

const AnomalyOccupancyBookingConflict = "occupancy_booking_conflict"

// Anomaly is a sensor/reservation disagreement kept for operator review.
type Anomaly struct {
	ID             int64      `json:"id"`
	Kind           string     `json:"kind"`
	FacilityID     string     `json:"facility_id"`
	SlotIndex      int        `json:"slot_number"`
	BookingID      int64      `json:"booking_id,omitempty"`
	CameraID       string     `json:"camera_id"`
	ObservedStatus SlotStatus `json:"observed_status"`
	DetectedAt     time.Time  `json:"detected_at"`
	Resolved       bool       `json:"resolved"`
}
