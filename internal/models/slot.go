package models

import "time"

type SlotStatus string

const (
	SlotFree     SlotStatus = "FREE"
	SlotOccupied SlotStatus = "OCCUPIED"
	SlotBlocked  SlotStatus = "BLOCKED"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotFree, SlotOccupied, SlotBlocked:
		return true
	}
	return false
}

// TransitionSource identifies who asked for a slot status change.
type TransitionSource string

const (
	SourceCamera   TransitionSource = "camera"
	SourceBooking  TransitionSource = "booking"
	SourceOperator TransitionSource = "operator"
)

type Slot struct {
	FacilityID  string           `json:"facility_id"`
	Index       int              `json:"slot_number"`
	CameraID    string           `json:"camera_id,omitempty"`
	Status      SlotStatus       `json:"status"`
	LastUpdated time.Time        `json:"last_updated"`
	Source      TransitionSource `json:"source,omitempty"`
	BookingID   int64            `json:"booking_id,omitempty"`
}

// SlotChange is published for every accepted slot transition.
type SlotChange struct {
	FacilityID string           `json:"facility_id"`
	SlotIndex  int              `json:"slot_number"`
	From       SlotStatus       `json:"from"`
	To         SlotStatus       `json:"to"`
	At         time.Time        `json:"at"`
	Source     TransitionSource `json:"source"`
	BookingID  int64            `json:"booking_id,omitempty"`
}

// TransitionResult reports whether the registry applied a transition.
type TransitionResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
