package models

import "time"

// CameraBinding maps a camera to the facility it watches. SlotIndex is set for
// cameras that watch a single slot; zone cameras leave it nil and events must
// name the slot explicitly.
type CameraBinding struct {
	ID        string `yaml:"id" json:"id"`
	SlotIndex *int   `yaml:"slot_index,omitempty" json:"slot_index,omitempty"`
}

type Facility struct {
	ID                 string          `yaml:"id" json:"id"`
	Name               string          `yaml:"name" json:"name"`
	Latitude           float64         `yaml:"latitude" json:"latitude"`
	Longitude          float64         `yaml:"longitude" json:"longitude"`
	TotalSlots         int             `yaml:"total_slots" json:"total_slots"`
	HourlyRate         float64         `yaml:"hourly_rate" json:"hourly_rate"`
	OvertimeMultiplier float64         `yaml:"overtime_multiplier" json:"overtime_multiplier"`
	Covered            bool            `yaml:"covered" json:"covered"`
	Security           bool            `yaml:"security" json:"security"`
	EVCharging         bool            `yaml:"ev_charging" json:"ev_charging"`
	ALPREnabled        bool            `yaml:"alpr_enabled" json:"alpr_enabled"`
	Cameras            []CameraBinding `yaml:"cameras" json:"cameras,omitempty"`
	CreatedAt          time.Time       `yaml:"-" json:"created_at"`
	UpdatedAt          time.Time       `yaml:"-" json:"updated_at"`
}

// Camera returns the binding for the given camera id.
func (f *Facility) Camera(cameraID string) (CameraBinding, bool) {
	for _, c := range f.Cameras {
		if c.ID == cameraID {
			return c, true
		}
	}
	return CameraBinding{}, false
}

// ValidSlot reports whether idx addresses a provisioned slot.
func (f *Facility) ValidSlot(idx int) bool {
	return idx >= 1 && idx <= f.TotalSlots
}

// Counts is the live occupancy summary of a facility.
type Counts struct {
	Available int `json:"available_spots"`
	Occupied  int `json:"occupied_spots"`
	Blocked   int `json:"blocked_spots"`
	Total     int `json:"total_spots"`
}

// Prediction is the advisory output of the arrival-time predictor.
type Prediction struct {
	FacilityID             string    `json:"facility_id"`
	AvailabilityPercentage float64   `json:"availability_percentage"`
	EstimatedArrivalTime   time.Time `json:"estimated_arrival_time"`
	Confidence             float64   `json:"confidence"`
	FetchedAt              time.Time `json:"fetched_at"`
	Stale                  bool      `json:"stale"`
}
