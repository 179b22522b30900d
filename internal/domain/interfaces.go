package domain

import (
	"context"
	"time"

	"parkwise/internal/models"
)

// Tx is the set of booking writes that must commit or roll back together.
type Tx interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	UpdateBooking(ctx context.Context, booking *models.Booking) error
}

type BookingStore interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListExpiredHolds(ctx context.Context, now time.Time) ([]*models.Booking, error)
	ListActiveBookings(ctx context.Context) ([]*models.Booking, error)
	ListUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error)
	GetVehicle(ctx context.Context, registration string) (*models.Vehicle, error)
}

type VehicleStore interface {
	GetVehicle(ctx context.Context, registration string) (*models.Vehicle, error)
	CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error
	SetVehicleVerified(ctx context.Context, registration string, verified bool) error
}

type SlotStore interface {
	SaveSlot(ctx context.Context, slot models.Slot) error
}

type DetectionLog interface {
	AppendDetection(ctx context.Context, event models.DetectionEvent, facilityID string, slotIndex int) error
	RecordAnomaly(ctx context.Context, anomaly *models.Anomaly) error
}

type AnomalyStore interface {
	ListAnomalies(ctx context.Context, openOnly bool) ([]*models.Anomaly, error)
	ResolveAnomaly(ctx context.Context, id int64) error
}

// SlotRegistry is the authoritative slot state.
type SlotRegistry interface {
	Facility(facilityID string) (*models.Facility, error)
	Facilities() []*models.Facility
	Status(facilityID string, slotIndex int) (models.SlotStatus, error)
	Transition(facilityID string, slotIndex int, to models.SlotStatus, at time.Time, source models.TransitionSource) (models.TransitionResult, error)
	Snapshot(facilityID string) ([]models.Slot, error)
	Claim(facilityID string, slotIndex int, at time.Time, commit func() (int64, error)) error
	Release(facilityID string, slotIndex int, bookingID int64, at time.Time) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type PaymentGateway interface {
	Charge(ctx context.Context, bookingID int64, amount float64) error
	Refund(ctx context.Context, bookingID int64, amount float64) error
}

// PredictionRequest is sent to the external arrival-time predictor.
type PredictionRequest struct {
	UserLatitude       float64
	UserLongitude      float64
	FacilityID         string
	PlannedArrivalTime *time.Time
}

type Predictor interface {
	Predict(ctx context.Context, req PredictionRequest) (*models.Prediction, error)
}

type PredictionCache interface {
	GetPrediction(ctx context.Context, key string) (*models.Prediction, error)
	SetPrediction(ctx context.Context, key string, prediction *models.Prediction) error
}

// RateLimitStore counts requests per key in fixed windows.
type RateLimitStore interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type BookingService interface {
	RequestHold(ctx context.Context, req HoldRequest) (*models.Booking, error)
	ConfirmPayment(ctx context.Context, bookingID int64, mode models.PaymentMode) (*models.Booking, error)
	CheckIn(ctx context.Context, bookingID int64) (*models.Booking, error)
	CheckOut(ctx context.Context, bookingID int64, actual time.Time) (*models.Charge, error)
	Cancel(ctx context.Context, bookingID int64) (*models.Booking, error)
	ExpireStaleHolds(ctx context.Context) (int, error)
	GetBooking(ctx context.Context, bookingID int64) (*models.Booking, error)
	ListUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error)
}

// HoldRequest asks for a slot reservation. SlotIndex nil means any free slot.
type HoldRequest struct {
	UserID          int64
	VehicleID       string
	FacilityID      string
	SlotIndex       *int
	StartTime       time.Time
	DurationMinutes int
}

type VehicleService interface {
	Register(ctx context.Context, vehicle *models.Vehicle) error
	Verify(ctx context.Context, registration string) (*models.Vehicle, error)
	Get(ctx context.Context, registration string) (*models.Vehicle, error)
}

type OccupancyIngestor interface {
	Ingest(ctx context.Context, event models.DetectionEvent) (IngestResult, error)
}

// IngestResult reports whether a detection changed slot state.
type IngestResult struct {
	Applied    bool   `json:"applied"`
	Reason     string `json:"reason,omitempty"`
	FacilityID string `json:"facility_id,omitempty"`
	SlotIndex  int    `json:"slot_number,omitempty"`
}

type AvailabilityService interface {
	Counts(facilityID string) (models.Counts, error)
	Nearby(ctx context.Context, q NearbyQuery) []NearbyFacility
}

type NearbyQuery struct {
	Latitude           float64
	Longitude          float64
	RadiusKm           float64
	PlannedArrivalTime *time.Time
}

type NearbyFacility struct {
	Facility   *models.Facility   `json:"facility"`
	DistanceKm float64            `json:"distance_km"`
	Counts     models.Counts      `json:"counts"`
	Prediction *models.Prediction `json:"prediction,omitempty"`
}
