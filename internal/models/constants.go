package models

import "time"

const (
	// DefaultDetectionWindow is the number of consecutive frames that must agree
	// before a camera may flip a slot.
	DefaultDetectionWindow = 3

	// DefaultDetectionInterval is the camera feed cadence.
	DefaultDetectionInterval = 3 * time.Second

	// DefaultHoldGrace is how long an unpaid hold keeps its slot.
	DefaultHoldGrace = 10 * time.Minute

	// DefaultSweepInterval is how often stale holds are expired.
	DefaultSweepInterval = 30 * time.Second

	// DefaultPredictionTTL is how long a cached prediction is served as fresh.
	DefaultPredictionTTL = 5 * time.Minute

	// DefaultWatchBuffer is the per-subscriber buffer of the slot change stream.
	DefaultWatchBuffer = 64

	// EarthRadiusKm is the mean Earth radius used by the haversine formula.
	EarthRadiusKm = 6371.0
)

const (
	PolicyUnanimous = "unanimous"
	PolicyMajority  = "majority"
)
