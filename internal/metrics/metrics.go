package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "parkwise"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	detections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_events_total",
			Help:      "Camera detection events by ingest outcome.",
		},
		[]string{"result"},
	)

	slotTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_transitions_total",
			Help:      "Accepted slot status transitions by source.",
		},
		[]string{"source"},
	)

	anomalies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "occupancy_booking_conflicts_total",
			Help:      "Camera reports that contradicted an active booking.",
		},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking lifecycle transitions by target status.",
		},
		[]string{"status"},
	)

	paymentFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_failures_total",
			Help:      "Failed gateway calls by operation.",
		},
		[]string{"operation"},
	)

	predictorRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictor_requests_total",
			Help:      "Arrival predictor lookups by result.",
		},
		[]string{"result"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	availableSlots = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "available_slots",
			Help:      "Free slots per facility.",
		},
		[]string{"facility"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			detections,
			slotTransitions,
			anomalies,
			bookingTransitions,
			paymentFailures,
			predictorRequests,
			breakerState,
			availableSlots,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncDetection(result string) {
	detections.WithLabelValues(result).Inc()
}

func IncSlotTransition(source string) {
	slotTransitions.WithLabelValues(source).Inc()
}

func IncAnomaly() {
	anomalies.Inc()
}

func IncBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

func IncPaymentFailure(operation string) {
	paymentFailures.WithLabelValues(operation).Inc()
}

func IncPredictor(result string) {
	predictorRequests.WithLabelValues(result).Inc()
}

// SetAvailable records the current free slot count of a facility.
func SetAvailable(facilityID string, n int) {
	availableSlots.WithLabelValues(facilityID).Set(float64(n))
}

func SetBreakerState(name string, state float64) {
	breakerState.WithLabelValues(name).Set(state)
}
