package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"parkwise/internal/clock"
	"parkwise/internal/config"
	"parkwise/internal/domain"
	"parkwise/internal/logging"
	"parkwise/internal/metrics"
	"parkwise/internal/models"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes    = 1 << 20
	requestIDHeader = "X-Request-ID"
)

// SlotReader is the read side of the slot registry plus operator overrides.
type SlotReader interface {
	Facility(facilityID string) (*models.Facility, error)
	Facilities() []*models.Facility
	Snapshot(facilityID string) ([]models.Slot, error)
	Transition(facilityID string, slotIndex int, to models.SlotStatus, at time.Time, source models.TransitionSource) (models.TransitionResult, error)
	Watch(facilityID string) (<-chan models.SlotChange, func(), error)
}

type ReportExporter interface {
	WriteAnomalies(ctx context.Context, w io.Writer, openOnly bool) error
	SaveBookings(ctx context.Context, from, to time.Time) (string, error)
}

type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// Deps are the services behind the HTTP API. Reports, Quota and Health are
// optional.
type Deps struct {
	Slots        SlotReader
	Availability domain.AvailabilityService
	Bookings     domain.BookingService
	Vehicles     domain.VehicleService
	Ingestor     domain.OccupancyIngestor
	Anomalies    domain.AnomalyStore
	Reports      ReportExporter
	Quota        domain.RateLimitStore
	Health       HealthChecker
	Clock        clock.Clock
}

// HTTPServer exposes the parking API.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if deps.Clock == nil {
		deps.Clock = clock.NewRealClock()
	}
	srv := &HTTPServer{
		cfg:    cfg,
		deps:   deps,
		logger: logging.Component(logger, "http"),
	}
	srv.auth = NewHTTPAuth(cfg, deps.Quota, srv.logger)

	mux := http.NewServeMux()
	srv.routes(mux)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}
	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/v1/facilities", s.handleFacilities)
	mux.HandleFunc("GET /api/v1/facilities/nearby", s.handleNearby)
	mux.HandleFunc("GET /api/v1/facilities/{id}/slots", s.handleSlots)
	mux.HandleFunc("PUT /api/v1/facilities/{id}/slots/{slot}", s.handleSetSlot)
	mux.HandleFunc("GET /api/v1/facilities/{id}/watch", s.handleWatch)

	mux.HandleFunc("POST /api/v1/detections", s.handleDetection)

	mux.HandleFunc("GET /api/v1/bookings", s.handleUserBookings)
	mux.HandleFunc("POST /api/v1/bookings", s.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}", s.handleGetBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("POST /api/v1/bookings/{id}/checkin", s.handleCheckIn)
	mux.HandleFunc("POST /api/v1/bookings/{id}/checkout", s.handleCheckOut)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", s.handleCancel)

	mux.HandleFunc("POST /api/v1/vehicles", s.handleRegisterVehicle)
	mux.HandleFunc("GET /api/v1/vehicles/{registration}", s.handleGetVehicle)
	mux.HandleFunc("POST /api/v1/vehicles/{registration}/verify", s.handleVerifyVehicle)

	mux.HandleFunc("GET /api/v1/anomalies", s.handleAnomalies)
	mux.HandleFunc("POST /api/v1/anomalies/{id}/resolve", s.handleResolveAnomaly)
	mux.HandleFunc("GET /api/v1/reports/anomalies.xlsx", s.handleAnomalyReport)
	mux.HandleFunc("POST /api/v1/reports/bookings", s.handleBookingReport)
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loggingMiddleware tags each request with an id and a request-scoped logger.
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		reqLogger := s.logger.With().Str("request_id", requestID).Logger()
		r = r.WithContext(reqLogger.WithContext(r.Context()))

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		reqLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidDetectionEvent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrBookingNotFound),
		errors.Is(err, domain.ErrFacilityNotFound),
		errors.Is(err, domain.ErrSlotNotFound),
		errors.Is(err, domain.ErrVehicleNotFound),
		errors.Is(err, domain.ErrAnomalyNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSlotUnavailable),
		errors.Is(err, domain.ErrInvalidStateTransition),
		errors.Is(err, domain.ErrHoldExpired),
		errors.Is(err, domain.ErrStaleTransition),
		errors.Is(err, domain.ErrOccupancyBookingConflict),
		errors.Is(err, domain.ErrVehicleExists),
		errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, domain.ErrVehicleNotVerified):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", domain.ErrInvalidRequest)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer: %w", name, domain.ErrInvalidRequest)
	}
	return id, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
