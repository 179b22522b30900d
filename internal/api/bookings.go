package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parkwise/internal/domain"
	"parkwise/internal/models"
)

type createBookingRequest struct {
	UserID          int64     `json:"user_id"`
	VehicleID       string    `json:"vehicle_id"`
	FacilityID      string    `json:"facility_id"`
	SlotNumber      *int      `json:"slot_number,omitempty"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

type confirmRequest struct {
	PaymentMode models.PaymentMode `json:"payment_mode"`
}

type checkoutResponse struct {
	Booking *models.Booking `json:"booking"`
	Charge  *models.Charge  `json:"charge"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	booking, err := s.deps.Bookings.RequestHold(r.Context(), domain.HoldRequest{
		UserID:          body.UserID,
		VehicleID:       body.VehicleID,
		FacilityID:      body.FacilityID,
		SlotIndex:       body.SlotNumber,
		StartTime:       body.StartTime,
		DurationMinutes: body.DurationMinutes,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, err := s.deps.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleUserBookings(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("user_id")), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	bookings, err := s.deps.Bookings.ListUserBookings(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var body confirmRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, err := s.deps.Bookings.ConfirmPayment(r.Context(), id, body.PaymentMode)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, s.deps.Bookings.CheckIn)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.bookingAction(w, r, s.deps.Bookings.Cancel)
}

// handleCheckOut bills against the server clock; clients cannot supply the
// checkout time.
func (s *HTTPServer) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	charge, err := s.deps.Bookings.CheckOut(r.Context(), id, s.deps.Clock.Now())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, err := s.deps.Bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Booking: booking, Charge: charge})
}

func (s *HTTPServer) bookingAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id int64) (*models.Booking, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, err := action(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type registerVehicleRequest struct {
	Registration string `json:"registration"`
	UserID       int64  `json:"user_id"`
	OwnerName    string `json:"owner_name"`
}

func (s *HTTPServer) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	var body registerVehicleRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	vehicle := &models.Vehicle{
		Registration: body.Registration,
		UserID:       body.UserID,
		OwnerName:    body.OwnerName,
	}
	if err := s.deps.Vehicles.Register(r.Context(), vehicle); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, vehicle)
}

func (s *HTTPServer) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	vehicle, err := s.deps.Vehicles.Get(r.Context(), r.PathValue("registration"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}

func (s *HTTPServer) handleVerifyVehicle(w http.ResponseWriter, r *http.Request) {
	registration := strings.TrimSpace(r.PathValue("registration"))
	if registration == "" {
		s.writeServiceError(w, r, fmt.Errorf("registration is required: %w", domain.ErrInvalidRequest))
		return
	}
	vehicle, err := s.deps.Vehicles.Verify(r.Context(), registration)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vehicle)
}
