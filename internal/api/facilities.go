package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parkwise/internal/domain"
	"parkwise/internal/models"
)

type facilityView struct {
	*models.Facility
	models.Counts
}

type slotView struct {
	SlotNumber  int               `json:"slot_number"`
	Status      models.SlotStatus `json:"status"`
	LastUpdated time.Time         `json:"last_updated"`
}

type slotsResponse struct {
	FacilityID string     `json:"facility_id"`
	Slots      []slotView `json:"slots"`
	Available  int        `json:"available_spots"`
	Total      int        `json:"total_spots"`
}

func (s *HTTPServer) handleFacilities(w http.ResponseWriter, r *http.Request) {
	facilities := s.deps.Slots.Facilities()
	out := make([]facilityView, 0, len(facilities))
	for _, f := range facilities {
		counts, err := s.deps.Availability.Counts(f.ID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		out = append(out, facilityView{Facility: f, Counts: counts})
	}
	writeJSON(w, http.StatusOK, map[string]any{"facilities": out})
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	facilityID := r.PathValue("id")
	slots, err := s.deps.Slots.Snapshot(facilityID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := slotsResponse{
		FacilityID: facilityID,
		Slots:      make([]slotView, 0, len(slots)),
		Total:      len(slots),
	}
	for _, slot := range slots {
		resp.Slots = append(resp.Slots, slotView{
			SlotNumber:  slot.Index,
			Status:      slot.Status,
			LastUpdated: slot.LastUpdated,
		})
		if slot.Status == models.SlotFree {
			resp.Available++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleNearby(w http.ResponseWriter, r *http.Request) {
	q, err := parseNearbyQuery(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facilities": s.deps.Availability.Nearby(r.Context(), q)})
}

func parseNearbyQuery(r *http.Request) (domain.NearbyQuery, error) {
	values := r.URL.Query()
	var q domain.NearbyQuery

	floats := []struct {
		name string
		dst  *float64
	}{
		{"lat", &q.Latitude},
		{"lon", &q.Longitude},
		{"radius_km", &q.RadiusKm},
	}
	for _, f := range floats {
		raw := strings.TrimSpace(values.Get(f.name))
		if raw == "" {
			return q, fmt.Errorf("%s is required: %w", f.name, domain.ErrInvalidRequest)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, fmt.Errorf("invalid %s: %w", f.name, domain.ErrInvalidRequest)
		}
		*f.dst = v
	}
	if q.Latitude < -90 || q.Latitude > 90 || q.Longitude < -180 || q.Longitude > 180 {
		return q, fmt.Errorf("coordinates out of range: %w", domain.ErrInvalidRequest)
	}

	if raw := strings.TrimSpace(values.Get("arrival")); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("invalid arrival; expected RFC3339: %w", domain.ErrInvalidRequest)
		}
		q.PlannedArrivalTime = &at
	}
	return q, nil
}

type setSlotRequest struct {
	Status models.SlotStatus `json:"status"`
}

// handleSetSlot applies an operator override such as blocking a slot for
// maintenance.
func (s *HTTPServer) handleSetSlot(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "slot must be an integer")
		return
	}

	var body setSlotRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	res, err := s.deps.Slots.Transition(r.PathValue("id"), idx, body.Status, s.deps.Clock.Now(), models.SourceOperator)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
