package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parkwise/internal/domain"
	"parkwise/internal/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *HTTPServer) handleDetection(w http.ResponseWriter, r *http.Request) {
	var event models.DetectionEvent
	if err := decodeJSON(w, r, &event); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	result, err := s.deps.Ingestor.Ingest(r.Context(), event)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies, err := s.deps.Anomalies.ListAnomalies(r.Context(), openOnly(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if anomalies == nil {
		anomalies = []*models.Anomaly{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": anomalies})
}

func (s *HTTPServer) handleResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Anomalies.ResolveAnomaly(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

func (s *HTTPServer) handleAnomalyReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusNotImplemented, "reports are not configured")
		return
	}

	var buf bytes.Buffer
	if err := s.deps.Reports.WriteAnomalies(r.Context(), &buf, openOnly(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	fileName := fmt.Sprintf("anomalies_%s.xlsx", s.deps.Clock.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type bookingReportRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// handleBookingReport saves a bookings workbook for [from, to] inclusive of
// the last day and returns its path.
func (s *HTTPServer) handleBookingReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeError(w, http.StatusNotImplemented, "reports are not configured")
		return
	}

	var body bookingReportRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	from, err := time.Parse(time.DateOnly, strings.TrimSpace(body.From))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from; expected YYYY-MM-DD")
		return
	}
	to, err := time.Parse(time.DateOnly, strings.TrimSpace(body.To))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to; expected YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		s.writeServiceError(w, r, fmt.Errorf("to before from: %w", domain.ErrInvalidRequest))
		return
	}

	path, err := s.deps.Reports.SaveBookings(r.Context(), from, to.AddDate(0, 0, 1))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"file": path})
}

func openOnly(r *http.Request) bool {
	open, err := strconv.ParseBool(r.URL.Query().Get("open"))
	return err == nil && open
}
