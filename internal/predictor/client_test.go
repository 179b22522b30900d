package predictor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"parkwise/internal/config"
	"parkwise/internal/domain"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredict(t *testing.T) {
	arrival := time.Date(2026, 3, 1, 9, 20, 0, 0, time.UTC)
	planned := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "f1", body["facility_id"])
		loc := body["user_location"].(map[string]interface{})
		assert.Equal(t, 12.97, loc["lat"])
		assert.Equal(t, 77.59, loc["lon"])
		assert.Equal(t, planned.Format(time.RFC3339), body["planned_arrival_time"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"availability_percentage": 72.5, "estimated_arrival_time": "2026-03-01T09:20:00Z", "confidence": 0.85}`)
	}))
	defer server.Close()

	c := NewClient(config.PredictorConfig{URL: server.URL + "/", Timeout: time.Second}, nil)
	fetched := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fetched }

	p, err := c.Predict(context.Background(), domain.PredictionRequest{
		UserLatitude:       12.97,
		UserLongitude:      77.59,
		FacilityID:         "f1",
		PlannedArrivalTime: &planned,
	})
	require.NoError(t, err)
	assert.Equal(t, "f1", p.FacilityID)
	assert.Equal(t, 72.5, p.AvailabilityPercentage)
	assert.Equal(t, 0.85, p.Confidence)
	assert.True(t, p.EstimatedArrivalTime.Equal(arrival))
	assert.Equal(t, fetched, p.FetchedAt)
	assert.False(t, p.Stale)
}

func TestPredictRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom"},
		{name: "bad json", status: http.StatusOK, body: "{"},
		{name: "percentage out of range", status: http.StatusOK, body: `{"availability_percentage": 120, "confidence": 0.5}`},
		{name: "confidence out of range", status: http.StatusOK, body: `{"availability_percentage": 50, "confidence": 1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			c := NewClient(config.PredictorConfig{URL: server.URL}, nil)
			_, err := c.Predict(context.Background(), domain.PredictionRequest{FacilityID: "f1"})
			assert.Error(t, err)
		})
	}
}

func TestPredictBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(config.PredictorConfig{URL: server.URL, MaxFailures: 2, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.Predict(ctx, domain.PredictionRequest{FacilityID: "f1"})
		require.Error(t, err)
	}

	_, err := c.Predict(ctx, domain.PredictionRequest{FacilityID: "f1"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}
