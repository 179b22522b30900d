// Package predictor talks to the external arrival-time prediction service.
package predictor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"parkwise/internal/breaker"
	"parkwise/internal/config"
	"parkwise/internal/domain"
	"parkwise/internal/logging"
	"parkwise/internal/models"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

const maxResponseBytes = 1 << 20

type location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type predictRequest struct {
	UserLocation       location   `json:"user_location"`
	FacilityID         string     `json:"facility_id"`
	PlannedArrivalTime *time.Time `json:"planned_arrival_time,omitempty"`
}

type predictResponse struct {
	AvailabilityPercentage float64   `json:"availability_percentage"`
	EstimatedArrivalTime   time.Time `json:"estimated_arrival_time"`
	Confidence             float64   `json:"confidence"`
}

// Client calls POST {url}/predict behind a circuit breaker.
type Client struct {
	endpoint   string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[*models.Prediction]
	now        func() time.Time
	logger     *zerolog.Logger
}

var _ domain.Predictor = (*Client)(nil)

func NewClient(cfg config.PredictorConfig, logger *zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	log := logging.Component(logger, "predictor")
	return &Client{
		endpoint:   strings.TrimRight(cfg.URL, "/") + "/predict",
		httpClient: &http.Client{Timeout: timeout},
		cb: breaker.New[*models.Prediction](breaker.Settings{
			Name:        "predictor",
			MaxFailures: cfg.MaxFailures,
			OpenTimeout: cfg.OpenTimeout,
		}, log),
		now:    time.Now,
		logger: log,
	}
}

func (c *Client) Predict(ctx context.Context, req domain.PredictionRequest) (*models.Prediction, error) {
	return c.cb.Execute(func() (*models.Prediction, error) {
		return c.predict(ctx, req)
	})
}

func (c *Client) predict(ctx context.Context, req domain.PredictionRequest) (*models.Prediction, error) {
	body, err := json.Marshal(predictRequest{
		UserLocation:       location{Lat: req.UserLatitude, Lon: req.UserLongitude},
		FacilityID:         req.FacilityID,
		PlannedArrivalTime: req.PlannedArrivalTime,
	})
	if err != nil {
		return nil, fmt.Errorf("encode prediction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build prediction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("prediction request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read prediction response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("predictor returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out predictResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode prediction response: %w", err)
	}
	if out.AvailabilityPercentage < 0 || out.AvailabilityPercentage > 100 {
		return nil, fmt.Errorf("availability percentage %.2f out of range", out.AvailabilityPercentage)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("confidence %.2f out of range", out.Confidence)
	}

	return &models.Prediction{
		FacilityID:             req.FacilityID,
		AvailabilityPercentage: out.AvailabilityPercentage,
		EstimatedArrivalTime:   out.EstimatedArrivalTime,
		Confidence:             out.Confidence,
		FetchedAt:              c.now(),
	}, nil
}
