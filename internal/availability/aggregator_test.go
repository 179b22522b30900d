package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"parkwise/internal/clock"
	"parkwise/internal/domain"
	"parkwise/internal/events"
	"parkwise/internal/models"
	"parkwise/internal/registry"
	"parkwise/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPredictor struct {
	mock.Mock
}

func (m *mockPredictor) Predict(ctx context.Context, req domain.PredictionRequest) (*models.Prediction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Prediction), args.Error(1)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Facilities around Bengaluru MG Road.
func testFacilities() []models.Facility {
	return []models.Facility{
		{ID: "far", Name: "Airport", Latitude: 13.1986, Longitude: 77.7066, TotalSlots: 2},
		{ID: "near", Name: "MG Road", Latitude: 12.9756, Longitude: 77.6050, TotalSlots: 3},
		{ID: "mid", Name: "Indiranagar", Latitude: 12.9784, Longitude: 77.6408, TotalSlots: 1},
	}
}

func setup(t *testing.T, predictor domain.Predictor, cache domain.PredictionCache) (*Aggregator, *registry.Registry, *clock.MockClock) {
	t.Helper()
	bus := events.NewEventBus()
	reg := registry.New(testFacilities(), nil, bus, nil)
	clk := clock.NewMockClock(t0)
	a := New(reg, bus, predictor, cache, Config{CacheTTL: 5 * time.Minute}, clk, nil)
	return a, reg, clk
}

func TestHaversine(t *testing.T) {
	assert.InDelta(t, 0, HaversineKm(12.97, 77.59, 12.97, 77.59), 1e-9)
	// one degree of latitude
	assert.InDelta(t, 111.19, HaversineKm(0, 0, 1, 0), 0.01)
	assert.InDelta(t, HaversineKm(12.9756, 77.6050, 13.1986, 77.7066), HaversineKm(13.1986, 77.7066, 12.9756, 77.6050), 1e-9)
}

func TestCountsFollowTransitions(t *testing.T) {
	a, reg, _ := setup(t, nil, nil)

	c, err := a.Counts("near")
	require.NoError(t, err)
	assert.Equal(t, models.Counts{Available: 3, Total: 3}, c)

	_, err = reg.Transition("near", 1, models.SlotOccupied, t0, models.SourceCamera)
	require.NoError(t, err)
	_, err = reg.Transition("near", 2, models.SlotBlocked, t0, models.SourceOperator)
	require.NoError(t, err)

	c, _ = a.Counts("near")
	assert.Equal(t, models.Counts{Available: 1, Occupied: 1, Blocked: 1, Total: 3}, c)

	require.NoError(t, reg.Claim("near", 3, t0, func() (int64, error) { return 9, nil }))
	c, _ = a.Counts("near")
	assert.Equal(t, 0, c.Available)
	assert.Equal(t, 2, c.Occupied)

	require.NoError(t, reg.Release("near", 3, 9, t0.Add(time.Minute)))
	c, _ = a.Counts("near")
	assert.Equal(t, 1, c.Available)
	assert.Equal(t, c.Total, c.Available+c.Occupied+c.Blocked)

	_, err = a.Counts("nope")
	assert.ErrorIs(t, err, domain.ErrFacilityNotFound)
}

func TestResyncAfterRestore(t *testing.T) {
	a, reg, _ := setup(t, nil, nil)

	reg.Restore([]models.Slot{{FacilityID: "mid", Index: 1, Status: models.SlotOccupied, LastUpdated: t0}})
	c, _ := a.Counts("mid")
	assert.Equal(t, 1, c.Available)

	a.Resync()
	c, _ = a.Counts("mid")
	assert.Equal(t, 0, c.Available)
	assert.Equal(t, 1, c.Occupied)
}

func TestNearby(t *testing.T) {
	a, _, _ := setup(t, nil, nil)
	ctx := context.Background()

	got := a.Nearby(ctx, domain.NearbyQuery{Latitude: 12.9716, Longitude: 77.5946, RadiusKm: 10})
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Facility.ID)
	assert.Equal(t, "mid", got[1].Facility.ID)
	assert.Less(t, got[0].DistanceKm, got[1].DistanceKm)
	assert.Equal(t, 3, got[0].Counts.Available)
	assert.Nil(t, got[0].Prediction)

	got = a.Nearby(ctx, domain.NearbyQuery{Latitude: 12.9716, Longitude: 77.5946, RadiusKm: 100})
	require.Len(t, got, 3)
	assert.Equal(t, "far", got[2].Facility.ID)

	assert.Empty(t, a.Nearby(ctx, domain.NearbyQuery{Latitude: 12.9716, Longitude: 77.5946, RadiusKm: 0.1}))
	assert.Empty(t, a.Nearby(ctx, domain.NearbyQuery{RadiusKm: -1}))
}

func TestNearbyRadiusInclusive(t *testing.T) {
	a, _, _ := setup(t, nil, nil)
	f := testFacilities()[1]

	d := HaversineKm(12.9716, 77.5946, f.Latitude, f.Longitude)
	got := a.Nearby(context.Background(), domain.NearbyQuery{Latitude: 12.9716, Longitude: 77.5946, RadiusKm: d})
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].Facility.ID)
}

func TestPredictionFallbacks(t *testing.T) {
	predictor := new(mockPredictor)
	cache := repository.NewMemoryCache(time.Hour)
	a, _, clk := setup(t, predictor, cache)
	ctx := context.Background()
	req := domain.PredictionRequest{FacilityID: "near"}

	t.Run("NoCacheNoPredictor", func(t *testing.T) {
		predictor.On("Predict", mock.Anything, req).Return(nil, errors.New("down")).Once()
		assert.Nil(t, a.Prediction(ctx, req))
	})

	t.Run("FreshFromPredictor", func(t *testing.T) {
		p := &models.Prediction{FacilityID: "near", AvailabilityPercentage: 60, FetchedAt: t0}
		predictor.On("Predict", mock.Anything, req).Return(p, nil).Once()

		got := a.Prediction(ctx, req)
		require.NotNil(t, got)
		assert.Equal(t, 60.0, got.AvailabilityPercentage)
		assert.False(t, got.Stale)
	})

	t.Run("ServedFromCache", func(t *testing.T) {
		clk.Add(time.Minute)
		got := a.Prediction(ctx, req)
		require.NotNil(t, got)
		assert.Equal(t, 60.0, got.AvailabilityPercentage)
		predictor.AssertNumberOfCalls(t, "Predict", 2)
	})

	t.Run("StaleOnFailure", func(t *testing.T) {
		clk.Add(10 * time.Minute)
		predictor.On("Predict", mock.Anything, req).Return(nil, errors.New("down")).Once()

		got := a.Prediction(ctx, req)
		require.NotNil(t, got)
		assert.True(t, got.Stale)
		assert.Equal(t, 60.0, got.AvailabilityPercentage)
		assert.True(t, got.EstimatedArrivalTime.IsZero())
	})

	predictor.AssertExpectations(t)
}

func TestPredictionCachedPerRequester(t *testing.T) {
	predictor := new(mockPredictor)
	cache := repository.NewMemoryCache(time.Hour)
	a, _, clk := setup(t, predictor, cache)
	ctx := context.Background()

	nearby := domain.PredictionRequest{FacilityID: "near", UserLatitude: 12.9716, UserLongitude: 77.5946}
	across := domain.PredictionRequest{FacilityID: "near", UserLatitude: 13.5012, UserLongitude: 77.5946}
	nearbyAgain := domain.PredictionRequest{FacilityID: "near", UserLatitude: 12.9739, UserLongitude: 77.5940}

	predictor.On("Predict", mock.Anything, nearby).
		Return(&models.Prediction{FacilityID: "near", AvailabilityPercentage: 50, EstimatedArrivalTime: t0.Add(5 * time.Minute), FetchedAt: t0}, nil).Once()
	predictor.On("Predict", mock.Anything, across).
		Return(&models.Prediction{FacilityID: "near", AvailabilityPercentage: 50, EstimatedArrivalTime: t0.Add(90 * time.Minute), FetchedAt: t0}, nil).Once()

	first := a.Prediction(ctx, nearby)
	require.NotNil(t, first)
	assert.Equal(t, t0.Add(5*time.Minute), first.EstimatedArrivalTime)

	second := a.Prediction(ctx, across)
	require.NotNil(t, second)
	assert.Equal(t, t0.Add(90*time.Minute), second.EstimatedArrivalTime)

	clk.Add(time.Minute)
	third := a.Prediction(ctx, nearbyAgain)
	require.NotNil(t, third)
	assert.Equal(t, t0.Add(5*time.Minute), third.EstimatedArrivalTime, "same bucket is served from cache")

	planned := t0.Add(time.Hour)
	later := nearby
	later.PlannedArrivalTime = &planned
	predictor.On("Predict", mock.Anything, later).
		Return(&models.Prediction{FacilityID: "near", AvailabilityPercentage: 20, EstimatedArrivalTime: planned, FetchedAt: t0}, nil).Once()
	fourth := a.Prediction(ctx, later)
	require.NotNil(t, fourth)
	assert.Equal(t, planned, fourth.EstimatedArrivalTime)

	predictor.AssertNumberOfCalls(t, "Predict", 3)
	predictor.AssertExpectations(t)
}

func TestRequesterKey(t *testing.T) {
	planned := time.Date(2026, 3, 1, 9, 23, 40, 0, time.UTC)
	assert.Equal(t, "near@12.97,77.59@now", requesterKey(domain.PredictionRequest{FacilityID: "near", UserLatitude: 12.9716, UserLongitude: 77.5946}))
	assert.Equal(t, "near@12.97,77.59@202603010920", requesterKey(domain.PredictionRequest{FacilityID: "near", UserLatitude: 12.9716, UserLongitude: 77.5946, PlannedArrivalTime: &planned}))
}

func TestNearbyAttachesPredictions(t *testing.T) {
	predictor := new(mockPredictor)
	a, _, _ := setup(t, predictor, nil)

	planned := t0.Add(20 * time.Minute)
	predictor.On("Predict", mock.Anything, mock.MatchedBy(func(r domain.PredictionRequest) bool {
		return r.FacilityID == "near" && r.PlannedArrivalTime != nil && r.PlannedArrivalTime.Equal(planned)
	})).Return(&models.Prediction{FacilityID: "near", AvailabilityPercentage: 40, FetchedAt: t0}, nil)
	predictor.On("Predict", mock.Anything, mock.MatchedBy(func(r domain.PredictionRequest) bool {
		return r.FacilityID == "mid"
	})).Return(nil, errors.New("timeout"))

	got := a.Nearby(context.Background(), domain.NearbyQuery{
		Latitude:           12.9716,
		Longitude:          77.5946,
		RadiusKm:           10,
		PlannedArrivalTime: &planned,
	})
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Prediction)
	assert.Equal(t, 40.0, got[0].Prediction.AvailabilityPercentage)
	assert.Nil(t, got[1].Prediction)
}
