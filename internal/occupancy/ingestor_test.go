package occupancy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"parkwise/internal/database"
	"parkwise/internal/domain"
	"parkwise/internal/events"
	"parkwise/internal/metrics"
	"parkwise/internal/models"
	"parkwise/internal/registry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDetectionLog struct {
	mock.Mock
}

func (m *MockDetectionLog) AppendDetection(ctx context.Context, event models.DetectionEvent, facilityID string, slotIndex int) error {
	args := m.Called(ctx, event, facilityID, slotIndex)
	return args.Error(0)
}

func (m *MockDetectionLog) RecordAnomaly(ctx context.Context, anomaly *models.Anomaly) error {
	args := m.Called(ctx, anomaly)
	return args.Error(0)
}

func intPtr(v int) *int { return &v }

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T, cfg Config) (*Ingestor, *registry.Registry, *MockDetectionLog) {
	t.Helper()
	facilities := []models.Facility{{
		ID:         "f1",
		TotalSlots: 4,
		Cameras: []models.CameraBinding{
			{ID: "cam-1", SlotIndex: intPtr(1)},
			{ID: "cam-2", SlotIndex: intPtr(2)},
			{ID: "cam-zone"},
		},
	}}
	bus := events.NewEventBus()
	reg := registry.New(facilities, nil, bus, nil)
	log := new(MockDetectionLog)
	log.On("AppendDetection", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	log.On("RecordAnomaly", mock.Anything, mock.Anything).Return(nil).Maybe()
	return NewIngestor(cfg, reg, log, nil, bus, nil), reg, log
}

func frame(camera string, status models.SlotStatus, sec int) models.DetectionEvent {
	return models.DetectionEvent{
		CameraID:   camera,
		Status:     status,
		Confidence: 0.9,
		Timestamp:  t0.Add(time.Duration(sec) * time.Second),
	}
}

func feed(t *testing.T, in *Ingestor, evs ...models.DetectionEvent) []domain.IngestResult {
	t.Helper()
	out := make([]domain.IngestResult, 0, len(evs))
	for _, ev := range evs {
		res, err := in.Ingest(context.Background(), ev)
		require.NoError(t, err)
		out = append(out, res)
	}
	return out
}

func TestIngestRejectsInvalidEvents(t *testing.T) {
	in, reg, log := setup(t, Config{})

	zoneOutOfRange := frame("cam-zone", models.SlotOccupied, 1)
	zoneOutOfRange.SlotIndex = intPtr(9)

	badConfidence := frame("cam-1", models.SlotOccupied, 1)
	badConfidence.Confidence = 1.5

	noTimestamp := frame("cam-1", models.SlotOccupied, 1)
	noTimestamp.Timestamp = time.Time{}

	cases := map[string]models.DetectionEvent{
		"unknown camera":       frame("cam-x", models.SlotOccupied, 1),
		"zone camera no slot":  frame("cam-zone", models.SlotOccupied, 1),
		"slot out of range":    zoneOutOfRange,
		"blocked not a camera": frame("cam-1", models.SlotBlocked, 1),
		"bad confidence":       badConfidence,
		"missing timestamp":    noTimestamp,
		"missing camera":       frame("", models.SlotOccupied, 1),
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := in.Ingest(context.Background(), ev)
			assert.ErrorIs(t, err, domain.ErrInvalidDetectionEvent)
			assert.False(t, res.Applied)
		})
	}

	log.AssertNotCalled(t, "AppendDetection", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	slots, _ := reg.Snapshot("f1")
	for _, s := range slots {
		assert.Equal(t, models.SlotFree, s.Status)
	}
}

func TestZoneCameraUsesExplicitSlot(t *testing.T) {
	in, reg, log := setup(t, Config{})

	for i := 1; i <= 3; i++ {
		ev := frame("cam-zone", models.SlotOccupied, i)
		ev.SlotIndex = intPtr(4)
		res, err := in.Ingest(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, 4, res.SlotIndex)
	}

	status, _ := reg.Status("f1", 4)
	assert.Equal(t, models.SlotOccupied, status)
	log.AssertNumberOfCalls(t, "AppendDetection", 3)
}

func TestSingleMisreadDoesNotFlip(t *testing.T) {
	in, reg, _ := setup(t, Config{})

	results := feed(t, in,
		frame("cam-1", models.SlotOccupied, 1),
		frame("cam-1", models.SlotOccupied, 2),
		frame("cam-1", models.SlotOccupied, 3),
	)
	assert.Equal(t, ResultPending, results[0].Reason)
	assert.Equal(t, ResultPending, results[1].Reason)
	assert.True(t, results[2].Applied)

	res := feed(t, in, frame("cam-1", models.SlotFree, 4))
	assert.False(t, res[0].Applied)
	status, _ := reg.Status("f1", 1)
	assert.Equal(t, models.SlotOccupied, status)

	feed(t, in, frame("cam-1", models.SlotOccupied, 5))
	res = feed(t, in,
		frame("cam-1", models.SlotFree, 6),
		frame("cam-1", models.SlotFree, 7),
		frame("cam-1", models.SlotFree, 8),
	)
	assert.True(t, res[2].Applied)
	status, _ = reg.Status("f1", 1)
	assert.Equal(t, models.SlotFree, status)
}

func TestReplayIsIdempotent(t *testing.T) {
	in, reg, _ := setup(t, Config{})

	seq := []models.DetectionEvent{
		frame("cam-2", models.SlotOccupied, 1),
		frame("cam-2", models.SlotOccupied, 2),
		frame("cam-2", models.SlotFree, 3),
		frame("cam-2", models.SlotOccupied, 4),
		frame("cam-2", models.SlotOccupied, 5),
		frame("cam-2", models.SlotOccupied, 6),
		frame("cam-2", models.SlotFree, 7),
	}
	for i := range seq {
		seq[i].ID = fmt.Sprintf("ev-%d", i)
	}

	feed(t, in, seq...)
	first, err := reg.Slot("f1", 2)
	require.NoError(t, err)

	for _, res := range feed(t, in, seq...) {
		assert.Equal(t, ResultDuplicate, res.Reason)
	}
	second, err := reg.Slot("f1", 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, models.SlotOccupied, second.Status)
}

func TestMajorityPolicy(t *testing.T) {
	in, reg, _ := setup(t, Config{Policy: models.PolicyMajority})

	res := feed(t, in,
		frame("cam-1", models.SlotOccupied, 1),
		frame("cam-1", models.SlotFree, 2),
		frame("cam-1", models.SlotOccupied, 3),
	)
	assert.True(t, res[2].Applied)
	status, _ := reg.Status("f1", 1)
	assert.Equal(t, models.SlotOccupied, status)
}

func TestLowConfidenceIgnored(t *testing.T) {
	in, reg, log := setup(t, Config{MinConfidence: 0.8})

	for i := 1; i <= 3; i++ {
		ev := frame("cam-1", models.SlotOccupied, i)
		ev.Confidence = 0.5
		res, err := in.Ingest(context.Background(), ev)
		require.NoError(t, err)
		assert.Equal(t, ResultLowConfidence, res.Reason)
	}

	status, _ := reg.Status("f1", 1)
	assert.Equal(t, models.SlotFree, status)
	log.AssertNumberOfCalls(t, "AppendDetection", 3)
}

func TestMinDwell(t *testing.T) {
	in, reg, _ := setup(t, Config{MinDwell: 6 * time.Second})

	res := feed(t, in,
		frame("cam-1", models.SlotOccupied, 1),
		frame("cam-1", models.SlotOccupied, 3),
		frame("cam-1", models.SlotOccupied, 5),
	)
	assert.Equal(t, ResultPending, res[2].Reason)

	res = feed(t, in, frame("cam-1", models.SlotOccupied, 7))
	assert.True(t, res[0].Applied)
	status, _ := reg.Status("f1", 1)
	assert.Equal(t, models.SlotOccupied, status)
}

func TestWalkInAccepted(t *testing.T) {
	in, reg, log := setup(t, Config{})

	feed(t, in,
		frame("cam-2", models.SlotOccupied, 1),
		frame("cam-2", models.SlotOccupied, 2),
		frame("cam-2", models.SlotOccupied, 3),
	)
	slot, _ := reg.Slot("f1", 2)
	assert.Equal(t, models.SlotOccupied, slot.Status)
	assert.Zero(t, slot.BookingID)
	log.AssertNotCalled(t, "RecordAnomaly", mock.Anything, mock.Anything)
}

func TestConflictRecordsAnomalyOnce(t *testing.T) {
	in, reg, log := setup(t, Config{})

	require.NoError(t, reg.Claim("f1", 1, t0, func() (int64, error) { return 77, nil }))

	res := feed(t, in,
		frame("cam-1", models.SlotFree, 1),
		frame("cam-1", models.SlotFree, 2),
		frame("cam-1", models.SlotFree, 3),
		frame("cam-1", models.SlotFree, 4),
	)
	assert.Equal(t, ResultConflict, res[2].Reason)
	assert.Equal(t, ResultConflict, res[3].Reason)

	slot, _ := reg.Slot("f1", 1)
	assert.Equal(t, models.SlotOccupied, slot.Status)
	assert.Equal(t, int64(77), slot.BookingID)

	log.AssertNumberOfCalls(t, "RecordAnomaly", 1)
	log.AssertCalled(t, "RecordAnomaly", mock.Anything, mock.MatchedBy(func(a *models.Anomaly) bool {
		return a.BookingID == 77 && a.Kind == models.AnomalyOccupancyBookingConflict && a.CameraID == "cam-1"
	}))
}

func TestBlockedSlotIgnoresCamera(t *testing.T) {
	in, reg, _ := setup(t, Config{})

	_, err := reg.Transition("f1", 2, models.SlotBlocked, t0, models.SourceOperator)
	require.NoError(t, err)

	res := feed(t, in,
		frame("cam-2", models.SlotOccupied, 1),
		frame("cam-2", models.SlotOccupied, 2),
		frame("cam-2", models.SlotOccupied, 3),
	)
	assert.Equal(t, ResultBlocked, res[2].Reason)
	status, _ := reg.Status("f1", 2)
	assert.Equal(t, models.SlotBlocked, status)
}

func TestReplayDoesNotGrowDetectionLog(t *testing.T) {
	db, err := database.NewDB(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	facilities := []models.Facility{{
		ID:         "f1",
		TotalSlots: 2,
		Cameras:    []models.CameraBinding{{ID: "cam-1", SlotIndex: intPtr(1)}},
	}}
	ctx := context.Background()
	require.NoError(t, db.SyncFacilities(ctx, facilities))

	bus := events.NewEventBus()
	reg := registry.New(facilities, nil, bus, nil)
	in := NewIngestor(Config{}, reg, db, db, bus, nil)

	seq := []models.DetectionEvent{
		frame("cam-1", models.SlotOccupied, 1),
		frame("cam-1", models.SlotOccupied, 2),
		frame("cam-1", models.SlotOccupied, 3),
	}
	feed(t, in, seq...)
	n, err := db.CountDetections(ctx, "f1", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, res := range feed(t, in, seq...) {
		assert.Equal(t, ResultDuplicate, res.Reason)
	}
	n, err = db.CountDetections(ctx, "f1", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// A restarted ingestor has no window history; stable ids keep the log intact.
	restarted := NewIngestor(Config{}, reg, db, db, bus, nil)
	feed(t, restarted, seq...)
	n, err = db.CountDetections(ctx, "f1", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestEventIDIsStable(t *testing.T) {
	ev := frame("cam-1", models.SlotFree, 4)
	assert.Equal(t, eventID(ev, "f1", 1), eventID(ev, "f1", 1))
	assert.NotEqual(t, eventID(ev, "f1", 1), eventID(frame("cam-1", models.SlotFree, 5), "f1", 1))
	assert.NotEqual(t, eventID(ev, "f1", 1), eventID(frame("cam-1", models.SlotOccupied, 4), "f1", 1))
}

type stubBookings struct {
	bookings map[int64]*models.Booking
}

func (s *stubBookings) GetBooking(_ context.Context, id int64) (*models.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrBookingNotFound
	}
	return b, nil
}

func conflictCount(t *testing.T) float64 {
	t.Helper()
	metrics.Register()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "parkwise_occupancy_booking_conflicts_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestConflictOnHeldSlotIsNotAnAnomaly(t *testing.T) {
	facilities := []models.Facility{{
		ID:         "f1",
		TotalSlots: 1,
		Cameras:    []models.CameraBinding{{ID: "cam-1", SlotIndex: intPtr(1)}},
	}}
	bus := events.NewEventBus()
	reg := registry.New(facilities, nil, bus, nil)
	log := new(MockDetectionLog)
	log.On("AppendDetection", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	log.On("RecordAnomaly", mock.Anything, mock.Anything).Return(nil)

	held := &models.Booking{ID: 42, Status: models.BookingHold}
	in := NewIngestor(Config{}, reg, log, &stubBookings{bookings: map[int64]*models.Booking{42: held}}, bus, nil)
	require.NoError(t, reg.Claim("f1", 1, t0, func() (int64, error) { return 42, nil }))

	before := conflictCount(t)
	res := feed(t, in,
		frame("cam-1", models.SlotFree, 1),
		frame("cam-1", models.SlotFree, 2),
		frame("cam-1", models.SlotFree, 3),
	)
	assert.Equal(t, ResultConflict, res[2].Reason)
	log.AssertNotCalled(t, "RecordAnomaly", mock.Anything, mock.Anything)
	assert.Equal(t, before, conflictCount(t))

	slot, _ := reg.Slot("f1", 1)
	assert.Equal(t, models.SlotOccupied, slot.Status)

	held.Status = models.BookingConfirmed
	res = feed(t, in,
		frame("cam-1", models.SlotFree, 4),
		frame("cam-1", models.SlotFree, 5),
		frame("cam-1", models.SlotFree, 6),
	)
	for _, r := range res {
		assert.Equal(t, ResultConflict, r.Reason)
	}
	log.AssertNumberOfCalls(t, "RecordAnomaly", 1)
	assert.Equal(t, before+1, conflictCount(t))
}
