package feed

import (
	"sync"
	"testing"
	"time"

	"parkwise/internal/config"
	"parkwise/internal/models"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []models.DetectionEvent
	got    chan struct{}
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{got: make(chan struct{}, 16)}
}

func (s *sinkRecorder) Submit(event models.DetectionEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func (s *sinkRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSubscriberDeliversEvents(t *testing.T) {
	srv, err := NewEmbeddedServer(0)
	require.NoError(t, err)
	defer srv.Shutdown()

	sink := newSinkRecorder()
	cfg := config.FeedConfig{Subject: "parking.detections", Queue: "parkwise-ingest"}
	sub := NewSubscriber(cfg, sink, nil)
	require.NoError(t, sub.Start(srv.ClientURL()))
	defer sub.Close()

	pub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer pub.Close()

	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	slot := 4
	data, err := json.Marshal(models.DetectionEvent{
		CameraID:   "cam-7",
		SlotIndex:  &slot,
		Status:     models.SlotOccupied,
		Confidence: 0.93,
		Timestamp:  ts,
	})
	require.NoError(t, err)

	require.NoError(t, pub.Publish("parking.detections", []byte("not json")))
	require.NoError(t, pub.Publish("parking.detections", data))
	require.NoError(t, pub.Flush())

	sink.wait(t)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.Equal(t, "cam-7", e.CameraID)
	require.NotNil(t, e.SlotIndex)
	assert.Equal(t, 4, *e.SlotIndex)
	assert.Equal(t, models.SlotOccupied, e.Status)
	assert.True(t, e.Timestamp.Equal(ts))
}

func TestSubscriberConnectFailure(t *testing.T) {
	sub := NewSubscriber(config.FeedConfig{Subject: "x"}, newSinkRecorder(), nil)
	err := sub.Start("nats://127.0.0.1:1")
	assert.Error(t, err)
	sub.Close()
}
