package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"parkwise/internal/domain"
	"parkwise/internal/logging"
	"parkwise/internal/metrics"
	"parkwise/internal/models"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull   = errors.New("ingest queue full")
	ErrPoolStopped = errors.New("ingest pool stopped")
)

// IngestPool feeds detection events to the ingestor from a fixed set of
// workers. Events of one camera always land on the same worker so they are
// applied in arrival order.
type IngestPool struct {
	ingestor domain.OccupancyIngestor
	shards   []chan models.DetectionEvent
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	dropped  atomic.Int64
	logger   *zerolog.Logger
}

func NewIngestPool(ingestor domain.OccupancyIngestor, workers, queueSize int, logger *zerolog.Logger) *IngestPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &IngestPool{
		ingestor: ingestor,
		shards:   make([]chan models.DetectionEvent, workers),
		logger:   logging.Component(logger, "ingest_pool"),
	}
	for i := range p.shards {
		p.shards[i] = make(chan models.DetectionEvent, queueSize)
	}
	return p
}

// Start launches the workers; they drain their queues and exit after Stop.
func (p *IngestPool) Start(ctx context.Context) {
	for i, ch := range p.shards {
		p.wg.Add(1)
		go p.run(ctx, i, ch)
	}
}

func (p *IngestPool) run(ctx context.Context, id int, ch <-chan models.DetectionEvent) {
	defer p.wg.Done()
	for event := range ch {
		res, err := p.ingestor.Ingest(ctx, event)
		if err != nil {
			p.logger.Debug().Err(err).Int("worker", id).Str("camera_id", event.CameraID).Msg("detection rejected")
			continue
		}
		if res.Applied {
			p.logger.Debug().Int("worker", id).Str("facility_id", res.FacilityID).Int("slot", res.SlotIndex).Msg("detection applied")
		}
	}
}

// Submit queues an event without blocking.
func (p *IngestPool) Submit(event models.DetectionEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.shards[p.shard(event.CameraID)] <- event:
		return nil
	default:
		p.dropped.Add(1)
		metrics.IncDetection("dropped")
		return ErrQueueFull
	}
}

func (p *IngestPool) shard(cameraID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(cameraID))
	return int(h.Sum32() % uint32(len(p.shards)))
}

// Stop closes the queues and waits for queued events to be processed.
func (p *IngestPool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		for _, ch := range p.shards {
			close(ch)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *IngestPool) Dropped() int64 {
	return p.dropped.Load()
}
