// Package availability keeps live per-facility counts and answers proximity
// searches.
package availability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"parkwise/internal/clock"
	"parkwise/internal/domain"
	"parkwise/internal/events"
	"parkwise/internal/logging"
	"parkwise/internal/metrics"
	"parkwise/internal/models"

	"github.com/rs/zerolog"
)

const (
	predictTimeout = 2 * time.Second
	predictWorkers = 4
	arrivalBucket  = 5 * time.Minute
)

// SlotSource is the part of the registry the aggregator reads.
type SlotSource interface {
	Facilities() []*models.Facility
	Snapshot(facilityID string) ([]models.Slot, error)
}

type Config struct {
	// CacheTTL is how long a cached prediction is served to requesters in the
	// same bucket without asking the predictor again.
	CacheTTL time.Duration
}

// Aggregator maintains counts incrementally from slot change events.
type Aggregator struct {
	source    SlotSource
	predictor domain.Predictor
	cache     domain.PredictionCache
	config    Config
	clock     clock.Clock
	logger    *zerolog.Logger

	mu     sync.RWMutex
	counts map[string]*models.Counts
}

var _ domain.AvailabilityService = (*Aggregator)(nil)

// New seeds counts from the current snapshots and subscribes to slot changes.
// predictor and cache may be nil.
func New(source SlotSource, bus *events.EventBus, predictor domain.Predictor, cache domain.PredictionCache, cfg Config, clk clock.Clock, logger *zerolog.Logger) *Aggregator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = models.DefaultPredictionTTL
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	a := &Aggregator{
		source:    source,
		predictor: predictor,
		cache:     cache,
		config:    cfg,
		clock:     clk,
		logger:    logging.Component(logger, "availability"),
		counts:    make(map[string]*models.Counts),
	}
	a.Resync()

	if bus != nil {
		bus.Subscribe(events.EventSlotChanged, func(e *events.Event) error {
			change, ok := e.Data.(models.SlotChange)
			if !ok {
				return fmt.Errorf("unexpected slot change payload %T", e.Data)
			}
			a.apply(change)
			return nil
		})
	}
	return a
}

// Resync recomputes every count from registry snapshots.
func (a *Aggregator) Resync() {
	fresh := make(map[string]*models.Counts)
	for _, f := range a.source.Facilities() {
		slots, err := a.source.Snapshot(f.ID)
		if err != nil {
			a.logger.Error().Err(err).Str("facility_id", f.ID).Msg("snapshot failed")
			continue
		}
		c := &models.Counts{Total: len(slots)}
		for _, s := range slots {
			adjust(c, s.Status, 1)
		}
		fresh[f.ID] = c
	}

	a.mu.Lock()
	a.counts = fresh
	a.mu.Unlock()

	for id, c := range fresh {
		metrics.SetAvailable(id, c.Available)
	}
}

func (a *Aggregator) apply(change models.SlotChange) {
	if change.From == change.To {
		return
	}
	a.mu.Lock()
	c, ok := a.counts[change.FacilityID]
	if !ok {
		a.mu.Unlock()
		return
	}
	adjust(c, change.From, -1)
	adjust(c, change.To, 1)
	available := c.Available
	a.mu.Unlock()

	metrics.SetAvailable(change.FacilityID, available)
}

func adjust(c *models.Counts, status models.SlotStatus, delta int) {
	switch status {
	case models.SlotFree:
		c.Available += delta
	case models.SlotOccupied:
		c.Occupied += delta
	case models.SlotBlocked:
		c.Blocked += delta
	}
}

func (a *Aggregator) Counts(facilityID string) (models.Counts, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.counts[facilityID]
	if !ok {
		return models.Counts{}, fmt.Errorf("facility %s: %w", facilityID, domain.ErrFacilityNotFound)
	}
	return *c, nil
}

// Nearby lists facilities within q.RadiusKm (inclusive), nearest first.
func (a *Aggregator) Nearby(ctx context.Context, q domain.NearbyQuery) []domain.NearbyFacility {
	if q.RadiusKm < 0 {
		return nil
	}

	var out []domain.NearbyFacility
	for _, f := range a.source.Facilities() {
		d := HaversineKm(q.Latitude, q.Longitude, f.Latitude, f.Longitude)
		if d > q.RadiusKm {
			continue
		}
		counts, err := a.Counts(f.ID)
		if err != nil {
			continue
		}
		out = append(out, domain.NearbyFacility{Facility: f, DistanceKm: d, Counts: counts})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm == out[j].DistanceKm {
			return out[i].Facility.ID < out[j].Facility.ID
		}
		return out[i].DistanceKm < out[j].DistanceKm
	})

	if a.predictor != nil && len(out) > 0 {
		a.attachPredictions(ctx, q, out)
	}
	return out
}

func (a *Aggregator) attachPredictions(ctx context.Context, q domain.NearbyQuery, out []domain.NearbyFacility) {
	sem := make(chan struct{}, predictWorkers)
	var wg sync.WaitGroup
	for i := range out {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i].Prediction = a.Prediction(ctx, domain.PredictionRequest{
				UserLatitude:       q.Latitude,
				UserLongitude:      q.Longitude,
				FacilityID:         out[i].Facility.ID,
				PlannedArrivalTime: q.PlannedArrivalTime,
			})
		}(i)
	}
	wg.Wait()
}

// Prediction returns a fresh cached prediction for the same requester bucket,
// a new one from the predictor, or, when the predictor fails, the facility's
// last known availability marked stale without an arrival estimate. nil means
// no prediction is available.
func (a *Aggregator) Prediction(ctx context.Context, req domain.PredictionRequest) *models.Prediction {
	if a.predictor == nil {
		return nil
	}

	key := requesterKey(req)
	if cached := a.cached(ctx, key); cached != nil && a.clock.Now().Sub(cached.FetchedAt) < a.config.CacheTTL {
		metrics.IncPredictor("cached")
		return cached
	}

	pctx, cancel := context.WithTimeout(ctx, predictTimeout)
	defer cancel()
	p, err := a.predictor.Predict(pctx, req)
	if err != nil {
		a.logger.Debug().Err(err).Str("facility_id", req.FacilityID).Msg("predictor unavailable")
		if last := a.cached(ctx, req.FacilityID); last != nil {
			metrics.IncPredictor("stale")
			last.EstimatedArrivalTime = time.Time{}
			last.Stale = true
			return last
		}
		metrics.IncPredictor("error")
		return nil
	}

	metrics.IncPredictor("ok")
	a.store(ctx, key, p)
	a.store(ctx, req.FacilityID, p)
	return p
}

func (a *Aggregator) cached(ctx context.Context, key string) *models.Prediction {
	if a.cache == nil {
		return nil
	}
	p, err := a.cache.GetPrediction(ctx, key)
	if err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("prediction cache read failed")
		return nil
	}
	return p
}

func (a *Aggregator) store(ctx context.Context, key string, p *models.Prediction) {
	if a.cache == nil {
		return
	}
	if err := a.cache.SetPrediction(ctx, key, p); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("prediction cache write failed")
	}
}

// requesterKey buckets a request by facility, user position (about 1 km) and
// planned arrival (5 minutes), since the arrival estimate depends on all three.
func requesterKey(req domain.PredictionRequest) string {
	arrival := "now"
	if req.PlannedArrivalTime != nil {
		arrival = req.PlannedArrivalTime.UTC().Truncate(arrivalBucket).Format("200601021504")
	}
	return fmt.Sprintf("%s@%.2f,%.2f@%s", req.FacilityID, req.UserLatitude, req.UserLongitude, arrival)
}
