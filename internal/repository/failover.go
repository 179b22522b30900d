package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"parkwise/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// Store is what both cache backends provide.
type Store interface {
	GetPrediction(ctx context.Context, key string) (*models.Prediction, error)
	SetPrediction(ctx context.Context, key string, prediction *models.Prediction) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// FailoverCache serves from primary until it errors, then from fallback,
// retrying primary once per recoveryInterval.
type FailoverCache struct {
	primary  Store
	fallback Store
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverCache(primary, fallback Store, logger *zerolog.Logger) *FailoverCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverCache) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary cache failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// usePrimary reports whether the next call should go to primary.
func (r *FailoverCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > recoveryInterval
}

func (r *FailoverCache) recovered() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary cache recovered")
	}
}

func (r *FailoverCache) GetPrediction(ctx context.Context, key string) (*models.Prediction, error) {
	if r.usePrimary() {
		p, err := r.primary.GetPrediction(ctx, key)
		if err == nil {
			r.recovered()
			return p, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetPrediction(ctx, key)
}

// SetPrediction writes to fallback as well so a later outage still has the
// last known value.
func (r *FailoverCache) SetPrediction(ctx context.Context, key string, prediction *models.Prediction) error {
	_ = r.fallback.SetPrediction(ctx, key, prediction)
	if r.usePrimary() {
		err := r.primary.SetPrediction(ctx, key, prediction)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return nil
}

func (r *FailoverCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		if err == nil {
			r.recovered()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
