package repository

import (
	"context"
	"sync"
	"time"

	"parkwise/internal/models"
)

// MemoryCache is the in-process stand-in for RedisCache.
type MemoryCache struct {
	mu          sync.Mutex
	predictions map[string]memoryPrediction
	rateLimits  map[string]*rateLimitEntry
	retention   time.Duration
	now         func() time.Time
}

type memoryPrediction struct {
	prediction models.Prediction
	expiresAt  time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryCache(retention time.Duration) *MemoryCache {
	return &MemoryCache{
		predictions: make(map[string]memoryPrediction),
		rateLimits:  make(map[string]*rateLimitEntry),
		retention:   retention,
		now:         time.Now,
	}
}

func (r *MemoryCache) GetPrediction(_ context.Context, key string) (*models.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.predictions[key]
	if !ok {
		return nil, nil
	}
	if r.retention > 0 && r.now().After(entry.expiresAt) {
		delete(r.predictions, key)
		return nil, nil
	}
	p := entry.prediction
	return &p, nil
}

func (r *MemoryCache) SetPrediction(_ context.Context, key string, prediction *models.Prediction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.predictions[key] = memoryPrediction{
		prediction: *prediction,
		expiresAt:  r.now().Add(r.retention),
	}
	return nil
}

func (r *MemoryCache) CheckRateLimit(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[key]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[key] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
