package repository

import (
	"context"
	"testing"
	"time"

	"parkwise/internal/config"
	"parkwise/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer client.Close()

	repo := NewRedisCache(client, "parkwise:", time.Hour)
	ctx := context.Background()
	fetched := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("SetAndGetPrediction", func(t *testing.T) {
		p := &models.Prediction{
			FacilityID:             "f1",
			AvailabilityPercentage: 65.5,
			EstimatedArrivalTime:   fetched.Add(12 * time.Minute),
			Confidence:             0.9,
			FetchedAt:              fetched,
		}
		require.NoError(t, repo.SetPrediction(ctx, "f1", p))
		assert.True(t, s.Exists("parkwise:prediction:f1"))

		got, err := repo.GetPrediction(ctx, "f1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 65.5, got.AvailabilityPercentage)
		assert.True(t, got.EstimatedArrivalTime.Equal(p.EstimatedArrivalTime))
		assert.True(t, got.FetchedAt.Equal(fetched))
	})

	t.Run("GetMissingPrediction", func(t *testing.T) {
		got, err := repo.GetPrediction(ctx, "f9")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("RetentionExpiry", func(t *testing.T) {
		s.FastForward(time.Hour + time.Second)
		got, err := repo.GetPrediction(ctx, "f1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("CorruptPrediction", func(t *testing.T) {
		require.NoError(t, s.Set("parkwise:prediction:bad", "{not json"))
		_, err := repo.GetPrediction(ctx, "bad")
		assert.Error(t, err)
	})

	t.Run("RateLimit", func(t *testing.T) {
		window := time.Second

		allowed, err := repo.CheckRateLimit(ctx, "key-1", 2, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = repo.CheckRateLimit(ctx, "key-1", 2, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = repo.CheckRateLimit(ctx, "key-1", 2, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		s.FastForward(window + time.Millisecond)

		allowed, err = repo.CheckRateLimit(ctx, "key-1", 2, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisCache(nil, "", time.Hour)
		_, err := repo.GetPrediction(ctx, "f1")
		assert.ErrorContains(t, err, "redis client is nil")
		assert.Error(t, repo.SetPrediction(ctx, "f1", &models.Prediction{FacilityID: "f1"}))
		_, err = repo.CheckRateLimit(ctx, "k", 1, time.Second)
		assert.Error(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("Close", func(t *testing.T) {
		assert.NoError(t, Close(client))
		assert.NoError(t, Close(nil))
	})
}

func TestRedisCacheUnavailable(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	defer client.Close()
	s.Close()

	repo := NewRedisCache(client, "parkwise:", time.Hour)
	_, err = repo.GetPrediction(context.Background(), "f1")
	assert.Error(t, err)
	assert.Error(t, Ping(context.Background(), client))
}
