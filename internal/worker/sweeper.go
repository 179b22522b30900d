package worker

import (
	"context"
	"time"

	"parkwise/internal/logging"
	"parkwise/internal/models"

	"github.com/rs/zerolog"
)

// HoldExpirer is the ledger operation the sweeper drives.
type HoldExpirer interface {
	ExpireStaleHolds(ctx context.Context) (int, error)
}

// HoldSweeper expires stale holds on a fixed interval.
type HoldSweeper struct {
	ledger   HoldExpirer
	interval time.Duration
	retry    RetryPolicy
	logger   *zerolog.Logger
}

func NewHoldSweeper(ledger HoldExpirer, interval time.Duration, retry RetryPolicy, logger *zerolog.Logger) *HoldSweeper {
	if interval <= 0 {
		interval = models.DefaultSweepInterval
	}
	if retry.MaxRetries == 0 {
		retry = DefaultRetryPolicy
	}
	return &HoldSweeper{
		ledger:   ledger,
		interval: interval,
		retry:    retry,
		logger:   logging.Component(logger, "hold_sweeper"),
	}
}

// Start blocks until ctx is done.
func (s *HoldSweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("Hold sweeper started")
	defer s.logger.Info().Msg("Hold sweeper stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass, retrying transient failures.
func (s *HoldSweeper) Sweep(ctx context.Context) int {
	total := 0
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		n, err := s.ledger.ExpireStaleHolds(ctx)
		total += n
		return err
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Int("expired", total).Msg("Hold sweep failed")
	}
	return total
}
