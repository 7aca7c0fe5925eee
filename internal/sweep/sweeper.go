// Package sweep runs the periodic expiry pass that moves stale OPENED trades
// to CANCELLED_SYSTEM. The pass is idempotent: a trade already moved by a
// concurrent sweep or an explicit call is skipped without error.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"EscrowDesk/internal/engine"
	"EscrowDesk/internal/observability"
	"EscrowDesk/internal/trade"
)

const (
	defaultInterval  = time.Minute
	defaultBatchSize = 500
)

// Expirer is the slice of the engine the sweeper drives.
type Expirer interface {
	Expire(ctx context.Context, tradeID int64) (*trade.Trade, error)
}

// Lister finds trades due for expiry.
type Lister interface {
	ExpiredOpenTradeIDs(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

// Config holds the sweeper settings.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Sweeper drives the expiry pass on a fixed interval.
type Sweeper struct {
	cfg     Config
	lister  Lister
	engine  Expirer
	clock   engine.Clock
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewSweeper(cfg Config, lister Lister, eng Expirer, clock engine.Clock, log zerolog.Logger, metrics *observability.Metrics) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Sweeper{
		cfg:     cfg,
		lister:  lister,
		engine:  eng,
		clock:   clock,
		log:     log,
		metrics: metrics,
	}
}

// Run sweeps until ctx is cancelled. An immediate pass runs on start so a
// restart does not wait a full interval to catch up.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass and reports how many trades it expired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	s.metrics.SweepRuns.Inc()

	ids, err := s.lister.ExpiredOpenTradeIDs(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		s.metrics.SweepErrors.Inc()
		s.log.Error().Err(err).Msg("list expired trades")
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		_, err := s.engine.Expire(ctx, id)
		switch {
		case err == nil:
			expired++
			s.metrics.SweepExpired.Inc()
		case errors.Is(err, trade.ErrInvalidStateTransition),
			errors.Is(err, trade.ErrTradeNotFound):
			// Lost the race to another actor. Nothing to do.
		default:
			s.metrics.SweepErrors.Inc()
			s.log.Error().Err(err).Int64("trade_id", id).Msg("expire failed")
		}
	}

	if expired > 0 {
		s.log.Info().Int("expired", expired).Int("candidates", len(ids)).Msg("expiry sweep complete")
	}
	return expired
}
