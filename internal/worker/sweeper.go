package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"genforge/internal/domain"
	"genforge/internal/queue"
)

// Sweeper re-enqueues PENDING jobs whose lease expired or whose trigger was
// lost. Workers treat the extra deliveries as no-ops when nothing is stalled.
type Sweeper struct {
	jobs     domain.JobRepository
	trigger  queue.Trigger
	interval time.Duration
	grace    time.Duration
	batch    int
	now      func() time.Time
	logger   zerolog.Logger
}

func NewSweeper(jobs domain.JobRepository, trigger queue.Trigger, interval, grace time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if grace <= 0 {
		grace = time.Minute
	}
	return &Sweeper{
		jobs:     jobs,
		trigger:  trigger,
		interval: interval,
		grace:    grace,
		batch:    100,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", s.interval).Msg("sweeper: started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("sweeper: sweep failed")
			}
		}
	}
}

// Sweep performs one pass and returns the number of jobs re-enqueued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.jobs.ListStalled(ctx, s.now().Add(-s.grace), s.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, id := range ids {
		if err := s.trigger.Enqueue(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("job_id", id).Msg("sweeper: enqueue failed")
			continue
		}
		sent++
	}
	if sent > 0 {
		s.logger.Info().Int("jobs", sent).Msg("sweeper: redelivered stalled jobs")
	}
	return sent, nil
}
