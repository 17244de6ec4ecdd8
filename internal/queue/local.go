package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Local is an in-process queue for single-binary deployments. Messages live
// in memory only; the sweeper recovers anything lost on restart.
type Local struct {
	ch     chan string
	logger zerolog.Logger
}

func NewLocal(buffer int, logger zerolog.Logger) *Local {
	if buffer <= 0 {
		buffer = 64
	}
	return &Local{ch: make(chan string, buffer), logger: logger}
}

// Enqueue never blocks; a full buffer is reported as ErrQueueFull.
func (q *Local) Enqueue(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run consumes with the given number of workers until ctx is done, then waits
// for in-flight handlers.
func (q *Local) Run(ctx context.Context, concurrency int, h Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID := <-q.ch:
					q.dispatch(ctx, jobID, h)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

func (q *Local) dispatch(ctx context.Context, jobID string, h Handler) {
	err := h(ctx, jobID)
	switch {
	case err == nil:
	case errors.Is(err, ErrRequeue):
		if ctx.Err() != nil {
			q.logger.Info().Str("job_id", jobID).Msg("queue: dropping interrupted job on shutdown")
			return
		}
		select {
		case q.ch <- jobID:
		default:
			q.logger.Warn().Str("job_id", jobID).Msg("queue: requeue skipped, buffer full")
		}
	default:
		q.logger.Error().Err(err).Str("job_id", jobID).Msg("queue: handler failed")
	}
}

var _ Trigger = (*Local)(nil)
