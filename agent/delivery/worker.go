package delivery

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Worker drives periodic delivery passes over all tenants.
type Worker struct {
	queue    *Queue
	interval time.Duration
}

func NewWorker(q *Queue) *Worker {
	interval := q.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{queue: q, interval: interval}
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", w.interval).Msg("delivery worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("delivery worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.queue.ProcessAll(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("delivery sweep failed")
			}
		}
	}
}
