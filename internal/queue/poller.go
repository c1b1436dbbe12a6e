package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc processes one claimed job. Retrying is the handler's business:
// the job has already been removed from the queue, so a handler that returns
// an error without requeueing loses the job.
type HandlerFunc func(ctx context.Context, job *Job) error

// Poller runs Workers goroutines that claim jobs from Queues and hand them to
// Handle. Idle workers sleep Interval between polls.
type Poller struct {
	Queue    Queue
	Queues   []string
	Workers  int
	Interval time.Duration
	Handle   HandlerFunc
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	log.Info().Strs("queues", p.Queues).Int("workers", workers).Msg("job poller started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			p.loop(ctx, interval)
			return nil
		})
	}
	err := g.Wait()
	log.Info().Msg("job poller stopped")
	return err
}

func (p *Poller) loop(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Drain everything ready before sleeping again.
		for ctx.Err() == nil {
			job, err := p.Queue.Dequeue(ctx, p.Queues)
			if err != nil {
				log.Error().Err(err).Msg("dequeue failed")
				break
			}
			if job == nil {
				break
			}
			if err := p.Handle(ctx, job); err != nil {
				log.Error().Err(err).
					Str("job", job.ID).
					Str("kind", string(job.Kind)).
					Str("queue", job.Queue).
					Msg("job handler failed")
			}
		}
		timer.Reset(interval)
	}
}
