// Package queue is the durable delayed-job queue that decouples dispatch from
// channel delivery. Jobs live in per-queue, per-priority sets ordered by the
// time they become ready.
package queue

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"vn.io.arda/realtime/internal/domain"
)

// Kind says which subsystem a job belongs to.
type Kind string

const (
	KindNotification    Kind = "notification"
	KindWebhookDelivery Kind = "webhook_delivery"
)

// Job references a stored record; the payload itself is never queued.
type Job struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Queue       string    `json:"queue"`
	RefID       uuid.UUID `json:"ref_id"`
	TenantID    string    `json:"tenant_id"`
	Priority    string    `json:"priority"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	// Failures counts handler errors on this job, as opposed to delivery
	// attempts that reached a provider.
	Failures int `json:"failures,omitempty"`
}

// Options control when and in which order a job becomes visible.
type Options struct {
	Delay    time.Duration
	Priority domain.Priority
	Attempts int
}

// Queue is implemented by the Redis and in-memory backends.
type Queue interface {
	// Enqueue makes job visible on its queue after opts.Delay.
	Enqueue(ctx context.Context, job *Job, opts Options) error
	// Dequeue claims the most urgent ready job across queues. It returns
	// (nil, nil) when nothing is ready.
	Dequeue(ctx context.Context, queues []string) (*Job, error)
	// Len counts jobs on a queue, ready or not.
	Len(ctx context.Context, queue string) (int64, error)
}

// ErrEmptyQueueName rejects jobs without a destination queue.
var ErrEmptyQueueName = errors.New("queue: job has no queue name")

// prepare fills defaults shared by every backend.
func prepare(job *Job, opts Options) (domain.Priority, error) {
	if job.Queue == "" {
		return "", ErrEmptyQueueName
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	p := opts.Priority
	if !p.Valid() {
		p = domain.PriorityNormal
	}
	job.Priority = string(p)
	if opts.Attempts > 0 {
		job.MaxAttempts = opts.Attempts
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	return p, nil
}

// Backoff returns base * factor^(attempt-1), capped at max when max > 0.
// attempt is 1-based.
func Backoff(attempt int, base time.Duration, factor float64, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
	if max > 0 && (d > max || d < 0) {
		return max
	}
	return d
}
