package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/channel"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/metrics"
	"vn.io.arda/realtime/internal/queue"
	"vn.io.arda/realtime/internal/webhook"
)

// Worker executes delivery jobs claimed by a queue.Poller.
type Worker struct {
	svc      *Service
	senders  channel.Set
	webhooks WebhookService
}

// NewWorker binds channel senders and the webhook retrier to svc.
func NewWorker(svc *Service, senders channel.Set, webhooks WebhookService) *Worker {
	return &Worker{svc: svc, senders: senders, webhooks: webhooks}
}

// Queues lists every queue the worker consumes: one per channel plus
// webhook redeliveries.
func (w *Worker) Queues() []string {
	out := make([]string, 0, len(domain.Channels)+1)
	for _, ch := range domain.Channels {
		out = append(out, string(ch))
	}
	return append(out, webhook.QueueName)
}

// Handle is a queue.HandlerFunc. A job whose handler fails before the
// outcome is recorded is requeued; see requeueOrFail.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) error {
	var err error
	switch job.Kind {
	case queue.KindNotification:
		err = w.deliver(ctx, job)
	case queue.KindWebhookDelivery:
		if w.webhooks == nil {
			return fmt.Errorf("webhook job %s: no webhook service", job.ID)
		}
		err = w.webhooks.Redeliver(ctx, job.RefID)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err == nil {
		return nil
	}
	// The job is already off the queue; shutdown must not strand it.
	return w.requeueOrFail(context.WithoutCancel(ctx), job, err)
}

// requeueOrFail requeues a failed job with backoff until its MaxAttempts budget is
// spent, then fails the record or webhook delivery with cause as the reason.
// An error is returned only when neither could be recorded.
func (w *Worker) requeueOrFail(ctx context.Context, job *queue.Job, cause error) error {
	s := w.svc
	budget := job.MaxAttempts
	if budget <= 0 {
		budget = s.cfg.MaxAttempts
	}
	failures := job.Failures + 1

	logger := log.With().
		Str("job", job.ID).
		Str("kind", string(job.Kind)).
		Str("ref", job.RefID.String()).
		Int("failures", failures).
		Logger()

	if failures < budget {
		next := *job
		next.ID = ""
		next.Failures = failures
		delay := queue.Backoff(failures, s.cfg.RetryBaseDelay, 2, s.cfg.RetryMaxDelay)
		err := s.queue.Enqueue(ctx, &next, queue.Options{Delay: delay, Priority: domain.Priority(job.Priority), Attempts: budget})
		if err == nil {
			metrics.JobRequeues.WithLabelValues(job.Queue).Inc()
			logger.Warn().Err(cause).Dur("retry_in", delay).Msg("job handler failed, job requeued")
			return nil
		}
		cause = fmt.Errorf("%w; requeue: %v", cause, err)
	}

	reason := cause.Error()
	var err error
	switch job.Kind {
	case queue.KindNotification:
		_, err = s.MarkFailed(ctx, job.RefID, reason)
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
			// Settled by another path meanwhile.
			err = nil
		}
	case queue.KindWebhookDelivery:
		err = w.webhooks.Abandon(ctx, job.RefID, reason)
	}
	if err != nil {
		return fmt.Errorf("%w; mark failed: %v", cause, err)
	}
	logger.Error().Err(cause).Msg("job abandoned after repeated handler failures")
	return nil
}

func (w *Worker) deliver(ctx context.Context, job *queue.Job) error {
	s := w.svc
	rec, err := s.store.GetRecord(ctx, job.RefID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Str("record", job.RefID.String()).Msg("record gone before delivery, dropping job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load record %s: %w", job.RefID, err)
	}
	if rec.Status != domain.StatusPending {
		// Read or retried through another path already.
		return nil
	}

	logger := log.With().
		Str("record", rec.ID.String()).
		Str("tenant", rec.TenantID).
		Str("channel", string(rec.Channel)).
		Logger()

	d := channel.Delivery{Record: rec}
	switch rec.Channel {
	case domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush:
		contact, err := s.store.GetContact(ctx, rec.TenantID, rec.RecipientID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("load contact of %s: %w", rec.RecipientID, err)
		}
		d.Contact = contact
	}

	start := time.Now()
	res, sendErr := w.senders.Get(rec.Channel).Send(ctx, d)
	metrics.DeliveryDuration.WithLabelValues(string(rec.Channel)).Observe(time.Since(start).Seconds())

	rec.DeliveryAttempts++
	now := s.now().UTC()
	rec.UpdatedAt = now

	if sendErr == nil {
		sentAt := res.SentAt.UTC()
		if res.SentAt.IsZero() {
			sentAt = now
		}
		rec.SentAt = &sentAt
		rec.Status = domain.StatusSent
		if res.Delivered {
			rec.Status = domain.StatusDelivered
			rec.DeliveredAt = &now
		}
		rec.FailureReason = ""
		metrics.NotificationDeliveries.WithLabelValues(string(rec.Channel), string(rec.Status)).Inc()
		logger.Debug().Str("status", string(rec.Status)).Str("provider_id", res.ProviderID).Msg("notification delivered")
		return w.save(ctx, rec)
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}
	if !channel.Permanent(sendErr) && rec.DeliveryAttempts < maxAttempts {
		delay := queue.Backoff(rec.DeliveryAttempts, s.cfg.RetryBaseDelay, 2, s.cfg.RetryMaxDelay)
		rec.FailureReason = sendErr.Error()
		if err := w.save(ctx, rec); err != nil {
			return err
		}
		next := &queue.Job{
			Kind:     queue.KindNotification,
			Queue:    job.Queue,
			RefID:    rec.ID,
			TenantID: rec.TenantID,
			Attempts: rec.DeliveryAttempts,
		}
		err := s.queue.Enqueue(ctx, next, queue.Options{Delay: delay, Priority: rec.Priority, Attempts: maxAttempts})
		if err == nil {
			metrics.NotificationDeliveries.WithLabelValues(string(rec.Channel), "retry").Inc()
			logger.Warn().Err(sendErr).Int("attempt", rec.DeliveryAttempts).Dur("retry_in", delay).Msg("delivery failed, retry scheduled")
			return nil
		}
		logger.Error().Err(err).Msg("retry could not be scheduled")
		sendErr = fmt.Errorf("%w; retry not scheduled: %v", sendErr, err)
	}

	rec.Status = domain.StatusFailed
	rec.FailureReason = sendErr.Error()
	metrics.NotificationDeliveries.WithLabelValues(string(rec.Channel), string(domain.StatusFailed)).Inc()
	logger.Warn().Err(sendErr).Int("attempts", rec.DeliveryAttempts).Msg("notification failed")
	return w.save(ctx, rec)
}

// save writes rec while it is still pending. A concurrent change (for
// instance the user reading it) wins and is not an error.
func (w *Worker) save(ctx context.Context, rec *domain.NotificationRecord) error {
	err := w.svc.store.UpdateRecord(ctx, rec, domain.StatusPending)
	if errors.Is(err, domain.ErrConflict) {
		log.Debug().Str("record", rec.ID.String()).Msg("record changed during delivery")
		return nil
	}
	return err
}
