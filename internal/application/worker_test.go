package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/channel"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/queue"
	"vn.io.arda/realtime/internal/store/memory"
	"vn.io.arda/realtime/internal/webhook"
)

type stubSender struct {
	calls atomic.Int32
	res   channel.Result
	err   error
}

func (s *stubSender) Send(context.Context, channel.Delivery) (channel.Result, error) {
	s.calls.Add(1)
	return s.res, s.err
}

type stubWebhooks struct {
	redelivered  []uuid.UUID
	abandoned    map[uuid.UUID]string
	triggered    []string
	redeliverErr error
}

func (s *stubWebhooks) Trigger(_ context.Context, tenantID, event string, _ any) []*domain.WebhookDelivery {
	s.triggered = append(s.triggered, tenantID+"/"+event)
	return nil
}

func (s *stubWebhooks) Redeliver(_ context.Context, id uuid.UUID) error {
	s.redelivered = append(s.redelivered, id)
	return s.redeliverErr
}

func (s *stubWebhooks) Abandon(_ context.Context, id uuid.UUID, reason string) error {
	if s.abandoned == nil {
		s.abandoned = map[uuid.UUID]string{}
	}
	s.abandoned[id] = reason
	return nil
}

// flakyStore fails GetContact a number of times before recovering.
type flakyStore struct {
	*memory.Store
	contactErrs int
}

func (s *flakyStore) GetContact(ctx context.Context, tenantID, userID string) (*domain.Contact, error) {
	if s.contactErrs > 0 {
		s.contactErrs--
		return nil, errors.New("db: connection reset")
	}
	return s.Store.GetContact(ctx, tenantID, userID)
}

// runNext claims the next ready job and hands it to the worker.
func runNext(t *testing.T, f *fixture, w *Worker) *queue.Job {
	t.Helper()
	job, err := f.queue.Dequeue(context.Background(), w.Queues())
	require.NoError(t, err)
	require.NotNil(t, job, "expected a ready job")
	require.NoError(t, w.Handle(context.Background(), job))
	return job
}

func TestWorker_Queues(t *testing.T) {
	w := NewWorker(newFixture(t, Config{}).svc, nil, nil)
	assert.Equal(t, []string{"in_app", "email", "sms", "push", "webhook", webhook.QueueName}, w.Queues())
}

func TestWorker_DeliversAndTransitions(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	email := &stubSender{res: channel.Result{ProviderID: "m-1"}}
	w := NewWorker(f.svc, channel.Set{
		domain.ChannelInApp: channel.NewInApp(f.hub),
		domain.ChannelEmail: email,
	}, nil)

	emailID := sendOne(t, f, domain.ChannelEmail)
	inAppID := sendOne(t, f, domain.ChannelInApp)
	runNext(t, f, w)
	runNext(t, f, w)

	rec, err := f.store.GetRecord(ctx, emailID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status)
	assert.Equal(t, 1, rec.DeliveryAttempts)
	assert.NotNil(t, rec.SentAt)

	rec, err = f.store.GetRecord(ctx, inAppID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, rec.Status)
	assert.NotNil(t, rec.DeliveredAt)
	assert.Len(t, f.hub.topics(), 1, "immediate in-app record pushed once, at dispatch")
}

func TestWorker_RetriesThenFails(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3, RetryBaseDelay: time.Second, RetryMaxDelay: time.Minute})
	ctx := context.Background()
	sms := &stubSender{err: errors.New("twilio 503")}
	w := NewWorker(f.svc, channel.Set{domain.ChannelSMS: sms}, nil)
	require.NoError(t, f.store.SaveContact(ctx, &domain.Contact{TenantID: "T1", UserID: "u1", Phone: "+84900"}))

	id := sendOne(t, f, domain.ChannelSMS)
	runNext(t, f, w)

	rec, _ := f.store.GetRecord(ctx, id)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.DeliveryAttempts)
	assert.Equal(t, "twilio 503", rec.FailureReason)

	job, err := f.queue.Dequeue(ctx, w.Queues())
	require.NoError(t, err)
	assert.Nil(t, job, "retry waits for its backoff")

	clock := t0
	f.queue.SetClock(func() time.Time { return clock })
	clock = t0.Add(time.Second)
	runNext(t, f, w)
	clock = t0.Add(time.Second + 2*time.Second)
	runNext(t, f, w)

	rec, _ = f.store.GetRecord(ctx, id)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, 3, rec.DeliveryAttempts)
	assert.EqualValues(t, 3, sms.calls.Load())
	n, _ := f.queue.Len(ctx, "sms")
	assert.Zero(t, n)
}

func TestWorker_PermanentErrorFailsAtOnce(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 5})
	ctx := context.Background()
	w := NewWorker(f.svc, channel.Set{domain.ChannelEmail: channel.NewEmail(channel.SMTPConfig{Host: "localhost", Port: "25"})}, nil)

	id := sendOne(t, f, domain.ChannelEmail)
	runNext(t, f, w)

	rec, _ := f.store.GetRecord(ctx, id)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, "no address")

	pushID := sendOne(t, f, domain.ChannelPush)
	runNext(t, f, w)
	rec, _ = f.store.GetRecord(ctx, pushID)
	assert.Equal(t, domain.StatusFailed, rec.Status, "unconfigured channel")
}

func TestWorker_HandlerErrorRequeuesJob(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3, RetryBaseDelay: time.Second, RetryMaxDelay: time.Minute})
	ctx := context.Background()
	f.svc.store = &flakyStore{Store: f.store, contactErrs: 1}
	email := &stubSender{res: channel.Result{ProviderID: "m-1"}}
	w := NewWorker(f.svc, channel.Set{domain.ChannelEmail: email}, nil)

	id := sendOne(t, f, domain.ChannelEmail)
	runNext(t, f, w)

	rec, err := f.store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Zero(t, rec.DeliveryAttempts)
	assert.EqualValues(t, 1, f.queued(t, "email"), "job is back on its queue")
	assert.Zero(t, email.calls.Load())

	job, err := f.queue.Dequeue(ctx, w.Queues())
	require.NoError(t, err)
	assert.Nil(t, job, "requeued job waits for its backoff")

	f.queue.SetClock(func() time.Time { return t0.Add(time.Second) })
	runNext(t, f, w)

	rec, err = f.store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status)
	assert.Equal(t, 1, rec.DeliveryAttempts)
	assert.EqualValues(t, 1, email.calls.Load())
}

func TestWorker_HandlerErrorFailsRecordWhenBudgetSpent(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 2, RetryBaseDelay: time.Second, RetryMaxDelay: time.Minute})
	ctx := context.Background()
	f.svc.store = &flakyStore{Store: f.store, contactErrs: 100}
	w := NewWorker(f.svc, channel.Set{domain.ChannelSMS: &stubSender{}}, nil)

	id := sendOne(t, f, domain.ChannelSMS)
	runNext(t, f, w)
	f.queue.SetClock(func() time.Time { return t0.Add(time.Second) })
	runNext(t, f, w)

	rec, err := f.store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, "connection reset")
	assert.Zero(t, f.queued(t, "sms"))

	_, err = f.svc.Retry(ctx, "T1", id)
	assert.NoError(t, err, "a failed record can be retried")
}

func TestWorker_WebhookHandlerErrorAbandonsDelivery(t *testing.T) {
	f := newFixture(t, Config{RetryBaseDelay: time.Second})
	hooks := &stubWebhooks{redeliverErr: errors.New("db: connection reset")}
	w := NewWorker(f.svc, nil, hooks)
	id := uuid.New()
	require.NoError(t, f.queue.Enqueue(context.Background(), &queue.Job{
		Kind: queue.KindWebhookDelivery, Queue: webhook.QueueName, RefID: id, TenantID: "T1",
	}, queue.Options{Attempts: 2}))

	runNext(t, f, w)
	assert.Empty(t, hooks.abandoned)
	assert.EqualValues(t, 1, f.queued(t, webhook.QueueName))

	f.queue.SetClock(func() time.Time { return t0.Add(time.Second) })
	runNext(t, f, w)
	assert.Equal(t, []uuid.UUID{id, id}, hooks.redelivered)
	assert.Contains(t, hooks.abandoned[id], "connection reset")
	assert.Zero(t, f.queued(t, webhook.QueueName))
}

func TestWorker_SkipsNonPending(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	sender := &stubSender{}
	w := NewWorker(f.svc, channel.Set{domain.ChannelInApp: sender}, nil)

	id := sendOne(t, f, domain.ChannelInApp)
	_, err := f.svc.MarkRead(ctx, "T1", "u1", id)
	require.NoError(t, err)

	runNext(t, f, w)
	assert.Zero(t, sender.calls.Load())
	rec, _ := f.store.GetRecord(ctx, id)
	assert.Equal(t, domain.StatusRead, rec.Status)
}

func TestWorker_RoutesWebhookJobs(t *testing.T) {
	f := newFixture(t, Config{})
	hooks := &stubWebhooks{}
	w := NewWorker(f.svc, nil, hooks)
	id := uuid.New()
	require.NoError(t, f.queue.Enqueue(context.Background(), &queue.Job{
		Kind: queue.KindWebhookDelivery, Queue: webhook.QueueName, RefID: id, TenantID: "T1",
	}, queue.Options{}))

	runNext(t, f, w)
	assert.Equal(t, []uuid.UUID{id}, hooks.redelivered)

	assert.Error(t, w.Handle(context.Background(), &queue.Job{Kind: "mystery"}))
}

// ── Events ───────────────────────────────────────────────────────────────────

func TestEvents_Handle(t *testing.T) {
	f := newFixture(t, Config{})
	hooks := &stubWebhooks{}
	ev := NewEvents(f.svc, hooks)

	err := ev.Handle(context.Background(), &domain.DomainEvent{
		TenantID: "T1",
		SourceID: "evt-1",
		Broadcasts: []domain.Broadcast{
			{Topic: "inventory:T1", Event: domain.EventInventoryUpdated, Data: map[string]any{"sku": "A"}},
			{Topic: "inventory:T1:WH1", Event: domain.EventInventoryUpdated},
			{Topic: "inventory:T2", Event: domain.EventInventoryUpdated},
		},
		Notification: &domain.NotificationRequest{
			Type: "low_stock", Roles: []string{"inventory_manager"}, Message: "low", Channels: []domain.Channel{domain.ChannelInApp},
		},
		Webhook: &domain.WebhookTrigger{Event: "inventory.low_stock"},
	})
	assert.ErrorIs(t, err, domain.ErrForeignTopic)

	assert.ElementsMatch(t, []domain.Topic{"inventory:T1", "inventory:T1:WH1", "user:T1:u2", "user:T1:u3"}, f.hub.topics())
	assert.Equal(t, []string{"T1/inventory.low_stock"}, hooks.triggered)
	assert.Len(t, f.records(t, "T1"), 2)

	assert.NoError(t, ev.Handle(context.Background(), &domain.DomainEvent{
		TenantID:     "T1",
		Notification: &domain.NotificationRequest{Message: "nobody"},
	}), "no recipients is not an ingestion error")
	assert.ErrorIs(t, ev.Handle(context.Background(), &domain.DomainEvent{}), domain.ErrInvalidInput)
}
