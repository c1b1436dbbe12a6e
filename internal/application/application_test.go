package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/queue"
	"vn.io.arda/realtime/internal/store/memory"
)

var t0 = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

type sent struct {
	topic domain.Topic
	event string
	data  any
}

type fakeHub struct {
	mu   sync.Mutex
	sent []sent
}

func (h *fakeHub) Broadcast(topic domain.Topic, event string, data any) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, sent{topic, event, data})
	return 1
}

func (h *fakeHub) topics() []domain.Topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.Topic, 0, len(h.sent))
	for _, s := range h.sent {
		out = append(out, s.topic)
	}
	return out
}

type roleMap map[string][]string

func (r roleMap) UsersByRole(_ context.Context, _ string, role string) ([]string, error) {
	users, ok := r[role]
	if !ok {
		return nil, errors.New("unknown role")
	}
	return users, nil
}

type fixture struct {
	svc   *Service
	store *memory.Store
	queue *queue.MemoryQueue
	hub   *fakeHub
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), queue: queue.NewMemoryQueue(), hub: &fakeHub{}}
	f.svc = NewService(f.store, f.queue, f.hub, roleMap{"inventory_manager": {"u2", "u3"}}, cfg)
	f.svc.now = func() time.Time { return t0 }
	f.queue.SetClock(func() time.Time { return t0 })
	return f
}

func (f *fixture) records(t *testing.T, tenant string) []*domain.NotificationRecord {
	t.Helper()
	recs, err := f.store.ListRecords(context.Background(), domain.RecordFilter{TenantID: tenant, Limit: 100})
	require.NoError(t, err)
	return recs
}

func (f *fixture) queued(t *testing.T, q string) int64 {
	t.Helper()
	n, err := f.queue.Len(context.Background(), q)
	require.NoError(t, err)
	return n
}

// ── Rendering ────────────────────────────────────────────────────────────────

func TestRender(t *testing.T) {
	got := Render("Hi {{name}}, order {{id}} shipped", map[string]any{"name": "Ann", "id": 42, "unused": "x"})
	assert.Equal(t, "Hi Ann, order 42 shipped", got)

	assert.Equal(t, "Hi {{name}}", Render("Hi {{name}}", nil))
	assert.Equal(t, "Hi Ann, {{ missing }}", Render("Hi {{ name }}, {{ missing }}", map[string]any{"name": "Ann"}))
	assert.Equal(t, []string{"id", "name", "sku"}, Placeholders("{{name}} {{id}}", "{{ sku }} {{name}}"))
}

// ── Dispatch ─────────────────────────────────────────────────────────────────

func TestSendNotification_ExplicitChannels(t *testing.T) {
	f := newFixture(t, Config{})
	ids, err := f.svc.SendNotification(context.Background(), "T1", domain.NotificationRequest{
		Type:       "order_shipped",
		Recipients: []string{"u1", "u2", "u1"},
		Message:    "Order 42 shipped",
		Channels:   []domain.Channel{domain.ChannelInApp, domain.ChannelEmail},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 4)

	for _, r := range f.records(t, "T1") {
		assert.Equal(t, domain.StatusPending, r.Status)
		assert.Equal(t, domain.PriorityNormal, r.Priority)
		assert.Nil(t, r.ScheduledAt)
	}
	assert.ElementsMatch(t, []domain.Topic{"user:T1:u1", "user:T1:u2"}, f.hub.topics())
	assert.EqualValues(t, 2, f.queued(t, "in_app"))
	assert.EqualValues(t, 2, f.queued(t, "email"))
}

func TestSendNotification_PreferencesPickChannels(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.svc.SetPreference(ctx, "T1", "u1", PreferenceInput{NotificationType: "order_shipped", Channel: domain.ChannelEmail, IsEnabled: true})
	require.NoError(t, err)
	_, err = f.svc.SetPreference(ctx, "T1", "u1", PreferenceInput{NotificationType: "order_shipped", Channel: domain.ChannelSMS, IsEnabled: false})
	require.NoError(t, err)
	_, err = f.svc.SetPreference(ctx, "T1", "u1", PreferenceInput{NotificationType: "other", Channel: domain.ChannelPush, IsEnabled: true})
	require.NoError(t, err)

	ids, err := f.svc.SendNotification(ctx, "T1", domain.NotificationRequest{
		Type:       "order_shipped",
		Recipients: []string{"u1", "u2"},
		Message:    "shipped",
	})
	require.NoError(t, err)
	require.Len(t, ids, 1, "u2 has no enabled channel and is skipped")

	rec, err := f.store.GetRecord(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.RecipientID)
	assert.Equal(t, domain.ChannelEmail, rec.Channel)
	assert.Empty(t, f.hub.topics())
}

func TestSendNotification_Errors(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.SendNotification(ctx, "T1", domain.NotificationRequest{Message: "x"})
	assert.ErrorIs(t, err, domain.ErrNoRecipients)

	missing := uuid.New()
	_, err = f.svc.SendNotification(ctx, "T1", domain.NotificationRequest{Recipients: []string{"u1"}, TemplateID: &missing})
	assert.ErrorIs(t, err, domain.ErrTemplateNotFound)

	_, err = f.svc.SendNotification(ctx, "T1", domain.NotificationRequest{
		Recipients: []string{"u1"}, Message: "x", Channels: []domain.Channel{"carrier_pigeon"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.SendNotification(ctx, "T1", domain.NotificationRequest{Recipients: []string{"u1"}, Message: "x", Priority: "asap"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Empty(t, f.records(t, "T1"))
}

func TestSendNotification_RendersTemplate(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tpl, err := f.svc.CreateTemplate(ctx, "T1", TemplateInput{
		Name:         "shipped",
		Type:         "order_shipped",
		Subject:      "Order {{id}}",
		BodyTemplate: "Hi {{name}}, order {{id}} shipped",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, tpl.Variables)

	ids, err := f.svc.SendNotification(ctx, "T1", domain.NotificationRequest{
		Recipients: []string{"u1"},
		TemplateID: &tpl.ID,
		Variables:  map[string]any{"name": "Ann", "id": "42"},
		Channels:   []domain.Channel{domain.ChannelInApp},
	})
	require.NoError(t, err)
	rec, err := f.store.GetRecord(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Order 42", rec.Subject)
	assert.Equal(t, "Hi Ann, order 42 shipped", rec.Message)
	assert.Equal(t, "order_shipped", rec.Type)
	assert.Equal(t, &tpl.ID, rec.TemplateID)
}

func TestSendNotification_RoleRecipients(t *testing.T) {
	f := newFixture(t, Config{})
	ids, err := f.svc.SendNotification(context.Background(), "T1", domain.NotificationRequest{
		Type:       "low_stock",
		Recipients: []string{"u1", "u2"},
		Roles:      []string{"inventory_manager"},
		Message:    "SKU-1 is low",
		Channels:   []domain.Channel{domain.ChannelInApp},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.ElementsMatch(t, []domain.Topic{"user:T1:u1", "user:T1:u2", "user:T1:u3"}, f.hub.topics())

	_, err = f.svc.SendNotification(context.Background(), "T1", domain.NotificationRequest{
		Roles: []string{"nobody"}, Message: "x", Channels: []domain.Channel{domain.ChannelInApp},
	})
	assert.Error(t, err)
}

func TestSendNotification_QuietHours(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	late := time.Date(2026, 10, 15, 23, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return late }
	f.queue.SetClock(func() time.Time { return late })

	for _, ch := range []domain.Channel{domain.ChannelInApp, domain.ChannelEmail} {
		_, err := f.svc.SetPreference(ctx, "T1", "u1", PreferenceInput{
			NotificationType: "digest",
			Channel:          ch,
			IsEnabled:        true,
			QuietHoursStart:  "22:00",
			QuietHoursEnd:    "07:00",
		})
		require.NoError(t, err)
	}

	ids, err := f.svc.SendNotification(ctx, "T1", domain.NotificationRequest{Type: "digest", Recipients: []string{"u1"}, Message: "x"})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	want := time.Date(2026, 10, 16, 7, 0, 0, 0, time.UTC)
	for _, id := range ids {
		rec, err := f.store.GetRecord(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec.ScheduledAt)
		assert.True(t, want.Equal(*rec.ScheduledAt))
	}
	assert.Empty(t, f.hub.topics(), "deferred in-app records are not pushed at dispatch")

	job, err := f.queue.Dequeue(ctx, []string{"in_app", "email"})
	require.NoError(t, err)
	assert.Nil(t, job, "jobs stay invisible until quiet hours end")

	ids, err = f.svc.SendNotification(ctx, "T1", domain.NotificationRequest{
		Type: "digest", Recipients: []string{"u1"}, Message: "x", Priority: domain.PriorityUrgent,
	})
	require.NoError(t, err)
	for _, id := range ids {
		rec, _ := f.store.GetRecord(ctx, id)
		assert.Nil(t, rec.ScheduledAt, "urgent ignores quiet hours")
	}
}

func TestSendBulkNotifications(t *testing.T) {
	f := newFixture(t, Config{BulkBatchSize: 2})
	reqs := make([]domain.NotificationRequest, 5)
	for i := range reqs {
		reqs[i] = domain.NotificationRequest{
			Recipients: []string{"u1"},
			Message:    "hello",
			Channels:   []domain.Channel{domain.ChannelEmail},
		}
	}
	reqs[3].Recipients = nil

	res, err := f.svc.SendBulkNotifications(context.Background(), "T1", reqs)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Batches)
	assert.Equal(t, 4, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Items, 5)
	assert.Equal(t, 3, res.Items[3].Index)
	assert.Contains(t, res.Items[3].Error, "no recipients")
	assert.Len(t, res.Items[4].IDs, 1)
	assert.Len(t, f.records(t, "T1"), 4)
}

func TestSendBulkNotifications_StopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{BulkBatchSize: 2, BulkBatchDelay: time.Hour})
	reqs := make([]domain.NotificationRequest, 4)
	for i := range reqs {
		reqs[i] = domain.NotificationRequest{Recipients: []string{"u1"}, Message: "m", Channels: []domain.Channel{domain.ChannelEmail}}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.svc.SendBulkNotifications(ctx, "T1", reqs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 2, res.Succeeded)
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func sendOne(t *testing.T, f *fixture, ch domain.Channel) uuid.UUID {
	t.Helper()
	ids, err := f.svc.SendNotification(context.Background(), "T1", domain.NotificationRequest{
		Type: "note", Recipients: []string{"u1"}, Message: "m", Channels: []domain.Channel{ch},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0]
}

func TestLifecycle_Transitions(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := sendOne(t, f, domain.ChannelEmail)

	rec, err := f.svc.MarkSent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status)
	assert.NotNil(t, rec.SentAt)

	_, err = f.svc.MarkSent(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	rec, err = f.svc.MarkDelivered(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, rec.DeliveredAt)

	_, err = f.svc.MarkRead(ctx, "T1", "u2", id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.MarkRead(ctx, "T2", "u1", id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec, err = f.svc.MarkRead(ctx, "T1", "u1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, rec.Status)
	assert.NotNil(t, rec.ReadAt)

	rec, err = f.svc.MarkRead(ctx, "T1", "u1", id)
	require.NoError(t, err, "read is idempotent")
	assert.Equal(t, domain.StatusRead, rec.Status)

	_, err = f.svc.MarkFailed(ctx, id, "late bounce")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestMarkRead_FromPending(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := sendOne(t, f, domain.ChannelInApp)

	n, err := f.svc.CountUnread(ctx, "T1", "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	before, err := f.store.GetRecord(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, before.Status)
	require.False(t, domain.CanTransition(domain.StatusPending, domain.StatusRead))

	rec, err := f.svc.MarkRead(ctx, "T1", "u1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRead, rec.Status)
	require.NotNil(t, rec.DeliveredAt, "passes through delivered")
	require.NotNil(t, rec.ReadAt)
	assert.False(t, rec.ReadAt.Before(*rec.DeliveredAt))

	n, _ = f.svc.CountUnread(ctx, "T1", "u1")
	assert.Zero(t, n)
}

func TestMarkAllRead(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		sendOne(t, f, domain.ChannelInApp)
	}
	sendOne(t, f, domain.ChannelEmail)

	n, err := f.svc.MarkAllRead(ctx, "T1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	unread, _ := f.svc.CountUnread(ctx, "T1", "u1")
	assert.Zero(t, unread)
}

func TestRetry(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := sendOne(t, f, domain.ChannelEmail)

	_, err := f.svc.Retry(ctx, "T1", id)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.MarkFailed(ctx, id, "smtp down")
	require.NoError(t, err)
	before := f.queued(t, "email")

	_, err = f.svc.Retry(ctx, "T2", id)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec, err := f.svc.Retry(ctx, "T1", id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Zero(t, rec.DeliveryAttempts)
	assert.Empty(t, rec.FailureReason)
	assert.Equal(t, before+1, f.queued(t, "email"))
}

func TestListRecords_ClampsLimit(t *testing.T) {
	f := newFixture(t, Config{})
	for i := 0; i < 3; i++ {
		sendOne(t, f, domain.ChannelInApp)
	}
	recs, err := f.svc.ListRecords(context.Background(), domain.RecordFilter{TenantID: "T1", Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	recs, err = f.svc.ListRecords(context.Background(), domain.RecordFilter{TenantID: "T1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

// ── Admin ────────────────────────────────────────────────────────────────────

func TestTemplates_SystemReadOnly(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	sys := &domain.NotificationTemplate{ID: uuid.New(), Name: "welcome", Type: "welcome", BodyTemplate: "Hi", IsSystem: true}
	require.NoError(t, f.store.SaveTemplate(ctx, sys))

	in := TemplateInput{Name: "x", Type: "welcome", BodyTemplate: "Hello"}
	_, err := f.svc.UpdateTemplate(ctx, "T1", sys.ID, in)
	assert.ErrorIs(t, err, domain.ErrSystemTemplate)
	assert.ErrorIs(t, f.svc.DeleteTemplate(ctx, "T1", sys.ID), domain.ErrSystemTemplate)

	own, err := f.svc.CreateTemplate(ctx, "T1", in)
	require.NoError(t, err)
	in.BodyTemplate = "Hello {{name}}"
	updated, err := f.svc.UpdateTemplate(ctx, "T1", own.ID, in)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, updated.Variables)
	require.NoError(t, f.svc.DeleteTemplate(ctx, "T1", own.ID))

	_, err = f.svc.CreateTemplate(ctx, "T1", TemplateInput{Name: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSetPreference_Validation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	cases := []PreferenceInput{
		{Channel: domain.ChannelEmail},
		{NotificationType: "x", Channel: "fax"},
		{NotificationType: "x", Channel: domain.ChannelEmail, Frequency: "monthly"},
		{NotificationType: "x", Channel: domain.ChannelEmail, QuietHoursStart: "22:00"},
		{NotificationType: "x", Channel: domain.ChannelEmail, QuietHoursStart: "25:00", QuietHoursEnd: "07:00"},
		{NotificationType: "x", Channel: domain.ChannelEmail, Timezone: "Mars/Olympus"},
	}
	for _, in := range cases {
		_, err := f.svc.SetPreference(ctx, "T1", "u1", in)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "%+v", in)
	}

	p, err := f.svc.SetPreference(ctx, "T1", "u1", PreferenceInput{NotificationType: "x", Channel: domain.ChannelSMS, IsEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, domain.FrequencyImmediate, p.Frequency)
	prefs, err := f.svc.ListPreferences(ctx, "T1", "u1")
	require.NoError(t, err)
	assert.Len(t, prefs, 1)
}

func TestPurgeTTL(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	old := &domain.NotificationRecord{ID: uuid.New(), TenantID: "T1", Status: domain.StatusRead, CreatedAt: t0.AddDate(0, 0, -40)}
	fresh := &domain.NotificationRecord{ID: uuid.New(), TenantID: "T1", Status: domain.StatusRead, CreatedAt: t0.AddDate(0, 0, -1)}
	require.NoError(t, f.store.CreateRecords(ctx, []*domain.NotificationRecord{old, fresh}))

	f.svc.PurgeTTL(ctx, 30)
	recs := f.records(t, "T1")
	require.Len(t, recs, 1)
	assert.Equal(t, fresh.ID, recs[0].ID)
}
