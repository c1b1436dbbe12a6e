package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/auth"
	"vn.io.arda/realtime/internal/domain"
)

// stubVerifier accepts tokens of the form "user@tenant".
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, token string) (*auth.Claims, error) {
	user, tenant, ok := strings.Cut(token, "@")
	if !ok {
		return nil, errors.New("malformed")
	}
	return &auth.Claims{Subject: user, TenantID: tenant}, nil
}

type stubTenants map[string]bool

func (s stubTenants) IsValidTenant(_ context.Context, tenantID string) (bool, error) {
	return s[tenantID], nil
}

type fakeSocket struct {
	mu     sync.Mutex
	msgs   []domain.Message
	closed bool
	fail   bool
}

func (s *fakeSocket) Send(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.fail {
		return errors.New("socket closing")
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) events(name string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Message
	for _, m := range s.msgs {
		if m.Event == name {
			out = append(out, m)
		}
	}
	return out
}

func newTestRegistry() *Registry {
	return NewRegistry(stubVerifier{}, stubTenants{"T1": true, "T2": true})
}

func mustRegister(t *testing.T, r *Registry, id, token string) *fakeSocket {
	t.Helper()
	sock := &fakeSocket{}
	_, err := r.Register(context.Background(), id, auth.Credentials{Query: token}, sock)
	require.NoError(t, err)
	return sock
}

func TestRegister_AuthRejections(t *testing.T) {
	tests := []struct {
		name   string
		creds  auth.Credentials
		reason domain.AuthReason
	}{
		{"no token", auth.Credentials{}, domain.AuthNoToken},
		{"invalid token", auth.Credentials{Header: "Bearer garbage"}, domain.AuthInvalidToken},
		{"invalid tenant", auth.Credentials{AuthPayload: "u1@T9"}, domain.AuthInvalidTenant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			_, err := r.Register(context.Background(), "c1", tt.creds, &fakeSocket{})

			var authErr *domain.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.reason, authErr.Reason)
			assert.Equal(t, 0, r.Count(), "no partial registration")
			assert.Equal(t, 0, r.TopicCount())
		})
	}
}

func TestRegister_JoinsTenantAndUserRooms(t *testing.T) {
	r := newTestRegistry()
	mustRegister(t, r, "c1", "u1@T1")

	info, ok := r.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "T1", info.TenantID)
	assert.Equal(t, "u1", info.UserID)
	assert.ElementsMatch(t, []domain.Topic{"tenant:T1", "user:T1:u1"}, info.Topics)
	assert.Len(t, r.ListByTenant("T1"), 1)
}

func TestRegister_PeerJoinedBroadcast(t *testing.T) {
	r := newTestRegistry()
	first := mustRegister(t, r, "c1", "u1@T1")
	other := mustRegister(t, r, "c3", "u3@T2")
	second := mustRegister(t, r, "c2", "u2@T1")

	assert.Len(t, first.events(domain.EventUserConnected), 1)
	assert.Empty(t, second.events(domain.EventUserConnected), "joiner is not told about itself")
	assert.Empty(t, other.events(domain.EventUserConnected), "other tenants are not told")
}

func TestCloseAll(t *testing.T) {
	r := newTestRegistry()
	a := mustRegister(t, r, "c1", "u1@T1")
	b := mustRegister(t, r, "c2", "u2@T2")

	assert.Equal(t, 2, r.CloseAll())
	assert.Zero(t, r.Count())
	assert.Zero(t, r.TopicCount())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Zero(t, r.CloseAll())
}

func TestSubscribeBroadcast_TenantIsolation(t *testing.T) {
	r := newTestRegistry()
	c1 := mustRegister(t, r, "C1", "u1@T1")
	c2 := mustRegister(t, r, "C2", "u2@T2")

	require.NoError(t, r.Subscribe("C1", "inventory:T1:loc-1"))
	require.NoError(t, r.Subscribe("C2", "inventory:T2:loc-1"))

	n := r.Broadcast("inventory:T1:loc-1", domain.EventInventoryUpdated, map[string]any{"productId": "p1", "newQty": 4})
	assert.Equal(t, 1, n)

	got := c1.events(domain.EventInventoryUpdated)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"productId": "p1", "newQty": 4}, got[0].Data)
	assert.False(t, got[0].Timestamp.IsZero(), "server sets timestamp")
	assert.Empty(t, c2.events(domain.EventInventoryUpdated))
}

func TestSubscribe_ForeignTenantRejected(t *testing.T) {
	r := newTestRegistry()
	mustRegister(t, r, "C1", "u1@T1")

	err := r.Subscribe("C1", "inventory:T2")
	assert.ErrorIs(t, err, domain.ErrForeignTopic)
	assert.Empty(t, r.Members("inventory:T2"))
}

func TestSubscribe_Unregistered(t *testing.T) {
	r := newTestRegistry()
	assert.ErrorIs(t, r.Subscribe("nobody", "inventory:T1"), domain.ErrNotRegistered)
}

func TestUnsubscribe_ForeignTenantLeavesSetUnchanged(t *testing.T) {
	r := newTestRegistry()
	mustRegister(t, r, "C1", "u1@T1")
	require.NoError(t, r.Subscribe("C1", "inventory:T1"))

	before, _ := r.Get("C1")
	err := r.Unsubscribe("C1", "inventory:T2")
	assert.ErrorIs(t, err, domain.ErrForeignTopic)

	after, _ := r.Get("C1")
	assert.Equal(t, before.Topics, after.Topics)
}

func TestTenantWideAndScopedTopicsAreIndependent(t *testing.T) {
	r := newTestRegistry()
	wide := mustRegister(t, r, "wide", "u1@T1")
	scoped := mustRegister(t, r, "scoped", "u2@T1")
	require.NoError(t, r.Subscribe("wide", "inventory:T1"))
	require.NoError(t, r.Subscribe("scoped", "inventory:T1:loc-1"))

	r.Broadcast("inventory:T1", domain.EventInventoryUpdated, nil)
	assert.Len(t, wide.events(domain.EventInventoryUpdated), 1)
	assert.Empty(t, scoped.events(domain.EventInventoryUpdated))

	r.Broadcast("inventory:T1:loc-1", domain.EventInventoryUpdated, nil)
	assert.Len(t, wide.events(domain.EventInventoryUpdated), 1)
	assert.Len(t, scoped.events(domain.EventInventoryUpdated), 1)
}

func TestTopicGarbageCollected(t *testing.T) {
	r := newTestRegistry()
	mustRegister(t, r, "C1", "u1@T1")
	require.NoError(t, r.Subscribe("C1", "customers:T1"))
	require.NoError(t, r.Unsubscribe("C1", "customers:T1"))
	assert.NotContains(t, r.topics, domain.Topic("customers:T1"))

	r.Unregister("C1")
	assert.Equal(t, 0, r.TopicCount())
	assert.Empty(t, r.byTenant)
}

func TestBroadcast_SwallowsSocketFailures(t *testing.T) {
	r := newTestRegistry()
	bad := mustRegister(t, r, "bad", "u1@T1")
	good := mustRegister(t, r, "good", "u2@T1")
	bad.fail = true

	n := r.Broadcast(domain.TenantRoom("T1"), "ping", nil)
	assert.Equal(t, 1, n)
	assert.Len(t, good.events("ping"), 1)
}

func TestEvictStale(t *testing.T) {
	r := newTestRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	stale := mustRegister(t, r, "stale", "u1@T1")
	require.NoError(t, r.Subscribe("stale", "inventory:T1:loc-1"))

	now = now.Add(10 * time.Minute)
	mustRegister(t, r, "fresh", "u2@T1")

	evicted := r.EvictStale(now.Add(-5*time.Minute), 100)
	require.Len(t, evicted, 1)
	assert.Equal(t, "stale", evicted[0].ID)
	assert.True(t, stale.closed)

	_, ok := r.Get("stale")
	assert.False(t, ok)
	assert.Empty(t, r.Members("inventory:T1:loc-1"), "no orphaned memberships")
	assert.NotContains(t, r.Members(domain.TenantRoom("T1")), "stale")
	assert.Equal(t, 1, r.Count())
}

func TestEvictStale_AnnouncesDisconnect(t *testing.T) {
	r := newTestRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	stale := mustRegister(t, r, "stale", "u1@T1")
	now = now.Add(10 * time.Minute)
	peer := mustRegister(t, r, "peer", "u2@T1")
	other := mustRegister(t, r, "other", "u3@T2")

	require.Len(t, r.EvictStale(now.Add(-5*time.Minute), 100), 1)

	notices := peer.events(domain.EventUserDisconnected)
	require.Len(t, notices, 1)
	assert.Equal(t, map[string]any{"userId": "u1", "connectionId": "stale"}, notices[0].Data)
	assert.Empty(t, stale.events(domain.EventUserDisconnected))
	assert.Empty(t, other.events(domain.EventUserDisconnected))

	_, ok := r.Unregister("stale")
	assert.False(t, ok)
	assert.Len(t, peer.events(domain.EventUserDisconnected), 1, "announced once")
}

func TestEvictStale_SocketAlreadyGone(t *testing.T) {
	r := newTestRegistry()
	now := time.Now()
	r.now = func() time.Time { return now.Add(-time.Hour) }

	_, err := r.Register(context.Background(), "ghost", auth.Credentials{Query: "u1@T1"}, nil)
	require.NoError(t, err)

	evicted := r.EvictStale(now, 0)
	assert.Len(t, evicted, 1)
	assert.Equal(t, 0, r.Count())
}

func TestEvictStale_RespectsBatchLimit(t *testing.T) {
	r := newTestRegistry()
	past := time.Now().Add(-time.Hour)
	r.now = func() time.Time { return past }
	for i := 0; i < 5; i++ {
		mustRegister(t, r, fmt.Sprintf("c%d", i), "u@T1")
	}
	assert.Len(t, r.EvictStale(time.Now(), 2), 2)
	assert.Equal(t, 3, r.Count())
}

func TestConcurrentMutations_KeepIndexesConsistent(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			tenant := "T1"
			if i%2 == 0 {
				tenant = "T2"
			}
			_, err := r.Register(context.Background(), id, auth.Credentials{Query: "u@" + tenant}, &fakeSocket{})
			if err != nil {
				return
			}
			_ = r.Subscribe(id, domain.NewTopic(domain.DomainInventory, tenant, "loc"))
			r.Broadcast(domain.NewTopic(domain.DomainInventory, tenant, "loc"), "x", nil)
			if i%3 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for tenant, n := range r.TenantCounts() {
		total += n
		for _, c := range r.ListByTenant(tenant) {
			for _, topic := range c.Topics {
				assert.Equal(t, tenant, topic.Tenant(), "tenant isolation is total")
			}
		}
	}
	assert.Equal(t, r.Count(), total)
}
