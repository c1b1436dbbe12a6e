package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/auth"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/metrics"
)

// Socket is the transport handle of one connection.
// Send must be safe to call after Close; it then simply returns an error.
type Socket interface {
	Send(msg domain.Message) error
	Close() error
}

// closer is implemented by sockets that can report a dead underlying handle.
type closer interface {
	Closed() bool
}

type connection struct {
	info   domain.ConnectionInfo
	topics map[domain.Topic]struct{}
	socket Socket
}

// Registry tracks every authenticated connection, its tenant and its topic
// memberships. The three maps are only ever mutated together under mu, so a
// connection is never observable in one index but not the others.
type Registry struct {
	verifier auth.Verifier
	tenants  auth.TenantChecker
	now      func() time.Time

	mu       sync.RWMutex
	conns    map[string]*connection               // connectionID -> connection
	byTenant map[string]map[string]struct{}       // tenantID -> connectionIDs
	topics   map[domain.Topic]map[string]struct{} // topic -> connectionIDs
}

// NewRegistry creates an empty Registry.
func NewRegistry(verifier auth.Verifier, tenants auth.TenantChecker) *Registry {
	return &Registry{
		verifier: verifier,
		tenants:  tenants,
		now:      time.Now,
		conns:    make(map[string]*connection),
		byTenant: make(map[string]map[string]struct{}),
		topics:   make(map[domain.Topic]map[string]struct{}),
	}
}

// Authenticate resolves credentials to claims without touching registry state.
func (r *Registry) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Claims, error) {
	token := creds.Token()
	if token == "" {
		return nil, &domain.AuthError{Reason: domain.AuthNoToken}
	}
	claims, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return nil, &domain.AuthError{Reason: domain.AuthInvalidToken, Err: err}
	}
	ok, err := r.tenants.IsValidTenant(ctx, claims.TenantID)
	if err != nil || !ok {
		return nil, &domain.AuthError{Reason: domain.AuthInvalidTenant, Err: err}
	}
	return claims, nil
}

// Register authenticates and inserts a connection. On any failure nothing is
// inserted and an *domain.AuthError is returned.
func (r *Registry) Register(ctx context.Context, connID string, creds auth.Credentials, sock Socket) (domain.ConnectionInfo, error) {
	claims, err := r.Authenticate(ctx, creds)
	if err != nil {
		var authErr *domain.AuthError
		if errors.As(err, &authErr) {
			metrics.AuthRejections.WithLabelValues(string(authErr.Reason)).Inc()
		}
		return domain.ConnectionInfo{}, err
	}

	info := r.insert(connID, claims, sock)

	log.Info().
		Str("connection", connID).
		Str("tenant", info.TenantID).
		Str("user", info.UserID).
		Msg("connection registered")

	r.BroadcastExcept(domain.TenantRoom(info.TenantID), connID, domain.EventUserConnected, map[string]any{
		"userId":       info.UserID,
		"connectionId": connID,
	})
	return info, nil
}

func (r *Registry) insert(connID string, claims *auth.Claims, sock Socket) domain.ConnectionInfo {
	now := r.now()
	c := &connection{
		info: domain.ConnectionInfo{
			ID:             connID,
			UserID:         claims.Subject,
			TenantID:       claims.TenantID,
			Role:           claims.Role,
			ConnectedAt:    now,
			LastActivityAt: now,
		},
		topics: make(map[domain.Topic]struct{}),
		socket: sock,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[connID]; ok {
		r.removeLocked(old)
	}
	r.conns[connID] = c
	set := r.byTenant[claims.TenantID]
	if set == nil {
		set = make(map[string]struct{})
		r.byTenant[claims.TenantID] = set
	}
	set[connID] = struct{}{}
	r.joinLocked(c, domain.TenantRoom(claims.TenantID))
	r.joinLocked(c, domain.UserTopic(claims.TenantID, claims.Subject))

	r.updateGaugesLocked(claims.TenantID)
	return c.snapshot()
}

// Unregister removes a connection and all of its memberships. It is idempotent.
func (r *Registry) Unregister(connID string) (domain.ConnectionInfo, bool) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if ok {
		r.removeLocked(c)
		r.updateGaugesLocked(c.info.TenantID)
	}
	r.mu.Unlock()
	if !ok {
		return domain.ConnectionInfo{}, false
	}

	log.Info().
		Str("connection", connID).
		Str("tenant", c.info.TenantID).
		Str("user", c.info.UserID).
		Msg("connection unregistered")

	r.announceDisconnect(c)
	return c.snapshot(), true
}

// announceDisconnect tells the rest of the tenant that c is gone. c must
// already be out of the indexes so it does not receive its own notice.
func (r *Registry) announceDisconnect(c *connection) {
	r.Broadcast(domain.TenantRoom(c.info.TenantID), domain.EventUserDisconnected, map[string]any{
		"userId":       c.info.UserID,
		"connectionId": c.info.ID,
	})
}

// CloseAll drops every connection and closes its socket. Used on shutdown,
// where hijacked websocket connections outlive the HTTP server.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	all := make([]*connection, 0, len(r.conns))
	for _, c := range r.conns {
		all = append(all, c)
	}
	for _, c := range all {
		r.removeLocked(c)
		r.updateGaugesLocked(c.info.TenantID)
	}
	r.mu.Unlock()

	for _, c := range all {
		if c.socket != nil {
			_ = c.socket.Close()
		}
	}
	return len(all)
}

// Touch records activity on a connection.
func (r *Registry) Touch(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if ok {
		c.info.LastActivityAt = r.now()
	}
	return ok
}

// Get returns a snapshot of one connection.
func (r *Registry) Get(connID string) (domain.ConnectionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	if !ok {
		return domain.ConnectionInfo{}, false
	}
	return c.snapshot(), true
}

// ListByTenant returns snapshots of every connection of a tenant.
func (r *Registry) ListByTenant(tenantID string) []domain.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byTenant[tenantID]
	out := make([]domain.ConnectionInfo, 0, len(ids))
	for id := range ids {
		out = append(out, r.conns[id].snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Snapshot returns every connection.
func (r *Registry) Snapshot() []domain.ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.snapshot())
	}
	return out
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// TenantCounts returns connection counts keyed by tenant.
func (r *Registry) TenantCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.byTenant))
	for tenant, ids := range r.byTenant {
		out[tenant] = len(ids)
	}
	return out
}

// EvictStale force-disconnects up to limit connections whose last activity is
// before cutoff. Registry entries are removed immediately; sockets are closed
// after the lock is released.
func (r *Registry) EvictStale(cutoff time.Time, limit int) []domain.ConnectionInfo {
	var evicted []*connection

	r.mu.Lock()
	for _, c := range r.conns {
		if limit > 0 && len(evicted) >= limit {
			break
		}
		if c.info.LastActivityAt.Before(cutoff) {
			evicted = append(evicted, c)
		}
	}
	touched := make(map[string]struct{})
	for _, c := range evicted {
		r.removeLocked(c)
		touched[c.info.TenantID] = struct{}{}
	}
	for tenant := range touched {
		r.updateGaugesLocked(tenant)
	}
	r.mu.Unlock()

	out := make([]domain.ConnectionInfo, 0, len(evicted))
	for _, c := range evicted {
		out = append(out, c.snapshot())
		// The read loop's own Unregister finds nothing left to remove.
		r.announceDisconnect(c)
		if socketGone(c.socket) {
			log.Warn().
				Str("connection", c.info.ID).
				Str("tenant", c.info.TenantID).
				Msg("stale connection had no live socket, registry entry removed directly")
			continue
		}
		if err := c.socket.Close(); err != nil {
			log.Debug().Err(err).Str("connection", c.info.ID).Msg("close stale socket")
		}
		log.Info().
			Str("connection", c.info.ID).
			Str("tenant", c.info.TenantID).
			Time("last_activity", c.info.LastActivityAt).
			Msg("stale connection force-disconnected")
	}
	return out
}

func socketGone(s Socket) bool {
	if s == nil {
		return true
	}
	if c, ok := s.(closer); ok {
		return c.Closed()
	}
	return false
}

// removeLocked drops c from all three indexes. Caller holds mu.
func (r *Registry) removeLocked(c *connection) {
	delete(r.conns, c.info.ID)
	if set := r.byTenant[c.info.TenantID]; set != nil {
		delete(set, c.info.ID)
		if len(set) == 0 {
			delete(r.byTenant, c.info.TenantID)
		}
	}
	for topic := range c.topics {
		r.leaveLocked(c, topic)
	}
}

func (r *Registry) joinLocked(c *connection, topic domain.Topic) {
	set := r.topics[topic]
	if set == nil {
		set = make(map[string]struct{})
		r.topics[topic] = set
	}
	set[c.info.ID] = struct{}{}
	c.topics[topic] = struct{}{}
}

func (r *Registry) leaveLocked(c *connection, topic domain.Topic) {
	delete(c.topics, topic)
	if set := r.topics[topic]; set != nil {
		delete(set, c.info.ID)
		if len(set) == 0 {
			delete(r.topics, topic)
		}
	}
}

func (r *Registry) updateGaugesLocked(tenantID string) {
	metrics.ConnectionsActive.Set(float64(len(r.conns)))
	metrics.ConnectionsByTenant.WithLabelValues(tenantID).Set(float64(len(r.byTenant[tenantID])))
}

func (c *connection) snapshot() domain.ConnectionInfo {
	info := c.info
	info.Topics = make([]domain.Topic, 0, len(c.topics))
	for t := range c.topics {
		info.Topics = append(info.Topics, t)
	}
	sort.Slice(info.Topics, func(i, j int) bool { return info.Topics[i] < info.Topics[j] })
	return info
}
