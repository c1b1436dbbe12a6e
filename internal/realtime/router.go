package realtime

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/metrics"
)

// Subscribe adds a connection to a topic of its own tenant. The topic is
// created on first use.
func (r *Registry) Subscribe(connID string, topic domain.Topic) error {
	if _, err := domain.ParseTopic(string(topic)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return domain.ErrNotRegistered
	}
	if topic.Tenant() != c.info.TenantID {
		return fmt.Errorf("%w: %s", domain.ErrForeignTopic, topic)
	}
	if !topic.Subscribable() {
		return fmt.Errorf("%w: %s is server-assigned", domain.ErrInvalidTopic, topic)
	}
	r.joinLocked(c, topic)
	c.info.LastActivityAt = r.now()
	return nil
}

// Unsubscribe removes a connection from a topic. Topics outside the caller's
// tenant are rejected and leave the subscription set unchanged. Leaving a
// topic the connection never joined is a no-op.
func (r *Registry) Unsubscribe(connID string, topic domain.Topic) error {
	if _, err := domain.ParseTopic(string(topic)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return domain.ErrNotRegistered
	}
	if topic.Tenant() != c.info.TenantID {
		return fmt.Errorf("%w: %s", domain.ErrForeignTopic, topic)
	}
	if !topic.Subscribable() {
		return fmt.Errorf("%w: %s is server-assigned", domain.ErrInvalidTopic, topic)
	}
	r.leaveLocked(c, topic)
	c.info.LastActivityAt = r.now()
	return nil
}

// Broadcast sends an event to every connection on the topic and returns how
// many sockets accepted it. Per-socket failures are swallowed.
func (r *Registry) Broadcast(topic domain.Topic, event string, data any) int {
	return r.BroadcastExcept(topic, "", event, data)
}

// BroadcastExcept is Broadcast skipping one connection.
func (r *Registry) BroadcastExcept(topic domain.Topic, exceptID string, event string, data any) int {
	msg := domain.Message{Event: event, Data: data, Timestamp: r.now().UTC()}

	// Copy the socket set so sends happen outside the lock; a concurrent
	// unsubscribe or disconnect can then only make an individual send fail.
	r.mu.RLock()
	ids := r.topics[topic]
	targets := make([]*connection, 0, len(ids))
	for id := range ids {
		if id == exceptID {
			continue
		}
		if c, ok := r.conns[id]; ok && c.socket != nil {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	metrics.BroadcastsTotal.WithLabelValues(event).Inc()

	sent := 0
	for _, c := range targets {
		if err := c.socket.Send(msg); err != nil {
			metrics.BroadcastDropped.Inc()
			log.Debug().Err(err).
				Str("connection", c.info.ID).
				Str("topic", string(topic)).
				Str("event", event).
				Msg("broadcast to socket failed, skipping")
			continue
		}
		sent++
	}
	return sent
}

// Members returns the connection IDs currently on a topic.
func (r *Registry) Members(topic domain.Topic) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.topics[topic]))
	for id := range r.topics[topic] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TopicCount returns the number of live topics.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}
