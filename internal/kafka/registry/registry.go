// Package registry maps Kafka records to domain events. Each handler file
// registers itself via init(), so the consumer never changes when a new event
// type is added.
package registry

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/domain"
)

// EventHandler maps raw Kafka message bytes to a DomainEvent.
// Returning nil means "skip this event".
type EventHandler func(data []byte) *domain.DomainEvent

var handlers = map[string]EventHandler{}

// Register binds a handler to a {topic}:{eventType} key.
// Panics on duplicate registration to catch wiring mistakes at startup.
func Register(topic, eventType string, h EventHandler) {
	key := topic + ":" + eventType
	if _, exists := handlers[key]; exists {
		panic("registry: duplicate handler registered for key: " + key)
	}
	handlers[key] = h
}

// Dispatch looks up and calls the handler for the given topic and the
// "eventType" field found in data. Returns nil if no handler matches or data
// cannot be parsed.
func Dispatch(topic string, data []byte) *domain.DomainEvent {
	var probe struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		log.Warn().Str("topic", topic).Err(err).Msg("registry: failed to probe eventType")
		return nil
	}

	key := topic + ":" + probe.EventType
	h, ok := handlers[key]
	if !ok {
		log.Debug().Str("key", key).Msg("registry: no handler registered")
		return nil
	}
	return h(data)
}

// DispatchDirect calls the handler registered for a topic without eventType
// routing. Used for notification-commands, where the whole message is the command.
func DispatchDirect(topic string, data []byte) (*domain.DomainEvent, bool) {
	h, ok := handlers[topic+":"]
	if !ok {
		return nil, false
	}
	return h(data), true
}

// Topics lists every topic with at least one registered handler.
func Topics() []string {
	seen := map[string]bool{}
	var out []string
	for key := range handlers {
		topic, _, _ := strings.Cut(key, ":")
		if !seen[topic] {
			seen[topic] = true
			out = append(out, topic)
		}
	}
	sort.Strings(out)
	return out
}
