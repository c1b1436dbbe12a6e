package kafka

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/kafka/registry"
	"vn.io.arda/realtime/internal/metrics"

	// Blank imports trigger init() in each handler file,
	// registering all event handlers into the registry.
	_ "vn.io.arda/realtime/internal/kafka/handlers"
)

// Sink applies a domain event produced from a Kafka record.
type Sink interface {
	Handle(ctx context.Context, ev *domain.DomainEvent) error
}

// Consumer wraps the franz-go Kafka client.
type Consumer struct {
	client *kgo.Client
	sink   Sink
}

// Topics returns every topic that has a registered handler.
func Topics() []string { return registry.Topics() }

// New creates a Consumer with the given brokers, group ID, and topics.
func New(brokers []string, groupID string, topics []string, sink Sink) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: client, sink: sink}, nil
}

// Start begins polling Kafka and processing records. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	log.Info().Msg("kafka consumer started")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka fetch error")
		})

		fetches.EachRecord(func(r *kgo.Record) {
			c.process(ctx, r)
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			log.Error().Err(err).Msg("kafka commit error")
		}
	}

	c.client.Close()
	log.Info().Msg("kafka consumer stopped")
}

// process maps a record to a domain event and hands it to the sink. Failures
// are logged and the offset still advances.
func (c *Consumer) process(ctx context.Context, r *kgo.Record) string {
	log.Debug().
		Str("topic", r.Topic).
		Str("key", string(r.Key)).
		Msg("processing kafka record")

	result := c.apply(ctx, r)
	metrics.EventsConsumed.WithLabelValues(r.Topic, result).Inc()
	return result
}

func (c *Consumer) apply(ctx context.Context, r *kgo.Record) string {
	// notification-commands doesn't use eventType routing
	ev, direct := registry.DispatchDirect(r.Topic, r.Value)
	if !direct {
		ev = registry.Dispatch(r.Topic, r.Value)
	}
	if ev == nil {
		log.Debug().Str("topic", r.Topic).Msg("no handler matched, skipping")
		return "skipped"
	}

	if err := c.sink.Handle(ctx, ev); err != nil {
		log.Error().Err(err).
			Str("topic", r.Topic).
			Str("tenant", ev.TenantID).
			Str("source_event_id", ev.SourceID).
			Msg("failed to apply kafka event")
		return "error"
	}
	return "ok"
}
