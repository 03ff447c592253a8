// Package kafka provides a Kafka-based implementation of the event bus for asynchronous messaging.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/flawtracker/internal/domain/collector"
	"github.com/ahrav/flawtracker/internal/domain/events"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/flawtracker/internal/infra/eventbus/serialization"
	"github.com/ahrav/flawtracker/pkg/common/logger"
)

// EventBusMetrics defines metrics operations needed to monitor Kafka message handling.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// EventBusConfig contains the topics and identifiers the event bus routes with.
type EventBusConfig struct {
	// FlawEventsTopic carries flaw lifecycle and task sync events.
	FlawEventsTopic string
	// CollectorEventsTopic carries collector run summaries.
	CollectorEventsTopic string

	// GroupID identifies the consumer group for this bus instance.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
	// ServiceType identifies the process, e.g. "api" or "collector".
	ServiceType string
}

const commitInterval = time.Second

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements events.EventBus on top of a sarama producer and
// consumer group.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	// Maps domain event types to their Kafka topics.
	topicMap map[events.EventType]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

// NewEventBus creates an EventBus. consumerGroup may be nil for processes
// that only publish.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *EventBusConfig,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics are required for kafka event bus")
	}
	if cfg.FlawEventsTopic == "" || cfg.CollectorEventsTopic == "" {
		return nil, fmt.Errorf("flaw and collector topics are required")
	}

	topicMap := map[events.EventType]string{
		flaw.EventTypeFlawCreated:            cfg.FlawEventsTopic,
		flaw.EventTypeFlawUpdated:            cfg.FlawEventsTopic,
		flaw.EventTypeFlawTaskSynced:         cfg.FlawEventsTopic,
		flaw.EventTypeFlawWorkflowReconciled: cfg.FlawEventsTopic,
		collector.EventTypeFlawsCollected:    cfg.CollectorEventsTopic,
	}

	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topicMap:      topicMap,
		logger: logger.With(
			"component", "kafka_event_bus",
			"client_id", cfg.ClientID,
			"group_id", cfg.GroupID,
			"service_type", cfg.ServiceType,
		),
		metrics: metrics,
		tracer:  tracer,
	}, nil
}

// Publish serializes event and sends it to the topic mapped to its type.
// Messages are keyed so events of one flaw stay ordered within a partition.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := b.topicMap[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	ctx, span := tracing.StartProducerSpan(ctx, topic, b.tracer)
	defer span.End()

	params := events.ApplyOptions(opts)
	if params.Key != "" {
		event.Key = params.Key
	}
	if params.Headers != nil {
		event.Headers = params.Headers
	}
	span.SetAttributes(
		attribute.String("event.type", event.Type.String()),
		attribute.String("event.key", event.Key),
	)

	msgBytes, err := serialization.SerializeEventEnvelope(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize event")
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(msgBytes),
	}
	for k, v := range event.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}
	b.metrics.IncMessagePublished(ctx, topic)

	b.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", event.Key,
	)
	return nil
}

// Subscribe starts consuming the topics of eventTypes in the background
// until ctx is cancelled. Only messages of the requested types reach handler.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	ctx, span := b.tracer.Start(ctx, "kafka_event_bus.subscribe",
		trace.WithAttributes(attribute.String("component", "kafka_event_bus")))
	defer span.End()

	if b.consumerGroup == nil {
		return fmt.Errorf("subscribe: event bus was created without a consumer group")
	}

	wanted := make(map[events.EventType]struct{}, len(eventTypes))
	topicSet := make(map[string]struct{})
	var topics []string
	for _, et := range eventTypes {
		topic, ok := b.topicMap[et]
		if !ok {
			err := fmt.Errorf("subscribe: unknown event type %s", et)
			span.RecordError(err)
			span.SetStatus(codes.Error, "unknown event type")
			return err
		}
		wanted[et] = struct{}{}
		if _, seen := topicSet[topic]; !seen {
			topicSet[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}
	span.AddEvent("topics_collected", trace.WithAttributes(attribute.StringSlice("topics", topics)))

	cgHandler := &domainEventHandler{
		wanted:      wanted,
		userHandler: handler,
		logger:      b.logger,
		tracer:      b.tracer,
		metrics:     b.metrics,
	}
	go b.consumeLoop(ctx, topics, cgHandler)
	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)
	return nil
}

// consumeLoop rejoins the consumer group after every rebalance until ctx is
// cancelled.
func (b *EventBus) consumeLoop(ctx context.Context, topics []string, h *domainEventHandler) {
	for {
		if err := b.consumerGroup.Consume(ctx, topics, h); err != nil {
			b.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// domainEventHandler implements sarama.ConsumerGroupHandler.
type domainEventHandler struct {
	wanted      map[events.EventType]struct{}
	userHandler events.HandlerFunc

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

func (h *domainEventHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *domainEventHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim hands each message to the user handler. Messages that cannot
// be decoded or whose handler fails are logged and marked so a poison
// message never blocks the partition.
func (h *domainEventHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	log := h.logger.With("operation", "consume_claim", "partition", claim.Partition())
	lastCommit := time.Now()

	for msg := range claim.Messages() {
		h.handle(sess.Context(), log, msg)
		sess.MarkMessage(msg, "")

		if time.Since(lastCommit) > commitInterval {
			sess.Commit()
			lastCommit = time.Now()
		}
	}

	sess.Commit()
	return nil
}

func (h *domainEventHandler) handle(ctx context.Context, log *logger.Logger, msg *sarama.ConsumerMessage) {
	msgCtx := tracing.ExtractTraceContext(ctx, msg)
	msgCtx, span := tracing.StartConsumerSpan(msgCtx, msg, h.tracer)
	defer span.End()

	evt, err := serialization.DeserializeEventEnvelope(msg.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize message")
		h.metrics.IncConsumeError(msgCtx, msg.Topic)
		log.Error(msgCtx, "Dropping undecodable message", "offset", msg.Offset, "error", err)
		return
	}
	if _, ok := h.wanted[evt.Type]; !ok {
		return
	}

	evt.Headers = make(map[string]string, len(msg.Headers))
	for _, hdr := range msg.Headers {
		evt.Headers[string(hdr.Key)] = string(hdr.Value)
	}

	if err := h.userHandler(msgCtx, evt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		h.metrics.IncConsumeError(msgCtx, msg.Topic)
		log.Error(msgCtx, "Failed to handle message", "event_type", evt.Type, "error", err)
		return
	}
	h.metrics.IncMessageConsumed(msgCtx, msg.Topic)
}

// Close shuts down the producer and, when present, the consumer group.
func (b *EventBus) Close() error {
	ctx, span := b.tracer.Start(context.Background(), "kafka_event_bus.close")
	defer span.End()

	if err := b.producer.Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close producer")
		b.logger.Error(ctx, "Failed to close producer", "error", err)
		return err
	}
	if b.consumerGroup != nil {
		if err := b.consumerGroup.Close(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to close consumer group")
			b.logger.Error(ctx, "Failed to close consumer group", "error", err)
			return err
		}
	}

	span.SetStatus(codes.Ok, "closed event bus")
	b.logger.Info(ctx, "Closed event bus")
	return nil
}
