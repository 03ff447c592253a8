package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/flawtracker/internal/domain/events"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/infra/eventbus/serialization"
	"github.com/ahrav/flawtracker/pkg/common/logger"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

type countingMetrics struct {
	mu                                    sync.Mutex
	published, consumed, pubErrs, conErrs int
}

func (m *countingMetrics) IncMessagePublished(context.Context, string) { m.inc(&m.published) }
func (m *countingMetrics) IncMessageConsumed(context.Context, string)  { m.inc(&m.consumed) }
func (m *countingMetrics) IncPublishError(context.Context, string)     { m.inc(&m.pubErrs) }
func (m *countingMetrics) IncConsumeError(context.Context, string)     { m.inc(&m.conErrs) }

func (m *countingMetrics) inc(n *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*n++
}

var testBusConfig = &EventBusConfig{
	FlawEventsTopic:      "flaw-events",
	CollectorEventsTopic: "collector-events",
	ClientID:             "test",
	ServiceType:          "api",
}

func newTestBus(t *testing.T, producer sarama.SyncProducer, metrics EventBusMetrics) *EventBus {
	t.Helper()
	bus, err := NewEventBus(producer, nil, testBusConfig, logger.Noop(), metrics, noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return bus
}

func TestNewEventBus_Validation(t *testing.T) {
	t.Parallel()

	tracer := noop.NewTracerProvider().Tracer("test")
	_, err := NewEventBus(nil, nil, testBusConfig, logger.Noop(), nil, tracer)
	assert.Error(t, err)

	_, err = NewEventBus(nil, nil, &EventBusConfig{FlawEventsTopic: "x"}, logger.Noop(), &countingMetrics{}, tracer)
	assert.Error(t, err)
}

func TestEventBus_Publish(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	metrics := &countingMetrics{}
	bus := newTestBus(t, producer, metrics)

	id := uuid.New()
	evt := flaw.FlawTaskSyncedEvent{FlawID: id, TaskKey: "OSIM-1", Updated: true}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "flaw-events" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != id.String() {
			return errors.New("wrong key " + string(key))
		}
		value, _ := msg.Value.Encode()
		env, err := serialization.DeserializeEventEnvelope(value)
		if err != nil {
			return err
		}
		if env.Payload != evt {
			return errors.New("payload mismatch")
		}
		return nil
	})

	err := bus.Publish(context.Background(), events.EventEnvelope{
		Type:      evt.EventType(),
		Timestamp: time.Now(),
		Payload:   evt,
	}, events.WithKey(id.String()))
	require.NoError(t, err)
	require.NoError(t, producer.Close())
	assert.Equal(t, 1, metrics.published)
}

func TestEventBus_PublishErrors(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, nil)
	metrics := &countingMetrics{}
	bus := newTestBus(t, producer, metrics)
	ctx := context.Background()

	err := bus.Publish(ctx, events.EventEnvelope{Type: "Unknown"})
	assert.ErrorContains(t, err, "no topic mapped")

	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)
	evt := flaw.FlawCreatedEvent{FlawID: uuid.New()}
	err = bus.Publish(ctx, events.EventEnvelope{Type: evt.EventType(), Timestamp: time.Now(), Payload: evt})
	assert.ErrorIs(t, err, sarama.ErrLeaderNotAvailable)
	assert.Equal(t, 1, metrics.pubErrs)
}

type fakeSession struct {
	ctx context.Context

	mu      sync.Mutex
	marked  []int64
	commits int
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context                 { return s.ctx }

func (s *fakeSession) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "flaw-events" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func encode(t *testing.T, evt events.DomainEvent) []byte {
	t.Helper()
	data, err := serialization.SerializeEventEnvelope(events.EventEnvelope{
		Type:      evt.EventType(),
		Key:       "k",
		Timestamp: time.Now(),
		Payload:   evt,
	})
	require.NoError(t, err)
	return data
}

func TestDomainEventHandler_ConsumeClaim(t *testing.T) {
	t.Parallel()

	metrics := &countingMetrics{}
	var got []events.EventEnvelope
	h := &domainEventHandler{
		wanted: map[events.EventType]struct{}{flaw.EventTypeFlawCreated: {}},
		userHandler: func(_ context.Context, evt events.EventEnvelope) error {
			got = append(got, evt)
			if evt.Payload.(flaw.FlawCreatedEvent).CVEID == "CVE-2024-0002" {
				return errors.New("boom")
			}
			return nil
		},
		logger:  logger.Noop(),
		tracer:  noop.NewTracerProvider().Tracer("test"),
		metrics: metrics,
	}

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 4)}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "flaw-events", Offset: 1,
		Value: encode(t, flaw.FlawCreatedEvent{FlawID: uuid.New(), CVEID: "CVE-2024-0001"})}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "flaw-events", Offset: 2, Value: []byte("garbage")}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "flaw-events", Offset: 3,
		Value: encode(t, flaw.FlawUpdatedEvent{FlawID: uuid.New()})}
	claim.msgs <- &sarama.ConsumerMessage{Topic: "flaw-events", Offset: 4,
		Value: encode(t, flaw.FlawCreatedEvent{FlawID: uuid.New(), CVEID: "CVE-2024-0002"}),
		Headers: []*sarama.RecordHeader{{Key: []byte("source"), Value: []byte("api")}}}
	close(claim.msgs)

	sess := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(sess, claim))

	require.Len(t, got, 2, "unwanted types are skipped")
	assert.Equal(t, "k", got[0].Key)
	assert.Equal(t, "api", got[1].Headers["source"])

	assert.Equal(t, []int64{1, 2, 3, 4}, sess.marked, "every message is marked")
	assert.GreaterOrEqual(t, sess.commits, 1)
	assert.Equal(t, 1, metrics.consumed)
	assert.Equal(t, 2, metrics.conErrs)
}
