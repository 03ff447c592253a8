package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/flawtracker/internal/domain/events"
	"github.com/ahrav/flawtracker/internal/infra/eventbus/memory"
)

type testEvent struct{ at time.Time }

func (e testEvent) EventType() events.EventType { return "TestEvent" }
func (e testEvent) OccurredAt() time.Time       { return e.at }

func TestDomainEventPublisher(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := memory.NewBroker()
	pub := NewDomainEventPublisher(bus)

	var got events.EventEnvelope
	require.NoError(t, bus.Subscribe(ctx, []events.EventType{"TestEvent"}, func(_ context.Context, evt events.EventEnvelope) error {
		got = evt
		return nil
	}))

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.PublishDomainEvent(ctx, testEvent{at: at}, events.WithKey("flaw-1")))

	assert.Equal(t, events.EventType("TestEvent"), got.Type)
	assert.Equal(t, "flaw-1", got.Key)
	assert.Equal(t, at, got.Timestamp)
	assert.Equal(t, testEvent{at: at}, got.Payload)
}
