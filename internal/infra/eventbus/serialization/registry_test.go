package serialization

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/flawtracker/internal/domain/collector"
	"github.com/ahrav/flawtracker/internal/domain/events"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	serializationerrors "github.com/ahrav/flawtracker/internal/infra/eventbus/serialization/errors"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

func TestEventEnvelope_RoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	at := time.Date(2024, 5, 2, 10, 30, 0, 123, time.UTC)

	tests := []struct {
		name    string
		payload events.DomainEvent
	}{
		{
			name:    "flaw created",
			payload: flaw.FlawCreatedEvent{FlawID: id, CVEID: "CVE-2024-0001", Source: flaw.SourceCVEOrg},
		},
		{
			name:    "flaw updated",
			payload: flaw.FlawUpdatedEvent{FlawID: id, ChangedFields: []string{"title", "impact"}},
		},
		{
			name:    "task synced",
			payload: flaw.FlawTaskSyncedEvent{FlawID: id, TaskKey: "OSIM-7", Updated: true},
		},
		{
			name: "workflow reconciled",
			payload: flaw.FlawWorkflowReconciledEvent{
				FlawID:   id,
				Intended: flaw.WorkflowStateTriage,
				Adopted:  flaw.WorkflowStateDone,
			},
		},
		{
			name: "flaws collected",
			payload: collector.FlawsCollectedEvent{
				Collector: "cveorg",
				PeriodEnd: at,
				Created:   3,
				Updated:   1,
				Skipped:   12,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			in := events.EventEnvelope{
				Type:      tt.payload.EventType(),
				Key:       id.String(),
				Timestamp: at,
				Payload:   tt.payload,
			}
			data, err := SerializeEventEnvelope(in)
			require.NoError(t, err)

			out, err := DeserializeEventEnvelope(data)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestSerializeEventEnvelope_Errors(t *testing.T) {
	t.Parallel()

	_, err := SerializeEventEnvelope(events.EventEnvelope{Type: "Unknown", Payload: struct{}{}})
	assert.ErrorContains(t, err, "no serializer registered")

	_, err = SerializeEventEnvelope(events.EventEnvelope{Type: flaw.EventTypeFlawCreated})
	assert.ErrorAs(t, err, &serializationerrors.ErrNilEvent{})

	_, err = SerializeEventEnvelope(events.EventEnvelope{
		Type:    flaw.EventTypeFlawCreated,
		Payload: flaw.FlawUpdatedEvent{},
	})
	assert.ErrorAs(t, err, &serializationerrors.ErrUnexpectedPayload{})
}

func TestDeserializeEventEnvelope_InvalidUUID(t *testing.T) {
	t.Parallel()

	payload, err := structpb.NewStruct(map[string]any{"flaw_id": "not-a-uuid"})
	require.NoError(t, err)
	env := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldType:      structpb.NewStringValue(flaw.EventTypeFlawCreated.String()),
		fieldTimestamp: structpb.NewStringValue(time.Now().UTC().Format(time.RFC3339Nano)),
		fieldPayload:   structpb.NewStructValue(payload),
	}}
	data, err := proto.Marshal(env)
	require.NoError(t, err)

	_, err = DeserializeEventEnvelope(data)
	var uerr serializationerrors.ErrInvalidUUID
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "flaw_id", uerr.Field)
}
