package serialization

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ahrav/flawtracker/internal/domain/collector"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	serializationerrors "github.com/ahrav/flawtracker/internal/infra/eventbus/serialization/errors"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

// RegisterEventSerializers registers converters for every event the
// service publishes.
func RegisterEventSerializers() {
	RegisterSerializeFunc(flaw.EventTypeFlawCreated, serializeFlawCreated)
	RegisterDeserializeFunc(flaw.EventTypeFlawCreated, deserializeFlawCreated)

	RegisterSerializeFunc(flaw.EventTypeFlawUpdated, serializeFlawUpdated)
	RegisterDeserializeFunc(flaw.EventTypeFlawUpdated, deserializeFlawUpdated)

	RegisterSerializeFunc(flaw.EventTypeFlawTaskSynced, serializeFlawTaskSynced)
	RegisterDeserializeFunc(flaw.EventTypeFlawTaskSynced, deserializeFlawTaskSynced)

	RegisterSerializeFunc(flaw.EventTypeFlawWorkflowReconciled, serializeFlawWorkflowReconciled)
	RegisterDeserializeFunc(flaw.EventTypeFlawWorkflowReconciled, deserializeFlawWorkflowReconciled)

	RegisterSerializeFunc(collector.EventTypeFlawsCollected, serializeFlawsCollected)
	RegisterDeserializeFunc(collector.EventTypeFlawsCollected, deserializeFlawsCollected)
}

func parseUUID(s *structpb.Struct, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s.Fields[field].GetStringValue())
	if err != nil {
		return uuid.UUID{}, serializationerrors.ErrInvalidUUID{Field: field, Err: err}
	}
	return id, nil
}

func str(s *structpb.Struct, field string) string { return s.Fields[field].GetStringValue() }

func boolean(s *structpb.Struct, field string) bool { return s.Fields[field].GetBoolValue() }

func integer(s *structpb.Struct, field string) int { return int(s.Fields[field].GetNumberValue()) }

func serializeFlawCreated(payload any) (*structpb.Struct, error) {
	e, ok := payload.(flaw.FlawCreatedEvent)
	if !ok {
		return nil, serializationerrors.ErrUnexpectedPayload{EventType: flaw.EventTypeFlawCreated.String(), Got: payload}
	}
	return structpb.NewStruct(map[string]any{
		"flaw_id": e.FlawID.String(),
		"cve_id":  e.CVEID,
		"source":  string(e.Source),
	})
}

func deserializeFlawCreated(s *structpb.Struct) (any, error) {
	id, err := parseUUID(s, "flaw_id")
	if err != nil {
		return nil, err
	}
	return flaw.FlawCreatedEvent{
		FlawID: id,
		CVEID:  str(s, "cve_id"),
		Source: flaw.Source(str(s, "source")),
	}, nil
}

func serializeFlawUpdated(payload any) (*structpb.Struct, error) {
	e, ok := payload.(flaw.FlawUpdatedEvent)
	if !ok {
		return nil, serializationerrors.ErrUnexpectedPayload{EventType: flaw.EventTypeFlawUpdated.String(), Got: payload}
	}
	fields := make([]any, len(e.ChangedFields))
	for i, f := range e.ChangedFields {
		fields[i] = f
	}
	return structpb.NewStruct(map[string]any{
		"flaw_id":        e.FlawID.String(),
		"changed_fields": fields,
	})
}

func deserializeFlawUpdated(s *structpb.Struct) (any, error) {
	id, err := parseUUID(s, "flaw_id")
	if err != nil {
		return nil, err
	}
	var fields []string
	for _, v := range s.Fields["changed_fields"].GetListValue().GetValues() {
		fields = append(fields, v.GetStringValue())
	}
	return flaw.FlawUpdatedEvent{FlawID: id, ChangedFields: fields}, nil
}

func serializeFlawTaskSynced(payload any) (*structpb.Struct, error) {
	e, ok := payload.(flaw.FlawTaskSyncedEvent)
	if !ok {
		return nil, serializationerrors.ErrUnexpectedPayload{EventType: flaw.EventTypeFlawTaskSynced.String(), Got: payload}
	}
	return structpb.NewStruct(map[string]any{
		"flaw_id":      e.FlawID.String(),
		"task_key":     e.TaskKey,
		"updated":      e.Updated,
		"transitioned": e.Transitioned,
	})
}

func deserializeFlawTaskSynced(s *structpb.Struct) (any, error) {
	id, err := parseUUID(s, "flaw_id")
	if err != nil {
		return nil, err
	}
	return flaw.FlawTaskSyncedEvent{
		FlawID:       id,
		TaskKey:      str(s, "task_key"),
		Updated:      boolean(s, "updated"),
		Transitioned: boolean(s, "transitioned"),
	}, nil
}

func serializeFlawWorkflowReconciled(payload any) (*structpb.Struct, error) {
	e, ok := payload.(flaw.FlawWorkflowReconciledEvent)
	if !ok {
		return nil, serializationerrors.ErrUnexpectedPayload{
			EventType: flaw.EventTypeFlawWorkflowReconciled.String(),
			Got:       payload,
		}
	}
	return structpb.NewStruct(map[string]any{
		"flaw_id":  e.FlawID.String(),
		"intended": string(e.Intended),
		"adopted":  string(e.Adopted),
	})
}

func deserializeFlawWorkflowReconciled(s *structpb.Struct) (any, error) {
	id, err := parseUUID(s, "flaw_id")
	if err != nil {
		return nil, err
	}
	return flaw.FlawWorkflowReconciledEvent{
		FlawID:   id,
		Intended: flaw.WorkflowState(str(s, "intended")),
		Adopted:  flaw.WorkflowState(str(s, "adopted")),
	}, nil
}

func serializeFlawsCollected(payload any) (*structpb.Struct, error) {
	e, ok := payload.(collector.FlawsCollectedEvent)
	if !ok {
		return nil, serializationerrors.ErrUnexpectedPayload{EventType: collector.EventTypeFlawsCollected.String(), Got: payload}
	}
	return structpb.NewStruct(map[string]any{
		"collector":  e.Collector,
		"period_end": e.PeriodEnd.UTC().Format(time.RFC3339Nano),
		"created":    e.Created,
		"updated":    e.Updated,
		"skipped":    e.Skipped,
		"failed":     e.Failed,
	})
}

func deserializeFlawsCollected(s *structpb.Struct) (any, error) {
	end, err := time.Parse(time.RFC3339Nano, str(s, "period_end"))
	if err != nil {
		return nil, serializationerrors.ErrInvalidTimestamp{Field: "period_end", Err: err}
	}
	if str(s, "collector") == "" {
		return nil, fmt.Errorf("collector name is missing")
	}
	return collector.FlawsCollectedEvent{
		Collector: str(s, "collector"),
		PeriodEnd: end,
		Created:   integer(s, "created"),
		Updated:   integer(s, "updated"),
		Skipped:   integer(s, "skipped"),
		Failed:    integer(s, "failed"),
	}, nil
}
