package flaw

import (
	"time"

	"github.com/ahrav/flawtracker/internal/domain/events"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

// Event types raised by the flaw domain.
const (
	EventTypeFlawCreated            events.EventType = "FlawCreated"
	EventTypeFlawUpdated            events.EventType = "FlawUpdated"
	EventTypeFlawTaskSynced         events.EventType = "FlawTaskSynced"
	EventTypeFlawWorkflowReconciled events.EventType = "FlawWorkflowReconciled"
)

// FlawCreatedEvent is raised once a new flaw is committed.
type FlawCreatedEvent struct {
	occurredAt time.Time
	FlawID     uuid.UUID
	CVEID      string
	Source     Source
}

// NewFlawCreatedEvent creates a FlawCreatedEvent for f.
func NewFlawCreatedEvent(f *Flaw) FlawCreatedEvent {
	return FlawCreatedEvent{
		occurredAt: time.Now(),
		FlawID:     f.ID(),
		CVEID:      f.CVEID,
		Source:     f.Source,
	}
}

func (e FlawCreatedEvent) EventType() events.EventType { return EventTypeFlawCreated }
func (e FlawCreatedEvent) OccurredAt() time.Time       { return e.occurredAt }

// FlawUpdatedEvent is raised when an existing flaw commits with a non-empty diff.
type FlawUpdatedEvent struct {
	occurredAt    time.Time
	FlawID        uuid.UUID
	ChangedFields []string
}

// NewFlawUpdatedEvent creates a FlawUpdatedEvent listing the changed fields.
func NewFlawUpdatedEvent(id uuid.UUID, fields []string) FlawUpdatedEvent {
	return FlawUpdatedEvent{occurredAt: time.Now(), FlawID: id, ChangedFields: fields}
}

func (e FlawUpdatedEvent) EventType() events.EventType { return EventTypeFlawUpdated }
func (e FlawUpdatedEvent) OccurredAt() time.Time       { return e.occurredAt }

// FlawTaskSyncedEvent is raised after remote task calls for a flaw succeeded.
type FlawTaskSyncedEvent struct {
	occurredAt   time.Time
	FlawID       uuid.UUID
	TaskKey      string
	Updated      bool
	Transitioned bool
}

// NewFlawTaskSyncedEvent creates a FlawTaskSyncedEvent.
func NewFlawTaskSyncedEvent(id uuid.UUID, taskKey string, updated, transitioned bool) FlawTaskSyncedEvent {
	return FlawTaskSyncedEvent{
		occurredAt:   time.Now(),
		FlawID:       id,
		TaskKey:      taskKey,
		Updated:      updated,
		Transitioned: transitioned,
	}
}

func (e FlawTaskSyncedEvent) EventType() events.EventType { return EventTypeFlawTaskSynced }
func (e FlawTaskSyncedEvent) OccurredAt() time.Time       { return e.occurredAt }

// FlawWorkflowReconciledEvent is raised when a local workflow change was
// dropped in favour of a state set externally.
type FlawWorkflowReconciledEvent struct {
	occurredAt time.Time
	FlawID     uuid.UUID
	Intended   WorkflowState
	Adopted    WorkflowState
}

// NewFlawWorkflowReconciledEvent creates a FlawWorkflowReconciledEvent.
func NewFlawWorkflowReconciledEvent(id uuid.UUID, intended, adopted WorkflowState) FlawWorkflowReconciledEvent {
	return FlawWorkflowReconciledEvent{
		occurredAt: time.Now(),
		FlawID:     id,
		Intended:   intended,
		Adopted:    adopted,
	}
}

func (e FlawWorkflowReconciledEvent) EventType() events.EventType {
	return EventTypeFlawWorkflowReconciled
}
func (e FlawWorkflowReconciledEvent) OccurredAt() time.Time { return e.occurredAt }
