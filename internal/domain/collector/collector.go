// Package collector holds the state and events shared by external
// vulnerability collectors.
package collector

import (
	"context"
	"errors"
	"time"

	"github.com/ahrav/flawtracker/internal/domain/events"
)

// ErrStateNotFound is returned when a collector has never recorded a run.
var ErrStateNotFound = errors.New("collector state not found")

// StateRepository persists how far each collector has progressed.
type StateRepository interface {
	// PeriodEnd returns the end of the last fully collected period.
	PeriodEnd(ctx context.Context, name string) (time.Time, error)
	// SetPeriodEnd records that everything up to end has been collected.
	SetPeriodEnd(ctx context.Context, name string, end time.Time) error
}

// EventTypeFlawsCollected is raised after each collector run.
const EventTypeFlawsCollected events.EventType = "FlawsCollected"

// FlawsCollectedEvent summarises one collector run.
type FlawsCollectedEvent struct {
	occurredAt time.Time
	Collector  string
	PeriodEnd  time.Time
	Created    int
	Updated    int
	Skipped    int
	Failed     int
}

// NewFlawsCollectedEvent creates a FlawsCollectedEvent from run counters.
func NewFlawsCollectedEvent(name string, periodEnd time.Time, created, updated, skipped, failed int) FlawsCollectedEvent {
	return FlawsCollectedEvent{
		occurredAt: time.Now(),
		Collector:  name,
		PeriodEnd:  periodEnd,
		Created:    created,
		Updated:    updated,
		Skipped:    skipped,
		Failed:     failed,
	}
}

func (e FlawsCollectedEvent) EventType() events.EventType { return EventTypeFlawsCollected }
func (e FlawsCollectedEvent) OccurredAt() time.Time       { return e.occurredAt }
