// Package flaw models security flaws, the products they affect, and the
// change detection used to keep remote tasks in sync with them.
package flaw

import (
	"slices"
	"time"

	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

// Flaw is a tracked security vulnerability. Content fields are exported and
// freely mutable by callers; identity and the remote task link are not, so
// the task key can only ever come from a successful remote call.
type Flaw struct {
	id uuid.UUID

	CVEID              string
	CWEID              string
	Title              string
	Impact             Impact
	Source             Source
	CommentZero        string
	Embargoed          bool
	Components         []string
	MajorIncidentState MajorIncidentState
	WorkflowState      WorkflowState
	ReportedAt         time.Time
	UnembargoAt        time.Time

	Affects []*Affect

	taskKey   string
	taskLost  bool
	createdAt time.Time
	updatedAt time.Time
}

// NewFlaw creates a flaw in the NEW workflow state with a fresh identifier.
func NewFlaw(title string, source Source) *Flaw {
	now := time.Now().UTC()
	return &Flaw{
		id:            uuid.New(),
		Title:         title,
		Source:        source,
		WorkflowState: WorkflowStateNew,
		createdAt:     now,
		updatedAt:     now,
	}
}

// NewFlawWithID is NewFlaw with a caller supplied identifier.
func NewFlawWithID(id uuid.UUID, title string, source Source) *Flaw {
	f := NewFlaw(title, source)
	f.id = id
	return f
}

// ReconstructFlaw rebuilds a flaw from persisted state. It should only be
// used by repositories.
func ReconstructFlaw(
	id uuid.UUID,
	taskKey string,
	taskLost bool,
	createdAt time.Time,
	updatedAt time.Time,
	content Flaw,
) *Flaw {
	f := content
	f.id = id
	f.taskKey = taskKey
	f.taskLost = taskLost
	f.createdAt = createdAt
	f.updatedAt = updatedAt
	return &f
}

func (f *Flaw) ID() uuid.UUID        { return f.id }
func (f *Flaw) TaskKey() string      { return f.taskKey }
func (f *Flaw) HasTask() bool        { return f.taskKey != "" }
func (f *Flaw) TaskLost() bool       { return f.taskLost }
func (f *Flaw) CreatedAt() time.Time { return f.createdAt }
func (f *Flaw) UpdatedAt() time.Time { return f.updatedAt }

// AssignTask links the flaw to a remote task. Only the task sync engine calls
// this, with a key returned by the remote tracker.
func (f *Flaw) AssignTask(key string) {
	f.taskKey = key
	f.taskLost = false
}

// MarkTaskLost unlinks a task the remote tracker no longer knows about. The
// next content change recreates it.
func (f *Flaw) MarkTaskLost() {
	f.taskKey = ""
	f.taskLost = true
}

// RebaseOn copies the fields callers cannot edit from committed, the last
// stored version of the same flaw.
func (f *Flaw) RebaseOn(committed *Flaw) {
	f.taskKey = committed.taskKey
	f.taskLost = committed.taskLost
	f.createdAt = committed.createdAt
}

// Touch bumps the modification timestamp.
func (f *Flaw) Touch(now time.Time) { f.updatedAt = now.UTC() }

// Promote moves the flaw one step forward in the workflow.
func (f *Flaw) Promote() error {
	next, ok := f.WorkflowState.Next()
	if !ok {
		return f.WorkflowState.validateTransition(WorkflowStateDone)
	}
	if err := f.WorkflowState.validateTransition(next); err != nil {
		return err
	}
	f.WorkflowState = next
	return nil
}

// Reject moves the flaw to the REJECTED terminal state.
func (f *Flaw) Reject() error {
	if err := f.WorkflowState.validateTransition(WorkflowStateRejected); err != nil {
		return err
	}
	f.WorkflowState = WorkflowStateRejected
	return nil
}

// AddAffect attaches a to the flaw, taking ownership of it.
func (f *Flaw) AddAffect(a *Affect) {
	a.flawID = f.id
	f.Affects = append(f.Affects, a)
}

// Clone returns a deep copy so a snapshot can be compared with later edits.
func (f *Flaw) Clone() *Flaw {
	c := *f
	c.Components = slices.Clone(f.Components)
	c.Affects = make([]*Affect, 0, len(f.Affects))
	for _, a := range f.Affects {
		ac := *a
		c.Affects = append(c.Affects, &ac)
	}
	return &c
}
