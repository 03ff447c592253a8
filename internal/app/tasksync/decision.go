// Package tasksync decides, for each save of a flaw, which remote task calls
// to make and carries them out.
package tasksync

import "github.com/ahrav/flawtracker/internal/domain/flaw"

// Input is everything the decision depends on.
type Input struct {
	TaskKey     string
	TaskLost    bool
	Diff        flaw.Diff
	HasToken    bool
	ForceCreate bool
	// IsNew is set when the flaw has never been committed.
	IsNew bool
	// Valid is false when the flaw failed validation and the caller wants
	// that to block the save.
	Valid bool
}

// Reason explains a plan. It is used for logs, span attributes and metrics.
type Reason string

const (
	ReasonNoToken        Reason = "no_token"
	ReasonInvalid        Reason = "invalid"
	ReasonNewFlaw        Reason = "new_flaw"
	ReasonForced         Reason = "forced"
	ReasonTaskLost       Reason = "task_lost"
	ReasonNoTask         Reason = "no_task"
	ReasonChanged        Reason = "changed"
	ReasonNoSignificance Reason = "no_significant_change"
)

// Plan is the set of remote calls a save needs. When both flags are set the
// content update runs before the transition.
type Plan struct {
	CreateOrUpdate bool
	Transition     bool
	Reason         Reason
}

// Noop reports whether the plan makes no remote call.
func (p Plan) Noop() bool { return !p.CreateOrUpdate && !p.Transition }

// Calls returns the number of remote calls the plan makes.
func (p Plan) Calls() int {
	n := 0
	if p.CreateOrUpdate {
		n++
	}
	if p.Transition {
		n++
	}
	return n
}

// Decide maps an Input to a Plan. It has no side effects.
func Decide(in Input) Plan {
	if !in.HasToken {
		return Plan{Reason: ReasonNoToken}
	}
	if !in.Valid {
		return Plan{Reason: ReasonInvalid}
	}

	changes := flaw.Classify(in.Diff)

	if in.TaskKey == "" {
		switch {
		case in.IsNew:
			return Plan{CreateOrUpdate: true, Reason: ReasonNewFlaw}
		case in.ForceCreate:
			return Plan{CreateOrUpdate: true, Reason: ReasonForced}
		case in.TaskLost && changes.ContentChanged:
			return Plan{CreateOrUpdate: true, Reason: ReasonTaskLost}
		default:
			return Plan{Reason: ReasonNoTask}
		}
	}

	if changes.None() {
		return Plan{Reason: ReasonNoSignificance}
	}
	return Plan{
		CreateOrUpdate: changes.ContentChanged,
		Transition:     changes.StateChanged,
		Reason:         ReasonChanged,
	}
}
