// Package taskman describes the remote issue tracker that mirrors flaws as
// tasks.
package taskman

import (
	"context"

	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

// TaskStatus is what the remote tracker knows about the task of a flaw.
type TaskStatus struct {
	Key   string
	State flaw.WorkflowState
	// Status is the raw remote status name, e.g. "Refinement".
	Status string
	URL    string
}

// Querier is the capability to manage remote tasks on behalf of a user. Every
// call carries the user's token; implementations must not cache it.
type Querier interface {
	// CreateOrUpdateTask pushes the content of f to its task, creating the
	// task when f has none. It is idempotent and returns the task key.
	CreateOrUpdateTask(ctx context.Context, token string, f *flaw.Flaw) (string, error)

	// TransitionTask moves the task of f to f.WorkflowState. from is the
	// state the caller last saw; if the remote task is no longer in from
	// (or already in the target) it is left untouched. The returned state
	// is the one the remote task holds when the call returns.
	TransitionTask(ctx context.Context, token string, f *flaw.Flaw, from flaw.WorkflowState) (flaw.WorkflowState, error)

	// GetTask looks up the task of a flaw. It returns ErrTaskNotFound if
	// the flaw has no remote task.
	GetTask(ctx context.Context, token string, flawID uuid.UUID) (TaskStatus, error)
}
