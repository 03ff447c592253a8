package flaw

import "fmt"

// WorkflowState is the position of a flaw in the triage workflow. The same
// states are mirrored onto the remote task.
type WorkflowState string

const (
	// WorkflowStateNew is the entry state for every flaw.
	WorkflowStateNew WorkflowState = "NEW"
	// WorkflowStateTriage means an analyst picked up the flaw.
	WorkflowStateTriage WorkflowState = "TRIAGE"
	// WorkflowStatePreSecondaryAssessment means triage finished and the flaw
	// waits for a secondary assessment.
	WorkflowStatePreSecondaryAssessment WorkflowState = "PRE_SECONDARY_ASSESSMENT"
	// WorkflowStateSecondaryAssessment means affected products are being assessed.
	WorkflowStateSecondaryAssessment WorkflowState = "SECONDARY_ASSESSMENT"
	// WorkflowStateDone is the terminal state for fully processed flaws.
	WorkflowStateDone WorkflowState = "DONE"
	// WorkflowStateRejected is the terminal state for flaws that are not
	// vulnerabilities or are duplicates.
	WorkflowStateRejected WorkflowState = "REJECTED"
)

// workflowOrder lists the non-terminal progression of a flaw.
var workflowOrder = []WorkflowState{
	WorkflowStateNew,
	WorkflowStateTriage,
	WorkflowStatePreSecondaryAssessment,
	WorkflowStateSecondaryAssessment,
	WorkflowStateDone,
}

func (s WorkflowState) String() string { return string(s) }

// IsValid reports whether s is one of the known workflow states.
func (s WorkflowState) IsValid() bool {
	switch s {
	case WorkflowStateNew, WorkflowStateTriage, WorkflowStatePreSecondaryAssessment,
		WorkflowStateSecondaryAssessment, WorkflowStateDone, WorkflowStateRejected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s WorkflowState) IsTerminal() bool {
	return s == WorkflowStateDone || s == WorkflowStateRejected
}

// Next returns the state that follows s in the regular progression.
func (s WorkflowState) Next() (WorkflowState, bool) {
	for i, st := range workflowOrder {
		if st == s && i+1 < len(workflowOrder) {
			return workflowOrder[i+1], true
		}
	}
	return "", false
}

// isValidTransition checks whether moving from s to target follows the
// workflow: one step forward, or a rejection from any non-terminal state.
func (s WorkflowState) isValidTransition(target WorkflowState) bool {
	if s.IsTerminal() {
		return false
	}
	if target == WorkflowStateRejected {
		return true
	}
	next, ok := s.Next()
	return ok && next == target
}

// validateTransition returns an error if the transition is not allowed.
func (s WorkflowState) validateTransition(target WorkflowState) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, s, target)
	}
	return nil
}

// ParseWorkflowState converts a raw value into a WorkflowState.
func ParseWorkflowState(raw string) (WorkflowState, error) {
	s := WorkflowState(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown workflow state %q", raw)
	}
	return s, nil
}
