package jira

import (
	"strings"

	"github.com/ahrav/flawtracker/internal/domain/flaw"
)

// remoteStatus is a Jira status together with the resolution it needs. Only
// closing states carry a resolution.
type remoteStatus struct {
	Status     string
	Resolution string
}

func (s remoteStatus) String() string {
	if s.Resolution == "" {
		return s.Status
	}
	return s.Status + "/" + s.Resolution
}

var workflowStatuses = map[flaw.WorkflowState]remoteStatus{
	flaw.WorkflowStateNew:                    {Status: "New"},
	flaw.WorkflowStateTriage:                 {Status: "Refinement"},
	flaw.WorkflowStatePreSecondaryAssessment: {Status: "To Do"},
	flaw.WorkflowStateSecondaryAssessment:    {Status: "In Progress"},
	flaw.WorkflowStateDone:                   {Status: "Closed", Resolution: "Done"},
	flaw.WorkflowStateRejected:               {Status: "Closed", Resolution: "Won't Do"},
}

// statusFor returns the Jira status a workflow state maps to.
func statusFor(state flaw.WorkflowState) (remoteStatus, bool) {
	s, ok := workflowStatuses[state]
	return s, ok
}

// stateFor maps a Jira status and resolution back to a workflow state. A
// closed issue without a known resolution counts as done.
func stateFor(status, resolution string) (flaw.WorkflowState, bool) {
	var closedDone flaw.WorkflowState
	for state, s := range workflowStatuses {
		if !strings.EqualFold(s.Status, status) {
			continue
		}
		if s.Resolution == "" || strings.EqualFold(s.Resolution, resolution) {
			return state, true
		}
		if s.Resolution == "Done" {
			closedDone = state
		}
	}
	if closedDone != "" {
		return closedDone, true
	}
	return "", false
}
