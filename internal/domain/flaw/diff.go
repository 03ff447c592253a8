package flaw

import (
	"maps"
	"slices"
)

// Field names used as diff keys. They match the wire names of the API.
const (
	FieldCVEID              = "cve_id"
	FieldCWEID              = "cwe_id"
	FieldTitle              = "title"
	FieldImpact             = "impact"
	FieldSource             = "source"
	FieldCommentZero        = "comment_zero"
	FieldEmbargoed          = "embargoed"
	FieldComponents         = "components"
	FieldMajorIncidentState = "major_incident_state"
	FieldWorkflowState      = "workflow_state"
	FieldReportedAt         = "reported_dt"
	FieldUnembargoAt        = "unembargo_dt"
	FieldAffects            = "affects"
)

// significantFields are the fields whose change must be pushed into the body
// of the remote task. A title change alone never updates the task.
var significantFields = map[string]struct{}{
	FieldCVEID:              {},
	FieldImpact:             {},
	FieldSource:             {},
	FieldCommentZero:        {},
	FieldEmbargoed:          {},
	FieldComponents:         {},
	FieldMajorIncidentState: {},
	FieldAffects:            {},
}

// IsSignificant reports whether a change to field requires a task update.
func IsSignificant(field string) bool {
	_, ok := significantFields[field]
	return ok
}

// Diff maps changed field names to their previous value. Values are opaque:
// only the presence of a key is interpreted.
type Diff map[string]any

// Has reports whether field changed.
func (d Diff) Has(field string) bool {
	_, ok := d[field]
	return ok
}

// Fields returns the changed field names in sorted order.
func (d Diff) Fields() []string {
	return slices.Sorted(maps.Keys(d))
}

// Without returns a copy of d lacking the given fields.
func (d Diff) Without(fields ...string) Diff {
	out := maps.Clone(d)
	if out == nil {
		out = Diff{}
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Changes is the classification of a diff.
type Changes struct {
	// ContentChanged is set when any significant field other than the
	// workflow state changed.
	ContentChanged bool
	// StateChanged is set when the workflow state changed.
	StateChanged bool
}

// None reports whether the diff requires no remote action at all.
func (c Changes) None() bool { return !c.ContentChanged && !c.StateChanged }

// Classify inspects a diff and reports which kinds of sync it calls for. It
// has no side effects and looks at each diff independently.
func Classify(d Diff) Changes {
	var c Changes
	for field := range d {
		if field == FieldWorkflowState {
			c.StateChanged = true
			continue
		}
		if IsSignificant(field) {
			c.ContentChanged = true
		}
	}
	return c
}

// Compute diffs after against the committed snapshot before. A nil before
// means the flaw was never stored; every populated field then counts as
// changed.
func Compute(before, after *Flaw) Diff {
	if before == nil {
		before = &Flaw{}
	}

	d := Diff{}
	if before.CVEID != after.CVEID {
		d[FieldCVEID] = before.CVEID
	}
	if before.CWEID != after.CWEID {
		d[FieldCWEID] = before.CWEID
	}
	if before.Title != after.Title {
		d[FieldTitle] = before.Title
	}
	if before.Impact != after.Impact {
		d[FieldImpact] = before.Impact
	}
	if before.Source != after.Source {
		d[FieldSource] = before.Source
	}
	if before.CommentZero != after.CommentZero {
		d[FieldCommentZero] = before.CommentZero
	}
	if before.Embargoed != after.Embargoed {
		d[FieldEmbargoed] = before.Embargoed
	}
	if !slices.Equal(sortedCopy(before.Components), sortedCopy(after.Components)) {
		d[FieldComponents] = slices.Clone(before.Components)
	}
	if before.MajorIncidentState != after.MajorIncidentState {
		d[FieldMajorIncidentState] = before.MajorIncidentState
	}
	if before.WorkflowState != after.WorkflowState {
		d[FieldWorkflowState] = before.WorkflowState
	}
	if !before.ReportedAt.Equal(after.ReportedAt) {
		d[FieldReportedAt] = before.ReportedAt
	}
	if !before.UnembargoAt.Equal(after.UnembargoAt) {
		d[FieldUnembargoAt] = before.UnembargoAt
	}
	if !slices.Equal(affectSignatures(before.Affects), affectSignatures(after.Affects)) {
		d[FieldAffects] = len(before.Affects)
	}
	return d
}

func sortedCopy(s []string) []string {
	c := slices.Clone(s)
	slices.Sort(c)
	return c
}

func affectSignatures(affects []*Affect) []string {
	sigs := make([]string, 0, len(affects))
	for _, a := range affects {
		sigs = append(sigs, a.signature())
	}
	slices.Sort(sigs)
	return sigs
}
