package flaw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func committedFlaw() *Flaw {
	f := NewFlaw("kernel: use after free in foo", SourceInternet)
	f.CVEID = "CVE-2024-1234"
	f.Impact = ImpactModerate
	f.CommentZero = "original report"
	f.Components = []string{"kernel", "kernel-rt"}
	f.AddAffect(NewAffect("rhel-9", "kernel"))
	return f
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Flaw)
		want   []string
	}{
		{name: "no changes", mutate: func(*Flaw) {}, want: []string{}},
		{name: "title only", mutate: func(f *Flaw) { f.Title = "new title" }, want: []string{FieldTitle}},
		{name: "cve id", mutate: func(f *Flaw) { f.CVEID = "CVE-2024-9999" }, want: []string{FieldCVEID}},
		{
			name:   "workflow state",
			mutate: func(f *Flaw) { f.WorkflowState = WorkflowStateTriage },
			want:   []string{FieldWorkflowState},
		},
		{
			name:   "component order ignored",
			mutate: func(f *Flaw) { f.Components = []string{"kernel-rt", "kernel"} },
			want:   []string{},
		},
		{
			name:   "affect resolution",
			mutate: func(f *Flaw) { f.Affects[0].Resolution = ResolutionFix },
			want:   []string{FieldAffects},
		},
		{
			name:   "new affect",
			mutate: func(f *Flaw) { f.AddAffect(NewAffect("rhel-8", "kernel")) },
			want:   []string{FieldAffects},
		},
		{
			name: "impact and state",
			mutate: func(f *Flaw) {
				f.Impact = ImpactCritical
				f.WorkflowState = WorkflowStateTriage
			},
			want: []string{FieldImpact, FieldWorkflowState},
		},
		{
			name:   "unembargo date",
			mutate: func(f *Flaw) { f.UnembargoAt = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) },
			want:   []string{FieldUnembargoAt},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			before := committedFlaw()
			after := before.Clone()
			tt.mutate(after)

			d := Compute(before, after)
			assert.ElementsMatch(t, tt.want, d.Fields())
		})
	}
}

func TestCompute_NilBeforeReportsPopulatedFields(t *testing.T) {
	t.Parallel()

	d := Compute(nil, committedFlaw())
	for _, field := range []string{FieldCVEID, FieldTitle, FieldImpact, FieldSource, FieldCommentZero, FieldComponents, FieldWorkflowState, FieldAffects} {
		assert.True(t, d.Has(field), "expected %s in diff", field)
	}
	assert.False(t, d.Has(FieldEmbargoed))
}

func TestCompute_RecordsOldValue(t *testing.T) {
	t.Parallel()

	before := committedFlaw()
	after := before.Clone()
	after.WorkflowState = WorkflowStateTriage

	assert.Equal(t, WorkflowStateNew, Compute(before, after)[FieldWorkflowState])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		diff Diff
		want Changes
	}{
		{name: "empty", diff: Diff{}, want: Changes{}},
		{name: "title only is insignificant", diff: Diff{FieldTitle: "old"}, want: Changes{}},
		{name: "cwe only is insignificant", diff: Diff{FieldCWEID: ""}, want: Changes{}},
		{name: "cve id", diff: Diff{FieldCVEID: ""}, want: Changes{ContentChanged: true}},
		{name: "impact", diff: Diff{FieldImpact: ImpactLow}, want: Changes{ContentChanged: true}},
		{name: "affects", diff: Diff{FieldAffects: 1}, want: Changes{ContentChanged: true}},
		{name: "state only", diff: Diff{FieldWorkflowState: WorkflowStateNew}, want: Changes{StateChanged: true}},
		{
			name: "both",
			diff: Diff{FieldSource: SourceNVD, FieldWorkflowState: WorkflowStateNew},
			want: Changes{ContentChanged: true, StateChanged: true},
		},
		{
			name: "title and state",
			diff: Diff{FieldTitle: "x", FieldWorkflowState: WorkflowStateNew},
			want: Changes{StateChanged: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tt.diff)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == Changes{}, got.None())
		})
	}
}

// Each save diffs against the last committed snapshot, so a title edit after
// a CVE edit round is insignificant on its own.
func TestClassify_SequentialDiffsAreIndependent(t *testing.T) {
	t.Parallel()

	v1 := committedFlaw()
	v2 := v1.Clone()
	v2.CVEID = "CVE-2024-5555"
	assert.True(t, Classify(Compute(v1, v2)).ContentChanged)

	v3 := v2.Clone()
	v3.Title = "retitled"
	assert.True(t, Classify(Compute(v2, v3)).None())
}

func TestDiffWithout(t *testing.T) {
	t.Parallel()

	d := Diff{FieldCVEID: "", FieldTitle: ""}
	out := d.Without(FieldCVEID)

	assert.Equal(t, []string{FieldTitle}, out.Fields())
	assert.True(t, d.Has(FieldCVEID), "original diff must not be modified")
	assert.Empty(t, Diff(nil).Without(FieldCVEID))
}
