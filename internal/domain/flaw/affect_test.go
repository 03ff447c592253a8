package flaw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffectsVersion(t *testing.T) {
	a := NewAffect("rhel-9", "openssl")
	a.AffectedVersions = ">= 3.0.0, < 3.0.8"

	tests := []struct {
		version string
		want    bool
	}{
		{"3.0.0", true},
		{"3.0.7", true},
		{"3.0.8", false},
		{"1.1.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			t.Parallel()
			got, err := a.AffectsVersion(tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAffectsVersion_EmptyRangeAffectsAll(t *testing.T) {
	t.Parallel()

	got, err := NewAffect("m", "c").AffectsVersion("not-a-version")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestAffectsVersion_InvalidVersion(t *testing.T) {
	t.Parallel()

	a := NewAffect("m", "c")
	a.AffectedVersions = "< 2.0.0"
	_, err := a.AffectsVersion("two")
	assert.Error(t, err)
}

func TestAffectsVersion_Ecosystems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		purl    string
		clauses []string
		version string
		want    bool
	}{
		{name: "npm inside", purl: "pkg:npm/lodash@4.17.20", clauses: []string{">=4.0.0", "<4.17.21"}, version: "4.17.20", want: true},
		{name: "npm fixed", purl: "pkg:npm/lodash@4.17.21", clauses: []string{">=4.0.0", "<4.17.21"}, version: "4.17.21", want: false},
		{name: "pypi inside", purl: "pkg:pypi/requests@2.30.0", clauses: []string{">=2.0", "<2.31.0"}, version: "2.30.0", want: true},
		{name: "pypi post release is fixed", purl: "pkg:pypi/requests@2.31.0", clauses: []string{">=2.0", "<2.31.0"}, version: "2.31.0.post1", want: false},
		{name: "semver fallback", purl: "pkg:cargo/hyper@0.14.10", clauses: []string{">=0.14.0", "<0.14.12"}, version: "0.14.10", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := NewAffect("m", "c")
			a.PURL = tt.purl
			a.AffectedVersions = VersionRange(tt.purl, tt.clauses...)

			got, err := a.AffectsVersion(tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionRange(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ">=1.0.0 <2.0.0", VersionRange("pkg:npm/left-pad", ">=1.0.0", "<2.0.0"))
	assert.Equal(t, ">=1.0,<2.0", VersionRange("pkg:pypi/django", ">=1.0", "<2.0"))
	assert.Equal(t, ">=1.0, <2.0", VersionRange("", ">=1.0", "<2.0"))
}

func TestPackageURL(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		pkg        string
		version    string
		want       string
		ok         bool
	}{
		{name: "pypi", collection: "https://pypi.org", pkg: "requests", version: "2.31.0", want: "pkg:pypi/requests@2.31.0", ok: true},
		{name: "cargo trailing slash", collection: "https://crates.io/", pkg: "hyper", version: "0.14.10", want: "pkg:cargo/hyper@0.14.10", ok: true},
		{name: "maven", collection: "https://repo.maven.apache.org/maven2", pkg: "org.apache.logging.log4j:log4j-core", version: "2.14.1", want: "pkg:maven/org.apache.logging.log4j/log4j-core@2.14.1", ok: true},
		{name: "unknown collection", collection: "https://example.com", pkg: "x", ok: false},
		{name: "missing name", collection: "https://pypi.org", pkg: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := PackageURL(tt.collection, tt.pkg, tt.version)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAddAffectSetsOwner(t *testing.T) {
	t.Parallel()

	f := NewFlaw("t", SourceInternet)
	a := NewAffect("rhel-9", "bash")
	f.AddAffect(a)

	assert.Equal(t, f.ID(), a.FlawID())
	assert.Len(t, f.Affects, 1)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	f := NewFlaw("t", SourceInternet)
	f.Components = []string{"bash"}
	f.AddAffect(NewAffect("rhel-9", "bash"))

	c := f.Clone()
	c.Components[0] = "zsh"
	c.Affects[0].Resolution = ResolutionWontFix

	assert.Equal(t, "bash", f.Components[0])
	assert.Equal(t, ResolutionNone, f.Affects[0].Resolution)
	assert.Equal(t, f.ID(), c.ID())
}

func TestAssignAndLoseTask(t *testing.T) {
	t.Parallel()

	f := NewFlaw("t", SourceInternet)
	assert.False(t, f.HasTask())

	f.MarkTaskLost()
	assert.True(t, f.TaskLost())

	f.AssignTask("OSIM-1")
	assert.Equal(t, "OSIM-1", f.TaskKey())
	assert.False(t, f.TaskLost())

	f.MarkTaskLost()
	assert.Empty(t, f.TaskKey())
	assert.True(t, f.TaskLost())
}

func TestRebaseOnKeepsCommittedTaskLink(t *testing.T) {
	t.Parallel()

	committed := NewFlaw("t", SourceInternet)
	committed.AssignTask("OSIM-4")

	stale := committed.Clone()
	stale.MarkTaskLost()
	stale.Title = "edited"

	stale.RebaseOn(committed)
	assert.Equal(t, "OSIM-4", stale.TaskKey())
	assert.False(t, stale.TaskLost())
	assert.Equal(t, "edited", stale.Title)
	assert.Equal(t, committed.CreatedAt(), stale.CreatedAt())
}
