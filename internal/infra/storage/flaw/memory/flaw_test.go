package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/flawtracker/internal/domain/flaw"
)

func newTestFlaw(cve string) *flaw.Flaw {
	f := flaw.NewFlaw("title "+cve, flaw.SourceInternet)
	f.CVEID = cve
	f.AddAffect(flaw.NewAffect("rhel-9", "kernel"))
	return f
}

func TestFlawStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFlawStore()
	f := newTestFlaw("CVE-2024-1111")
	require.NoError(t, s.CreateFlaw(ctx, f))

	got, err := s.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, f.CVEID, got.CVEID)
	assert.Len(t, got.Affects, 1)

	// Returned flaws are copies.
	got.Title = "changed"
	again, err := s.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, f.Title, again.Title)

	_, err = s.GetFlaw(ctx, flaw.NewFlaw("x", flaw.SourceNVD).ID())
	assert.ErrorIs(t, err, flaw.ErrFlawNotFound)
}

func TestFlawStore_DuplicateCVE(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFlawStore()
	require.NoError(t, s.CreateFlaw(ctx, newTestFlaw("CVE-2024-1111")))
	assert.ErrorIs(t, s.CreateFlaw(ctx, newTestFlaw("CVE-2024-1111")), flaw.ErrDuplicateCVE)

	found, err := s.FindByCVE(ctx, "CVE-2024-1111")
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-1111", found.CVEID)
}

func TestFlawStore_UpdateGuardsWorkflowState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFlawStore()
	f := newTestFlaw("CVE-2024-2222")
	require.NoError(t, s.CreateFlaw(ctx, f))

	// Another writer moves the flaw on.
	external := f.Clone()
	external.WorkflowState = flaw.WorkflowStateTriage
	state, err := s.UpdateFlaw(ctx, external, flaw.WorkflowStateNew)
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStateTriage, state)

	// A stale writer that still expects NEW keeps the stored state.
	stale := f.Clone()
	stale.WorkflowState = flaw.WorkflowStateRejected
	stale.Impact = flaw.ImpactLow
	state, err = s.UpdateFlaw(ctx, stale, flaw.WorkflowStateNew)
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStateTriage, state)

	got, err := s.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStateTriage, got.WorkflowState)
	assert.Equal(t, flaw.ImpactLow, got.Impact)
}

func TestFlawStore_WithinTxRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFlawStore()
	existing := newTestFlaw("CVE-2024-3333")
	require.NoError(t, s.CreateFlaw(ctx, existing))

	created := newTestFlaw("CVE-2024-4444")
	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, repo flaw.Repository) error {
		require.NoError(t, repo.CreateFlaw(ctx, created))

		edited := existing.Clone()
		edited.Title = "edited in tx"
		if _, err := repo.UpdateFlaw(ctx, edited, edited.WorkflowState); err != nil {
			return err
		}
		if err := repo.ReplaceAffects(ctx, existing.ID(), nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetFlaw(ctx, created.ID())
	assert.ErrorIs(t, err, flaw.ErrFlawNotFound)

	got, err := s.GetFlaw(ctx, existing.ID())
	require.NoError(t, err)
	assert.Equal(t, existing.Title, got.Title)
	assert.Len(t, got.Affects, 1)
}

func TestFlawStore_WithinTxCommits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFlawStore()
	f := newTestFlaw("CVE-2024-5555")

	err := s.WithinTx(ctx, func(ctx context.Context, repo flaw.Repository) error {
		return repo.WithinTx(ctx, func(ctx context.Context, repo flaw.Repository) error {
			return repo.CreateFlaw(ctx, f)
		})
	})
	require.NoError(t, err)

	_, err = s.GetFlaw(ctx, f.ID())
	assert.NoError(t, err)
}

func TestFlawStore_ListFlaws(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewFlawStore()
	for _, cve := range []string{"CVE-2024-0001", "CVE-2024-0002", "CVE-2024-0003"} {
		require.NoError(t, s.CreateFlaw(ctx, newTestFlaw(cve)))
	}
	triaged := newTestFlaw("CVE-2024-0004")
	triaged.WorkflowState = flaw.WorkflowStateTriage
	triaged.Embargoed = true
	require.NoError(t, s.CreateFlaw(ctx, triaged))

	all, err := s.ListFlaws(ctx, flaw.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	page, err := s.ListFlaws(ctx, flaw.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)

	byState, err := s.ListFlaws(ctx, flaw.ListOptions{WorkflowState: flaw.WorkflowStateTriage})
	require.NoError(t, err)
	require.Len(t, byState, 1)
	assert.Equal(t, triaged.ID(), byState[0].ID())

	public := false
	notEmbargoed, err := s.ListFlaws(ctx, flaw.ListOptions{Embargoed: &public})
	require.NoError(t, err)
	assert.Len(t, notEmbargoed, 3)

	empty, err := s.ListFlaws(ctx, flaw.ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
