package flaws

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/flawtracker/internal/app/tasksync"
	"github.com/ahrav/flawtracker/internal/domain/events"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/domain/taskman"
	flawmemory "github.com/ahrav/flawtracker/internal/infra/storage/flaw/memory"
	trackermemory "github.com/ahrav/flawtracker/internal/infra/taskman/memory"
	"github.com/ahrav/flawtracker/pkg/common/logger"
)

const (
	goodToken   = "good-token"
	readerToken = "reader-token"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

// hookQuerier runs a callback right before a transition reaches the tracker.
type hookQuerier struct {
	taskman.Querier
	beforeTransition func()
}

func (q *hookQuerier) TransitionTask(
	ctx context.Context,
	token string,
	f *flaw.Flaw,
	from flaw.WorkflowState,
) (flaw.WorkflowState, error) {
	if q.beforeTransition != nil {
		q.beforeTransition()
	}
	return q.Querier.TransitionTask(ctx, token, f, from)
}

// decisionRecorder keeps the reason of every sync decision.
type decisionRecorder struct {
	tasksync.Metrics

	mu      sync.Mutex
	reasons []tasksync.Reason
}

func (m *decisionRecorder) IncDecision(_ context.Context, reason tasksync.Reason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
}

func (m *decisionRecorder) last() tasksync.Reason {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reasons) == 0 {
		return ""
	}
	return m.reasons[len(m.reasons)-1]
}

type testEnv struct {
	svc       *Service
	store     *flawmemory.FlawStore
	tracker   *trackermemory.Tracker
	querier   *hookQuerier
	publisher *recordingPublisher
	decisions *decisionRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := flawmemory.NewFlawStore()
	tracker := trackermemory.NewTracker("OSIM",
		trackermemory.WithTokens(goodToken),
		trackermemory.WithReadOnlyTokens(readerToken),
	)
	querier := &hookQuerier{Querier: tracker}
	publisher := new(recordingPublisher)
	tracer := noop.NewTracerProvider().Tracer("test")
	decisions := &decisionRecorder{Metrics: tasksync.NoopMetrics()}
	engine := tasksync.NewEngine(querier, decisions, logger.Noop(), tracer)

	return &testEnv{
		svc:       NewService(store, engine, querier, publisher, logger.Noop(), tracer),
		store:     store,
		tracker:   tracker,
		querier:   querier,
		publisher: publisher,
		decisions: decisions,
	}
}

func newValidFlaw() *flaw.Flaw {
	f := flaw.NewFlaw("openssl: timing side channel", flaw.SourceInternet)
	f.CVEID = "CVE-2024-7777"
	f.Impact = flaw.ImpactModerate
	f.Components = []string{"openssl"}
	f.CommentZero = "details"
	f.AddAffect(flaw.NewAffect("rhel-9", "openssl"))
	return f
}

func (e *testEnv) stats() (int, int, int) { return e.tracker.Stats() }

func (e *testEnv) createWithTask(t *testing.T) *flaw.Flaw {
	t.Helper()
	f := newValidFlaw()
	_, err := e.svc.Create(context.Background(), f, WithToken(goodToken))
	require.NoError(t, err)
	require.True(t, f.HasTask())
	return f
}

func TestSave_CreateWithTokenCreatesTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	f := newValidFlaw()

	res, err := env.svc.Create(context.Background(), f, WithToken(goodToken))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "OSIM-1", f.TaskKey())

	stored, err := env.store.GetFlaw(context.Background(), f.ID())
	require.NoError(t, err)
	assert.Equal(t, "OSIM-1", stored.TaskKey())

	creates, updates, transitions := env.stats()
	assert.Equal(t, []int{1, 0, 0}, []int{creates, updates, transitions})
	assert.Equal(t, []events.EventType{flaw.EventTypeFlawCreated, flaw.EventTypeFlawTaskSynced}, env.publisher.types())
}

func TestSave_CreateWithoutTokenSkipsTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	f := newValidFlaw()

	_, err := env.svc.Create(context.Background(), f)
	require.NoError(t, err)
	assert.False(t, f.HasTask())

	creates, _, _ := env.stats()
	assert.Zero(t, creates)
}

func TestSave_CreateRequiresAffects(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	f := flaw.NewFlaw("t", flaw.SourceInternet)

	_, err := env.svc.Create(context.Background(), f, WithToken(goodToken))
	assert.ErrorIs(t, err, flaw.ErrValidation)
}

func TestSave_CreateWithInvalidTokenStoresNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	f := newValidFlaw()

	_, err := env.svc.Create(context.Background(), f, WithToken("invalid"), WithSoftFail())
	require.ErrorIs(t, err, taskman.ErrRemoteAuth)
	assert.Empty(t, f.TaskKey())

	_, err = env.store.GetFlaw(context.Background(), f.ID())
	assert.ErrorIs(t, err, flaw.ErrFlawNotFound)
	assert.Empty(t, env.publisher.types())
}

func TestSave_PermissionErrorOnCreate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.tracker = trackermemory.NewTracker("ISO", trackermemory.WithReadOnlyTokens(readerToken))
	env.querier.Querier = env.tracker

	_, err := env.svc.Create(context.Background(), newValidFlaw(), WithToken(readerToken))
	require.ErrorIs(t, err, taskman.ErrRemotePermission)
	assert.Contains(t, err.Error(), "user doesn't have write permission in ISO project.")
}

func TestSave_ValidationErrorBlocksSave(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	f := newValidFlaw()
	f.Source = flaw.SourceNone

	_, err := env.svc.Save(context.Background(), f, WithToken(goodToken))
	require.ErrorIs(t, err, flaw.ErrValidation)
	assert.Contains(t, err.Error(), "Source value is required.")

	_, err = env.store.GetFlaw(context.Background(), f.ID())
	assert.ErrorIs(t, err, flaw.ErrFlawNotFound)
	creates, _, _ := env.stats()
	assert.Zero(t, creates)
	assert.Equal(t, tasksync.ReasonInvalid, env.decisions.last())
}

func TestSave_DuplicateCVEFilesNoTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	first := newValidFlaw()
	_, err := env.svc.Create(ctx, first)
	require.NoError(t, err)

	dup := newValidFlaw()
	_, err = env.svc.Create(ctx, dup, WithToken(goodToken))
	require.ErrorIs(t, err, flaw.ErrDuplicateCVE)
	assert.False(t, dup.HasTask())

	creates, updates, transitions := env.stats()
	assert.Zero(t, creates+updates+transitions)
	_, err = env.store.GetFlaw(ctx, dup.ID())
	assert.ErrorIs(t, err, flaw.ErrFlawNotFound)
}

func TestSave_ForcedTaskForFlawPastNewKeepsWorkflow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := newValidFlaw()
	f.Source = flaw.SourceCVEOrg
	_, err := env.svc.Create(ctx, f)
	require.NoError(t, err)

	triaged, _, err := env.svc.Promote(ctx, f.ID())
	require.NoError(t, err)
	require.Equal(t, flaw.WorkflowStateTriage, triaged.WorkflowState)
	require.False(t, triaged.HasTask())

	res, err := env.svc.Save(ctx, triaged, WithToken(goodToken), WithForceCreate())
	require.NoError(t, err)
	assert.False(t, res.Sync.Reconciled)
	status, err := env.svc.TaskStatus(ctx, goodToken, f.ID())
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStateTriage, status.State)

	promoted, res, err := env.svc.Promote(ctx, f.ID(), WithToken(goodToken))
	require.NoError(t, err)
	assert.False(t, res.Sync.Reconciled)
	assert.Equal(t, flaw.WorkflowStatePreSecondaryAssessment, promoted.WorkflowState)

	stored, err := env.store.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStatePreSecondaryAssessment, stored.WorkflowState)
	status, err = env.svc.TaskStatus(ctx, goodToken, f.ID())
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStatePreSecondaryAssessment, status.State)

	creates, _, transitions := env.stats()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 2, transitions)
}

func TestSave_NonRaisingValidationCommitsAndSyncsValidFields(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	f := env.createWithTask(t)

	f.Impact = "HUGE"
	f.CommentZero = "new details"
	res, err := env.svc.Save(context.Background(), f, WithToken(goodToken), WithoutValidationErrors())
	require.NoError(t, err)
	require.Error(t, res.Validation)
	assert.ErrorIs(t, res.Validation, flaw.ErrValidation)

	stored, err := env.store.GetFlaw(context.Background(), f.ID())
	require.NoError(t, err)
	assert.Equal(t, flaw.Impact("HUGE"), stored.Impact)
	assert.Equal(t, "new details", stored.CommentZero)

	_, updates, _ := env.stats()
	assert.Equal(t, 1, updates)
}

func TestSave_NonRaisingValidationWithOnlyInvalidFieldsSkipsSync(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	f := env.createWithTask(t)

	f.Impact = "HUGE"
	res, err := env.svc.Save(context.Background(), f, WithToken(goodToken), WithoutValidationErrors())
	require.NoError(t, err)
	assert.Error(t, res.Validation)
	assert.True(t, res.Sync.Plan.Noop())

	_, updates, _ := env.stats()
	assert.Zero(t, updates)
}

func TestSave_UpdateScenarios(t *testing.T) {
	tests := []struct {
		name            string
		mutate          func(f *flaw.Flaw)
		wantUpdates     int
		wantTransitions int
	}{
		{name: "title only", mutate: func(f *flaw.Flaw) { f.Title = "renamed" }},
		{name: "no changes", mutate: func(*flaw.Flaw) {}},
		{name: "cve id", mutate: func(f *flaw.Flaw) { f.CVEID = "CVE-2024-8888" }, wantUpdates: 1},
		{name: "impact", mutate: func(f *flaw.Flaw) { f.Impact = flaw.ImpactCritical }, wantUpdates: 1},
		{
			name:            "workflow only",
			mutate:          func(f *flaw.Flaw) { f.WorkflowState = flaw.WorkflowStateTriage },
			wantTransitions: 1,
		},
		{
			name: "content and workflow",
			mutate: func(f *flaw.Flaw) {
				f.Embargoed = true
				f.WorkflowState = flaw.WorkflowStateTriage
			},
			wantUpdates:     1,
			wantTransitions: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			f := env.createWithTask(t)

			tt.mutate(f)
			_, err := env.svc.Save(context.Background(), f, WithToken(goodToken))
			require.NoError(t, err)

			creates, updates, transitions := env.stats()
			assert.Equal(t, 1, creates)
			assert.Equal(t, tt.wantUpdates, updates)
			assert.Equal(t, tt.wantTransitions, transitions)
		})
	}
}

func TestSave_SequentialSavesDiffAgainstLastCommit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := env.createWithTask(t)

	f.CVEID = "CVE-2024-8888"
	_, err := env.svc.Save(ctx, f, WithToken(goodToken))
	require.NoError(t, err)

	f.Title = "retitled"
	_, err = env.svc.Save(ctx, f, WithToken(goodToken))
	require.NoError(t, err)

	_, updates, _ := env.stats()
	assert.Equal(t, 1, updates)
}

func TestSave_ExistingFlawWithoutTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := newValidFlaw()
	_, err := env.svc.Create(ctx, f)
	require.NoError(t, err)

	f.Impact = flaw.ImpactCritical
	_, err = env.svc.Save(ctx, f, WithToken(goodToken))
	require.NoError(t, err)
	assert.False(t, f.HasTask())

	_, err = env.svc.Save(ctx, f, WithToken(goodToken), WithForceCreate())
	require.NoError(t, err)
	assert.Equal(t, "OSIM-1", f.TaskKey())

	stored, err := env.store.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, "OSIM-1", stored.TaskKey())
}

func TestSave_TransitionKeepsConcurrentStateChange(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := env.createWithTask(t)

	env.querier.beforeTransition = func() {
		external, err := env.store.GetFlaw(ctx, f.ID())
		require.NoError(t, err)
		external.WorkflowState = flaw.WorkflowStatePreSecondaryAssessment
		_, err = env.store.UpdateFlaw(ctx, external, flaw.WorkflowStateNew)
		require.NoError(t, err)
	}

	f.WorkflowState = flaw.WorkflowStateTriage
	res, err := env.svc.Save(ctx, f, WithToken(goodToken))
	require.NoError(t, err)
	assert.True(t, res.Reconciled)

	stored, err := env.store.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStatePreSecondaryAssessment, stored.WorkflowState)
	assert.Equal(t, flaw.WorkflowStatePreSecondaryAssessment, f.WorkflowState)
}

func TestSave_TransitionAdoptsExternallyAdvancedTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := env.createWithTask(t)
	require.NoError(t, env.tracker.SetState(f.TaskKey(), flaw.WorkflowStatePreSecondaryAssessment))

	f.WorkflowState = flaw.WorkflowStateTriage
	res, err := env.svc.Save(ctx, f, WithToken(goodToken))
	require.NoError(t, err)
	assert.True(t, res.Sync.Reconciled)

	stored, err := env.store.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStatePreSecondaryAssessment, stored.WorkflowState)
	assert.Contains(t, env.publisher.types(), flaw.EventTypeFlawWorkflowReconciled)

	_, _, transitions := env.stats()
	assert.Zero(t, transitions)
}

func TestSave_RemoteFailureOnExistingFlawCommitsLocalChanges(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := env.createWithTask(t)

	f.Impact = flaw.ImpactLow
	_, err := env.svc.Save(ctx, f, WithToken("expired"))
	require.ErrorIs(t, err, taskman.ErrRemoteAuth)

	stored, err := env.store.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, flaw.ImpactLow, stored.Impact)
	assert.Equal(t, "OSIM-1", stored.TaskKey())
}

func TestSave_SoftFailOnExistingTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := env.createWithTask(t)

	f.Impact = flaw.ImpactLow
	res, err := env.svc.Save(ctx, f, WithToken("expired"), WithSoftFail())
	require.NoError(t, err)
	assert.ErrorIs(t, res.Sync.Suppressed, taskman.ErrRemoteAuth)
}

func TestSave_LostTaskIsRecreatedOnNextContentChange(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := env.createWithTask(t)
	env.tracker.Delete(f.TaskKey())

	f.Impact = flaw.ImpactLow
	res, err := env.svc.Save(ctx, f, WithToken(goodToken))
	require.NoError(t, err)
	assert.True(t, res.Sync.TaskLost)

	stored, err := env.store.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Empty(t, stored.TaskKey())
	assert.True(t, stored.TaskLost())

	f.Title = "title only"
	_, err = env.svc.Save(ctx, f, WithToken(goodToken))
	require.NoError(t, err)
	assert.False(t, f.HasTask())

	f.CommentZero = "more details"
	_, err = env.svc.Save(ctx, f, WithToken(goodToken))
	require.NoError(t, err)
	assert.Equal(t, "OSIM-2", f.TaskKey())
}

func TestSave_StaleEntityKeepsStoredTaskKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := newValidFlaw()
	_, err := env.svc.Create(ctx, f)
	require.NoError(t, err)

	stale := f.Clone()
	_, err = env.svc.Save(ctx, f, WithToken(goodToken), WithForceCreate())
	require.NoError(t, err)

	stale.Title = "edited from an old copy"
	_, err = env.svc.Save(ctx, stale, WithToken(goodToken))
	require.NoError(t, err)
	assert.Equal(t, f.TaskKey(), stale.TaskKey())

	stored, err := env.store.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Equal(t, f.TaskKey(), stored.TaskKey())
}

func TestPromote(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := env.createWithTask(t)

	promoted, _, err := env.svc.Promote(ctx, f.ID(), WithToken(goodToken))
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStateTriage, promoted.WorkflowState)

	status, err := env.svc.TaskStatus(ctx, goodToken, f.ID())
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStateTriage, status.State)

	rejected, _, err := env.svc.Reject(ctx, f.ID(), WithToken(goodToken))
	require.NoError(t, err)
	assert.Equal(t, flaw.WorkflowStateRejected, rejected.WorkflowState)

	_, _, err = env.svc.Promote(ctx, f.ID())
	assert.ErrorIs(t, err, flaw.ErrInvalidTransition)
}

func TestAddAffectSyncsTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	f := env.createWithTask(t)

	got, _, err := env.svc.AddAffect(ctx, f.ID(), flaw.NewAffect("rhel-8", "openssl"), WithToken(goodToken))
	require.NoError(t, err)
	assert.Len(t, got.Affects, 2)

	stored, err := env.store.GetFlaw(ctx, f.ID())
	require.NoError(t, err)
	assert.Len(t, stored.Affects, 2)

	_, updates, _ := env.stats()
	assert.Equal(t, 1, updates)
}

func TestTaskStatusRequiresToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	f := env.createWithTask(t)

	_, err := env.svc.TaskStatus(context.Background(), "", f.ID())
	assert.ErrorIs(t, err, taskman.ErrMissingToken)
}
