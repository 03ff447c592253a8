package tasksync

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/domain/taskman"
	"github.com/ahrav/flawtracker/pkg/common/logger"
)

const (
	actionCreateOrUpdate = "create_or_update"
	actionTransition     = "transition"
)

// Request describes one save from the engine's point of view.
type Request struct {
	// Flaw is the entity being saved. The engine may assign or clear its
	// task key and reconcile its workflow state.
	Flaw *flaw.Flaw
	// Diff is the change against the last committed snapshot.
	Diff        flaw.Diff
	Token       string
	ForceCreate bool
	// SoftFail turns remote errors on an existing task into Outcome.Suppressed.
	SoftFail bool
	IsNew    bool
	Valid    bool
}

// Outcome reports what a sync did.
type Outcome struct {
	Plan Plan

	TaskKey      string
	Updated      bool
	Transitioned bool

	// Reconciled is set when the tracker held a different workflow state than
	// the one the save intended; Flaw.WorkflowState now carries RemoteState.
	Reconciled  bool
	Intended    flaw.WorkflowState
	RemoteState flaw.WorkflowState

	// TaskLost is set when the tracker no longer knows the task.
	TaskLost bool

	// Suppressed holds a remote error that SoftFail kept from propagating.
	Suppressed error
}

// Engine runs the remote side of a flaw save.
type Engine struct {
	querier taskman.Querier
	metrics Metrics

	logger *logger.Logger
	tracer trace.Tracer
}

// NewEngine creates an Engine that talks to the tracker through querier.
func NewEngine(querier taskman.Querier, metrics Metrics, logger *logger.Logger, tracer trace.Tracer) *Engine {
	logger = logger.With("component", "task_sync_engine")
	return &Engine{querier: querier, metrics: metrics, logger: logger, tracer: tracer}
}

// Sync decides which remote calls req needs and makes them, at most one
// content push followed by at most one transition. A task created here for a
// flaw past NEW is transitioned from NEW right away. A returned error means
// the caller must not treat the task key as synced.
func (e *Engine) Sync(ctx context.Context, req Request) (Outcome, error) {
	f := req.Flaw
	logger := e.logger.With("operation", "sync", "flaw_id", f.ID(), "task_key", f.TaskKey())
	ctx, span := e.tracer.Start(ctx, "task_sync_engine.sync",
		trace.WithAttributes(
			attribute.String("flaw_id", f.ID().String()),
			attribute.String("task_key", f.TaskKey()),
			attribute.Bool("is_new", req.IsNew),
			attribute.Bool("force_create", req.ForceCreate),
			attribute.StringSlice("changed_fields", req.Diff.Fields()),
		),
	)
	defer span.End()

	plan := Decide(Input{
		TaskKey:     f.TaskKey(),
		TaskLost:    f.TaskLost(),
		Diff:        req.Diff,
		HasToken:    req.Token != "",
		ForceCreate: req.ForceCreate,
		IsNew:       req.IsNew,
		Valid:       req.Valid,
	})
	e.metrics.IncDecision(ctx, plan.Reason)
	span.SetAttributes(
		attribute.String("reason", string(plan.Reason)),
		attribute.Bool("create_or_update", plan.CreateOrUpdate),
		attribute.Bool("transition", plan.Transition),
	)

	out := Outcome{Plan: plan, TaskKey: f.TaskKey()}
	if plan.Noop() {
		span.AddEvent("noop")
		logger.Debug(ctx, "No remote sync needed", "reason", plan.Reason)
		return out, nil
	}

	// Only updates of a task that already exists may be soft-failed.
	softFail := req.SoftFail && f.HasTask()

	// Trackers file new tasks in NEW. A flaw that is already further along
	// needs its fresh task moved, within the same two calls.
	transition := plan.Transition
	from := previousState(req.Diff, f.WorkflowState)
	if plan.CreateOrUpdate && !f.HasTask() {
		transition = f.WorkflowState != flaw.WorkflowStateNew
		from = flaw.WorkflowStateNew
	}

	if plan.CreateOrUpdate {
		e.metrics.IncRemoteCall(ctx, actionCreateOrUpdate)
		key, err := e.querier.CreateOrUpdateTask(ctx, req.Token, f)
		if err != nil {
			return e.handleRemoteError(ctx, span, logger, f, out, actionCreateOrUpdate, softFail, err)
		}
		f.AssignTask(key)
		out.TaskKey = key
		out.Updated = true
		span.AddEvent("task_created_or_updated", trace.WithAttributes(attribute.String("task_key", key)))
		logger.Info(ctx, "Task created or updated", "task_key", key, "reason", plan.Reason)
	}

	if transition {
		target := f.WorkflowState

		e.metrics.IncRemoteCall(ctx, actionTransition)
		remote, err := e.querier.TransitionTask(ctx, req.Token, f, from)
		if err != nil {
			return e.handleRemoteError(ctx, span, logger, f, out, actionTransition, softFail, err)
		}
		out.Transitioned = true
		out.RemoteState = remote

		if remote != "" && remote != target {
			f.WorkflowState = remote
			out.Reconciled = true
			out.Intended = target
			e.metrics.IncReconciliation(ctx)
			span.AddEvent("workflow_reconciled", trace.WithAttributes(
				attribute.String("intended", target.String()),
				attribute.String("remote", remote.String()),
			))
			logger.Info(ctx, "Adopted workflow state set on the tracker",
				"intended", target, "remote", remote)
		}
	}

	span.SetStatus(codes.Ok, "task synced")
	return out, nil
}

func (e *Engine) handleRemoteError(
	ctx context.Context,
	span trace.Span,
	logger *logger.Logger,
	f *flaw.Flaw,
	out Outcome,
	action string,
	softFail bool,
	err error,
) (Outcome, error) {
	span.RecordError(err)

	if errors.Is(err, taskman.ErrTaskNotFound) && f.HasTask() {
		f.MarkTaskLost()
		out.TaskKey = ""
		out.TaskLost = true
		e.metrics.IncTaskLost(ctx)
		span.AddEvent("task_lost")
		logger.Warn(ctx, "Task no longer exists on the tracker", "action", action)
		return out, nil
	}

	e.metrics.IncRemoteError(ctx, action, softFail)
	if softFail {
		out.Suppressed = err
		span.AddEvent("remote_error_suppressed", trace.WithAttributes(attribute.String("action", action)))
		logger.Warn(ctx, "Suppressed task tracker error", "action", action, "error", err)
		return out, nil
	}

	span.SetStatus(codes.Error, "remote sync failed")
	return out, fmt.Errorf("task %s failed: %w", action, err)
}

// previousState returns the workflow state recorded in diff, or current when
// the diff carries none.
func previousState(d flaw.Diff, current flaw.WorkflowState) flaw.WorkflowState {
	if prev, ok := d[flaw.FieldWorkflowState].(flaw.WorkflowState); ok {
		return prev
	}
	return current
}
