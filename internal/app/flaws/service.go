// Package flaws implements the flaw save path and the operations built on it.
package flaws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/flawtracker/internal/app/tasksync"
	"github.com/ahrav/flawtracker/internal/domain/events"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/domain/taskman"
	"github.com/ahrav/flawtracker/pkg/common/logger"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

// SaveResult describes a committed save.
type SaveResult struct {
	Created bool
	Diff    flaw.Diff
	Sync    tasksync.Outcome
	// Reconciled is set when the stored workflow state won over the one the
	// caller asked for.
	Reconciled bool
	// Validation holds the validation failure of a save made with
	// WithoutValidationErrors.
	Validation error
}

// Service owns the flaw save path. Every write goes through Save so task sync
// decisions are made against the last committed snapshot.
type Service struct {
	repo      flaw.Repository
	engine    *tasksync.Engine
	querier   taskman.Querier
	publisher events.DomainEventPublisher
	now       func() time.Time

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a flaw Service.
func NewService(
	repo flaw.Repository,
	engine *tasksync.Engine,
	querier taskman.Querier,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Service {
	logger = logger.With("component", "flaw_service")
	return &Service{
		repo:      repo,
		engine:    engine,
		querier:   querier,
		publisher: publisher,
		now:       time.Now,
		logger:    logger,
		tracer:    tracer,
	}
}

// Save validates f, diffs it against its last committed version, runs the task
// sync engine and commits, all inside one storage transaction.
//
// A new flaw whose CVE ID is taken fails before the tracker is contacted. A
// tracker failure on a new flaw aborts the save. A tracker failure on a
// stored flaw still commits the local changes, leaves the task key untouched
// and is returned alongside the result.
func (s *Service) Save(ctx context.Context, f *flaw.Flaw, opts ...SaveOption) (SaveResult, error) {
	o := newSaveOptions(opts)
	logger := s.logger.With("operation", "save", "flaw_id", f.ID())
	ctx, span := s.tracer.Start(ctx, "flaw_service.save",
		trace.WithAttributes(
			attribute.String("flaw_id", f.ID().String()),
			attribute.Bool("has_token", o.token != ""),
			attribute.Bool("force_create", o.forceCreate),
			attribute.Bool("soft_fail", o.softFail),
		),
	)
	defer span.End()

	var (
		res       SaveResult
		remoteErr error
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context, repo flaw.Repository) error {
		res, remoteErr = SaveResult{}, nil

		before, err := repo.GetFlawForUpdate(ctx, f.ID())
		switch {
		case errors.Is(err, flaw.ErrFlawNotFound):
			before = nil
			res.Created = true
		case err != nil:
			return fmt.Errorf("loading committed flaw: %w", err)
		default:
			f.RebaseOn(before)
		}

		now := s.now()
		diff := flaw.Compute(before, f)
		res.Diff = diff

		// A raising save of an invalid flaw still goes through the engine so
		// the decision is recorded, but it never reaches the tracker.
		verr := f.Validate(now)
		valid := verr == nil || !o.raise
		if verr != nil && !o.raise {
			res.Validation = verr
			var ve *flaw.ValidationError
			if errors.As(verr, &ve) {
				diff = diff.Without(ve.Fields()...)
			}
			span.AddEvent("validation_failed_non_raising")
			logger.Warn(ctx, "Saving flaw that failed validation", "error", verr)
		}

		if valid && before != nil && len(res.Diff) == 0 && !o.forceCreate {
			span.AddEvent("no_changes")
			return nil
		}

		// The CVE clash must surface before a task is filed for a flaw that
		// cannot be stored.
		if valid && res.Created && f.CVEID != "" {
			switch other, err := repo.FindByCVE(ctx, f.CVEID); {
			case err == nil && other.ID() != f.ID():
				return fmt.Errorf("%w: %s", flaw.ErrDuplicateCVE, f.CVEID)
			case err != nil && !errors.Is(err, flaw.ErrFlawNotFound):
				return fmt.Errorf("checking cve id: %w", err)
			}
		}

		out, err := s.engine.Sync(ctx, tasksync.Request{
			Flaw:        f,
			Diff:        diff,
			Token:       o.token,
			ForceCreate: o.forceCreate,
			SoftFail:    o.softFail,
			IsNew:       res.Created,
			Valid:       valid,
		})
		res.Sync = out
		if !valid {
			return verr
		}
		if err != nil {
			if res.Created {
				return err
			}
			remoteErr = err
		}

		f.Touch(now)
		if res.Created {
			if err := repo.CreateFlaw(ctx, f); err != nil {
				return fmt.Errorf("creating flaw: %w", err)
			}
			return nil
		}

		stored, err := repo.UpdateFlaw(ctx, f, before.WorkflowState)
		if err != nil {
			return fmt.Errorf("updating flaw: %w", err)
		}
		if stored != f.WorkflowState {
			logger.Info(ctx, "Kept workflow state written concurrently",
				"intended", f.WorkflowState, "stored", stored)
			f.WorkflowState = stored
			res.Reconciled = true
		}
		if res.Diff.Has(flaw.FieldAffects) {
			if err := repo.ReplaceAffects(ctx, f.ID(), f.Affects); err != nil {
				return fmt.Errorf("replacing affects: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return SaveResult{}, err
	}

	s.publishSaveEvents(ctx, f, res)

	if remoteErr != nil {
		span.RecordError(remoteErr)
		span.SetStatus(codes.Error, "task sync failed after commit")
		return res, remoteErr
	}

	span.SetStatus(codes.Ok, "flaw saved")
	logger.Debug(ctx, "Flaw saved", "created", res.Created, "changed_fields", res.Diff.Fields())
	return res, nil
}

func (s *Service) publishSaveEvents(ctx context.Context, f *flaw.Flaw, res SaveResult) {
	var evts []events.DomainEvent
	switch {
	case res.Created:
		evts = append(evts, flaw.NewFlawCreatedEvent(f))
	case len(res.Diff) > 0:
		evts = append(evts, flaw.NewFlawUpdatedEvent(f.ID(), res.Diff.Fields()))
	}
	if res.Sync.Updated || res.Sync.Transitioned {
		evts = append(evts, flaw.NewFlawTaskSyncedEvent(f.ID(), res.Sync.TaskKey, res.Sync.Updated, res.Sync.Transitioned))
	}
	if res.Sync.Reconciled {
		evts = append(evts, flaw.NewFlawWorkflowReconciledEvent(f.ID(), res.Sync.Intended, res.Sync.RemoteState))
	}

	for _, evt := range evts {
		if err := s.publisher.PublishDomainEvent(ctx, evt, events.WithKey(f.ID().String())); err != nil {
			s.logger.Warn(ctx, "Failed to publish flaw event",
				"flaw_id", f.ID(), "event_type", evt.EventType(), "error", err)
		}
	}
}

// Create saves a flaw that has never been stored. New flaws must list at
// least one affected product.
func (s *Service) Create(ctx context.Context, f *flaw.Flaw, opts ...SaveOption) (SaveResult, error) {
	if len(f.Affects) == 0 {
		return SaveResult{}, &flaw.ValidationError{Errors: []flaw.FieldError{{
			Field:   flaw.FieldAffects,
			Message: "At least one affect is required.",
		}}}
	}
	if _, err := s.repo.GetFlaw(ctx, f.ID()); err == nil {
		return SaveResult{}, fmt.Errorf("flaw %s already exists", f.ID())
	}
	return s.Save(ctx, f, opts...)
}

// Get loads a flaw by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*flaw.Flaw, error) {
	ctx, span := s.tracer.Start(ctx, "flaw_service.get",
		trace.WithAttributes(attribute.String("flaw_id", id.String())))
	defer span.End()

	f, err := s.repo.GetFlaw(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return f, nil
}

// FindByCVE loads the flaw that carries cveID.
func (s *Service) FindByCVE(ctx context.Context, cveID string) (*flaw.Flaw, error) {
	return s.repo.FindByCVE(ctx, cveID)
}

// List returns stored flaws matching opts.
func (s *Service) List(ctx context.Context, opts flaw.ListOptions) ([]*flaw.Flaw, error) {
	ctx, span := s.tracer.Start(ctx, "flaw_service.list")
	defer span.End()
	return s.repo.ListFlaws(ctx, opts)
}

// AddAffect attaches a new affect to a stored flaw and saves it.
func (s *Service) AddAffect(ctx context.Context, id uuid.UUID, a *flaw.Affect, opts ...SaveOption) (*flaw.Flaw, SaveResult, error) {
	f, err := s.repo.GetFlaw(ctx, id)
	if err != nil {
		return nil, SaveResult{}, err
	}
	f.AddAffect(a)
	res, err := s.Save(ctx, f, opts...)
	return f, res, err
}

// Promote moves a stored flaw to the next workflow state and saves it, which
// transitions its task when a token is supplied.
func (s *Service) Promote(ctx context.Context, id uuid.UUID, opts ...SaveOption) (*flaw.Flaw, SaveResult, error) {
	f, err := s.repo.GetFlaw(ctx, id)
	if err != nil {
		return nil, SaveResult{}, err
	}
	if err := f.Promote(); err != nil {
		return nil, SaveResult{}, err
	}
	res, err := s.Save(ctx, f, opts...)
	return f, res, err
}

// Reject moves a stored flaw to REJECTED and saves it.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, opts ...SaveOption) (*flaw.Flaw, SaveResult, error) {
	f, err := s.repo.GetFlaw(ctx, id)
	if err != nil {
		return nil, SaveResult{}, err
	}
	if err := f.Reject(); err != nil {
		return nil, SaveResult{}, err
	}
	res, err := s.Save(ctx, f, opts...)
	return f, res, err
}

// TaskStatus asks the tracker for the task of a stored flaw.
func (s *Service) TaskStatus(ctx context.Context, token string, id uuid.UUID) (taskman.TaskStatus, error) {
	if token == "" {
		return taskman.TaskStatus{}, taskman.ErrMissingToken
	}
	if _, err := s.repo.GetFlaw(ctx, id); err != nil {
		return taskman.TaskStatus{}, err
	}
	return s.querier.GetTask(ctx, token, id)
}
