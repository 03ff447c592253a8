package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/flawtracker/internal/db"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/infra/storage"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

var _ flaw.Repository = (*flawStore)(nil)

// flawStore implements flaw.Repository using PostgreSQL as the backing store.
// A store returned by NewFlawStore runs each call in its own statement or
// short transaction; the store handed to WithinTx callbacks is bound to a
// single pgx.Tx for its whole lifetime.
type flawStore struct {
	q      *db.Queries
	db     *pgxpool.Pool
	tx     pgx.Tx
	tracer trace.Tracer
}

// NewFlawStore creates a new PostgreSQL-backed flaw repository with tracing capabilities.
func NewFlawStore(pool *pgxpool.Pool, tracer trace.Tracer) *flawStore {
	return &flawStore{
		q:      db.New(pool),
		db:     pool,
		tracer: tracer,
	}
}

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const uniqueViolation = "23505"

func pgUUID(id uuid.UUID) pgtype.UUID { return pgtype.UUID{Bytes: id, Valid: true} }

func pgText(s string) pgtype.Text { return pgtype.Text{String: s, Valid: s != ""} }

func pgTime(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

// mapWriteError turns constraint violations into domain errors.
func mapWriteError(err error, f *flaw.Flaw) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "flaws_cve_id_key" {
		return fmt.Errorf("%w: %s", flaw.ErrDuplicateCVE, f.CVEID)
	}
	return err
}

// inTx runs fn with queries bound to a transaction. A tx-bound store reuses
// its own transaction.
func (r *flawStore) inTx(ctx context.Context, fn func(q *db.Queries) error) error {
	if r.tx != nil {
		return fn(r.q)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction error: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(r.q.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateFlaw persists a new flaw and its affects in one transaction.
func (r *flawStore) CreateFlaw(ctx context.Context, f *flaw.Flaw) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("flaw_id", f.ID().String()),
		attribute.String("workflow_state", f.WorkflowState.String()),
		attribute.Int("num_affects", len(f.Affects)),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.create_flaw", dbAttrs, func(ctx context.Context) error {
		return r.inTx(ctx, func(q *db.Queries) error {
			err := q.CreateFlaw(ctx, db.CreateFlawParams{
				ID:                 pgUUID(f.ID()),
				CveID:              pgText(f.CVEID),
				CweID:              f.CWEID,
				Title:              f.Title,
				Impact:             string(f.Impact),
				Source:             string(f.Source),
				CommentZero:        f.CommentZero,
				Embargoed:          f.Embargoed,
				Components:         nonNil(f.Components),
				MajorIncidentState: string(f.MajorIncidentState),
				WorkflowState:      db.WorkflowState(f.WorkflowState),
				TaskKey:            pgText(f.TaskKey()),
				TaskLost:           f.TaskLost(),
				ReportedDt:         pgTime(f.ReportedAt),
				UnembargoDt:        pgTime(f.UnembargoAt),
				CreatedAt:          pgtype.Timestamptz{Time: f.CreatedAt(), Valid: true},
				UpdatedAt:          pgtype.Timestamptz{Time: f.UpdatedAt(), Valid: true},
			})
			if err != nil {
				return fmt.Errorf("CreateFlaw insert error: %w", mapWriteError(err, f))
			}
			return insertAffects(ctx, q, f.ID(), f.Affects)
		})
	})
}

func insertAffects(ctx context.Context, q *db.Queries, flawID uuid.UUID, affects []*flaw.Affect) error {
	for _, a := range affects {
		err := q.CreateAffect(ctx, db.CreateAffectParams{
			ID:               pgUUID(a.ID()),
			FlawID:           pgUUID(flawID),
			PsModule:         a.PsModule,
			PsComponent:      a.PsComponent,
			Purl:             a.PURL,
			AffectedVersions: a.AffectedVersions,
			Affectedness:     string(a.Affectedness),
			Resolution:       string(a.Resolution),
			Impact:           string(a.Impact),
		})
		if err != nil {
			return fmt.Errorf("CreateAffect insert error (%s/%s): %w", a.PsModule, a.PsComponent, err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// GetFlaw retrieves a flaw and its affects.
func (r *flawStore) GetFlaw(ctx context.Context, id uuid.UUID) (*flaw.Flaw, error) {
	return r.getFlaw(ctx, "postgres.get_flaw", id, r.q.GetFlaw)
}

// GetFlawForUpdate retrieves a flaw and locks its row until the surrounding
// transaction ends.
func (r *flawStore) GetFlawForUpdate(ctx context.Context, id uuid.UUID) (*flaw.Flaw, error) {
	return r.getFlaw(ctx, "postgres.get_flaw_for_update", id, r.q.GetFlawForUpdate)
}

func (r *flawStore) getFlaw(
	ctx context.Context,
	spanName string,
	id uuid.UUID,
	query func(context.Context, pgtype.UUID) (db.Flaw, error),
) (*flaw.Flaw, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("flaw_id", id.String()))

	var f *flaw.Flaw
	err := storage.ExecuteAndTrace(ctx, r.tracer, spanName, dbAttrs, func(ctx context.Context) error {
		row, err := query(ctx, pgUUID(id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return flaw.ErrFlawNotFound
			}
			return fmt.Errorf("get flaw query error: %w", err)
		}

		flaws, err := r.withAffects(ctx, []db.Flaw{row})
		if err != nil {
			return err
		}
		f = flaws[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// FindByCVE retrieves the flaw carrying cveID.
func (r *flawStore) FindByCVE(ctx context.Context, cveID string) (*flaw.Flaw, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("cve_id", cveID))

	var f *flaw.Flaw
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.find_flaw_by_cve", dbAttrs, func(ctx context.Context) error {
		row, err := r.q.GetFlawByCVE(ctx, pgText(cveID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return flaw.ErrFlawNotFound
			}
			return fmt.Errorf("get flaw by cve query error: %w", err)
		}

		flaws, err := r.withAffects(ctx, []db.Flaw{row})
		if err != nil {
			return err
		}
		f = flaws[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

const defaultListLimit = 100

// ListFlaws returns a page of flaws, newest first.
func (r *flawStore) ListFlaws(ctx context.Context, opts flaw.ListOptions) ([]*flaw.Flaw, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("workflow_state", opts.WorkflowState.String()),
		attribute.Int("limit", limit),
		attribute.Int("offset", opts.Offset),
	)

	var flaws []*flaw.Flaw
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_flaws", dbAttrs, func(ctx context.Context) error {
		params := db.ListFlawsParams{
			WorkflowState: db.NullWorkflowState{
				WorkflowState: db.WorkflowState(opts.WorkflowState),
				Valid:         opts.WorkflowState != "",
			},
			Limit:  int32(limit),
			Offset: int32(opts.Offset),
		}
		if opts.Embargoed != nil {
			params.Embargoed = pgtype.Bool{Bool: *opts.Embargoed, Valid: true}
		}

		rows, err := r.q.ListFlaws(ctx, params)
		if err != nil {
			return fmt.Errorf("list flaws query error: %w", err)
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("num_flaws", len(rows)))

		flaws, err = r.withAffects(ctx, rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return flaws, nil
}

// withAffects converts rows into domain flaws, loading all of their affects
// with a single query.
func (r *flawStore) withAffects(ctx context.Context, rows []db.Flaw) ([]*flaw.Flaw, error) {
	if len(rows) == 0 {
		return []*flaw.Flaw{}, nil
	}

	ids := make([]pgtype.UUID, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	affectRows, err := r.q.ListAffectsByFlawIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list affects query error: %w", err)
	}

	byFlaw := make(map[uuid.UUID][]*flaw.Affect, len(rows))
	for _, a := range affectRows {
		flawID := uuid.UUID(a.FlawID.Bytes)
		byFlaw[flawID] = append(byFlaw[flawID], flaw.ReconstructAffect(
			uuid.UUID(a.ID.Bytes),
			flawID,
			flaw.Affect{
				PsModule:         a.PsModule,
				PsComponent:      a.PsComponent,
				PURL:             a.Purl,
				AffectedVersions: a.AffectedVersions,
				Affectedness:     flaw.Affectedness(a.Affectedness),
				Resolution:       flaw.Resolution(a.Resolution),
				Impact:           flaw.Impact(a.Impact),
			},
		))
	}

	flaws := make([]*flaw.Flaw, len(rows))
	for i, row := range rows {
		id := uuid.UUID(row.ID.Bytes)
		flaws[i] = flaw.ReconstructFlaw(
			id,
			row.TaskKey.String,
			row.TaskLost,
			row.CreatedAt.Time,
			row.UpdatedAt.Time,
			flaw.Flaw{
				CVEID:              row.CveID.String,
				CWEID:              row.CweID,
				Title:              row.Title,
				Impact:             flaw.Impact(row.Impact),
				Source:             flaw.Source(row.Source),
				CommentZero:        row.CommentZero,
				Embargoed:          row.Embargoed,
				Components:         row.Components,
				MajorIncidentState: flaw.MajorIncidentState(row.MajorIncidentState),
				WorkflowState:      flaw.WorkflowState(row.WorkflowState),
				ReportedAt:         row.ReportedDt.Time,
				UnembargoAt:        row.UnembargoDt.Time,
				Affects:            byFlaw[id],
			},
		)
	}
	return flaws, nil
}

// UpdateFlaw writes the flaw's content and task link. The workflow state is
// only changed while the stored value still matches expectedState.
func (r *flawStore) UpdateFlaw(ctx context.Context, f *flaw.Flaw, expectedState flaw.WorkflowState) (flaw.WorkflowState, error) {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("flaw_id", f.ID().String()),
		attribute.String("workflow_state", f.WorkflowState.String()),
		attribute.String("expected_state", expectedState.String()),
	)

	var stored flaw.WorkflowState
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.update_flaw", dbAttrs, func(ctx context.Context) error {
		span := trace.SpanFromContext(ctx)

		state, err := r.q.UpdateFlaw(ctx, db.UpdateFlawParams{
			CveID:              pgText(f.CVEID),
			CweID:              f.CWEID,
			Title:              f.Title,
			Impact:             string(f.Impact),
			Source:             string(f.Source),
			CommentZero:        f.CommentZero,
			Embargoed:          f.Embargoed,
			Components:         nonNil(f.Components),
			MajorIncidentState: string(f.MajorIncidentState),
			ExpectedState:      db.WorkflowState(expectedState),
			WorkflowState:      db.WorkflowState(f.WorkflowState),
			TaskKey:            pgText(f.TaskKey()),
			TaskLost:           f.TaskLost(),
			ReportedDt:         pgTime(f.ReportedAt),
			UnembargoDt:        pgTime(f.UnembargoAt),
			UpdatedAt:          pgtype.Timestamptz{Time: f.UpdatedAt(), Valid: true},
			ID:                 pgUUID(f.ID()),
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				span.SetAttributes(attribute.Bool("flaw_not_found", true))
				return flaw.ErrFlawNotFound
			}
			return fmt.Errorf("UpdateFlaw query error: %w", mapWriteError(err, f))
		}

		stored = flaw.WorkflowState(state)
		span.SetAttributes(attribute.String("stored_state", stored.String()))
		return nil
	})
	if err != nil {
		return "", err
	}
	return stored, nil
}

// ReplaceAffects swaps the stored affects of a flaw for the given set.
func (r *flawStore) ReplaceAffects(ctx context.Context, flawID uuid.UUID, affects []*flaw.Affect) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("flaw_id", flawID.String()),
		attribute.Int("num_affects", len(affects)),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.replace_affects", dbAttrs, func(ctx context.Context) error {
		return r.inTx(ctx, func(q *db.Queries) error {
			if err := q.DeleteAffectsByFlawID(ctx, pgUUID(flawID)); err != nil {
				return fmt.Errorf("DeleteAffectsByFlawID error: %w", err)
			}
			return insertAffects(ctx, q, flawID, affects)
		})
	})
}

// WithinTx runs fn against a store bound to one transaction. Nested calls
// join the outer transaction.
func (r *flawStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repo flaw.Repository) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}

	ctx, span := r.tracer.Start(ctx, "postgres.flaw_tx", trace.WithAttributes(defaultDBAttributes...))
	defer span.End()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("begin transaction error: %w", err)
	}
	defer tx.Rollback(ctx)

	txStore := &flawStore{q: r.q.WithTx(tx), db: r.db, tx: tx, tracer: r.tracer}
	if err := fn(ctx, txStore); err != nil {
		span.AddEvent("rolled_back")
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit transaction error: %w", err)
	}
	return nil
}
