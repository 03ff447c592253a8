package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/flawtracker/internal/db"
	"github.com/ahrav/flawtracker/internal/domain/collector"
	"github.com/ahrav/flawtracker/internal/infra/storage"
)

var _ collector.StateRepository = (*stateStore)(nil)

// stateStore implements collector.StateRepository on the collector_state table.
type stateStore struct {
	q      *db.Queries
	tracer trace.Tracer
}

// NewStateStore creates a PostgreSQL-backed collector state repository.
func NewStateStore(pool *pgxpool.Pool, tracer trace.Tracer) *stateStore {
	return &stateStore{q: db.New(pool), tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

func (s *stateStore) PeriodEnd(ctx context.Context, name string) (time.Time, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("collector", name))

	var end time.Time
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_collector_state", dbAttrs, func(ctx context.Context) error {
		row, err := s.q.GetCollectorState(ctx, name)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return collector.ErrStateNotFound
			}
			return fmt.Errorf("get collector state error: %w", err)
		}
		end = row.PeriodEnd.Time
		return nil
	})
	return end, err
}

func (s *stateStore) SetPeriodEnd(ctx context.Context, name string, end time.Time) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("collector", name),
		attribute.String("period_end", end.Format(time.RFC3339)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.set_collector_state", dbAttrs, func(ctx context.Context) error {
		err := s.q.UpsertCollectorState(ctx, db.UpsertCollectorStateParams{
			Name:      name,
			PeriodEnd: pgtype.Timestamptz{Time: end, Valid: true},
		})
		if err != nil {
			return fmt.Errorf("upsert collector state error: %w", err)
		}
		return nil
	})
}
