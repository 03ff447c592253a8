package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/flawtracker/internal/db"
	"github.com/ahrav/flawtracker/internal/domain/keyword"
	"github.com/ahrav/flawtracker/internal/infra/storage"
)

var _ keyword.Repository = (*keywordStore)(nil)

// keywordStore implements keyword.Repository using PostgreSQL.
type keywordStore struct {
	q      *db.Queries
	tracer trace.Tracer
}

// NewKeywordStore creates a PostgreSQL-backed keyword repository.
func NewKeywordStore(pool *pgxpool.Pool, tracer trace.Tracer) *keywordStore {
	return &keywordStore{q: db.New(pool), tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

func (s *keywordStore) Upsert(ctx context.Context, kw keyword.Keyword) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("keyword", kw.Value),
		attribute.String("type", kw.Type.String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.upsert_keyword", dbAttrs, func(ctx context.Context) error {
		err := s.q.UpsertKeyword(ctx, db.UpsertKeywordParams{
			Keyword: kw.Value,
			Type:    db.KeywordType(kw.Type),
		})
		if err != nil {
			return fmt.Errorf("upsert keyword error: %w", err)
		}
		return nil
	})
}

func (s *keywordStore) List(ctx context.Context) ([]keyword.Keyword, error) {
	var kws []keyword.Keyword
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_keywords", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.q.ListKeywords(ctx)
		if err != nil {
			return fmt.Errorf("list keywords error: %w", err)
		}

		kws = make([]keyword.Keyword, 0, len(rows))
		for _, row := range rows {
			kws = append(kws, keyword.Keyword{Value: row.Keyword, Type: keyword.Type(row.Type)})
		}
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("num_keywords", len(kws)))
		return nil
	})
	return kws, err
}

func (s *keywordStore) Delete(ctx context.Context, value string) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("keyword", value))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.delete_keyword", dbAttrs, func(ctx context.Context) error {
		rows, err := s.q.DeleteKeyword(ctx, value)
		if err != nil {
			return fmt.Errorf("delete keyword error: %w", err)
		}
		if rows == 0 {
			return keyword.ErrKeywordNotFound
		}
		return nil
	})
}
