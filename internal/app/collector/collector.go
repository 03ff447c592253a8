// Package collector ingests published CVE records from a local cvelistV5
// checkout into flaws.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wasilibs/go-re2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/flawtracker/internal/app/flaws"
	domain "github.com/ahrav/flawtracker/internal/domain/collector"
	"github.com/ahrav/flawtracker/internal/domain/events"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/domain/keyword"
	"github.com/ahrav/flawtracker/pkg/common/logger"
)

// Name identifies this collector in the collector state table.
const Name = "cveorg"

const defaultWorkers = 8

// cveFilePattern matches record file names. The all-zero sequence is
// rejected separately since RE2 has no lookahead.
var cveFilePattern = re2.MustCompile(`(?:^|/)CVE-(?:1999|2\d{3})-(0\d{3}|[1-9]\d{3,})\.json$`)

// IsCVEFile reports whether path names a CVE record file.
func IsCVEFile(path string) bool {
	m := cveFilePattern.FindStringSubmatch(filepath.ToSlash(path))
	return m != nil && m[1] != "0000"
}

// FlawService is the part of the flaw service the collector drives.
type FlawService interface {
	FindByCVE(ctx context.Context, cveID string) (*flaw.Flaw, error)
	Save(ctx context.Context, f *flaw.Flaw, opts ...flaws.SaveOption) (flaws.SaveResult, error)
}

// Outcome labels what happened to a single record file.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Metrics records collector activity.
type Metrics interface {
	IncRecords(outcome string)
	TrackRun(f func() error) error
}

// Config configures a Collector.
type Config struct {
	RepoPath string
	Workers  int
	// Since is used as the period start when no run was recorded yet.
	Since time.Time
}

// Collector walks a cvelistV5 checkout and saves every record that changed
// since the last successful run. Records are always saved without a tracker
// token, so collection never creates or touches remote tasks.
type Collector struct {
	cfg       Config
	flaws     FlawService
	keywords  keyword.Repository
	state     domain.StateRepository
	publisher events.DomainEventPublisher
	metrics   Metrics
	now       func() time.Time

	logger *logger.Logger
	tracer trace.Tracer
}

// New creates a Collector.
func New(
	cfg Config,
	flawSvc FlawService,
	keywords keyword.Repository,
	state domain.StateRepository,
	publisher events.DomainEventPublisher,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Collector {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Collector{
		cfg:       cfg,
		flaws:     flawSvc,
		keywords:  keywords,
		state:     state,
		publisher: publisher,
		metrics:   metrics,
		now:       time.Now,
		logger:    logger.With("component", "cveorg_collector"),
		tracer:    tracer,
	}
}

// RunResult counts the outcomes of one run.
type RunResult struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Counts      map[Outcome]int
}

// Run collects every record file modified after the stored period end. The
// period end only advances when no file failed, so failures are retried.
func (c *Collector) Run(ctx context.Context) (RunResult, error) {
	ctx, span := c.tracer.Start(ctx, "collector.run", trace.WithAttributes(
		attribute.String("collector", Name),
		attribute.String("repo_path", c.cfg.RepoPath),
	))
	defer span.End()

	var res RunResult
	err := c.metrics.TrackRun(func() error {
		start, err := c.state.PeriodEnd(ctx, Name)
		switch {
		case errors.Is(err, domain.ErrStateNotFound):
			start = c.cfg.Since
		case err != nil:
			return fmt.Errorf("loading collector state: %w", err)
		}
		end := c.now().UTC()

		paths, err := c.changedFiles(start)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("num_files", len(paths)))
		c.logger.Info(ctx, "Collecting CVE records", "since", start, "files", len(paths))

		counts, err := c.IngestFiles(ctx, paths)
		if err != nil {
			return err
		}
		res = RunResult{PeriodStart: start, PeriodEnd: end, Counts: counts}

		if counts[OutcomeFailed] == 0 {
			if err := c.state.SetPeriodEnd(ctx, Name, end); err != nil {
				return fmt.Errorf("saving collector state: %w", err)
			}
		} else {
			c.logger.Warn(ctx, "Keeping period end, some records failed", "failed", counts[OutcomeFailed])
		}

		evt := domain.NewFlawsCollectedEvent(Name, end,
			counts[OutcomeCreated], counts[OutcomeUpdated],
			counts[OutcomeSkipped]+counts[OutcomeBlocked]+counts[OutcomeRejected],
			counts[OutcomeFailed],
		)
		if err := c.publisher.PublishDomainEvent(ctx, evt, events.WithKey(Name)); err != nil {
			c.logger.Warn(ctx, "Failed to publish collection event", "error", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collector run failed")
		return RunResult{}, err
	}

	span.SetStatus(codes.Ok, "collector run finished")
	return res, nil
}

// changedFiles lists record files modified after since.
func (c *Collector) changedFiles(since time.Time) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(c.cfg.RepoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsCVEFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(since) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", c.cfg.RepoPath, err)
	}
	return paths, nil
}

// IngestFiles processes record files concurrently. Per-file failures are
// logged and counted; only keyword loading errors abort the call.
func (c *Collector) IngestFiles(ctx context.Context, paths []string) (map[Outcome]int, error) {
	kws, err := c.keywords.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading keywords: %w", err)
	}
	matcher, err := keyword.NewMatcher(kws)
	if err != nil {
		return nil, fmt.Errorf("compiling keywords: %w", err)
	}

	var (
		mu     sync.Mutex
		counts = make(map[Outcome]int)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)
	for _, path := range paths {
		g.Go(func() error {
			out, err := c.ingestFile(gctx, matcher, path)
			if err != nil {
				c.logger.Error(gctx, "Failed to ingest CVE record", "path", path, "error", err)
				out = OutcomeFailed
			}
			c.metrics.IncRecords(string(out))

			mu.Lock()
			counts[out]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (c *Collector) ingestFile(ctx context.Context, matcher *keyword.Matcher, path string) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "collector.ingest_file", trace.WithAttributes(
		attribute.String("path", path),
	))
	defer span.End()

	data, err := os.ReadFile(path)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("reading record: %w", err)
	}
	rec, err := parseRecord(data)
	if err != nil {
		return OutcomeFailed, err
	}
	span.SetAttributes(attribute.String("cve_id", rec.Metadata.CVEID))

	if rec.rejected() {
		return OutcomeRejected, nil
	}

	existing, err := c.flaws.FindByCVE(ctx, rec.Metadata.CVEID)
	switch {
	case errors.Is(err, flaw.ErrFlawNotFound):
		if res := matcher.Check(rec.keywordText()); !res.Ingest() {
			span.AddEvent("blocked_by_keywords")
			c.logger.Debug(ctx, "Record blocked by keywords",
				"cve_id", rec.Metadata.CVEID, "blocked", res.Blocked)
			return OutcomeBlocked, nil
		}
		if _, err := c.flaws.Save(ctx, rec.newFlaw(), flaws.WithoutValidationErrors()); err != nil {
			return OutcomeFailed, fmt.Errorf("saving %s: %w", rec.Metadata.CVEID, err)
		}
		return OutcomeCreated, nil

	case err != nil:
		return OutcomeFailed, fmt.Errorf("looking up %s: %w", rec.Metadata.CVEID, err)
	}

	if !rec.mergeInto(existing) {
		return OutcomeSkipped, nil
	}
	if _, err := c.flaws.Save(ctx, existing, flaws.WithoutValidationErrors()); err != nil {
		return OutcomeFailed, fmt.Errorf("updating %s: %w", rec.Metadata.CVEID, err)
	}
	return OutcomeUpdated, nil
}

// Watch ingests batches of changed record files as they arrive. A full Run
// happens first and then every interval to pick up anything the batches
// missed. It returns when ctx is cancelled or batches is closed.
func (c *Collector) Watch(ctx context.Context, batches <-chan []string, interval time.Duration) error {
	if _, err := c.Run(ctx); err != nil {
		return err
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			counts, err := c.IngestFiles(ctx, batch)
			if err != nil {
				c.logger.Error(ctx, "Failed to ingest watched records", "error", err)
				continue
			}
			c.logger.Info(ctx, "Ingested watched records",
				"files", len(batch),
				"created", counts[OutcomeCreated],
				"updated", counts[OutcomeUpdated],
			)

		case <-tick:
			if _, err := c.Run(ctx); err != nil {
				c.logger.Error(ctx, "Periodic collector run failed", "error", err)
			}
		}
	}
}
