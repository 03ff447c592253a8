package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/flawtracker/internal/app/cluster"
	"github.com/ahrav/flawtracker/internal/app/collector"
	"github.com/ahrav/flawtracker/internal/app/flaws"
	"github.com/ahrav/flawtracker/internal/app/tasksync"
	"github.com/ahrav/flawtracker/internal/domain/events"
	"github.com/ahrav/flawtracker/internal/domain/keyword"
	"github.com/ahrav/flawtracker/internal/domain/taskman"
	"github.com/ahrav/flawtracker/internal/infra/cluster/kubernetes"
	"github.com/ahrav/flawtracker/internal/infra/cvelist"
	"github.com/ahrav/flawtracker/internal/infra/eventbus"
	"github.com/ahrav/flawtracker/internal/infra/eventbus/kafka"
	busmemory "github.com/ahrav/flawtracker/internal/infra/eventbus/memory"
	"github.com/ahrav/flawtracker/internal/infra/storage"
	statestore "github.com/ahrav/flawtracker/internal/infra/storage/collector/postgres"
	flawstore "github.com/ahrav/flawtracker/internal/infra/storage/flaw/postgres"
	keywordstore "github.com/ahrav/flawtracker/internal/infra/storage/keyword/postgres"
	trackermemory "github.com/ahrav/flawtracker/internal/infra/taskman/memory"
	"github.com/ahrav/flawtracker/pkg/common/logger"
	"github.com/ahrav/flawtracker/pkg/common/otel"
	"github.com/ahrav/flawtracker/pkg/metrics"
)

const metricsNamespace = "flawtracker_collector"

// runtime holds the dependencies shared by the collector commands.
type runtime struct {
	settings  settings
	log       *logger.Logger
	tracer    trace.Tracer
	keywords  keyword.Repository
	collector *collector.Collector
}

// withRuntime resolves settings, builds the runtime and runs fn with it.
// Resources are released when fn returns.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()

	s, err := loadSettings(ctx, cmd.Flags())
	if err != nil {
		return err
	}
	log := newLogger(s)

	rt, cleanup, err := newRuntime(ctx, s, log)
	if err != nil {
		log.Error(ctx, "startup", "err", err)
		return err
	}
	defer cleanup()

	if err := fn(ctx, rt); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(ctx, "collector", "command", cmd.Name(), "err", err)
		return err
	}
	return nil
}

func newRuntime(ctx context.Context, s settings, log *logger.Logger) (*runtime, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*runtime, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// -------------------------------------------------------------------------
	// Tracing
	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      "flawtracker-collector",
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Probability:      0.05,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
		},
		InsecureExporter: true,
	})
	if err != nil {
		return fail(fmt.Errorf("starting tracing: %w", err))
	}
	closers = append(closers, func() { teardown(context.Background()) })
	tracer := traceProvider.Tracer("flawtracker-collector")

	// -------------------------------------------------------------------------
	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	runMetrics := metrics.New(metricsNamespace, reg)
	busMetrics := metrics.NewBusMetrics(metricsNamespace, reg)

	if s.MetricsAddr != "" {
		go func() {
			if err := metrics.StartServer(s.MetricsAddr, reg); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(ctx, "metrics server stopped", "addr", s.MetricsAddr, "err", err)
			}
		}()
	}

	// -------------------------------------------------------------------------
	// Database
	poolCfg, err := pgxpool.ParseConfig(s.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("parsing db config: %w", err))
	}
	poolCfg.MaxConns = int32(max(s.Workers, 4) + 2)
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fail(fmt.Errorf("creating db pool: %w", err))
	}
	closers = append(closers, pool.Close)

	if s.MigrationsPath != "" {
		if err := storage.Migrate(ctx, pool, s.MigrationsPath); err != nil {
			return fail(fmt.Errorf("migrating database: %w", err))
		}
	}

	// -------------------------------------------------------------------------
	// Event bus
	bus, err := newEventBus(ctx, s, log, busMetrics, tracer)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { bus.Close() })
	publisher := eventbus.NewDomainEventPublisher(bus)

	// -------------------------------------------------------------------------
	// Flaw service. Collected records are saved without a tracker token, so
	// the engine never reaches a remote tracker from this process.
	querier := trackermemory.NewTracker("OSIM", trackermemory.WithContentBuilder(taskman.NewContentBuilder()))
	engine := tasksync.NewEngine(querier, tasksync.NoopMetrics(), log, tracer)
	flawService := flaws.NewService(flawstore.NewFlawStore(pool, tracer), engine, querier, publisher, log, tracer)

	since, err := s.since()
	if err != nil {
		return fail(err)
	}

	keywords := keywordstore.NewKeywordStore(pool, tracer)
	c := collector.New(
		collector.Config{RepoPath: s.RepoPath, Workers: s.Workers, Since: since},
		flawService,
		keywords,
		statestore.NewStateStore(pool, tracer),
		publisher,
		runMetrics,
		log,
		tracer,
	)

	return &runtime{
		settings:  s,
		log:       log,
		tracer:    tracer,
		keywords:  keywords,
		collector: c,
	}, cleanup, nil
}

func newEventBus(
	ctx context.Context,
	s settings,
	log *logger.Logger,
	busMetrics kafka.EventBusMetrics,
	tracer trace.Tracer,
) (events.EventBus, error) {
	if len(s.KafkaBrokers) == 0 {
		log.Warn(ctx, "startup", "status", "no kafka brokers, using in-memory event bus")
		return busmemory.NewBroker(), nil
	}

	hostname, _ := os.Hostname()
	client, err := kafka.NewClient(&kafka.ClientConfig{Brokers: s.KafkaBrokers, ClientID: "collector-" + hostname})
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	bus, err := kafka.ConnectEventBus(&kafka.EventBusConfig{
		FlawEventsTopic:      s.FlawEventsTopic,
		CollectorEventsTopic: s.CollectorEventsTopic,
		ClientID:             "collector-" + hostname,
		ServiceType:          serviceType,
	}, client, log, busMetrics, tracer)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting event bus: %w", err)
	}
	return bus, nil
}

// newCoordinator elects a leader through a Kubernetes lease when a lease
// namespace is configured. Otherwise this replica always leads.
func newCoordinator(rt *runtime) (cluster.Coordinator, error) {
	s := rt.settings
	if s.LeaseNamespace == "" {
		return cluster.Standalone{}, nil
	}

	identity := s.Identity
	if identity == "" {
		identity, _ = os.Hostname()
	}
	client, err := kubernetes.NewClient(s.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return kubernetes.NewCoordinator(client, kubernetes.Config{
		Namespace: s.LeaseNamespace,
		LeaseName: s.LeaseName,
		Identity:  identity,
	}, rt.log, rt.tracer)
}

// watch ingests records while this replica holds leadership. Each term gets
// its own file watcher so a new leader starts from a full run.
func watch(ctx context.Context, rt *runtime) error {
	coord, err := newCoordinator(rt)
	if err != nil {
		return err
	}

	return coord.RunAsLeader(ctx, func(ctx context.Context) {
		rt.log.Info(ctx, "leading, starting collector watch", "repo_path", rt.settings.RepoPath)

		w, err := cvelist.NewWatcher(rt.settings.RepoPath, collector.IsCVEFile, rt.log)
		if err != nil {
			rt.log.Error(ctx, "starting watcher", "err", err)
			return
		}
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rt.log.Error(ctx, "watcher stopped", "err", err)
			}
		}()

		interval := rt.settings.Interval
		if interval <= 0 {
			interval = time.Hour
		}
		if err := rt.collector.Watch(ctx, w.Batches(), interval); err != nil && !errors.Is(err, context.Canceled) {
			rt.log.Error(ctx, "collector watch stopped", "err", err)
		}
	})
}
