package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/flawtracker/internal/api"
	"github.com/ahrav/flawtracker/internal/api/debug"
	"github.com/ahrav/flawtracker/internal/api/mux"
	"github.com/ahrav/flawtracker/internal/api/routes"
	"github.com/ahrav/flawtracker/internal/app/flaws"
	"github.com/ahrav/flawtracker/internal/app/tasksync"
	"github.com/ahrav/flawtracker/internal/domain/events"
	"github.com/ahrav/flawtracker/internal/domain/taskman"
	"github.com/ahrav/flawtracker/internal/infra/eventbus"
	"github.com/ahrav/flawtracker/internal/infra/eventbus/kafka"
	busmemory "github.com/ahrav/flawtracker/internal/infra/eventbus/memory"
	"github.com/ahrav/flawtracker/internal/infra/storage"
	flawstore "github.com/ahrav/flawtracker/internal/infra/storage/flaw/postgres"
	"github.com/ahrav/flawtracker/internal/infra/taskman/jira"
	trackermemory "github.com/ahrav/flawtracker/internal/infra/taskman/memory"
	"github.com/ahrav/flawtracker/pkg/common/logger"
	"github.com/ahrav/flawtracker/pkg/common/otel"
)

var build = "develop"

const (
	serviceType = "api"
)

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			// Output the error event with valid JSON details.
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("FLAWTRACKER-API-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	level := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	log = logger.NewWithMetadata(os.Stdout, level, svcName, traceIDFn, logEvents, metadata)

	// Mirror records into OpenTelemetry logs when an exporter is configured.
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		log = log.Tee(otelslog.NewHandler(envOr("OTEL_SERVICE_NAME", "flawtracker-api")))
	}

	ctx := context.Background()

	if err := run(ctx, log, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context, log *logger.Logger, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	// -------------------------------------------------------------------------
	// Configuration
	cfg := struct {
		Web struct {
			ReadTimeout        time.Duration
			WriteTimeout       time.Duration
			IdleTimeout        time.Duration
			ShutdownTimeout    time.Duration
			APIHost            string
			DebugHost          string
			CORSAllowedOrigins []string
		}
		Jira struct {
			URL         string
			ProjectKey  string
			IssueType   string
			VulnMgmtURL string
		}
		Kafka struct {
			Brokers              []string
			FlawEventsTopic      string
			CollectorEventsTopic string
		}
		MigrationsPath string
	}{}
	cfg.Web.ReadTimeout = 5 * time.Second
	cfg.Web.WriteTimeout = 30 * time.Second
	cfg.Web.IdleTimeout = 120 * time.Second
	cfg.Web.ShutdownTimeout = 20 * time.Second
	cfg.Web.APIHost = envOr("API_HOST", "0.0.0.0") + ":" + envOr("API_PORT", "8000")
	cfg.Web.DebugHost = envOr("DEBUG_HOST", "0.0.0.0") + ":" + envOr("DEBUG_PORT", "8010")
	cfg.Web.CORSAllowedOrigins = strings.Split(envOr("CORS_ALLOWED_ORIGINS", "*"), ",")
	cfg.Jira.URL = os.Getenv("JIRA_URL")
	cfg.Jira.ProjectKey = envOr("JIRA_PROJECT_KEY", "OSIM")
	cfg.Jira.IssueType = os.Getenv("JIRA_ISSUE_TYPE")
	cfg.Jira.VulnMgmtURL = os.Getenv("VULN_MGMT_URL")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.FlawEventsTopic = envOr("KAFKA_FLAW_EVENTS_TOPIC", "flaw-events")
	cfg.Kafka.CollectorEventsTopic = envOr("KAFKA_COLLECTOR_EVENTS_TOPIC", "collector-events")
	cfg.MigrationsPath = os.Getenv("MIGRATIONS_PATH")

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	prob := 0.05
	if raw := os.Getenv("OTEL_SAMPLING_RATIO"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parsing sampling ratio: %w", err)
		}
		prob = p
	}

	serviceName := envOr("OTEL_SERVICE_NAME", "flawtracker-api")
	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      serviceName,
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/health":    {},
			"/debug":        {},
			"/metrics":      {},
		},
		Probability: prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: true, // TODO: Come back to setup TLS
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	tracer := traceProvider.Tracer(serviceName)

	// -------------------------------------------------------------------------
	// Database Support
	log.Info(ctx, "startup", "status", "initializing database support")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
			envOr("POSTGRES_USER", "postgres"),
			envOr("POSTGRES_PASSWORD", "postgres"),
			envOr("POSTGRES_HOST", "postgres"),
			envOr("POSTGRES_DB", "flawtracker"),
		)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 25
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating db pool: %w", err)
	}
	defer pool.Close()

	if cfg.MigrationsPath != "" {
		if err := storage.Migrate(ctx, pool, cfg.MigrationsPath); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
	}

	// -------------------------------------------------------------------------
	// Metrics
	mp := otel.GetMeterProvider()
	metricCollector, err := api.NewAPIMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}
	syncMetrics, err := tasksync.NewMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating sync metrics: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// -------------------------------------------------------------------------
	// Start Debug Service

	go func() {
		log.Info(ctx, "startup", "status", "debug router started", "host", cfg.Web.DebugHost)

		if err := http.ListenAndServe(cfg.Web.DebugHost, debug.Mux(reg)); err != nil {
			log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "msg", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Initialize Event Bus
	log.Info(ctx, "startup", "status", "initializing event bus")

	bus, err := newEventBus(cfg.Kafka.Brokers, &kafka.EventBusConfig{
		FlawEventsTopic:      cfg.Kafka.FlawEventsTopic,
		CollectorEventsTopic: cfg.Kafka.CollectorEventsTopic,
		ClientID:             serviceName,
		ServiceType:          serviceType,
	}, log, metricCollector, tracer)
	if err != nil {
		return err
	}
	defer bus.Close()

	publisher := eventbus.NewDomainEventPublisher(bus)

	// -------------------------------------------------------------------------
	// Task Tracker
	log.Info(ctx, "startup", "status", "initializing task tracker", "jira", cfg.Jira.URL != "")

	redactor, err := jira.NewRedactor()
	if err != nil {
		return fmt.Errorf("creating redactor: %w", err)
	}
	content := taskman.NewContentBuilder(
		taskman.WithRedactor(redactor.Redact),
		taskman.WithVulnMgmtURL(cfg.Jira.VulnMgmtURL),
	)

	var querier taskman.Querier
	if cfg.Jira.URL != "" {
		querier, err = jira.NewQuerier(jira.Config{
			URL:         cfg.Jira.URL,
			ProjectKey:  cfg.Jira.ProjectKey,
			IssueType:   cfg.Jira.IssueType,
			VulnMgmtURL: cfg.Jira.VulnMgmtURL,
		}, log, tracer, jira.WithContentBuilder(content))
		if err != nil {
			return fmt.Errorf("creating jira querier: %w", err)
		}
	} else {
		log.Warn(ctx, "startup", "status", "JIRA_URL not set, tasks are kept in memory")
		querier = trackermemory.NewTracker(cfg.Jira.ProjectKey, trackermemory.WithContentBuilder(content))
	}

	engine := tasksync.NewEngine(querier, syncMetrics, log, tracer)
	flawService := flaws.NewService(flawstore.NewFlawStore(pool, tracer), engine, querier, publisher, log, tracer)

	// -------------------------------------------------------------------------
	// Start API Service

	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	cfgMux := mux.Config{
		Build:   build,
		Log:     log,
		DB:      pool,
		Tracer:  tracer,
		Metrics: metricCollector,
		Flaws:   flawService,
	}

	webAPI := mux.WebAPI(cfgMux,
		routes.Routes(),
		mux.WithCORS(cfg.Web.CORSAllowedOrigins),
	)

	api := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      otelhttp.NewHandler(webAPI, serviceName),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

// newEventBus connects to Kafka when brokers are configured. Without brokers
// events stay in process.
func newEventBus(
	brokers []string,
	cfg *kafka.EventBusConfig,
	log *logger.Logger,
	metrics kafka.EventBusMetrics,
	tracer trace.Tracer,
) (events.EventBus, error) {
	if len(brokers) == 0 {
		log.Warn(context.Background(), "startup", "status", "KAFKA_BROKERS not set, using in-memory event bus")
		return busmemory.NewBroker(), nil
	}

	client, err := kafka.NewClient(&kafka.ClientConfig{Brokers: brokers, ClientID: cfg.ClientID})
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}

	bus, err := kafka.ConnectEventBus(cfg, client, log, metrics, tracer)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting event bus: %w", err)
	}
	return bus, nil
}
