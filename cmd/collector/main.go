// Command collector ingests published CVE records from a cvelistV5 checkout
// into flaws.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ahrav/flawtracker/internal/app/collector"
	"github.com/ahrav/flawtracker/pkg/common/logger"
	"github.com/ahrav/flawtracker/pkg/common/otel"
)

var build = "develop"

const serviceType = "collector"

func main() {
	_, _ = maxprocs.Set()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "collector",
		Short:         "Collect CVE records into flaws",
		Version:       build,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	registerFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Ingest every record changed since the last successful run, then exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
					res, err := rt.collector.Run(ctx)
					if err != nil {
						return err
					}
					rt.log.Info(ctx, "collector run finished",
						"period_end", res.PeriodEnd,
						"created", res.Counts[collector.OutcomeCreated],
						"updated", res.Counts[collector.OutcomeUpdated],
						"failed", res.Counts[collector.OutcomeFailed],
					)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Ingest records as the checkout changes, on the elected replica only",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRuntime(cmd, watch)
			},
		},
		&cobra.Command{
			Use:   "seed-keywords",
			Short: "Store the keywords listed in the config file",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
					if len(rt.settings.Keywords) == 0 {
						return fmt.Errorf("no keywords found, pass --config with a keywords list")
					}
					n, err := collector.SeedKeywords(ctx, rt.keywords, rt.settings.Keywords)
					if err != nil {
						return fmt.Errorf("seeded %d keywords before failing: %w", n, err)
					}
					rt.log.Info(ctx, "keywords seeded", "count", n)
					return nil
				})
			},
		},
	)
	return root
}

// newLogger writes JSON records to stdout and, when a log file is set, to a
// size rotated file.
func newLogger(s settings) *logger.Logger {
	hostname, _ := os.Hostname()

	var w io.Writer = os.Stdout
	if s.LogFile != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   s.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	}

	svcName := fmt.Sprintf("FLAWTRACKER-COLLECTOR-%s", hostname)
	return logger.NewWithMetadata(w, logger.ParseLevel(s.LogLevel), svcName, otel.GetTraceID, logger.Events{},
		map[string]string{
			"service":   svcName,
			"hostname":  hostname,
			"pod":       os.Getenv("POD_NAME"),
			"namespace": os.Getenv("POD_NAMESPACE"),
			"app":       serviceType,
		})
}
