// Package kubernetes implements leader election on Kubernetes leases.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/ahrav/flawtracker/internal/app/cluster"
	"github.com/ahrav/flawtracker/pkg/common/logger"
)

var _ cluster.Coordinator = (*Coordinator)(nil)

// Config names the lease replicas compete for.
type Config struct {
	Namespace string
	LeaseName string
	// Identity must be unique per replica, typically the pod name.
	Identity string

	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

func (c *Config) withDefaults() {
	if c.LeaseDuration == 0 {
		c.LeaseDuration = 15 * time.Second
	}
	if c.RenewDeadline == 0 {
		c.RenewDeadline = 10 * time.Second
	}
	if c.RetryPeriod == 0 {
		c.RetryPeriod = 2 * time.Second
	}
}

// Coordinator runs work while holding a Kubernetes lease. After losing the
// lease it keeps competing until its context ends.
type Coordinator struct {
	client kubernetes.Interface
	cfg    Config

	logger *logger.Logger
	tracer trace.Tracer
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(client kubernetes.Interface, cfg Config, logger *logger.Logger, tracer trace.Tracer) (*Coordinator, error) {
	if cfg.Namespace == "" || cfg.LeaseName == "" || cfg.Identity == "" {
		return nil, errors.New("namespace, lease name and identity are required")
	}
	cfg.withDefaults()

	return &Coordinator{
		client: client,
		cfg:    cfg,
		logger: logger.With(
			"component", "kubernetes_coordinator",
			"namespace", cfg.Namespace,
			"lease", cfg.LeaseName,
			"identity", cfg.Identity,
		),
		tracer: tracer,
	}, nil
}

// RunAsLeader implements cluster.Coordinator.
func (c *Coordinator) RunAsLeader(ctx context.Context, fn func(ctx context.Context)) error {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      c.cfg.LeaseName,
			Namespace: c.cfg.Namespace,
		},
		Client:     c.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: c.cfg.Identity},
	}

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock:            lock,
		LeaseDuration:   c.cfg.LeaseDuration,
		RenewDeadline:   c.cfg.RenewDeadline,
		RetryPeriod:     c.cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            c.cfg.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(leaderCtx context.Context) {
				leaderCtx, span := c.tracer.Start(leaderCtx, "kubernetes_coordinator.leading",
					trace.WithAttributes(attribute.String("identity", c.cfg.Identity)))
				defer span.End()

				c.logger.Info(leaderCtx, "Became leader")
				fn(leaderCtx)
			},
			OnStoppedLeading: func() {
				c.logger.Info(context.Background(), "Lost leadership")
			},
			OnNewLeader: func(identity string) {
				if identity != c.cfg.Identity {
					c.logger.Info(context.Background(), "Following leader", "leader", identity)
				}
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating leader elector: %w", err)
	}

	// Run returns whenever leadership is lost; compete again until ctx ends.
	for ctx.Err() == nil {
		elector.Run(ctx)
	}
	return nil
}
