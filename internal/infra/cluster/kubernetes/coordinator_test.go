package kubernetes

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/ahrav/flawtracker/pkg/common/logger"
)

func testConfig(identity string) Config {
	return Config{
		Namespace:     "default",
		LeaseName:     "cveorg-collector",
		Identity:      identity,
		LeaseDuration: 2 * time.Second,
		RenewDeadline: time.Second,
		RetryPeriod:   100 * time.Millisecond,
	}
}

func TestNewCoordinator_RequiresLease(t *testing.T) {
	t.Parallel()

	_, err := NewCoordinator(fake.NewSimpleClientset(), Config{Namespace: "default"}, logger.Noop(),
		noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)
}

func TestCoordinator_RunAsLeader(t *testing.T) {
	t.Parallel()

	client := fake.NewSimpleClientset()
	c, err := NewCoordinator(client, testConfig("pod-a"), logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	leading := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.RunAsLeader(ctx, func(leaderCtx context.Context) {
			close(leading)
			<-leaderCtx.Done()
		})
	}()

	select {
	case <-leading:
	case <-ctx.Done():
		t.Fatal("never became leader")
	}

	lease, err := client.CoordinationV1().Leases("default").Get(ctx, "cveorg-collector", metav1.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, lease.Spec.HolderIdentity)
	assert.Equal(t, "pod-a", *lease.Spec.HolderIdentity)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunAsLeader did not return after cancel")
	}
}
