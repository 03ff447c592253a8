// Package cluster decides which replica of a process performs singleton work.
package cluster

import "context"

// Coordinator runs work on exactly one replica at a time.
type Coordinator interface {
	// RunAsLeader blocks until ctx is cancelled. Each time this replica
	// gains leadership fn is invoked with a context that is cancelled when
	// leadership is lost.
	RunAsLeader(ctx context.Context, fn func(ctx context.Context)) error
}

// Standalone is a Coordinator for single-replica deployments: the one
// replica is always the leader.
type Standalone struct{}

var _ Coordinator = Standalone{}

func (Standalone) RunAsLeader(ctx context.Context, fn func(ctx context.Context)) error {
	fn(ctx)
	<-ctx.Done()
	return nil
}
