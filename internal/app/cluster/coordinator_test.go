package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandalone_RunAsLeader(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ran := false
	err := Standalone{}.RunAsLeader(ctx, func(ctx context.Context) {
		ran = true
		cancel()
	})
	require.NoError(t, err)
	assert.True(t, ran)
}
