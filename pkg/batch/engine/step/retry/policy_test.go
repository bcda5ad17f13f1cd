package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/classify"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
)

var errDeadlock = errors.New("deadlock detected")

func TestPolicyShouldRetry(t *testing.T) {
	p := retry.NewPolicy(classify.NewRule("deadlock", classify.Is(errDeadlock), 1))
	c := classify.New(nil, p)

	assert.True(t, p.ShouldRetry(errDeadlock))
	c.Classify(exception.WriteFailure(9, errDeadlock))
	assert.False(t, p.ShouldRetry(errDeadlock))
	assert.Equal(t, 1, p.RetryCount())
}

func TestBackoffDisabledByDefault(t *testing.T) {
	p := retry.NewPolicy()
	assert.Zero(t, p.NextBackoff())
	require.NoError(t, p.Wait(context.Background()))
}

func TestBackoffGrowsAndResets(t *testing.T) {
	p := retry.NewPolicy().WithBackoff(10*time.Millisecond, 40*time.Millisecond, 2)

	assert.Equal(t, 10*time.Millisecond, p.NextBackoff())
	assert.Equal(t, 20*time.Millisecond, p.NextBackoff())
	assert.Equal(t, 40*time.Millisecond, p.NextBackoff())
	assert.Equal(t, 40*time.Millisecond, p.NextBackoff())

	p.ResetBackoff()
	assert.Equal(t, 10*time.Millisecond, p.NextBackoff())
}

func TestWaitHonoursCancellation(t *testing.T) {
	p := retry.NewPolicy().WithBackoff(time.Hour, time.Hour, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
