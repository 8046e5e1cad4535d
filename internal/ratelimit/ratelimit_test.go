package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitConsumesTokenImmediatelyWithinBurst(t *testing.T) {
	r := New(Config{SubmissionsPerSecond: 10, Burst: 5})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, r.Wait(ctx))
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	r := New(Config{SubmissionsPerSecond: 1, Burst: 1})
	require.True(t, r.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx)
	assert.Error(t, err)
}

func TestFromEnvAppliesOverrides(t *testing.T) {
	t.Setenv("CHRONICLE_SUBMIT_RATE_LIMIT_PER_SECOND", "25")
	t.Setenv("CHRONICLE_SUBMIT_RATE_LIMIT_BURST", "40")

	cfg := FromEnv()
	assert.Equal(t, 25.0, cfg.SubmissionsPerSecond)
	assert.Equal(t, 40, cfg.Burst)
}

func TestFromEnvDefaultsWhenUnset(t *testing.T) {
	t.Setenv("CHRONICLE_SUBMIT_RATE_LIMIT_PER_SECOND", "")
	t.Setenv("CHRONICLE_SUBMIT_RATE_LIMIT_BURST", "")

	cfg := FromEnv()
	assert.Equal(t, DefaultConfig(), cfg)
}
