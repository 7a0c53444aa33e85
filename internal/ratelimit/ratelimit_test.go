// ABOUTME: Tests for the keyed fixed-window rate limiter
// ABOUTME: Covers budget exhaustion, window reset, per-operator isolation, and commit semantics

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *time.Time) {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Close)

	// Pin the clock mid-minute so window boundaries don't shift under the test.
	clock := time.Date(2026, 1, 15, 10, 30, 30, 0, time.UTC)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestLimiter_AllowsWithinBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerMinute: 3, PerHour: 100})

	for range 3 {
		decision := l.Allow("op-1")
		require.True(t, decision.Allowed)
		l.Commit("op-1")
	}
}

func TestLimiter_RejectsOverMinuteBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerMinute: 3, PerHour: 100})

	for range 3 {
		require.True(t, l.Allow("op-1").Allowed)
		l.Commit("op-1")
	}

	decision := l.Allow("op-1")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Positive(t, decision.ResetIn)
	assert.LessOrEqual(t, decision.ResetIn, time.Minute)
}

func TestLimiter_MinuteWindowResets(t *testing.T) {
	l, clock := newTestLimiter(t, Config{PerMinute: 1, PerHour: 100})

	require.True(t, l.Allow("op-1").Allowed)
	l.Commit("op-1")
	require.False(t, l.Allow("op-1").Allowed)

	*clock = clock.Add(time.Minute)
	assert.True(t, l.Allow("op-1").Allowed)
}

func TestLimiter_HourBudgetOutlastsMinuteReset(t *testing.T) {
	l, clock := newTestLimiter(t, Config{PerMinute: 10, PerHour: 2})

	for range 2 {
		require.True(t, l.Allow("op-1").Allowed)
		l.Commit("op-1")
	}

	*clock = clock.Add(2 * time.Minute)
	decision := l.Allow("op-1")
	assert.False(t, decision.Allowed)
	assert.Positive(t, decision.ResetIn)
	assert.Greater(t, decision.ResetIn, time.Minute)
}

func TestLimiter_AllowWithoutCommitIsFree(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerMinute: 1, PerHour: 100})

	for range 5 {
		assert.True(t, l.Allow("op-1").Allowed)
	}
}

func TestLimiter_OperatorsAreIsolated(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerMinute: 1, PerHour: 100})

	require.True(t, l.Allow("op-1").Allowed)
	l.Commit("op-1")
	require.False(t, l.Allow("op-1").Allowed)

	assert.True(t, l.Allow("op-2").Allowed)
}

func TestLimiter_StatusReportsUsage(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerMinute: 5, PerHour: 50})

	l.Commit("op-1")
	l.Commit("op-1")

	status := l.Status("op-1")
	assert.Equal(t, 2, status.MinuteUsed)
	assert.Equal(t, 5, status.MinuteLimit)
	assert.Equal(t, 2, status.HourUsed)
	assert.Equal(t, 50, status.HourLimit)
	assert.Positive(t, status.ResetIn)
}

func TestLimiter_RemainingIsMinOfWindows(t *testing.T) {
	l, _ := newTestLimiter(t, Config{PerMinute: 10, PerHour: 3})

	l.Commit("op-1")
	decision := l.Allow("op-1")
	require.True(t, decision.Allowed)
	assert.Equal(t, 2, decision.Remaining)
}
