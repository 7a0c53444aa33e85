// ABOUTME: Tests for the command pipeline: rate limits, security checks, audit trail
// ABOUTME: Uses a real monitor core over in-memory SQLite

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pairwatch/internal/anomaly"
	"github.com/2389/pairwatch/internal/fanout"
	"github.com/2389/pairwatch/internal/metrics"
	"github.com/2389/pairwatch/internal/monitor"
	"github.com/2389/pairwatch/internal/ratelimit"
	"github.com/2389/pairwatch/internal/store"
)

type allowAll struct{}

func (allowAll) Authorize(context.Context, string, string) error { return nil }

type denyAll struct{}

func (denyAll) Authorize(context.Context, string, string) error {
	return errors.New("operator lacks elevated privilege")
}

type rig struct {
	orch    *Orchestrator
	monitor *monitor.Monitor
	store   *store.SQLiteStore
	fan     *fanout.Fanout
	pairID  string
}

func newRig(t *testing.T, privileges PrivilegeChecker, limits ratelimit.Config) *rig {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	agg := metrics.NewAggregator()
	fan := fanout.New(nil, agg.SetSubscriberCount)
	engine := anomaly.NewEngine(anomaly.DefaultThresholds(), nil)
	m := monitor.New(st, engine, fan, agg, nil, monitor.Options{})
	t.Cleanup(m.Close)

	limiter := ratelimit.New(limits)
	t.Cleanup(limiter.Close)

	status, err := m.Initialize(t.Context(), "agent-a", "agent-b")
	require.NoError(t, err)

	return &rig{
		orch:    New(m, limiter, st, privileges, agg, fan, nil),
		monitor: m,
		store:   st,
		fan:     fan,
		pairID:  status.PairID,
	}
}

func TestOrchestrator_SuccessfulCommand(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 10, PerHour: 100})

	resp, err := r.orch.ExecuteCollaborationCommand(t.Context(), monitor.Command{
		Type:   monitor.CmdSyncRequest,
		Target: r.pairID,
	}, "op-1", "198.51.100.7")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.EventID)

	// Rate budget was committed and the execution audited.
	assert.Equal(t, 1, r.orch.RateLimitStatus("op-1").MinuteUsed)

	entries, err := r.store.ListAudit(t.Context(), store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditCommandExecuted, entries[0].Action)
	assert.Equal(t, r.pairID, entries[0].TargetID)
}

func TestOrchestrator_CommandEventFinalizedAsSuccess(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 10, PerHour: 100})

	resp, err := r.orch.ExecuteCollaborationCommand(t.Context(), monitor.Command{
		Type:   monitor.CmdSyncRequest,
		Target: r.pairID,
	}, "op-1", "")
	require.NoError(t, err)

	// The monitor records the event pending; the orchestrator flips it to
	// success once the pipeline completes.
	events, err := r.store.ListRecentEvents(t.Context(), r.pairID, 10, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, resp.EventID, events[0].ID)
	assert.Equal(t, store.OutcomeSuccess, events[0].Outcome)
}

func TestOrchestrator_RateLimitRejection(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 2, PerHour: 100})
	ctx := t.Context()

	for range 2 {
		_, err := r.orch.ExecuteCollaborationCommand(ctx, monitor.Command{
			Type: monitor.CmdSyncRequest, Target: r.pairID,
		}, "op-1", "")
		require.NoError(t, err)
	}

	_, err := r.orch.ExecuteCollaborationCommand(ctx, monitor.Command{
		Type: monitor.CmdSyncRequest, Target: r.pairID,
	}, "op-1", "")

	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.False(t, rateErr.Decision.Allowed)
	assert.Positive(t, rateErr.Decision.ResetIn)

	// Rejected command recorded no collaboration event.
	events, err := r.store.ListRecentEvents(ctx, r.pairID, 10, 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestOrchestrator_AuthorizationRejectionIsGeneric(t *testing.T) {
	r := newRig(t, denyAll{}, ratelimit.Config{PerMinute: 10, PerHour: 100})

	_, err := r.orch.ExecuteCollaborationCommand(t.Context(), monitor.Command{
		Type: monitor.CmdSyncRequest, Target: r.pairID,
	}, "op-1", "")

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.NotContains(t, authErr.Error(), "privilege")
}

func TestOrchestrator_ResetRequiresConfirmation(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 10, PerHour: 100})

	_, err := r.orch.ExecuteCollaborationCommand(t.Context(), monitor.Command{
		Type: monitor.CmdResetMetrics, Target: r.pairID,
	}, "op-1", "")

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Contains(t, validation.Reason, "confirm")
}

func TestOrchestrator_ResetBurstIsSuspicious(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 100, PerHour: 1000})
	ctx := t.Context()

	cmd := monitor.Command{
		Type:       monitor.CmdResetMetrics,
		Target:     r.pairID,
		Parameters: map[string]any{"confirm": true},
	}

	for range 4 {
		_, err := r.orch.ExecuteCollaborationCommand(ctx, cmd, "op-1", "")
		require.NoError(t, err)
	}

	_, err := r.orch.ExecuteCollaborationCommand(ctx, cmd, "op-1", "")
	var authErr *AuthorizationError
	assert.ErrorAs(t, err, &authErr)
}

func TestOrchestrator_ResetStreakClearsOnOtherCommand(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 100, PerHour: 1000})
	ctx := t.Context()

	reset := monitor.Command{
		Type:       monitor.CmdResetMetrics,
		Target:     r.pairID,
		Parameters: map[string]any{"confirm": true},
	}

	for range 4 {
		_, err := r.orch.ExecuteCollaborationCommand(ctx, reset, "op-1", "")
		require.NoError(t, err)
	}

	_, err := r.orch.ExecuteCollaborationCommand(ctx, monitor.Command{
		Type: monitor.CmdSyncRequest, Target: r.pairID,
	}, "op-1", "")
	require.NoError(t, err)

	// Streak restarted; the next reset is fine again.
	_, err = r.orch.ExecuteCollaborationCommand(ctx, reset, "op-1", "")
	assert.NoError(t, err)
}

func TestOrchestrator_UnknownCommandIsValidationError(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 10, PerHour: 100})

	_, err := r.orch.ExecuteCollaborationCommand(t.Context(), monitor.Command{
		Type: "warp_speed", Target: r.pairID,
	}, "op-1", "")

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)

	events, listErr := r.store.ListRecentEvents(t.Context(), r.pairID, 10, 1)
	require.NoError(t, listErr)
	assert.Empty(t, events)
}

func TestOrchestrator_MissingInputs(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 10, PerHour: 100})

	var validation *ValidationError
	_, err := r.orch.ExecuteCollaborationCommand(t.Context(), monitor.Command{Target: r.pairID}, "op-1", "")
	assert.ErrorAs(t, err, &validation)

	_, err = r.orch.ExecuteCollaborationCommand(t.Context(), monitor.Command{Type: monitor.CmdSyncRequest}, "op-1", "")
	assert.ErrorAs(t, err, &validation)

	_, err = r.orch.ExecuteCollaborationCommand(t.Context(), monitor.Command{
		Type: monitor.CmdSyncRequest, Target: r.pairID,
	}, "", "")
	assert.ErrorAs(t, err, &validation)
}

func TestOrchestrator_ResolveAnomaly(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 10, PerHour: 100})
	ctx := t.Context()

	record := &store.AnomalyRecord{
		ID:               "anomaly-1",
		PairID:           r.pairID,
		Type:             "latency_spike",
		Severity:         store.SeverityHigh,
		Description:      "latency above threshold",
		ResolutionStatus: store.ResolutionPending,
		DetectedAt:       time.Now().UTC(),
	}
	require.NoError(t, r.store.AppendAnomaly(ctx, record))

	require.NoError(t, r.orch.ResolveAnomaly(ctx, "anomaly-1", store.ResolutionResolved, "op-1"))

	resolved := store.ResolutionResolved
	records, err := r.store.ListAnomalies(ctx, store.AnomalyFilter{PairID: r.pairID, ResolutionStatus: &resolved})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].ResolvedAt)

	entries, err := r.store.ListAudit(ctx, store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.AuditAnomalyResolved, entries[0].Action)
}

func TestOrchestrator_ResolveAnomalyRejectsBadStatus(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 10, PerHour: 100})

	var validation *ValidationError
	err := r.orch.ResolveAnomaly(t.Context(), "anomaly-1", store.ResolutionStatus("shredded"), "op-1")
	assert.ErrorAs(t, err, &validation)
}

func TestOrchestrator_BuildStatusFrame(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 10, PerHour: 100})
	ctx := t.Context()

	_, err := r.orch.ExecuteCollaborationCommand(ctx, monitor.Command{
		Type: monitor.CmdSyncRequest, Target: r.pairID,
	}, "op-1", "")
	require.NoError(t, err)

	frame, err := r.orch.BuildStatusFrame(ctx, r.pairID)
	require.NoError(t, err)

	require.NotNil(t, frame.Status)
	assert.Equal(t, store.PhaseSynchronized, frame.Status.Phase)
	assert.Len(t, frame.RecentEvents, 1)
	assert.Empty(t, frame.Degraded)
	assert.NotNil(t, frame.Anomalies)
	assert.NotNil(t, frame.Recommendations)
}

func TestOrchestrator_BuildStatusFrameUnknownPair(t *testing.T) {
	r := newRig(t, allowAll{}, ratelimit.Config{PerMinute: 10, PerHour: 100})

	_, err := r.orch.BuildStatusFrame(t.Context(), "ghost")
	assert.ErrorIs(t, err, monitor.ErrPairNotFound)
}
