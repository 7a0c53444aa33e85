// ABOUTME: Tests for the SQLite storage implementation
// ABOUTME: Covers status upsert, event ledger, anomaly lifecycle, metrics windows, audit log

package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testStatus(pairID string) *CollaborationStatus {
	return &CollaborationStatus{
		PairID:            pairID,
		AgentA:            "agent-a",
		AgentB:            "agent-b",
		ActivityA:         25,
		ActivityB:         50,
		IntegrityA:        100,
		IntegrityB:        95,
		LatencyA:          120,
		LatencyB:          340,
		SynchronyScore:    80,
		Phase:             PhaseIndependent,
		ConflictLevel:     ConflictNone,
		OrchestrationMode: ModeManual,
		UpdatedAt:         time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLiteStore_StatusRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	status := testStatus("agent-a--agent-b")
	ref := "session-1"
	status.SessionRefA = &ref

	require.NoError(t, s.SaveStatus(ctx, status))

	loaded, err := s.LoadStatus(ctx, "agent-a--agent-b")
	require.NoError(t, err)
	assert.Equal(t, status.PairID, loaded.PairID)
	assert.Equal(t, status.ActivityB, loaded.ActivityB)
	assert.Equal(t, PhaseIndependent, loaded.Phase)
	require.NotNil(t, loaded.SessionRefA)
	assert.Equal(t, "session-1", *loaded.SessionRefA)
	assert.Nil(t, loaded.SessionRefB)
}

func TestSQLiteStore_LoadStatusNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadStatus(t.Context(), "no-such-pair")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SaveStatusUpsertsSingleRow(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	status := testStatus("pair-1")
	require.NoError(t, s.SaveStatus(ctx, status))

	status.Phase = PhaseConflict
	status.SynchronyScore = 12
	require.NoError(t, s.SaveStatus(ctx, status))

	loaded, err := s.LoadStatus(ctx, "pair-1")
	require.NoError(t, err)
	assert.Equal(t, PhaseConflict, loaded.Phase)
	assert.Equal(t, 12.0, loaded.SynchronyScore)

	var count int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM collaboration_status WHERE pair_id = ?`, "pair-1",
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_EventRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	operator := "op-1"
	event := &CollaborationEvent{
		ID:         uuid.New().String(),
		PairID:     "pair-1",
		Type:       "sync_start",
		Initiator:  "operator",
		Outcome:    OutcomePending,
		Timestamp:  time.Now().UTC().Truncate(time.Second),
		Details:    map[string]any{"reason": "drift"},
		OperatorID: &operator,
	}
	require.NoError(t, s.AppendEvent(ctx, event))

	events, err := s.ListRecentEvents(ctx, "pair-1", 10, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "sync_start", events[0].Type)
	assert.Equal(t, "drift", events[0].Details["reason"])
	require.NotNil(t, events[0].OperatorID)
	assert.Equal(t, "op-1", *events[0].OperatorID)
}

func TestSQLiteStore_UpdateEventOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	event := &CollaborationEvent{
		ID:        uuid.New().String(),
		PairID:    "pair-1",
		Type:      "handoff_request",
		Initiator: "system",
		Outcome:   OutcomePending,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, s.AppendEvent(ctx, event))
	require.NoError(t, s.UpdateEventOutcome(ctx, event.ID, OutcomeSuccess))

	events, err := s.ListRecentEvents(ctx, "pair-1", 10, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeSuccess, events[0].Outcome)
}

func TestSQLiteStore_UpdateEventOutcomeNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateEventOutcome(t.Context(), "missing", OutcomeSuccess)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_ListRecentEventsHonorsWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	old := &CollaborationEvent{
		ID:        uuid.New().String(),
		PairID:    "pair-1",
		Type:      "sync_start",
		Initiator: "system",
		Outcome:   OutcomeSuccess,
		Timestamp: time.Now().Add(-48 * time.Hour),
	}
	recent := &CollaborationEvent{
		ID:        uuid.New().String(),
		PairID:    "pair-1",
		Type:      "sync_end",
		Initiator: "system",
		Outcome:   OutcomeSuccess,
		Timestamp: time.Now(),
	}
	require.NoError(t, s.AppendEvent(ctx, old))
	require.NoError(t, s.AppendEvent(ctx, recent))

	events, err := s.ListRecentEvents(ctx, "pair-1", 10, 24)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "sync_end", events[0].Type)
}

func TestSQLiteStore_CountEventsByTypePrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for _, typ := range []string{"conflict_detected", "conflict_resolved", "sync_start"} {
		require.NoError(t, s.AppendEvent(ctx, &CollaborationEvent{
			ID:        uuid.New().String(),
			PairID:    "pair-1",
			Type:      typ,
			Initiator: "system",
			Outcome:   OutcomeSuccess,
			Timestamp: time.Now(),
		}))
	}

	count, err := s.CountEventsByTypePrefix(ctx, "pair-1", "conflict", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSQLiteStore_AnomalyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	record := &AnomalyRecord{
		ID:               uuid.New().String(),
		PairID:           "pair-1",
		Type:             "synchrony_breakdown",
		Severity:         SeverityCritical,
		Description:      "synchrony 0 below threshold 70",
		DetectionMetrics: map[string]float64{"synchrony_score": 0},
		ResolutionStatus: ResolutionPending,
		Notified:         true,
		DetectedAt:       time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.AppendAnomaly(ctx, record))

	now := time.Now().UTC()
	require.NoError(t, s.UpdateAnomalyResolution(ctx, record.ID, ResolutionResolved, &now))

	resolved := ResolutionResolved
	records, err := s.ListAnomalies(ctx, AnomalyFilter{PairID: "pair-1", ResolutionStatus: &resolved})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, SeverityCritical, records[0].Severity)
	assert.Equal(t, 0.0, records[0].DetectionMetrics["synchrony_score"])
	require.NotNil(t, records[0].ResolvedAt)
}

func TestSQLiteStore_ListAnomaliesFiltersStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for i, status := range []ResolutionStatus{ResolutionPending, ResolutionResolved} {
		require.NoError(t, s.AppendAnomaly(ctx, &AnomalyRecord{
			ID:               uuid.New().String(),
			PairID:           "pair-1",
			Type:             "latency_spike",
			Severity:         SeverityHigh,
			Description:      "latency above threshold",
			ResolutionStatus: status,
			DetectedAt:       time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	pending := ResolutionPending
	records, err := s.ListAnomalies(ctx, AnomalyFilter{PairID: "pair-1", ResolutionStatus: &pending})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ResolutionPending, records[0].ResolutionStatus)
}

func TestSQLiteStore_MetricsWindowRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	w := &MetricsWindow{
		PairID:        "pair-1",
		WindowType:    WindowMinute,
		WindowStart:   time.Now().UTC().Truncate(time.Minute),
		MessagesTotal: 12,
		MessagesA:     8,
		MessagesB:     4,
		EventCount:    3,
		ConflictCount: 1,
		AvgSynchrony:  66.7,
		AvgLatencyA:   120,
		AvgLatencyB:   300,
	}
	require.NoError(t, s.AppendMetricsWindow(ctx, w))

	// Refreshing the same bucket replaces the row.
	w.MessagesTotal = 20
	require.NoError(t, s.AppendMetricsWindow(ctx, w))

	latest, err := s.GetLatestMetricsWindow(ctx, "pair-1", WindowMinute)
	require.NoError(t, err)
	assert.Equal(t, 20, latest.MessagesTotal)
	assert.Equal(t, 66.7, latest.AvgSynchrony)
}

func TestSQLiteStore_GetLatestMetricsWindowNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetLatestMetricsWindow(t.Context(), "pair-1", WindowHour)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_AuditRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	entry := &AuditEntry{
		ActorID:    "op-1",
		Action:     AuditCommandExecuted,
		TargetType: "pair",
		TargetID:   "pair-1",
		Detail:     map[string]any{"command": "sync_request"},
	}
	require.NoError(t, s.AppendAudit(ctx, entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	actor := "op-1"
	entries, err := s.ListAudit(ctx, AuditFilter{ActorID: &actor})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, AuditCommandExecuted, entries[0].Action)
	assert.Equal(t, "sync_request", entries[0].Detail["command"])
}
