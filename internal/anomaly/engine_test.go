// ABOUTME: Tests for threshold rules, severity classification, and cooldown dedupe
// ABOUTME: Also covers TOML loading and live reload of thresholds

package anomaly

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/pairwatch/internal/store"
)

func healthyStatus() *store.CollaborationStatus {
	return &store.CollaborationStatus{
		PairID:            "pair-1",
		AgentA:            "a",
		AgentB:            "b",
		IntegrityA:        100,
		IntegrityB:        100,
		LatencyA:          100,
		LatencyB:          100,
		SynchronyScore:    90,
		Phase:             store.PhaseIndependent,
		ConflictLevel:     store.ConflictNone,
		OrchestrationMode: store.ModeManual,
	}
}

func TestEngine_HealthyStatusFiresNothing(t *testing.T) {
	engine := NewEngine(DefaultThresholds(), nil)

	result := engine.Evaluate(healthyStatus(), 0, time.Now())
	assert.Empty(t, result.Anomalies)
	assert.False(t, result.EscalateConflict)
}

func TestEngine_IntegrityDivergenceSeverity(t *testing.T) {
	tests := []struct {
		name       string
		integrityA float64
		integrityB float64
		severity   store.Severity
	}{
		{"gap over 20 is critical", 100, 75, store.SeverityCritical},
		{"gap over 10 is high", 100, 85, store.SeverityHigh},
		{"below minimum with small gap is medium", 84, 84, store.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(DefaultThresholds(), nil)
			status := healthyStatus()
			status.IntegrityA = tt.integrityA
			status.IntegrityB = tt.integrityB

			result := engine.Evaluate(status, 0, time.Now())
			require.Len(t, result.Anomalies, 1)
			assert.Equal(t, TypeIntegrityDivergence, result.Anomalies[0].Type)
			assert.Equal(t, tt.severity, result.Anomalies[0].Severity)
		})
	}
}

func TestEngine_LatencySpikeSeverity(t *testing.T) {
	tests := []struct {
		name     string
		latency  int
		severity store.Severity
	}{
		{"over 10s is critical", 12000, store.SeverityCritical},
		{"over 5s is high", 6000, store.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(DefaultThresholds(), nil)
			status := healthyStatus()
			status.LatencyB = tt.latency

			result := engine.Evaluate(status, 0, time.Now())
			require.Len(t, result.Anomalies, 1)
			assert.Equal(t, TypeLatencySpike, result.Anomalies[0].Type)
			assert.Equal(t, tt.severity, result.Anomalies[0].Severity)
		})
	}
}

func TestEngine_SynchronyBreakdownSeverity(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		severity store.Severity
	}{
		{"below 30 is critical", 0, store.SeverityCritical},
		{"below 50 is high", 45, store.SeverityHigh},
		{"below minimum is medium", 65, store.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(DefaultThresholds(), nil)
			status := healthyStatus()
			status.SynchronyScore = tt.score

			result := engine.Evaluate(status, 0, time.Now())
			require.Len(t, result.Anomalies, 1)
			assert.Equal(t, TypeSynchronyBreakdown, result.Anomalies[0].Type)
			assert.Equal(t, tt.severity, result.Anomalies[0].Severity)
		})
	}
}

func TestEngine_ConflictEscalation(t *testing.T) {
	engine := NewEngine(DefaultThresholds(), nil)

	result := engine.Evaluate(healthyStatus(), 6, time.Now())
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, TypeConflictEscalation, result.Anomalies[0].Type)
	assert.Equal(t, store.SeverityCritical, result.Anomalies[0].Severity)
	assert.True(t, result.EscalateConflict)
}

func TestEngine_ConflictBelowThresholdDoesNotFire(t *testing.T) {
	engine := NewEngine(DefaultThresholds(), nil)

	result := engine.Evaluate(healthyStatus(), 2, time.Now())
	assert.Empty(t, result.Anomalies)
	assert.False(t, result.EscalateConflict)
}

func TestEngine_MediumConflictDoesNotEscalate(t *testing.T) {
	engine := NewEngine(DefaultThresholds(), nil)

	// Exactly at threshold fires at medium, which does not escalate.
	result := engine.Evaluate(healthyStatus(), 3, time.Now())
	require.Len(t, result.Anomalies, 1)
	assert.Equal(t, store.SeverityMedium, result.Anomalies[0].Severity)
	assert.False(t, result.EscalateConflict)
}

func TestEngine_CooldownDeduplicates(t *testing.T) {
	engine := NewEngine(DefaultThresholds(), nil)
	status := healthyStatus()
	status.SynchronyScore = 0

	base := time.Now()
	first := engine.Evaluate(status, 0, base)
	require.Len(t, first.Anomalies, 1)

	// Within the cooldown window the same rule stays silent.
	second := engine.Evaluate(status, 0, base.Add(5*time.Minute))
	assert.Empty(t, second.Anomalies)

	// After the cooldown expires it fires again.
	third := engine.Evaluate(status, 0, base.Add(11*time.Minute))
	require.Len(t, third.Anomalies, 1)
	assert.Equal(t, TypeSynchronyBreakdown, third.Anomalies[0].Type)
}

func TestEngine_CooldownIsPerType(t *testing.T) {
	engine := NewEngine(DefaultThresholds(), nil)
	status := healthyStatus()
	status.SynchronyScore = 0

	base := time.Now()
	first := engine.Evaluate(status, 0, base)
	require.Len(t, first.Anomalies, 1)

	// A different rule firing is not suppressed by the synchrony cooldown.
	status.LatencyA = 12000
	second := engine.Evaluate(status, 0, base.Add(time.Minute))
	require.Len(t, second.Anomalies, 1)
	assert.Equal(t, TypeLatencySpike, second.Anomalies[0].Type)
}

func TestEngine_CooldownIsPerPair(t *testing.T) {
	engine := NewEngine(DefaultThresholds(), nil)
	status := healthyStatus()
	status.SynchronyScore = 0

	base := time.Now()
	require.Len(t, engine.Evaluate(status, 0, base).Anomalies, 1)

	other := healthyStatus()
	other.PairID = "pair-2"
	other.SynchronyScore = 0
	assert.Len(t, engine.Evaluate(other, 0, base.Add(time.Second)).Anomalies, 1)
}

func TestLoadThresholds_MissingFileUsesDefaults(t *testing.T) {
	thresholds, err := LoadThresholds(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholds(), thresholds)
}

func TestLoadThresholds_PartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.toml")
	require.NoError(t, os.WriteFile(path, []byte("synchrony_min = 50.0\ncooldown = \"2m\"\n"), 0o644))

	thresholds, err := LoadThresholds(path)
	require.NoError(t, err)
	assert.Equal(t, 50.0, thresholds.SynchronyMin)
	assert.Equal(t, 2*time.Minute, thresholds.Cooldown)
	assert.Equal(t, 85.0, thresholds.IntegrityMin)
	assert.Equal(t, 5000, thresholds.LatencyMaxMS)
}

func TestLoadThresholds_RejectsBadCooldown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.toml")
	require.NoError(t, os.WriteFile(path, []byte("cooldown = \"soon\"\n"), 0o644))

	_, err := LoadThresholds(path)
	assert.Error(t, err)
}

func TestWatchThresholds_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.toml")
	require.NoError(t, os.WriteFile(path, []byte("synchrony_min = 70.0\n"), 0o644))

	engine := NewEngine(DefaultThresholds(), nil)
	watcher, err := WatchThresholds(path, engine, nil)
	require.NoError(t, err)
	defer func() { _ = watcher.Close() }()

	require.NoError(t, os.WriteFile(path, []byte("synchrony_min = 40.0\n"), 0o644))

	assert.Eventually(t, func() bool {
		return engine.Thresholds().SynchronyMin == 40.0
	}, 3*time.Second, 20*time.Millisecond)
}
