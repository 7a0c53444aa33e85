// ABOUTME: Threshold-based anomaly detection over collaboration status
// ABOUTME: Four independent rules with per-type cooldown deduplication

package anomaly

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/pairwatch/internal/store"
)

// Anomaly types produced by the engine.
const (
	TypeIntegrityDivergence = "integrity_divergence"
	TypeLatencySpike        = "latency_spike"
	TypeSynchronyBreakdown  = "synchrony_breakdown"
	TypeConflictEscalation  = "conflict_escalation"
)

// Result is the outcome of one evaluation pass.
type Result struct {
	Anomalies []*store.AnomalyRecord

	// EscalateConflict is set when a conflict anomaly fired at high or
	// critical severity; the caller raises the pair's conflict level.
	EscalateConflict bool
}

// Engine evaluates detection rules against a pair's current status.
// Detection is advisory: Evaluate never returns an error.
type Engine struct {
	logger *slog.Logger

	mu         sync.Mutex
	thresholds Thresholds
	lastFired  map[string]time.Time // pairID|type -> last firing time
}

// NewEngine creates an anomaly engine with the given thresholds.
func NewEngine(thresholds Thresholds, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:     logger.With("component", "anomaly"),
		thresholds: thresholds,
		lastFired:  make(map[string]time.Time),
	}
}

// SetThresholds swaps the detection limits. Safe to call while evaluations
// are in flight; the next Evaluate sees the new values.
func (e *Engine) SetThresholds(t Thresholds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.thresholds = t
	e.logger.Info("detection thresholds updated",
		"integrity_min", t.IntegrityMin,
		"latency_max_ms", t.LatencyMaxMS,
		"synchrony_min", t.SynchronyMin,
		"conflict_escalation", t.ConflictEscalation,
		"cooldown", t.Cooldown,
	)
}

// Thresholds returns the current detection limits.
func (e *Engine) Thresholds() Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thresholds
}

// Evaluate runs all detection rules against the status and the pair's
// conflict count for the trailing hour. Each rule fires at most once per
// cooldown window per pair.
func (e *Engine) Evaluate(status *store.CollaborationStatus, conflictsLastHour int, now time.Time) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.thresholds
	var result Result

	if record := e.checkIntegrity(status, t, now); record != nil {
		result.Anomalies = append(result.Anomalies, record)
	}
	if record := e.checkLatency(status, t, now); record != nil {
		result.Anomalies = append(result.Anomalies, record)
	}
	if record := e.checkSynchrony(status, t, now); record != nil {
		result.Anomalies = append(result.Anomalies, record)
	}
	if record := e.checkConflicts(status, conflictsLastHour, t, now); record != nil {
		result.Anomalies = append(result.Anomalies, record)
		if record.Severity == store.SeverityHigh || record.Severity == store.SeverityCritical {
			result.EscalateConflict = true
		}
	}

	for _, record := range result.Anomalies {
		e.logger.Warn("anomaly detected",
			"pair_id", record.PairID,
			"type", record.Type,
			"severity", record.Severity,
			"description", record.Description,
		)
	}
	return result
}

// shouldFire checks and records the per-type cooldown. Caller holds e.mu.
func (e *Engine) shouldFire(pairID, anomalyType string, cooldown time.Duration, now time.Time) bool {
	key := pairID + "|" + anomalyType
	if last, ok := e.lastFired[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	e.lastFired[key] = now
	return true
}

func (e *Engine) checkIntegrity(status *store.CollaborationStatus, t Thresholds, now time.Time) *store.AnomalyRecord {
	gap := math.Abs(status.IntegrityA - status.IntegrityB)
	lowest := math.Min(status.IntegrityA, status.IntegrityB)
	if gap <= t.IntegrityGap && lowest >= t.IntegrityMin {
		return nil
	}
	if !e.shouldFire(status.PairID, TypeIntegrityDivergence, t.Cooldown, now) {
		return nil
	}

	severity := store.SeverityMedium
	switch {
	case gap > 20:
		severity = store.SeverityCritical
	case gap > t.IntegrityGap:
		severity = store.SeverityHigh
	}

	return newRecord(status.PairID, TypeIntegrityDivergence, severity,
		"agent integrity scores diverged or dropped below minimum",
		map[string]float64{
			"integrity_a":   status.IntegrityA,
			"integrity_b":   status.IntegrityB,
			"integrity_gap": gap,
			"integrity_min": t.IntegrityMin,
		}, now)
}

func (e *Engine) checkLatency(status *store.CollaborationStatus, t Thresholds, now time.Time) *store.AnomalyRecord {
	worst := status.LatencyA
	if status.LatencyB > worst {
		worst = status.LatencyB
	}
	if worst <= t.LatencyMaxMS {
		return nil
	}
	if !e.shouldFire(status.PairID, TypeLatencySpike, t.Cooldown, now) {
		return nil
	}

	severity := store.SeverityMedium
	switch {
	case worst > 10000:
		severity = store.SeverityCritical
	case worst > 5000:
		severity = store.SeverityHigh
	}

	return newRecord(status.PairID, TypeLatencySpike, severity,
		"agent response latency exceeded the configured maximum",
		map[string]float64{
			"latency_a":      float64(status.LatencyA),
			"latency_b":      float64(status.LatencyB),
			"latency_max_ms": float64(t.LatencyMaxMS),
		}, now)
}

func (e *Engine) checkSynchrony(status *store.CollaborationStatus, t Thresholds, now time.Time) *store.AnomalyRecord {
	if status.SynchronyScore >= t.SynchronyMin {
		return nil
	}
	if !e.shouldFire(status.PairID, TypeSynchronyBreakdown, t.Cooldown, now) {
		return nil
	}

	severity := store.SeverityMedium
	switch {
	case status.SynchronyScore < 30:
		severity = store.SeverityCritical
	case status.SynchronyScore < 50:
		severity = store.SeverityHigh
	}

	return newRecord(status.PairID, TypeSynchronyBreakdown, severity,
		"pair synchrony fell below the configured minimum",
		map[string]float64{
			"synchrony_score": status.SynchronyScore,
			"synchrony_min":   t.SynchronyMin,
		}, now)
}

func (e *Engine) checkConflicts(status *store.CollaborationStatus, conflictsLastHour int, t Thresholds, now time.Time) *store.AnomalyRecord {
	if conflictsLastHour < t.ConflictEscalation {
		return nil
	}
	if !e.shouldFire(status.PairID, TypeConflictEscalation, t.Cooldown, now) {
		return nil
	}

	severity := store.SeverityMedium
	switch {
	case conflictsLastHour > 5:
		severity = store.SeverityCritical
	case conflictsLastHour > t.ConflictEscalation:
		severity = store.SeverityHigh
	}

	return newRecord(status.PairID, TypeConflictEscalation, severity,
		"repeated conflicts within the trailing hour",
		map[string]float64{
			"conflicts_last_hour":  float64(conflictsLastHour),
			"escalation_threshold": float64(t.ConflictEscalation),
		}, now)
}

func newRecord(pairID, anomalyType string, severity store.Severity, description string, metrics map[string]float64, now time.Time) *store.AnomalyRecord {
	return &store.AnomalyRecord{
		ID:               uuid.New().String(),
		PairID:           pairID,
		Type:             anomalyType,
		Severity:         severity,
		Description:      description,
		DetectionMetrics: metrics,
		ResolutionStatus: store.ResolutionPending,
		DetectedAt:       now,
	}
}
