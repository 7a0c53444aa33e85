// ABOUTME: Activity report ingestion and synchrony correlation
// ABOUTME: Updates one agent's metrics, then recalculates synchrony and runs detection

package monitor

import (
	"context"
	"math"
	"time"

	"github.com/2389/pairwatch/internal/fanout"
	"github.com/2389/pairwatch/internal/store"
)

// latencySmoothingWeight puts 70% of each update on the newest sample, so
// recent behavior dominates the running latency estimate.
const latencySmoothingWeight = 0.7

// Report carries one agent's self-reported activity. All fields are
// optional; absent fields leave the corresponding status values untouched.
type Report struct {
	MessageCount *int     `json:"message_count,omitempty"`
	LatencyMS    *int     `json:"latency_ms,omitempty"`
	Integrity    *float64 `json:"integrity,omitempty"`
	SessionRef   *string  `json:"session_ref,omitempty"`
	Error        bool     `json:"error,omitempty"`
}

// CorrelationResult is what Correlate computes for a time window.
type CorrelationResult struct {
	CountA         int     `json:"count_a"`
	CountB         int     `json:"count_b"`
	Conflicts      int     `json:"conflicts"`
	SynchronyScore float64 `json:"synchrony_score"`
}

// RecordActivity ingests one agent's report. After the status mutation,
// synchrony recalculation and anomaly evaluation run in the same mailbox
// turn; the persistence write is best-effort.
func (m *Monitor) RecordActivity(ctx context.Context, pairID, agentID string, report Report) (*store.CollaborationStatus, error) {
	var snapshot *store.CollaborationStatus
	err := m.withPair(ctx, pairID, func(p *pairState) error {
		s, ok := p.sideFor(agentID)
		if !ok {
			return ErrUnknownAgent
		}

		now := m.now().UTC()
		p.trimBefore(now.Add(-sampleRetention))
		m.applyReportLocked(p, s, report, now)

		m.correlateLocked(p, defaultCorrelationWindowMinutes, now)
		m.evaluateAnomaliesLocked(p, now)

		if err := m.store.SaveStatus(ctx, p.status); err != nil {
			m.logger.Warn("failed to persist status after activity report",
				"pair_id", pairID, "agent", agentID, "error", err)
		}

		snapshot = p.status.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (m *Monitor) applyReportLocked(p *pairState, s side, report Report, now time.Time) {
	status := p.status

	if report.MessageCount != nil {
		count := *report.MessageCount
		if count < 0 {
			count = 0
		}
		activity := clampScore(float64(count) * 10)
		if s == sideA {
			status.ActivityA = activity
		} else {
			status.ActivityB = activity
		}
		p.samples = append(p.samples, activitySample{side: s, count: count, at: now})
		m.aggregator.RecordMessage()
	}

	if report.LatencyMS != nil {
		sample := *report.LatencyMS
		if sample < 0 {
			sample = 0
		}
		if s == sideA {
			status.LatencyA = smoothLatency(status.LatencyA, sample)
		} else {
			status.LatencyB = smoothLatency(status.LatencyB, sample)
		}
		m.aggregator.RecordLatency(sample)
	}

	if report.Integrity != nil {
		// Replaced, not smoothed: one bad response must surface immediately.
		integrity := clampScore(*report.Integrity)
		if s == sideA {
			status.IntegrityA = integrity
		} else {
			status.IntegrityB = integrity
		}
		if integrity < m.engine.Thresholds().IntegrityMin {
			p.integrityFailures = append(p.integrityFailures, now)
		}
	}

	if report.SessionRef != nil {
		ref := *report.SessionRef
		if s == sideA {
			status.SessionRefA = &ref
		} else {
			status.SessionRefB = &ref
		}
	}

	if report.Error {
		m.aggregator.RecordError()
	}

	status.LastCollaborationAt = &now
	status.UpdatedAt = now
}

// smoothLatency applies exponential smoothing with the new sample weighted
// at latencySmoothingWeight. A zero previous value adopts the sample
// directly so the first report isn't dragged toward zero.
func smoothLatency(previous, sample int) int {
	if previous == 0 {
		return sample
	}
	return int(math.Round(float64(sample)*latencySmoothingWeight + float64(previous)*(1-latencySmoothingWeight)))
}

func clampScore(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

// Correlate recomputes synchrony over the given window and persists the
// score onto the live status.
func (m *Monitor) Correlate(ctx context.Context, pairID string, windowMinutes int) (CorrelationResult, error) {
	if windowMinutes <= 0 {
		windowMinutes = defaultCorrelationWindowMinutes
	}

	var result CorrelationResult
	err := m.withPair(ctx, pairID, func(p *pairState) error {
		now := m.now().UTC()
		result = m.correlateLocked(p, windowMinutes, now)
		if err := m.store.SaveStatus(ctx, p.status); err != nil {
			m.logger.Warn("failed to persist status after correlation",
				"pair_id", pairID, "error", err)
		}
		return nil
	})
	return result, err
}

// correlateLocked computes the synchrony score and publishes the update.
// Runs inside the pair's mailbox.
func (m *Monitor) correlateLocked(p *pairState, windowMinutes int, now time.Time) CorrelationResult {
	cutoff := now.Add(-time.Duration(windowMinutes) * time.Minute)
	countA, countB := p.countsSince(cutoff)
	conflicts := countSince(p.conflicts, cutoff)

	score := synchronyScore(countA, countB, conflicts)
	p.status.SynchronyScore = score
	p.status.UpdatedAt = now

	m.fan.Publish(fanout.Event{
		Type: fanout.TypeSynchronyUpdate,
		Data: map[string]any{
			"pair_id":         p.status.PairID,
			"synchrony_score": score,
			"count_a":         countA,
			"count_b":         countB,
			"conflicts":       conflicts,
		},
		Timestamp: now,
	})

	return CorrelationResult{
		CountA:         countA,
		CountB:         countB,
		Conflicts:      conflicts,
		SynchronyScore: score,
	}
}

// synchronyScore is round(balance * conflictPenalty * 100), where balance
// measures how evenly message volume splits between the agents and each
// conflict in the window costs 20% of the score.
func synchronyScore(countA, countB, conflicts int) float64 {
	total := countA + countB
	if total == 0 {
		return 0
	}
	balance := 1 - math.Abs(float64(countA)-float64(countB))/float64(total)
	penalty := math.Max(0, 1-float64(conflicts)*0.2)
	return clampScore(math.Round(balance * penalty * 100))
}
