// ABOUTME: Ranked coordination recommendations derived from pair status
// ABOUTME: Gated on multiple concerning factors and throttled per type

package orchestrator

import (
	"math"
	"sort"
	"time"

	"github.com/2389/pairwatch/internal/fanout"
	"github.com/2389/pairwatch/internal/monitor"
	"github.com/2389/pairwatch/internal/store"
)

// recommendationTTL throttles re-emission of the same recommendation type.
const recommendationTTL = 5 * time.Minute

// Priority ranks recommendations.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Recommendation suggests a coordination command an operator should consider.
type Recommendation struct {
	Command    string   `json:"command"`
	Priority   Priority `json:"priority"`
	Confidence int      `json:"confidence"`
	Reason     string   `json:"reason"`
}

// GenerateRecommendations produces ranked suggestions for the pair.
// Nothing is emitted unless at least two concerning factors hold at once,
// and each recommendation type is suppressed for five minutes after it is
// emitted. Fresh emissions are also published to the fan-out stream.
func (o *Orchestrator) GenerateRecommendations(status *store.CollaborationStatus, conflictsLastHour int) []Recommendation {
	if status == nil {
		return nil
	}
	if countConcerningFactors(status) < 2 {
		return nil
	}

	candidates := buildRecommendations(status, conflictsLastHour)
	if len(candidates) == 0 {
		return nil
	}

	now := o.now()
	o.mu.Lock()
	emitted := candidates[:0]
	for _, rec := range candidates {
		if last, ok := o.lastEmitted[rec.Command]; ok && now.Sub(last) < recommendationTTL {
			continue
		}
		o.lastEmitted[rec.Command] = now
		emitted = append(emitted, rec)
	}
	o.mu.Unlock()

	sort.SliceStable(emitted, func(i, j int) bool {
		return priorityRank[emitted[i].Priority] < priorityRank[emitted[j].Priority]
	})

	if len(emitted) > 0 && o.fan != nil {
		top := emitted[0].Priority
		o.fan.Publish(fanout.Event{
			Type: fanout.TypeOrchestrationRecommendation,
			Data: map[string]any{
				"pair_id":         status.PairID,
				"recommendations": emitted,
			},
			Severity:       string(top),
			RequiresAction: top == PriorityHigh || top == PriorityCritical,
		})
	}
	return emitted
}

// countConcerningFactors evaluates the four gate predicates: low synchrony,
// elevated conflict, strong activity skew, and degraded integrity.
func countConcerningFactors(status *store.CollaborationStatus) int {
	n := 0
	if status.SynchronyScore < 60 {
		n++
	}
	if status.ConflictLevel == store.ConflictHigh || status.ConflictLevel == store.ConflictCritical {
		n++
	}
	if math.Abs(status.ActivityA-status.ActivityB) > 50 {
		n++
	}
	if status.IntegrityA < 90 || status.IntegrityB < 90 {
		n++
	}
	return n
}

func buildRecommendations(status *store.CollaborationStatus, conflictsLastHour int) []Recommendation {
	var out []Recommendation

	if status.SynchronyScore < 60 && status.Phase != store.PhaseConflict {
		priority := PriorityMedium
		if status.SynchronyScore < 30 {
			priority = PriorityHigh
		}
		out = append(out, Recommendation{
			Command:    monitor.CmdSyncRequest,
			Priority:   priority,
			Confidence: 85,
			Reason:     "synchrony score is low; a synchronization pass should rebalance the pair",
		})
	}

	if status.ConflictLevel == store.ConflictHigh || status.ConflictLevel == store.ConflictCritical {
		out = append(out, Recommendation{
			Command:    monitor.CmdConflictResolve,
			Priority:   PriorityCritical,
			Confidence: 95,
			Reason:     "conflict level is elevated and needs operator resolution",
		})
	}

	oneHot := (status.ActivityA > 80 && status.ActivityB < 20) ||
		(status.ActivityB > 80 && status.ActivityA < 20)
	if oneHot && status.Phase == store.PhaseIndependent {
		out = append(out, Recommendation{
			Command:    monitor.CmdHandoffInitiate,
			Priority:   PriorityMedium,
			Confidence: 70,
			Reason:     "one agent is carrying nearly all activity; a handoff may help",
		})
	}

	if conflictsLastHour > 3 && status.OrchestrationMode == store.ModeManual {
		out = append(out, Recommendation{
			Command:    monitor.CmdOrchestrationEnable,
			Priority:   PriorityHigh,
			Confidence: 80,
			Reason:     "repeated conflicts under manual coordination; auto-mediation could stabilize the pair",
		})
	}

	return out
}
