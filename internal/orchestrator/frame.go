// ABOUTME: Unified status frame assembly for the monitor endpoint
// ABOUTME: Secondary source failures degrade the frame instead of failing the call

package orchestrator

import (
	"context"
	"errors"

	"github.com/2389/pairwatch/internal/metrics"
	"github.com/2389/pairwatch/internal/store"
)

// frameEventLimit bounds the recent-event and anomaly lists in a frame.
const frameEventLimit = 20

// StatusFrame is the single response object for GET /api/monitor.
type StatusFrame struct {
	Status          *store.CollaborationStatus  `json:"status"`
	RecentEvents    []*store.CollaborationEvent `json:"recentEvents"`
	Anomalies       []*store.AnomalyRecord      `json:"anomalies"`
	MetricsWindow   *store.MetricsWindow        `json:"metricsWindow,omitempty"`
	MetricsSnapshot metrics.Snapshot            `json:"metricsSnapshot"`
	Recommendations []Recommendation            `json:"recommendations"`

	// Degraded lists the secondary sources that failed while assembling
	// this frame. Empty for a complete frame.
	Degraded []string `json:"degraded,omitempty"`
}

// BuildStatusFrame assembles the unified view of one pair. The live status
// is mandatory; every other source degrades gracefully.
func (o *Orchestrator) BuildStatusFrame(ctx context.Context, pairID string) (*StatusFrame, error) {
	status, err := o.monitor.Status(ctx, pairID)
	if err != nil {
		return nil, err
	}

	frame := &StatusFrame{
		Status:          status,
		RecentEvents:    []*store.CollaborationEvent{},
		Anomalies:       []*store.AnomalyRecord{},
		MetricsSnapshot: o.aggregator.Snapshot(),
		Recommendations: []Recommendation{},
	}

	events, err := o.store.ListRecentEvents(ctx, pairID, frameEventLimit, 24)
	if err != nil {
		o.logger.Warn("status frame degraded: events unavailable", "pair_id", pairID, "error", err)
		frame.Degraded = append(frame.Degraded, "events")
	} else {
		frame.RecentEvents = events
	}

	pending := store.ResolutionPending
	anomalies, err := o.store.ListAnomalies(ctx, store.AnomalyFilter{
		PairID:           pairID,
		ResolutionStatus: &pending,
		Limit:            frameEventLimit,
	})
	if err != nil {
		o.logger.Warn("status frame degraded: anomalies unavailable", "pair_id", pairID, "error", err)
		frame.Degraded = append(frame.Degraded, "anomalies")
	} else if anomalies != nil {
		frame.Anomalies = anomalies
	}

	window, err := o.store.GetLatestMetricsWindow(ctx, pairID, store.WindowMinute)
	switch {
	case err == nil:
		frame.MetricsWindow = window
	case errors.Is(err, store.ErrNotFound):
		// No windows yet; not a degradation.
	default:
		o.logger.Warn("status frame degraded: metrics window unavailable", "pair_id", pairID, "error", err)
		frame.Degraded = append(frame.Degraded, "metrics_window")
	}

	conflicts, err := o.monitor.ConflictsLastHour(ctx, pairID)
	if err != nil {
		o.logger.Warn("status frame degraded: conflict count unavailable", "pair_id", pairID, "error", err)
		frame.Degraded = append(frame.Degraded, "recommendations")
	} else if recs := o.GenerateRecommendations(status, conflicts); recs != nil {
		frame.Recommendations = recs
	}

	return frame, nil
}
