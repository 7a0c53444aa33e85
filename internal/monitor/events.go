// ABOUTME: Collaboration event recording and the phase-transition table
// ABOUTME: Phase is a pure function of event type; prior phase never matters

package monitor

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/pairwatch/internal/fanout"
	"github.com/2389/pairwatch/internal/store"
)

// Event types with phase-transition semantics.
const (
	EventSyncStart            = "sync_start"
	EventSyncEnd              = "sync_end"
	EventHandoffRequest       = "handoff_request"
	EventHandoffComplete      = "handoff_complete"
	EventConflictDetected     = "conflict_detected"
	EventConflictResolved     = "conflict_resolved"
	EventOrchestrationEnable  = "orchestration_enable"
	EventOrchestrationDisable = "orchestration_disable"
	EventMetricsReset         = "metrics_reset"
)

// phaseFor returns the phase an event type transitions the pair into.
// Unknown types leave the phase unchanged (ok=false).
func phaseFor(eventType string) (store.CollaborationPhase, bool) {
	switch eventType {
	case EventSyncStart:
		return store.PhaseSynchronized, true
	case EventSyncEnd, EventHandoffComplete, EventConflictResolved, EventOrchestrationDisable:
		return store.PhaseIndependent, true
	case EventHandoffRequest:
		return store.PhaseHandoff, true
	case EventConflictDetected:
		return store.PhaseConflict, true
	case EventOrchestrationEnable:
		return store.PhaseOrchestration, true
	default:
		return "", false
	}
}

// RecordEvent appends a collaboration event, applies the phase-transition
// table, and notifies subscribers. Observed facts land as success; failure
// reports (types ending in "_failed") land as failure.
func (m *Monitor) RecordEvent(ctx context.Context, pairID, eventType, initiator string, details map[string]any, operatorID *string) (*store.CollaborationEvent, error) {
	outcome := store.OutcomeSuccess
	if strings.HasSuffix(eventType, "_failed") {
		outcome = store.OutcomeFailure
	}

	var event *store.CollaborationEvent
	err := m.withPair(ctx, pairID, func(p *pairState) error {
		event = m.recordEventLocked(ctx, p, eventType, initiator, outcome, details, operatorID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// recordEventLocked is the shared event path for RecordEvent and command
// handlers. Runs inside the pair's mailbox.
func (m *Monitor) recordEventLocked(ctx context.Context, p *pairState, eventType, initiator string, outcome store.EventOutcome, details map[string]any, operatorID *string) *store.CollaborationEvent {
	now := m.now().UTC()
	event := &store.CollaborationEvent{
		ID:         uuid.New().String(),
		PairID:     p.status.PairID,
		Type:       eventType,
		Initiator:  initiator,
		Outcome:    outcome,
		Timestamp:  now,
		Details:    details,
		OperatorID: operatorID,
	}

	if err := m.store.AppendEvent(ctx, event); err != nil {
		m.logger.Warn("failed to persist collaboration event",
			"pair_id", p.status.PairID, "event_type", eventType, "error", err)
	}

	if phase, ok := phaseFor(eventType); ok {
		p.status.Phase = phase
	}
	p.status.UpdatedAt = now
	p.events = append(p.events, now)

	isConflict := strings.HasPrefix(eventType, "conflict")
	if eventType == EventConflictDetected {
		p.conflicts = append(p.conflicts, now)
		if p.status.ConflictLevel == store.ConflictNone {
			p.status.ConflictLevel = store.ConflictLow
		}
	}
	if eventType == EventConflictResolved {
		p.status.ConflictLevel = store.ConflictNone
	}

	if err := m.store.SaveStatus(ctx, p.status); err != nil {
		m.logger.Warn("failed to persist status after event",
			"pair_id", p.status.PairID, "event_type", eventType, "error", err)
	}

	m.fan.Publish(fanout.Event{
		Type:      fanout.TypeCollaborationEvent,
		Data:      event,
		Timestamp: now,
	})
	if isConflict {
		severity := store.SeverityMedium
		if p.status.ConflictLevel == store.ConflictHigh || p.status.ConflictLevel == store.ConflictCritical {
			severity = store.SeverityHigh
		}
		m.fan.Publish(fanout.Event{
			Type: fanout.TypeConflictAlert,
			Data: map[string]any{
				"pair_id":        p.status.PairID,
				"event_type":     eventType,
				"conflict_level": p.status.ConflictLevel,
			},
			Timestamp:      now,
			Severity:       string(severity),
			RequiresAction: eventType == EventConflictDetected,
		})
	}

	return event
}
