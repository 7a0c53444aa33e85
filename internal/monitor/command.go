// ABOUTME: Coordination command dispatch for the monitor core
// ABOUTME: Each handler mutates mode/conflict/phase and records the matching event

package monitor

import (
	"context"

	"github.com/2389/pairwatch/internal/store"
)

// Command kinds accepted by ExecuteCommand.
const (
	CmdSyncRequest          = "sync_request"
	CmdHandoffInitiate      = "handoff_initiate"
	CmdOrchestrationEnable  = "orchestration_enable"
	CmdOrchestrationDisable = "orchestration_disable"
	CmdConflictResolve      = "conflict_resolve"
	CmdResetMetrics         = "reset_metrics"
)

// Command is an operator coordination request.
type Command struct {
	Type       string         `json:"command"`
	Target     string         `json:"target"` // pair ID
	Parameters map[string]any `json:"parameters,omitempty"`
}

// CommandResult is the payload returned by a successful command.
type CommandResult struct {
	EventID string         `json:"eventId"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ExecuteCommand dispatches on the command kind. Every recognized command
// records a collaboration event; unknown kinds return ErrUnknownCommand
// with no event.
func (m *Monitor) ExecuteCommand(ctx context.Context, cmd Command, operatorID string) (*CommandResult, error) {
	var result *CommandResult
	err := m.withPair(ctx, cmd.Target, func(p *pairState) error {
		var innerErr error
		result, innerErr = m.executeLocked(ctx, p, cmd, operatorID)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Monitor) executeLocked(ctx context.Context, p *pairState, cmd Command, operatorID string) (*CommandResult, error) {
	status := p.status

	var eventType, message string
	switch cmd.Type {
	case CmdSyncRequest:
		eventType = EventSyncStart
		message = "synchronization requested"

	case CmdHandoffInitiate:
		eventType = EventHandoffRequest
		message = "handoff initiated"

	case CmdOrchestrationEnable:
		status.OrchestrationMode = store.ModeAutoMediated
		eventType = EventOrchestrationEnable
		message = "orchestration enabled"

	case CmdOrchestrationDisable:
		status.OrchestrationMode = store.ModeManual
		eventType = EventOrchestrationDisable
		message = "orchestration disabled"

	case CmdConflictResolve:
		status.ConflictLevel = store.ConflictNone
		eventType = EventConflictResolved
		message = "conflict marked resolved"

	case CmdResetMetrics:
		m.resetMetricsLocked(p)
		eventType = EventMetricsReset
		message = "pair metrics reset"

	default:
		return nil, ErrUnknownCommand
	}

	details := map[string]any{"command": cmd.Type}
	for k, v := range cmd.Parameters {
		details[k] = v
	}
	// Command events start pending; the orchestrator marks them succeeded
	// once the full pipeline (commit, audit) completes.
	event := m.recordEventLocked(ctx, p, eventType, "operator", store.OutcomePending, details, &operatorID)

	m.logger.Info("command executed",
		"pair_id", status.PairID,
		"command", cmd.Type,
		"operator_id", operatorID,
		"event_id", event.ID,
	)

	return &CommandResult{
		EventID: event.ID,
		Message: message,
		Data: map[string]any{
			"collaboration_phase": status.Phase,
			"conflict_level":      status.ConflictLevel,
			"orchestration_mode":  status.OrchestrationMode,
			"synchrony_score":     status.SynchronyScore,
		},
	}, nil
}

// resetMetricsLocked returns the pair to its neutral starting point. This
// is the one destructive command; the orchestrator requires an explicit
// confirmation flag before it reaches here.
func (m *Monitor) resetMetricsLocked(p *pairState) {
	status := p.status
	status.ActivityA = 0
	status.ActivityB = 0
	status.IntegrityA = 100
	status.IntegrityB = 100
	status.LatencyA = 0
	status.LatencyB = 0
	status.SynchronyScore = 0
	status.Phase = store.PhaseIndependent
	status.ConflictLevel = store.ConflictNone

	p.samples = nil
	p.conflicts = nil
	p.events = nil
	p.integrityFailures = nil
}
