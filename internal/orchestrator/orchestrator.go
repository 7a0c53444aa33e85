// ABOUTME: Command orchestration: rate limiting, security checks, execution, audit
// ABOUTME: Every rejection and failure converts to a structured result, never a panic

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/pairwatch/internal/fanout"
	"github.com/2389/pairwatch/internal/metrics"
	"github.com/2389/pairwatch/internal/monitor"
	"github.com/2389/pairwatch/internal/ratelimit"
	"github.com/2389/pairwatch/internal/store"
)

// suspiciousResetStreak is how many consecutive reset-class commands from
// one operator trigger a suspicious-pattern rejection.
const suspiciousResetStreak = 5

// PrivilegeChecker is the external authorization collaborator. A non-nil
// error means the operator may not run the command; the detail is logged
// but never surfaced to the caller.
type PrivilegeChecker interface {
	Authorize(ctx context.Context, operatorID, command string) error
}

// RateLimitError rejects a command that exceeded the operator's budget.
type RateLimitError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many commands, retry in %s", e.Decision.ResetIn.Round(time.Second))
}

// AuthorizationError rejects a command on security grounds. The message is
// deliberately generic.
type AuthorizationError struct{}

func (e *AuthorizationError) Error() string { return "command not authorized" }

// ValidationError rejects malformed input before any mutation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Response is the terminal result of a command that reached execution.
type Response struct {
	Success bool           `json:"success"`
	EventID string         `json:"eventId,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Orchestrator sits between the HTTP boundary and the monitor core.
type Orchestrator struct {
	monitor    *monitor.Monitor
	limiter    *ratelimit.Limiter
	store      store.Storage
	privileges PrivilegeChecker
	aggregator *metrics.Aggregator
	fan        *fanout.Fanout
	logger     *slog.Logger
	now        func() time.Time

	mu           sync.Mutex
	resetStreaks map[string]int       // operatorID -> consecutive reset-class commands
	lastEmitted  map[string]time.Time // recommendation type -> last emission
}

// New creates an orchestrator. All collaborators are required except the
// logger.
func New(m *monitor.Monitor, limiter *ratelimit.Limiter, st store.Storage, privileges PrivilegeChecker, aggregator *metrics.Aggregator, fan *fanout.Fanout, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		monitor:      m,
		limiter:      limiter,
		store:        st,
		privileges:   privileges,
		aggregator:   aggregator,
		fan:          fan,
		logger:       logger.With("component", "orchestrator"),
		now:          time.Now,
		resetStreaks: make(map[string]int),
		lastEmitted:  make(map[string]time.Time),
	}
}

// ExecuteCollaborationCommand runs the full pipeline: rate limit, security
// validation, delegation to the monitor, then commit/audit bookkeeping.
func (o *Orchestrator) ExecuteCollaborationCommand(ctx context.Context, cmd monitor.Command, operatorID, sourceAddr string) (*Response, error) {
	if cmd.Type == "" {
		return nil, &ValidationError{Reason: "command is required"}
	}
	if cmd.Target == "" {
		return nil, &ValidationError{Reason: "target pair is required"}
	}
	if operatorID == "" {
		return nil, &ValidationError{Reason: "operator identity is required"}
	}

	if decision := o.limiter.Allow(operatorID); !decision.Allowed {
		o.logger.Warn("command rate limited",
			"operator_id", operatorID, "command", cmd.Type, "reset_in", decision.ResetIn)
		o.audit(ctx, operatorID, store.AuditCommandRejected, cmd, map[string]any{
			"reason": "rate_limited", "source": sourceAddr,
		})
		return nil, &RateLimitError{Decision: decision}
	}

	if err := o.validateSecurity(ctx, cmd, operatorID); err != nil {
		var validation *ValidationError
		if !errors.As(err, &validation) {
			o.audit(ctx, operatorID, store.AuditCommandRejected, cmd, map[string]any{
				"reason": "authorization", "source": sourceAddr,
			})
		}
		return nil, err
	}

	result, err := o.monitor.ExecuteCommand(ctx, cmd, operatorID)
	if err != nil {
		return o.handleExecutionError(ctx, cmd, operatorID, sourceAddr, err)
	}

	o.limiter.Commit(operatorID)
	o.audit(ctx, operatorID, store.AuditCommandExecuted, cmd, map[string]any{
		"event_id": result.EventID, "source": sourceAddr,
	})

	// The command event was recorded pending; the pipeline is now done.
	if err := o.store.UpdateEventOutcome(ctx, result.EventID, store.OutcomeSuccess); err != nil {
		o.logger.Warn("failed to mark command event succeeded",
			"event_id", result.EventID, "error", err)
	}

	return &Response{
		Success: true,
		EventID: result.EventID,
		Message: result.Message,
		Data:    result.Data,
	}, nil
}

// validateSecurity applies privilege and destructive-command checks.
func (o *Orchestrator) validateSecurity(ctx context.Context, cmd monitor.Command, operatorID string) error {
	if o.privileges != nil {
		if err := o.privileges.Authorize(ctx, operatorID, cmd.Type); err != nil {
			o.logger.Warn("command authorization denied",
				"operator_id", operatorID, "command", cmd.Type, "error", err)
			return &AuthorizationError{}
		}
	}

	isReset := strings.HasPrefix(cmd.Type, "reset")
	if isReset {
		if confirmed, _ := cmd.Parameters["confirm"].(bool); !confirmed {
			return &ValidationError{Reason: "destructive command requires confirm: true"}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if isReset {
		o.resetStreaks[operatorID]++
		if o.resetStreaks[operatorID] >= suspiciousResetStreak {
			o.logger.Warn("suspicious reset burst rejected",
				"operator_id", operatorID, "streak", o.resetStreaks[operatorID])
			return &AuthorizationError{}
		}
	} else {
		delete(o.resetStreaks, operatorID)
	}
	return nil
}

// handleExecutionError converts a monitor failure into a failure event,
// an audit entry, and a structured result.
func (o *Orchestrator) handleExecutionError(ctx context.Context, cmd monitor.Command, operatorID, sourceAddr string, execErr error) (*Response, error) {
	if errors.Is(execErr, monitor.ErrUnknownCommand) {
		// No event for unknown kinds.
		return nil, &ValidationError{Reason: "unknown command: " + cmd.Type}
	}
	if errors.Is(execErr, monitor.ErrPairNotFound) {
		return nil, &ValidationError{Reason: "pair not initialized: " + cmd.Target}
	}

	o.logger.Error("command execution failed",
		"operator_id", operatorID, "command", cmd.Type, "error", execErr)

	if _, err := o.monitor.RecordEvent(ctx, cmd.Target, cmd.Type+"_failed", "system",
		map[string]any{"error": execErr.Error()}, &operatorID); err != nil {
		o.logger.Warn("failed to record failure event",
			"pair_id", cmd.Target, "command", cmd.Type, "error", err)
	}
	o.audit(ctx, operatorID, store.AuditCommandFailed, cmd, map[string]any{
		"error": execErr.Error(), "source": sourceAddr,
	})

	return &Response{
		Success: false,
		Message: "command failed: " + cmd.Type,
	}, nil
}

// ResolveAnomaly transitions an anomaly record on behalf of an operator.
func (o *Orchestrator) ResolveAnomaly(ctx context.Context, anomalyID string, status store.ResolutionStatus, operatorID string) error {
	switch status {
	case store.ResolutionInvestigating, store.ResolutionResolved, store.ResolutionFalsePositive:
	default:
		return &ValidationError{Reason: "invalid resolution status: " + string(status)}
	}

	var resolvedAt *time.Time
	if status == store.ResolutionResolved || status == store.ResolutionFalsePositive {
		now := o.now().UTC()
		resolvedAt = &now
	}

	if err := o.store.UpdateAnomalyResolution(ctx, anomalyID, status, resolvedAt); err != nil {
		return fmt.Errorf("updating anomaly resolution: %w", err)
	}

	o.auditRaw(ctx, &store.AuditEntry{
		ActorID:    operatorID,
		Action:     store.AuditAnomalyResolved,
		TargetType: "anomaly",
		TargetID:   anomalyID,
		Detail:     map[string]any{"status": string(status)},
	})
	return nil
}

// RateLimitStatus reports the operator's current command budget.
func (o *Orchestrator) RateLimitStatus(operatorID string) ratelimit.Status {
	return o.limiter.Status(operatorID)
}

// audit writes a command audit entry. Fire-and-forget: failures are logged
// and never gate command handling.
func (o *Orchestrator) audit(ctx context.Context, operatorID string, action store.AuditAction, cmd monitor.Command, detail map[string]any) {
	if detail == nil {
		detail = map[string]any{}
	}
	detail["command"] = cmd.Type
	o.auditRaw(ctx, &store.AuditEntry{
		ActorID:    operatorID,
		Action:     action,
		TargetType: "pair",
		TargetID:   cmd.Target,
		Detail:     detail,
	})
}

func (o *Orchestrator) auditRaw(ctx context.Context, entry *store.AuditEntry) {
	if err := o.store.AppendAudit(ctx, entry); err != nil {
		o.logger.Warn("failed to append audit entry",
			"actor_id", entry.ActorID, "action", entry.Action, "error", err)
	}
}
