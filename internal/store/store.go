// ABOUTME: Storage interface and data types for pairwatch persistence
// ABOUTME: Defines CollaborationStatus, CollaborationEvent, AnomalyRecord, MetricsWindow and the Storage interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// CollaborationPhase is the current qualitative mode of interaction
// between the two monitored agents.
type CollaborationPhase string

const (
	PhaseIndependent   CollaborationPhase = "independent"
	PhaseSynchronized  CollaborationPhase = "synchronized"
	PhaseHandoff       CollaborationPhase = "handoff"
	PhaseConflict      CollaborationPhase = "conflict"
	PhaseOrchestration CollaborationPhase = "orchestration"
)

// ConflictLevel is the escalation tier used to gate automatic interventions.
type ConflictLevel string

const (
	ConflictNone     ConflictLevel = "none"
	ConflictLow      ConflictLevel = "low"
	ConflictMedium   ConflictLevel = "medium"
	ConflictHigh     ConflictLevel = "high"
	ConflictCritical ConflictLevel = "critical"
)

// OrchestrationMode controls whether coordination commands are issued
// manually or auto-mediated.
type OrchestrationMode string

const (
	ModeManual       OrchestrationMode = "manual"
	ModeAutoMediated OrchestrationMode = "auto_mediated"
	ModeDisabled     OrchestrationMode = "disabled"
)

// EventOutcome tracks the terminal state of a collaboration event.
type EventOutcome string

const (
	OutcomePending EventOutcome = "pending"
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
)

// Severity classifies anomalies and alert events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ResolutionStatus is the lifecycle state of an anomaly record.
type ResolutionStatus string

const (
	ResolutionPending       ResolutionStatus = "pending"
	ResolutionInvestigating ResolutionStatus = "investigating"
	ResolutionResolved      ResolutionStatus = "resolved"
	ResolutionFalsePositive ResolutionStatus = "false_positive"
)

// WindowType is the bucket granularity for aggregated metrics windows.
type WindowType string

const (
	WindowMinute WindowType = "minute"
	WindowHour   WindowType = "hour"
	WindowDay    WindowType = "day"
)

// CollaborationStatus is the live view of one monitored agent pair.
// Exactly one exists per pair; all score fields are clamped to [0,100].
type CollaborationStatus struct {
	PairID              string             `json:"pair_id"`
	AgentA              string             `json:"agent_a"`
	AgentB              string             `json:"agent_b"`
	SessionRefA         *string            `json:"session_ref_a,omitempty"`
	SessionRefB         *string            `json:"session_ref_b,omitempty"`
	ActivityA           float64            `json:"activity_a"`
	ActivityB           float64            `json:"activity_b"`
	IntegrityA          float64            `json:"integrity_a"`
	IntegrityB          float64            `json:"integrity_b"`
	LatencyA            int                `json:"latency_a_ms"`
	LatencyB            int                `json:"latency_b_ms"`
	SynchronyScore      float64            `json:"synchrony_score"`
	Phase               CollaborationPhase `json:"collaboration_phase"`
	ConflictLevel       ConflictLevel      `json:"conflict_level"`
	OrchestrationMode   OrchestrationMode  `json:"orchestration_mode"`
	LastCollaborationAt *time.Time         `json:"last_collaboration_at,omitempty"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so callers outside the pair's mailbox never
// share pointers with the live status.
func (s *CollaborationStatus) Clone() *CollaborationStatus {
	out := *s
	if s.SessionRefA != nil {
		v := *s.SessionRefA
		out.SessionRefA = &v
	}
	if s.SessionRefB != nil {
		v := *s.SessionRefB
		out.SessionRefB = &v
	}
	if s.LastCollaborationAt != nil {
		v := *s.LastCollaborationAt
		out.LastCollaborationAt = &v
	}
	return &out
}

// CollaborationEvent is an immutable log entry; only Outcome may change
// after creation.
type CollaborationEvent struct {
	ID         string         `json:"id"`
	PairID     string         `json:"pair_id"`
	Type       string         `json:"event_type"`
	Initiator  string         `json:"initiator"` // agent id, "system", or "operator"
	Target     *string        `json:"target,omitempty"`
	Outcome    EventOutcome   `json:"outcome"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
	OperatorID *string        `json:"operator_id,omitempty"`
}

// AnomalyRecord is a rule-triggered deviation requiring operator attention.
// Records are never deleted, only superseded or resolved.
type AnomalyRecord struct {
	ID               string             `json:"id"`
	PairID           string             `json:"pair_id"`
	Type             string             `json:"anomaly_type"`
	Severity         Severity           `json:"severity"`
	Description      string             `json:"description"`
	DetectionMetrics map[string]float64 `json:"detection_metrics,omitempty"`
	ResolutionStatus ResolutionStatus   `json:"resolution_status"`
	Notified         bool               `json:"notified"`
	DetectedAt       time.Time          `json:"detected_at"`
	ResolvedAt       *time.Time         `json:"resolved_at,omitempty"`
}

// MetricsWindow is an append-only aggregate for a fixed time bucket.
type MetricsWindow struct {
	PairID            string     `json:"pair_id"`
	WindowType        WindowType `json:"window_type"`
	WindowStart       time.Time  `json:"window_start"`
	MessagesTotal     int        `json:"messages_total"`
	MessagesA         int        `json:"messages_a"`
	MessagesB         int        `json:"messages_b"`
	EventCount        int        `json:"event_count"`
	ConflictCount     int        `json:"conflict_count"`
	AvgSynchrony      float64    `json:"avg_synchrony"`
	AvgLatencyA       int        `json:"avg_latency_a_ms"`
	AvgLatencyB       int        `json:"avg_latency_b_ms"`
	IntegrityFailures int        `json:"integrity_failures"`
}

// AnomalyFilter selects anomalies for listing.
type AnomalyFilter struct {
	PairID           string
	ResolutionStatus *ResolutionStatus
	Since            *time.Time
	Limit            int // default 50, max 500
}

// Storage is the persistence boundary of the monitor core. Writes from the
// monitor are best-effort: failures are logged by callers and never gate
// the in-memory state update.
type Storage interface {
	// Collaboration status
	SaveStatus(ctx context.Context, status *CollaborationStatus) error
	LoadStatus(ctx context.Context, pairID string) (*CollaborationStatus, error)

	// Collaboration events
	AppendEvent(ctx context.Context, event *CollaborationEvent) error
	UpdateEventOutcome(ctx context.Context, eventID string, outcome EventOutcome) error
	ListRecentEvents(ctx context.Context, pairID string, limit int, hours int) ([]*CollaborationEvent, error)
	CountEventsByTypePrefix(ctx context.Context, pairID, prefix string, since time.Time) (int, error)

	// Anomalies
	AppendAnomaly(ctx context.Context, record *AnomalyRecord) error
	UpdateAnomalyResolution(ctx context.Context, anomalyID string, status ResolutionStatus, resolvedAt *time.Time) error
	ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]*AnomalyRecord, error)

	// Metrics windows
	AppendMetricsWindow(ctx context.Context, window *MetricsWindow) error
	GetLatestMetricsWindow(ctx context.Context, pairID string, windowType WindowType) (*MetricsWindow, error)

	// Audit log
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)

	// Close releases any resources held by the store
	Close() error
}
