// ABOUTME: Collaboration status persistence for monitored agent pairs
// ABOUTME: Upsert semantics guarantee exactly one row per pair

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveStatus persists the live status for a pair, inserting or replacing
// the single row for that pair.
func (s *SQLiteStore) SaveStatus(ctx context.Context, status *CollaborationStatus) error {
	query := `
		INSERT INTO collaboration_status (
			pair_id, agent_a, agent_b, session_ref_a, session_ref_b,
			activity_a, activity_b, integrity_a, integrity_b,
			latency_a, latency_b, synchrony_score,
			phase, conflict_level, orchestration_mode,
			last_collaboration_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_id) DO UPDATE SET
			session_ref_a = excluded.session_ref_a,
			session_ref_b = excluded.session_ref_b,
			activity_a = excluded.activity_a,
			activity_b = excluded.activity_b,
			integrity_a = excluded.integrity_a,
			integrity_b = excluded.integrity_b,
			latency_a = excluded.latency_a,
			latency_b = excluded.latency_b,
			synchrony_score = excluded.synchrony_score,
			phase = excluded.phase,
			conflict_level = excluded.conflict_level,
			orchestration_mode = excluded.orchestration_mode,
			last_collaboration_at = excluded.last_collaboration_at,
			updated_at = excluded.updated_at
	`

	var lastCollab *string
	if status.LastCollaborationAt != nil {
		v := status.LastCollaborationAt.UTC().Format(time.RFC3339)
		lastCollab = &v
	}

	_, err := s.db.ExecContext(ctx, query,
		status.PairID,
		status.AgentA,
		status.AgentB,
		status.SessionRefA,
		status.SessionRefB,
		status.ActivityA,
		status.ActivityB,
		status.IntegrityA,
		status.IntegrityB,
		status.LatencyA,
		status.LatencyB,
		status.SynchronyScore,
		string(status.Phase),
		string(status.ConflictLevel),
		string(status.OrchestrationMode),
		lastCollab,
		status.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting status: %w", err)
	}

	s.logger.Debug("saved collaboration status",
		"pair_id", status.PairID,
		"phase", status.Phase,
		"synchrony", status.SynchronyScore,
	)
	return nil
}

// LoadStatus retrieves the status for a pair, or ErrNotFound.
func (s *SQLiteStore) LoadStatus(ctx context.Context, pairID string) (*CollaborationStatus, error) {
	query := `
		SELECT pair_id, agent_a, agent_b, session_ref_a, session_ref_b,
		       activity_a, activity_b, integrity_a, integrity_b,
		       latency_a, latency_b, synchrony_score,
		       phase, conflict_level, orchestration_mode,
		       last_collaboration_at, updated_at
		FROM collaboration_status
		WHERE pair_id = ?
	`

	status := &CollaborationStatus{}
	var phase, conflictLevel, mode string
	var lastCollabStr *string
	var updatedStr string

	err := s.db.QueryRowContext(ctx, query, pairID).Scan(
		&status.PairID,
		&status.AgentA,
		&status.AgentB,
		&status.SessionRefA,
		&status.SessionRefB,
		&status.ActivityA,
		&status.ActivityB,
		&status.IntegrityA,
		&status.IntegrityB,
		&status.LatencyA,
		&status.LatencyB,
		&status.SynchronyScore,
		&phase,
		&conflictLevel,
		&mode,
		&lastCollabStr,
		&updatedStr,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying status: %w", err)
	}

	status.Phase = CollaborationPhase(phase)
	status.ConflictLevel = ConflictLevel(conflictLevel)
	status.OrchestrationMode = OrchestrationMode(mode)

	status.UpdatedAt, err = time.Parse(time.RFC3339, updatedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastCollabStr != nil {
		t, err := time.Parse(time.RFC3339, *lastCollabStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_collaboration_at: %w", err)
		}
		status.LastCollaborationAt = &t
	}

	return status, nil
}
