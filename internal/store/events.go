// ABOUTME: Collaboration event log persistence for the pair ledger
// ABOUTME: Events are append-only; only the outcome field may be updated after creation

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AppendEvent persists a collaboration event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *CollaborationEvent) error {
	var detailsJSON *string
	if event.Details != nil {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshaling event details: %w", err)
		}
		str := string(data)
		detailsJSON = &str
	}

	query := `
		INSERT INTO collaboration_events (
			event_id, pair_id, type, initiator, target, outcome, ts, details_json, operator_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.PairID,
		event.Type,
		event.Initiator,
		event.Target,
		string(event.Outcome),
		event.Timestamp.UTC().Format(time.RFC3339),
		detailsJSON,
		event.OperatorID,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("appended collaboration event",
		"event_id", event.ID,
		"pair_id", event.PairID,
		"type", event.Type,
	)
	return nil
}

// UpdateEventOutcome transitions an event's outcome. Outcome is the only
// mutable field on a recorded event.
func (s *SQLiteStore) UpdateEventOutcome(ctx context.Context, eventID string, outcome EventOutcome) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collaboration_events SET outcome = ? WHERE event_id = ?`,
		string(outcome), eventID,
	)
	if err != nil {
		return fmt.Errorf("updating event outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecentEvents returns events for a pair within the last N hours,
// newest first. Limit defaults to 50 and is capped at 500.
func (s *SQLiteStore) ListRecentEvents(ctx context.Context, pairID string, limit, hours int) ([]*CollaborationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour).UTC().Format(time.RFC3339)

	query := `
		SELECT event_id, pair_id, type, initiator, target, outcome, ts, details_json, operator_id
		FROM collaboration_events
		WHERE pair_id = ? AND ts >= ?
		ORDER BY ts DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, pairID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*CollaborationEvent
	for rows.Next() {
		event := &CollaborationEvent{}
		var outcome, tsStr string
		var detailsJSON *string

		if err := rows.Scan(
			&event.ID,
			&event.PairID,
			&event.Type,
			&event.Initiator,
			&event.Target,
			&outcome,
			&tsStr,
			&detailsJSON,
			&event.OperatorID,
		); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}

		event.Outcome = EventOutcome(outcome)
		event.Timestamp, err = time.Parse(time.RFC3339, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if detailsJSON != nil {
			if err := json.Unmarshal([]byte(*detailsJSON), &event.Details); err != nil {
				return nil, fmt.Errorf("unmarshaling event details: %w", err)
			}
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}

// CountEventsByTypePrefix counts events for a pair whose type starts with
// the given prefix, at or after the given time. Used for conflict-rate
// evaluation ("conflict" prefix matches conflict_detected, conflict_resolved).
func (s *SQLiteStore) CountEventsByTypePrefix(ctx context.Context, pairID, prefix string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM collaboration_events
		WHERE pair_id = ? AND type LIKE ? AND ts >= ?
	`

	var count int
	err := s.db.QueryRowContext(ctx, query,
		pairID, prefix+"%", since.UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return count, nil
}
