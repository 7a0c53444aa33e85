// ABOUTME: Aggregated metrics window persistence for minute/hour/day buckets
// ABOUTME: Append-only, one row per (pair, window type, window start)

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppendMetricsWindow persists an aggregated metrics window. Re-appending
// the same (pair, type, start) replaces the row, so the periodic collector
// can safely refresh a still-open bucket.
func (s *SQLiteStore) AppendMetricsWindow(ctx context.Context, w *MetricsWindow) error {
	query := `
		INSERT INTO metrics_windows (
			pair_id, window_type, window_start,
			messages_total, messages_a, messages_b,
			event_count, conflict_count, avg_synchrony,
			avg_latency_a, avg_latency_b, integrity_failures
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_id, window_type, window_start) DO UPDATE SET
			messages_total = excluded.messages_total,
			messages_a = excluded.messages_a,
			messages_b = excluded.messages_b,
			event_count = excluded.event_count,
			conflict_count = excluded.conflict_count,
			avg_synchrony = excluded.avg_synchrony,
			avg_latency_a = excluded.avg_latency_a,
			avg_latency_b = excluded.avg_latency_b,
			integrity_failures = excluded.integrity_failures
	`

	_, err := s.db.ExecContext(ctx, query,
		w.PairID,
		string(w.WindowType),
		w.WindowStart.UTC().Format(time.RFC3339),
		w.MessagesTotal,
		w.MessagesA,
		w.MessagesB,
		w.EventCount,
		w.ConflictCount,
		w.AvgSynchrony,
		w.AvgLatencyA,
		w.AvgLatencyB,
		w.IntegrityFailures,
	)
	if err != nil {
		return fmt.Errorf("upserting metrics window: %w", err)
	}
	return nil
}

// GetLatestMetricsWindow returns the most recent window of the given type
// for a pair, or ErrNotFound.
func (s *SQLiteStore) GetLatestMetricsWindow(ctx context.Context, pairID string, windowType WindowType) (*MetricsWindow, error) {
	query := `
		SELECT pair_id, window_type, window_start,
		       messages_total, messages_a, messages_b,
		       event_count, conflict_count, avg_synchrony,
		       avg_latency_a, avg_latency_b, integrity_failures
		FROM metrics_windows
		WHERE pair_id = ? AND window_type = ?
		ORDER BY window_start DESC
		LIMIT 1
	`

	w := &MetricsWindow{}
	var wType, startStr string

	err := s.db.QueryRowContext(ctx, query, pairID, string(windowType)).Scan(
		&w.PairID,
		&wType,
		&startStr,
		&w.MessagesTotal,
		&w.MessagesA,
		&w.MessagesB,
		&w.EventCount,
		&w.ConflictCount,
		&w.AvgSynchrony,
		&w.AvgLatencyA,
		&w.AvgLatencyB,
		&w.IntegrityFailures,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying metrics window: %w", err)
	}

	w.WindowType = WindowType(wType)
	w.WindowStart, err = time.Parse(time.RFC3339, startStr)
	if err != nil {
		return nil, fmt.Errorf("parsing window_start: %w", err)
	}

	return w, nil
}
