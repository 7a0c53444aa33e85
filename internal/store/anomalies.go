// ABOUTME: Anomaly record persistence with resolution lifecycle transitions
// ABOUTME: Records are append-only; resolution status and resolved_at may transition

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AppendAnomaly persists a new anomaly record.
func (s *SQLiteStore) AppendAnomaly(ctx context.Context, record *AnomalyRecord) error {
	var metricsJSON *string
	if record.DetectionMetrics != nil {
		data, err := json.Marshal(record.DetectionMetrics)
		if err != nil {
			return fmt.Errorf("marshaling detection metrics: %w", err)
		}
		str := string(data)
		metricsJSON = &str
	}

	var resolvedAt *string
	if record.ResolvedAt != nil {
		v := record.ResolvedAt.UTC().Format(time.RFC3339)
		resolvedAt = &v
	}

	query := `
		INSERT INTO anomalies (
			anomaly_id, pair_id, type, severity, description,
			metrics_json, resolution_status, notified, detected_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.PairID,
		record.Type,
		string(record.Severity),
		record.Description,
		metricsJSON,
		string(record.ResolutionStatus),
		record.Notified,
		record.DetectedAt.UTC().Format(time.RFC3339),
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting anomaly: %w", err)
	}

	s.logger.Debug("appended anomaly",
		"anomaly_id", record.ID,
		"pair_id", record.PairID,
		"type", record.Type,
		"severity", record.Severity,
	)
	return nil
}

// UpdateAnomalyResolution transitions an anomaly's resolution status.
func (s *SQLiteStore) UpdateAnomalyResolution(ctx context.Context, anomalyID string, status ResolutionStatus, resolvedAt *time.Time) error {
	var resolvedStr *string
	if resolvedAt != nil {
		v := resolvedAt.UTC().Format(time.RFC3339)
		resolvedStr = &v
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE anomalies SET resolution_status = ?, resolved_at = ? WHERE anomaly_id = ?`,
		string(status), resolvedStr, anomalyID,
	)
	if err != nil {
		return fmt.Errorf("updating anomaly resolution: %w", err)
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

// ListAnomalies returns anomalies matching the filter, newest first.
func (s *SQLiteStore) ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]*AnomalyRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var statusStr *string
	if filter.ResolutionStatus != nil {
		v := string(*filter.ResolutionStatus)
		statusStr = &v
	}
	var sinceStr *string
	if filter.Since != nil {
		v := filter.Since.UTC().Format(time.RFC3339)
		sinceStr = &v
	}

	query := `
		SELECT anomaly_id, pair_id, type, severity, description,
		       metrics_json, resolution_status, notified, detected_at, resolved_at
		FROM anomalies
		WHERE pair_id = ?
		  AND (? IS NULL OR resolution_status = ?)
		  AND (? IS NULL OR detected_at >= ?)
		ORDER BY detected_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.PairID,
		statusStr, statusStr,
		sinceStr, sinceStr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying anomalies: %w", err)
	}
	defer rows.Close()

	var records []*AnomalyRecord
	for rows.Next() {
		record := &AnomalyRecord{}
		var severity, resolution, detectedStr string
		var metricsJSON, resolvedStr *string

		if err := rows.Scan(
			&record.ID,
			&record.PairID,
			&record.Type,
			&severity,
			&record.Description,
			&metricsJSON,
			&resolution,
			&record.Notified,
			&detectedStr,
			&resolvedStr,
		); err != nil {
			return nil, fmt.Errorf("scanning anomaly row: %w", err)
		}

		record.Severity = Severity(severity)
		record.ResolutionStatus = ResolutionStatus(resolution)
		record.DetectedAt, err = time.Parse(time.RFC3339, detectedStr)
		if err != nil {
			return nil, fmt.Errorf("parsing detected_at: %w", err)
		}
		if resolvedStr != nil {
			t, err := time.Parse(time.RFC3339, *resolvedStr)
			if err != nil {
				return nil, fmt.Errorf("parsing resolved_at: %w", err)
			}
			record.ResolvedAt = &t
		}
		if metricsJSON != nil {
			if err := json.Unmarshal([]byte(*metricsJSON), &record.DetectionMetrics); err != nil {
				return nil, fmt.Errorf("unmarshaling detection metrics: %w", err)
			}
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating anomaly rows: %w", err)
	}

	return records, nil
}
