package database

import (
	"context"
	"fmt"
	"time"

	"parkwise/internal/domain"
	"parkwise/internal/models"
)

// AppendDetection adds an event to the audit log. Re-delivered events with a
// known id are ignored.
func (db *DB) AppendDetection(ctx context.Context, event models.DetectionEvent, facilityID string, slotIndex int) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO detection_events (id, camera_id, facility_id, slot_index, status, confidence, observed_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.CameraID, facilityID, slotIndex, string(event.Status), event.Confidence,
		event.Timestamp.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append detection: %w", err)
	}
	return nil
}

// CountDetections returns the number of logged events for a slot.
func (db *DB) CountDetections(ctx context.Context, facilityID string, slotIndex int) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM detection_events WHERE facility_id = ? AND slot_index = ?`,
		facilityID, slotIndex,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return n, nil
}

func (db *DB) RecordAnomaly(ctx context.Context, anomaly *models.Anomaly) error {
	result, err := db.ExecContext(ctx,
		`INSERT INTO anomalies (kind, facility_id, slot_index, booking_id, camera_id, observed_status, detected_at, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		anomaly.Kind, anomaly.FacilityID, anomaly.SlotIndex, anomaly.BookingID, anomaly.CameraID,
		string(anomaly.ObservedStatus), anomaly.DetectedAt.UTC(), anomaly.Resolved,
	)
	if err != nil {
		return fmt.Errorf("failed to record anomaly: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	anomaly.ID = id
	return nil
}

func (db *DB) ListAnomalies(ctx context.Context, openOnly bool) ([]*models.Anomaly, error) {
	query := `SELECT id, kind, facility_id, slot_index, booking_id, camera_id, observed_status, detected_at, resolved
		FROM anomalies`
	if openOnly {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY detected_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var out []*models.Anomaly
	for rows.Next() {
		var (
			a        models.Anomaly
			observed string
		)
		if err := rows.Scan(&a.ID, &a.Kind, &a.FacilityID, &a.SlotIndex, &a.BookingID, &a.CameraID,
			&observed, &a.DetectedAt, &a.Resolved); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		a.ObservedStatus = models.SlotStatus(observed)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (db *DB) ResolveAnomaly(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `UPDATE anomalies SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve anomaly: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("anomaly %d: %w", id, domain.ErrAnomalyNotFound)
	}
	return nil
}
