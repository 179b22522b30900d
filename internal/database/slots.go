package database

import (
	"context"
	"fmt"
	"time"

	"parkwise/internal/models"
)

// SyncFacilities upserts the configured facility catalogue. Cameras live in
// configuration only.
func (db *DB) SyncFacilities(ctx context.Context, facilities []models.Facility) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO facilities (
				id, name, latitude, longitude, total_slots, hourly_rate, overtime_multiplier,
				covered, security, ev_charging, alpr_enabled, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				total_slots = excluded.total_slots,
				hourly_rate = excluded.hourly_rate,
				overtime_multiplier = excluded.overtime_multiplier,
				covered = excluded.covered,
				security = excluded.security,
				ev_charging = excluded.ev_charging,
				alpr_enabled = excluded.alpr_enabled,
				updated_at = excluded.updated_at`
	now := time.Now().UTC()

	for i := range facilities {
		f := &facilities[i]
		if _, err := tx.ExecContext(ctx, query,
			f.ID, f.Name, f.Latitude, f.Longitude, f.TotalSlots, f.HourlyRate, f.OvertimeMultiplier,
			f.Covered, f.Security, f.EVCharging, f.ALPREnabled, now, now,
		); err != nil {
			return fmt.Errorf("failed to upsert facility %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit facilities: %w", err)
	}
	db.logger.Info().Int("count", len(facilities)).Msg("facilities synced")
	return nil
}

func (db *DB) ListFacilities(ctx context.Context) ([]models.Facility, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, latitude, longitude, total_slots, hourly_rate,
			overtime_multiplier, covered, security, ev_charging, alpr_enabled, created_at, updated_at
		FROM facilities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}
	defer rows.Close()

	var out []models.Facility
	for rows.Next() {
		var f models.Facility
		if err := rows.Scan(&f.ID, &f.Name, &f.Latitude, &f.Longitude, &f.TotalSlots, &f.HourlyRate,
			&f.OvertimeMultiplier, &f.Covered, &f.Security, &f.EVCharging, &f.ALPREnabled,
			&f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan facility: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveSlot writes through the latest state of one slot.
func (db *DB) SaveSlot(ctx context.Context, slot models.Slot) error {
	query := `INSERT INTO slots (facility_id, slot_index, camera_id, status, last_updated, source, booking_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(facility_id, slot_index) DO UPDATE SET
				camera_id = excluded.camera_id,
				status = excluded.status,
				last_updated = excluded.last_updated,
				source = excluded.source,
				booking_id = excluded.booking_id`
	_, err := db.ExecContext(ctx, query,
		slot.FacilityID, slot.Index, slot.CameraID, string(slot.Status),
		slot.LastUpdated.UTC(), string(slot.Source), slot.BookingID,
	)
	if err != nil {
		return fmt.Errorf("failed to save slot %s/%d: %w", slot.FacilityID, slot.Index, err)
	}
	return nil
}

// ListSlots returns every persisted slot ordered by facility and index.
func (db *DB) ListSlots(ctx context.Context) ([]models.Slot, error) {
	rows, err := db.QueryContext(ctx, `SELECT facility_id, slot_index, COALESCE(camera_id, ''), status,
			last_updated, COALESCE(source, ''), booking_id
		FROM slots ORDER BY facility_id, slot_index`)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	var out []models.Slot
	for rows.Next() {
		var (
			s              models.Slot
			status, source string
		)
		if err := rows.Scan(&s.FacilityID, &s.Index, &s.CameraID, &status, &s.LastUpdated, &source, &s.BookingID); err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		s.Status = models.SlotStatus(status)
		s.Source = models.TransitionSource(source)
		out = append(out, s)
	}
	return out, rows.Err()
}
