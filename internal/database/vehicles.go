package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"parkwise/internal/domain"
	"parkwise/internal/models"
)

func (db *DB) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	now := time.Now().UTC()
	vehicle.CreatedAt = now
	vehicle.UpdatedAt = now

	_, err := db.ExecContext(ctx,
		`INSERT INTO vehicles (registration, user_id, owner_name, verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		vehicle.Registration, vehicle.UserID, vehicle.OwnerName, vehicle.Verified, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("vehicle %s: %w", vehicle.Registration, domain.ErrVehicleExists)
		}
		return fmt.Errorf("failed to create vehicle: %w", err)
	}
	return nil
}

func (db *DB) GetVehicle(ctx context.Context, registration string) (*models.Vehicle, error) {
	var v models.Vehicle
	err := db.QueryRowContext(ctx,
		`SELECT registration, user_id, owner_name, verified, created_at, updated_at
		FROM vehicles WHERE registration = ?`, registration,
	).Scan(&v.Registration, &v.UserID, &v.OwnerName, &v.Verified, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vehicle %s: %w", registration, domain.ErrVehicleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	return &v, nil
}

func (db *DB) SetVehicleVerified(ctx context.Context, registration string, verified bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE vehicles SET verified = ?, updated_at = ? WHERE registration = ?`,
		verified, time.Now().UTC(), registration,
	)
	if err != nil {
		return fmt.Errorf("failed to update vehicle: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("vehicle %s: %w", registration, domain.ErrVehicleNotFound)
	}
	return nil
}
