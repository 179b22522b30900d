package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"parkwise/internal/domain"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the SQLite store for facilities, slots, bookings, vehicles and the
// detection audit log.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	inMemory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")

	dsn := path
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// every pooled connection would otherwise see its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: sqlDB, path: path, logger: logger}
	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

// Path returns the database file the store was opened with.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS facilities (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            latitude REAL NOT NULL,
            longitude REAL NOT NULL,
            total_slots INTEGER NOT NULL,
            hourly_rate REAL NOT NULL,
            overtime_multiplier REAL NOT NULL DEFAULT 1,
            covered BOOLEAN NOT NULL DEFAULT 0,
            security BOOLEAN NOT NULL DEFAULT 0,
            ev_charging BOOLEAN NOT NULL DEFAULT 0,
            alpr_enabled BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS slots (
            facility_id TEXT NOT NULL REFERENCES facilities(id),
            slot_index INTEGER NOT NULL,
            camera_id TEXT,
            status TEXT NOT NULL,
            last_updated DATETIME NOT NULL,
            source TEXT,
            booking_id INTEGER NOT NULL DEFAULT 0,
            PRIMARY KEY (facility_id, slot_index)
        )`,
		`CREATE TABLE IF NOT EXISTS vehicles (
            registration TEXT PRIMARY KEY,
            user_id INTEGER NOT NULL,
            owner_name TEXT NOT NULL,
            verified BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            vehicle_id TEXT NOT NULL,
            facility_id TEXT NOT NULL,
            slot_index INTEGER NOT NULL,
            booked_start DATETIME NOT NULL,
            booked_end DATETIME NOT NULL,
            duration_minutes INTEGER NOT NULL,
            base_amount REAL NOT NULL DEFAULT 0,
            extra_time_amount REAL NOT NULL DEFAULT 0,
            total_amount REAL NOT NULL DEFAULT 0,
            payment_mode TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL,
            status TEXT NOT NULL,
            hold_expires_at DATETIME NOT NULL,
            checked_in_at DATETIME,
            checked_out_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS detection_events (
            id TEXT PRIMARY KEY,
            camera_id TEXT NOT NULL,
            facility_id TEXT NOT NULL,
            slot_index INTEGER NOT NULL,
            status TEXT NOT NULL,
            confidence REAL NOT NULL,
            observed_at DATETIME NOT NULL,
            received_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS anomalies (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            kind TEXT NOT NULL,
            facility_id TEXT NOT NULL,
            slot_index INTEGER NOT NULL,
            booking_id INTEGER NOT NULL DEFAULT 0,
            camera_id TEXT NOT NULL,
            observed_status TEXT NOT NULL,
            detected_at DATETIME NOT NULL,
            resolved BOOLEAN NOT NULL DEFAULT 0
        )`,

		// at most one active booking per slot
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_active_slot
            ON bookings(facility_id, slot_index)
            WHERE status IN ('HOLD', 'CONFIRMED', 'CHECKED_IN')`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_hold_expires ON bookings(hold_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_slot ON detection_events(facility_id, slot_index, observed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_resolved ON anomalies(resolved)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// WithTransaction runs fn inside one transaction. fn must only touch the
// store through tx; the transaction commits iff fn returns nil.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(ctx, &txStore{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
