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

const bookingColumns = `id, user_id, vehicle_id, facility_id, slot_index, booked_start, booked_end,
	duration_minutes, base_amount, extra_time_amount, total_amount, payment_mode, payment_status,
	status, hold_expires_at, checked_in_at, checked_out_at, created_at, updated_at, version`

// txStore is the transactional view handed to WithTransaction callbacks.
type txStore struct {
	q queryer
}

func (t *txStore) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return createBooking(ctx, t.q, booking)
}

func (t *txStore) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, t.q, id)
}

func (t *txStore) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	return updateBooking(ctx, t.q, booking)
}

func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return createBooking(ctx, db.DB, booking)
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, db.DB, id)
}

func (db *DB) UpdateBooking(ctx context.Context, booking *models.Booking) error {
	return updateBooking(ctx, db.DB, booking)
}

func createBooking(ctx context.Context, q queryer, booking *models.Booking) error {
	query := `INSERT INTO bookings (
				user_id, vehicle_id, facility_id, slot_index, booked_start, booked_end,
				duration_minutes, base_amount, extra_time_amount, total_amount, payment_mode,
				payment_status, status, hold_expires_at, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = booking.CreatedAt
	booking.Version = 1

	result, err := q.ExecContext(ctx, query,
		booking.UserID,
		booking.VehicleID,
		booking.FacilityID,
		booking.SlotIndex,
		booking.BookedStart.UTC(),
		booking.BookedEnd.UTC(),
		booking.DurationMinutes,
		booking.BaseAmount,
		booking.ExtraTimeAmount,
		booking.TotalAmount,
		string(booking.PaymentMode),
		string(booking.PaymentStatus),
		string(booking.Status),
		booking.HoldExpiresAt.UTC(),
		booking.CreatedAt.UTC(),
		booking.UpdatedAt.UTC(),
		booking.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("facility %s slot %d already booked: %w", booking.FacilityID, booking.SlotIndex, domain.ErrSlotUnavailable)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	return nil
}

func getBooking(ctx context.Context, q queryer, id int64) (*models.Booking, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	booking, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrBookingNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// updateBooking writes every mutable field, guarded by the row version.
func updateBooking(ctx context.Context, q queryer, booking *models.Booking) error {
	query := `UPDATE bookings SET
				base_amount = ?, extra_time_amount = ?, total_amount = ?,
				payment_mode = ?, payment_status = ?, status = ?,
				checked_in_at = ?, checked_out_at = ?,
				updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, query,
		booking.BaseAmount,
		booking.ExtraTimeAmount,
		booking.TotalAmount,
		string(booking.PaymentMode),
		string(booking.PaymentStatus),
		string(booking.Status),
		nullTime(booking.CheckedInAt),
		nullTime(booking.CheckedOutAt),
		now,
		booking.ID,
		booking.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("booking %d: %w", booking.ID, domain.ErrSlotUnavailable)
		}
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("booking %d version %d: %w", booking.ID, booking.Version, domain.ErrConcurrentModification)
	}
	booking.Version++
	booking.UpdatedAt = now
	return nil
}

// ListExpiredHolds returns HOLD bookings whose grace window ended before now.
func (db *DB) ListExpiredHolds(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status = ? AND hold_expires_at <= ? ORDER BY hold_expires_at ASC`,
		string(models.BookingHold), now.UTC())
}

// ListActiveBookings returns every booking that still owns its slot.
func (db *DB) ListActiveBookings(ctx context.Context) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE status IN (?, ?, ?) ORDER BY id ASC`,
		string(models.BookingHold), string(models.BookingConfirmed), string(models.BookingCheckedIn))
}

func (db *DB) ListUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID)
}

// ListBookingsBetween returns bookings whose booked window starts in [from, to).
func (db *DB) ListBookingsBetween(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	return db.queryBookings(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE booked_start >= ? AND booked_start < ? ORDER BY booked_start ASC`,
		from.UTC(), to.UTC())
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return bookings, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                      models.Booking
		paymentMode, payStatus string
		status                 string
		checkedIn, checkedOut  sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.UserID, &b.VehicleID, &b.FacilityID, &b.SlotIndex,
		&b.BookedStart, &b.BookedEnd, &b.DurationMinutes,
		&b.BaseAmount, &b.ExtraTimeAmount, &b.TotalAmount,
		&paymentMode, &payStatus, &status,
		&b.HoldExpiresAt, &checkedIn, &checkedOut,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.PaymentMode = models.PaymentMode(paymentMode)
	b.PaymentStatus = models.PaymentStatus(payStatus)
	b.Status = models.BookingStatus(status)
	if checkedIn.Valid {
		t := checkedIn.Time
		b.CheckedInAt = &t
	}
	if checkedOut.Valid {
		t := checkedOut.Time
		b.CheckedOutAt = &t
	}
	return &b, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
