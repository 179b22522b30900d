// Package report renders booking and anomaly workbooks.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"parkwise/internal/logging"
	"parkwise/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet  = "Bookings"
	revenueSheet   = "Revenue"
	anomaliesSheet = "Anomalies"

	timeLayout = "2006-01-02 15:04"
)

type BookingSource interface {
	ListBookingsBetween(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
}

type AnomalySource interface {
	ListAnomalies(ctx context.Context, openOnly bool) ([]*models.Anomaly, error)
}

type Exporter struct {
	bookings  BookingSource
	anomalies AnomalySource
	dir       string
	logger    *zerolog.Logger
}

// NewExporter saves workbooks under dir.
func NewExporter(bookings BookingSource, anomalies AnomalySource, dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		bookings:  bookings,
		anomalies: anomalies,
		dir:       dir,
		logger:    logging.Component(logger, "report"),
	}
}

// WriteAnomalies streams the anomaly workbook to w.
func (e *Exporter) WriteAnomalies(ctx context.Context, w io.Writer, openOnly bool) error {
	anomalies, err := e.anomalies.ListAnomalies(ctx, openOnly)
	if err != nil {
		return fmt.Errorf("list anomalies: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := newSheet(f, anomaliesSheet, []string{
		"ID", "Detected at", "Facility", "Slot", "Booking", "Camera", "Observed", "Resolved",
	}); err != nil {
		return err
	}

	for i, a := range anomalies {
		row := []interface{}{
			a.ID, a.DetectedAt.Format(timeLayout), a.FacilityID, a.SlotIndex,
			a.BookingID, a.CameraID, string(a.ObservedStatus), yesNo(a.Resolved),
		}
		if err := setRow(f, anomaliesSheet, i+2, row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(anomaliesSheet, "A", "H", 18)
	_ = f.DeleteSheet("Sheet1")

	return f.Write(w)
}

// SaveBookings writes bookings starting in [from, to) plus a per-facility
// revenue summary and returns the file path.
func (e *Exporter) SaveBookings(ctx context.Context, from, to time.Time) (string, error) {
	if !from.Before(to) {
		return "", fmt.Errorf("empty period %s - %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	bookings, err := e.bookings.ListBookingsBetween(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("list bookings: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := e.writeBookings(f, bookings); err != nil {
		return "", err
	}
	if err := e.writeRevenue(f, bookings); err != nil {
		return "", err
	}
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format(time.DateOnly), to.Format(time.DateOnly))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", len(bookings)).Msg("Excel file created")
	return filePath, nil
}

func (e *Exporter) writeBookings(f *excelize.File, bookings []*models.Booking) error {
	if err := newSheet(f, bookingsSheet, []string{
		"ID", "Facility", "Slot", "Vehicle", "Start", "End", "Status",
		"Payment mode", "Payment status", "Base", "Extra", "Total",
	}); err != nil {
		return err
	}

	for i, b := range bookings {
		row := []interface{}{
			b.ID, b.FacilityID, b.SlotIndex, b.VehicleID,
			b.BookedStart.Format(timeLayout), b.BookedEnd.Format(timeLayout),
			string(b.Status), string(b.PaymentMode), string(b.PaymentStatus),
			b.BaseAmount, b.ExtraTimeAmount, b.TotalAmount,
		}
		if err := setRow(f, bookingsSheet, i+2, row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(bookingsSheet, "A", "L", 16)
	return nil
}

type revenue struct {
	bookings int
	base     float64
	extra    float64
	total    float64
}

// writeRevenue sums completed checkouts per facility.
func (e *Exporter) writeRevenue(f *excelize.File, bookings []*models.Booking) error {
	byFacility := make(map[string]*revenue)
	for _, b := range bookings {
		if b.Status != models.BookingCheckedOut {
			continue
		}
		r, ok := byFacility[b.FacilityID]
		if !ok {
			r = &revenue{}
			byFacility[b.FacilityID] = r
		}
		r.bookings++
		r.base += b.BaseAmount
		r.extra += b.ExtraTimeAmount
		r.total += b.TotalAmount
	}

	ids := make([]string, 0, len(byFacility))
	for id := range byFacility {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if err := newSheet(f, revenueSheet, []string{"Facility", "Checkouts", "Base", "Extra", "Total"}); err != nil {
		return err
	}
	for i, id := range ids {
		r := byFacility[id]
		if err := setRow(f, revenueSheet, i+2, []interface{}{id, r.bookings, r.base, r.extra, r.total}); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(revenueSheet, "A", "E", 16)
	return nil
}

func newSheet(f *excelize.File, name string, headers []string) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}

	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(name, cell, h); err != nil {
			return err
		}
		_ = f.SetCellStyle(name, cell, cell, style)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	return f.SetSheetRow(sheet, cell, &values)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
