package export

import (
	"fmt"
	"io"
	"time"

	"tablebook/internal/model"
	"tablebook/shared/audit"
)

// XLSXFilename names a spreadsheet export taken at now.
func XLSXFilename(now time.Time) string {
	return "reservations-" + now.UTC().Format("2006-01-02T15-04-05Z") + ".xlsx"
}

// WriteXLSX writes the same rows as WriteCSV into a single-sheet workbook.
func WriteXLSX(w io.Writer, list []model.Reservation) error {
	x := audit.NewExcelizeWriter()
	defer x.Close()

	if err := x.AddSheet("reservations"); err != nil {
		return err
	}
	if err := x.WriteHeader(ReservationColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range list {
		rec := reservationRecord(&list[i])
		row := make([]interface{}, len(rec))
		for j, v := range rec {
			row[j] = v
		}
		// keep party size numeric
		row[4] = list[i].PartySize
		if err := x.WriteRow(row); err != nil {
			return fmt.Errorf("write reservation %s: %w", list[i].ID, err)
		}
	}
	return x.Save(w)
}
