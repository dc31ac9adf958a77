// Package export writes normalized records as CSV with a fixed header row.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/JakeFAU/catalog-crawler/internal/normalizer"
)

// ContentType is the media type of exported files.
const ContentType = "text/csv; charset=utf-8"

// Write emits the header row followed by one row per non-nil record, in
// order. It returns the number of data rows written.
func Write(w io.Writer, columns []string, records []normalizer.Record) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	rows := 0
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := cw.Write(rec.Row(columns)); err != nil {
			return rows, fmt.Errorf("write row %d: %w", rows+1, err)
		}
		rows++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}
	return rows, nil
}
