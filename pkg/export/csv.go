package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVRenderer writes the column header followed by one record per row.
// Summary lines are not part of the CSV body.
type CSVRenderer struct{}

func NewCSVRenderer() *CSVRenderer {
	return &CSVRenderer{}
}

func (r *CSVRenderer) ContentType() string { return "text/csv" }

// Render produces CSV encoded bytes for the report.
func (r *CSVRenderer) Render(report Report) ([]byte, error) {
	if len(report.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(report.Columns); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for i, row := range report.Rows {
		if len(row) != len(report.Columns) {
			return nil, fmt.Errorf("csv row %d has %d cells, want %d", i, len(row), len(report.Columns))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
