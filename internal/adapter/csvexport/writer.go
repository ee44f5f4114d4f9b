// Package csvexport writes aggregated boundary tables as CSV files.
package csvexport

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// Writer exports tables into a directory, one file per table. Files are
// named <source>_<variable>.csv and overwritten on re-export so repeated
// runs converge on the same output set.
type Writer struct {
	dir    string
	logger *slog.Logger
}

func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// Export writes one table and returns the path of the written file. The
// header row is the boundary attribute names followed by one column per
// period; missing values become empty cells.
func (w *Writer) Export(_ context.Context, table *domain.Table) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.csv", table.Source, table.Variable))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(headerRecord(table)); err != nil {
		return "", fmt.Errorf("write header: %w", err)
	}
	for _, row := range table.Rows {
		if err := cw.Write(rowRecord(table, row)); err != nil {
			return "", fmt.Errorf("write row %d: %w", row.BoundaryID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	w.logger.Info("table exported",
		"path", path, "variable", table.Variable, "unit", table.Unit, "rows", len(table.Rows))
	return path, nil
}

func headerRecord(table *domain.Table) []string {
	record := make([]string, 0, len(table.AttrNames)+len(table.Periods))
	record = append(record, table.AttrNames...)
	return append(record, table.Periods...)
}

func rowRecord(table *domain.Table, row domain.Row) []string {
	record := make([]string, 0, len(table.AttrNames)+len(row.Values))
	for _, name := range table.AttrNames {
		record = append(record, row.Attrs[name])
	}
	for _, v := range row.Values {
		record = append(record, formatValue(v))
	}
	return record
}

// formatValue renders a cell. NaN marks a boundary with no usable data for
// that period and is written as an empty cell.
func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
