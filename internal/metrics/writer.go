package metrics

// Periodic metrics output (CSV)

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Writer appends registry snapshots to a CSV file, one row per sample.
type Writer struct {
	csvFile   *os.File
	csvWriter *csv.Writer
}

// NewWriter creates or truncates path and writes the CSV header.
func NewWriter(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create CSV file: %w", err)
	}
	w := &Writer{csvFile: file, csvWriter: csv.NewWriter(file)}
	if err := w.csvWriter.Write([]string{"timestamp", "name", "kind", "value"}); err != nil {
		file.Close()
		return nil, fmt.Errorf("write CSV header: %w", err)
	}
	w.csvWriter.Flush()
	return w, nil
}

// WriteSnapshot appends samples stamped with at.
func (w *Writer) WriteSnapshot(at time.Time, samples []Sample) error {
	stamp := at.UTC().Format(time.RFC3339Nano)
	for _, s := range samples {
		kind := "counter"
		if s.Gauge {
			kind = "gauge"
		}
		if err := w.csvWriter.Write([]string{stamp, s.Name, kind, formatInt(s.Value)}); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}
	}
	w.csvWriter.Flush()
	return w.csvWriter.Error()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	w.csvWriter.Flush()
	return w.csvFile.Close()
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
