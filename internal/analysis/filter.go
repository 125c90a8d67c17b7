// Package analysis filters raw Water Quality Portal result exports down to
// the chartable date/value series.
package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gulfwater/gulfwq/internal/entities"
)

// MinDataPoints is the smallest series worth charting. Characteristics with
// fewer surviving observations are skipped.
const MinDataPoints = 4

// ErrInsufficientData signals that a characteristic had too few numeric
// observations and should be skipped rather than treated as a failure.
var ErrInsufficientData = errors.New("insufficient data points")

const (
	dateColumn  = "ActivityStartDate"
	valueColumn = "ResultMeasureValue"
)

// Result exports use ISO dates; older records occasionally carry a time part.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// FilterMeasurements reads a raw WQP result CSV and keeps only rows with both
// a parseable date and a numeric measure value, sorted by date ascending.
func FilterMeasurements(r io.Reader) ([]entities.Measurement, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // WQP exports occasionally have ragged rows
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrInsufficientData
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %v", err)
	}

	dateIdx, valueIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(col) {
		case dateColumn:
			dateIdx = i
		case valueColumn:
			valueIdx = i
		}
	}
	if dateIdx < 0 || valueIdx < 0 {
		return nil, fmt.Errorf("CSV is missing required columns %s and/or %s", dateColumn, valueColumn)
	}

	var measurements []entities.Measurement
	rowCount := 0
	droppedRows := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			// A single malformed row should not discard the rest of the export
			droppedRows++
			continue
		}
		if err != nil {
			// Anything else is the reader itself failing (a dropped
			// connection mid-body) and will never recover
			return nil, fmt.Errorf("failed to read CSV body: %v", err)
		}
		rowCount++

		if dateIdx >= len(record) || valueIdx >= len(record) {
			droppedRows++
			continue
		}

		dateStr := strings.TrimSpace(record[dateIdx])
		valueStr := strings.TrimSpace(record[valueIdx])
		if dateStr == "" || valueStr == "" {
			droppedRows++
			continue
		}

		date, ok := parseDate(dateStr)
		if !ok {
			droppedRows++
			continue
		}

		value, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			// Text results like "Not Detected" are dropped, matching the
			// numeric coercion the charts need
			droppedRows++
			continue
		}

		measurements = append(measurements, entities.Measurement{
			Date:  date,
			Value: value,
		})
	}

	log.Printf("Filtered CSV: %d rows read, %d kept, %d dropped", rowCount, len(measurements), droppedRows)

	if len(measurements) < MinDataPoints {
		return nil, fmt.Errorf("%w: only %d data points found", ErrInsufficientData, len(measurements))
	}

	sort.Slice(measurements, func(i, j int) bool {
		return measurements[i].Date.Before(measurements[j].Date)
	})

	return measurements, nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// WriteFilteredCSV persists a filtered series under the response data
// directory and returns the written path.
func WriteFilteredCSV(dir, characteristicName string, measurements []entities.Measurement) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create response data directory: %v", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("filtered_result_%s.csv", entities.SafeTag(characteristicName)))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create filtered CSV: %v", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write([]string{dateColumn, valueColumn}); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %v", err)
	}
	for _, m := range measurements {
		record := []string{
			m.Date.Format("2006-01-02"),
			strconv.FormatFloat(m.Value, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("failed to write CSV record: %v", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to flush filtered CSV: %v", err)
	}

	log.Printf("Filtered file saved to: %s", path)
	return path, nil
}

// Stats summarizes a filtered series for logging and the run report.
type Stats struct {
	Count    int
	MinDate  time.Time
	MaxDate  time.Time
	MinValue float64
	MaxValue float64
}

// Summarize computes the date and value ranges of a series. The series is
// assumed non-empty and date-sorted, as FilterMeasurements returns it.
func Summarize(measurements []entities.Measurement) Stats {
	stats := Stats{
		Count:    len(measurements),
		MinDate:  measurements[0].Date,
		MaxDate:  measurements[len(measurements)-1].Date,
		MinValue: measurements[0].Value,
		MaxValue: measurements[0].Value,
	}
	for _, m := range measurements[1:] {
		if m.Value < stats.MinValue {
			stats.MinValue = m.Value
		}
		if m.Value > stats.MaxValue {
			stats.MaxValue = m.Value
		}
	}
	return stats
}
