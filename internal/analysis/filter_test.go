package analysis

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// sampleCSV mimics a WQP result export: extra columns, rows with missing
// values, text results, and out-of-order dates.
const sampleCSV = `OrganizationIdentifier,ActivityStartDate,CharacteristicName,ResultMeasureValue,ResultMeasure/MeasureUnitCode
USGS-TX,2001-05-12,Nitrate,1.4,mg/l
USGS-TX,2000-03-01,Nitrate,2.1,mg/l
USGS-TX,2003-07-30,Nitrate,,mg/l
USGS-TX,,Nitrate,0.5,mg/l
USGS-TX,2002-11-02,Nitrate,Not Detected,mg/l
USGS-TX,1999-01-15,Nitrate,3.3,mg/l
USGS-TX,2004-02-20,Nitrate,0.9,mg/l
`

func TestFilterMeasurements(t *testing.T) {
	measurements, err := FilterMeasurements(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("FilterMeasurements failed: %v", err)
	}

	if len(measurements) != 4 {
		t.Fatalf("Expected 4 surviving measurements, got %d", len(measurements))
	}

	// Rows must come back sorted by date ascending
	for i := 1; i < len(measurements); i++ {
		if measurements[i].Date.Before(measurements[i-1].Date) {
			t.Errorf("Measurements not sorted: %v before %v",
				measurements[i].Date, measurements[i-1].Date)
		}
	}

	first := measurements[0]
	expectedDate := time.Date(1999, time.January, 15, 0, 0, 0, 0, time.UTC)
	if !first.Date.Equal(expectedDate) {
		t.Errorf("Expected first date %v, got %v", expectedDate, first.Date)
	}
	if first.Value != 3.3 {
		t.Errorf("Expected first value 3.3, got %g", first.Value)
	}
}

func TestFilterMeasurementsInsufficientData(t *testing.T) {
	csv := `ActivityStartDate,ResultMeasureValue
2001-05-12,1.4
2002-06-13,2.0
2003-07-14,3.1
`
	_, err := FilterMeasurements(strings.NewReader(csv))
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Expected ErrInsufficientData for 3 points, got %v", err)
	}
}

func TestFilterMeasurementsEmptyBody(t *testing.T) {
	_, err := FilterMeasurements(strings.NewReader(""))
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Expected ErrInsufficientData for empty body, got %v", err)
	}
}

// failingReader serves some initial bytes and then errors on every
// subsequent Read, the way a response body behaves when the connection
// drops mid-transfer.
type failingReader struct {
	head io.Reader
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	n, err := r.head.Read(p)
	if err == io.EOF {
		return n, r.err
	}
	return n, err
}

func TestFilterMeasurementsReaderFailure(t *testing.T) {
	head := `ActivityStartDate,ResultMeasureValue
2001-05-12,1.4
`
	reader := &failingReader{
		head: strings.NewReader(head),
		err:  errors.New("read tcp: connection reset by peer"),
	}

	done := make(chan error, 1)
	go func() {
		_, err := FilterMeasurements(reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Expected an error for a failing reader")
		}
		if errors.Is(err, ErrInsufficientData) {
			t.Fatalf("Reader failure must not look like sparse data: %v", err)
		}
		if !strings.Contains(err.Error(), "connection reset") {
			t.Errorf("Expected the reader error to surface, got: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("FilterMeasurements did not return for a persistently failing reader")
	}
}

func TestFilterMeasurementsMissingColumns(t *testing.T) {
	csv := `OrganizationIdentifier,CharacteristicName
USGS-TX,Nitrate
`
	_, err := FilterMeasurements(strings.NewReader(csv))
	if err == nil || errors.Is(err, ErrInsufficientData) {
		t.Fatalf("Expected a column error, got %v", err)
	}
}

func TestWriteFilteredCSV(t *testing.T) {
	measurements, err := FilterMeasurements(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("FilterMeasurements failed: %v", err)
	}

	dir := t.TempDir()
	path, err := WriteFilteredCSV(dir, "Nitrate", measurements)
	if err != nil {
		t.Fatalf("WriteFilteredCSV failed: %v", err)
	}

	if filepath.Base(path) != "filtered_result_Nitrate.csv" {
		t.Errorf("Unexpected filtered CSV name: %s", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read filtered CSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) != len(measurements)+1 {
		t.Fatalf("Expected %d lines (header + rows), got %d", len(measurements)+1, len(lines))
	}
	if lines[0] != "ActivityStartDate,ResultMeasureValue" {
		t.Errorf("Unexpected header line: %s", lines[0])
	}
	if lines[1] != "1999-01-15,3.3" {
		t.Errorf("Unexpected first data line: %s", lines[1])
	}
}

func TestSummarize(t *testing.T) {
	measurements, err := FilterMeasurements(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("FilterMeasurements failed: %v", err)
	}

	stats := Summarize(measurements)
	if stats.Count != 4 {
		t.Errorf("Expected count 4, got %d", stats.Count)
	}
	if stats.MinValue != 0.9 {
		t.Errorf("Expected min value 0.9, got %g", stats.MinValue)
	}
	if stats.MaxValue != 3.3 {
		t.Errorf("Expected max value 3.3, got %g", stats.MaxValue)
	}
	if !stats.MinDate.Before(stats.MaxDate) {
		t.Errorf("Expected min date %v before max date %v", stats.MinDate, stats.MaxDate)
	}
}
