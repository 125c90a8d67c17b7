// Package entities contains the core domain objects for the water quality analyzer
package entities

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Characteristic represents a single entry in the Water Quality Portal
// characteristic name vocabulary.
type Characteristic struct {
	ID         int64
	Name       string    // Characteristic name, e.g. "Nitrate" or "Oil and Grease"
	Providers  string    // Space-separated list of WQP data providers (NWIS, STORET, ...)
	Valid      bool      // False once validation found no numeric Gulf data for it
	Embedding  []float64 // Embedding vector, empty until embedded
	EmbeddedAt time.Time // When the embedding was computed
}

// Measurement is a single filtered observation for a characteristic.
type Measurement struct {
	Date  time.Time // ActivityStartDate
	Value float64   // ResultMeasureValue
}

// Match pairs a characteristic name with its similarity score against a scenario.
type Match struct {
	Name  string
	Score float64
}

// AnalysisRun records one completed or failed analysis in the run history.
type AnalysisRun struct {
	ID          int64
	Scenario    string
	Status      string // running, completed, error
	ChartCount  int
	StartedAt   time.Time
	CompletedAt time.Time
}

var badTagChars = regexp.MustCompile(`[\\/:*?"<>|]+`)
var tagSpaces = regexp.MustCompile(`\s+`)

// SafeTag converts a characteristic name into a filesystem-safe tag used in
// chart and CSV filenames.
func SafeTag(name string) string {
	s := badTagChars.ReplaceAllString(name, "_")
	s = tagSpaces.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	if utf8.RuneCountInString(s) > 80 {
		// Cap on a rune boundary so multi-byte names stay valid UTF-8
		s = string([]rune(s)[:80])
		s = strings.TrimRight(s, "._")
	}
	if s == "" {
		return "value"
	}
	return s
}
