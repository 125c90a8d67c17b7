package charts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gulfwater/gulfwq/internal/entities"
)

func sampleMeasurements() []entities.Measurement {
	base := time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	return []entities.Measurement{
		{Date: base, Value: 1.5},
		{Date: base.AddDate(0, 1, 0), Value: 2.25},
		{Date: base.AddDate(0, 2, 0), Value: 0.75},
		{Date: base.AddDate(0, 3, 0), Value: 3.0},
	}
}

func TestRender(t *testing.T) {
	dir := t.TempDir()
	renderer := NewRenderer(dir)

	filename, err := renderer.Render("Oil and Grease", sampleMeasurements())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if filename != "chart_Oil_and_Grease.html" {
		t.Errorf("Unexpected chart filename: %s", filename)
	}

	content, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("Failed to read chart file: %v", err)
	}
	html := string(content)

	if !strings.Contains(html, "Result Measure Value Over Time for Oil and Grease") {
		t.Error("Chart is missing its title")
	}
	if !strings.Contains(html, "echarts") {
		t.Error("Chart is missing the echarts setup")
	}
	if !strings.Contains(html, "2000-01-01") {
		t.Error("Chart is missing the series dates")
	}
	if !strings.Contains(html, "2.25") {
		t.Error("Chart is missing the series values")
	}
}

func TestRenderEmptySeries(t *testing.T) {
	renderer := NewRenderer(t.TempDir())
	if _, err := renderer.Render("Nitrate", nil); err == nil {
		t.Fatal("Expected an error for an empty series")
	}
}

func TestListCharts(t *testing.T) {
	dir := t.TempDir()
	renderer := NewRenderer(dir)

	names := []string{"Nitrate", "Oil and Grease", "pH"}
	for _, name := range names {
		if _, err := renderer.Render(name, sampleMeasurements()); err != nil {
			t.Fatalf("Render %s failed: %v", name, err)
		}
	}
	// A stray file must not show up in the listing
	if err := os.WriteFile(filepath.Join(dir, "notes.html"), []byte("<html></html>"), 0644); err != nil {
		t.Fatalf("Failed to write stray file: %v", err)
	}

	chartList, err := renderer.ListCharts()
	if err != nil {
		t.Fatalf("ListCharts failed: %v", err)
	}
	if len(chartList) != len(names) {
		t.Fatalf("Expected %d charts, got %d", len(names), len(chartList))
	}

	byTitle := make(map[string]ChartInfo)
	for _, info := range chartList {
		byTitle[info.Title] = info
	}

	// Titles come from the rendered <title>, so the original name survives
	// even though the filename sanitizer replaced the spaces
	info, ok := byTitle["Oil and Grease"]
	if !ok {
		t.Fatalf("Expected a chart titled 'Oil and Grease', got %v", chartList)
	}
	if info.Filename != "chart_Oil_and_Grease.html" {
		t.Errorf("Unexpected filename: %s", info.Filename)
	}
	if info.URL != "/chart/chart_Oil_and_Grease.html" {
		t.Errorf("Unexpected URL: %s", info.URL)
	}
}

func TestCleanCharts(t *testing.T) {
	dir := t.TempDir()
	renderer := NewRenderer(dir)

	if _, err := renderer.Render("Nitrate", sampleMeasurements()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	keep := filepath.Join(dir, "index.html")
	if err := os.WriteFile(keep, []byte("<html></html>"), 0644); err != nil {
		t.Fatalf("Failed to write unrelated file: %v", err)
	}

	renderer.CleanCharts()

	chartList, err := renderer.ListCharts()
	if err != nil {
		t.Fatalf("ListCharts failed: %v", err)
	}
	if len(chartList) != 0 {
		t.Errorf("Expected no charts after cleanup, got %d", len(chartList))
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("Unrelated file should survive cleanup: %v", err)
	}
}
