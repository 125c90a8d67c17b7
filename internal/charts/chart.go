// Package charts renders filtered measurement series as self-contained
// interactive HTML pages.
package charts

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gulfwater/gulfwq/internal/analysis"
	"github.com/gulfwater/gulfwq/internal/entities"
)

// ChartInfo describes one rendered chart for the listing endpoint.
type ChartInfo struct {
	Title    string `json:"title"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

const chartTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>{{.Title}}</title>
    <script src="https://cdn.jsdelivr.net/npm/echarts@5.4.3/dist/echarts.min.js"></script>
    <style>
        body { margin: 0; font-family: -apple-system, "Segoe UI", sans-serif; background: #ffffff; }
        #chart { width: 1200px; height: 600px; margin: 20px auto; }
    </style>
</head>
<body>
    <div id="chart"></div>
    <script>
    const chart = echarts.init(document.getElementById('chart'));
    const dates = {{.Dates}};
    const values = {{.Values}};
    chart.setOption({
        title: { text: {{.Title}}, left: 'center' },
        tooltip: { trigger: 'axis' },
        xAxis: { type: 'category', name: 'Activity Start Date', data: dates },
        yAxis: { type: 'value', name: 'Result Measure Value', min: {{.YMin}}, max: {{.YMax}}, scale: true },
        series: [{
            name: 'Measurements',
            type: 'line',
            data: values,
            showSymbol: false,
            lineStyle: { color: 'blue', width: 1.5 }
        }],
        dataZoom: [{ type: 'inside' }, { type: 'slider' }]
    });
    window.addEventListener('resize', () => chart.resize());
    </script>
</body>
</html>
`

var chartTmpl = template.Must(template.New("chart").Parse(chartTemplate))

// Renderer writes chart files into a fixed output directory.
type Renderer struct {
	OutputDir string
}

// NewRenderer creates a chart renderer rooted at outputDir. An empty dir
// means the current working directory, matching where the web server looks.
func NewRenderer(outputDir string) *Renderer {
	if outputDir == "" {
		outputDir = "."
	}
	return &Renderer{OutputDir: outputDir}
}

type chartData struct {
	Title  string
	Dates  template.JS
	Values template.JS
	YMin   float64
	YMax   float64
}

// Render writes a line chart for the characteristic and returns the filename.
func (r *Renderer) Render(characteristicName string, measurements []entities.Measurement) (string, error) {
	if len(measurements) == 0 {
		return "", fmt.Errorf("no measurements to chart for %s", characteristicName)
	}

	stats := analysis.Summarize(measurements)
	log.Printf("Chart %s has %d data points", characteristicName, stats.Count)
	log.Printf("Date range: %s to %s", stats.MinDate.Format("2006-01-02"), stats.MaxDate.Format("2006-01-02"))
	log.Printf("Value range: %g to %g", stats.MinValue, stats.MaxValue)

	dates := make([]string, len(measurements))
	values := make([]float64, len(measurements))
	for i, m := range measurements {
		dates[i] = m.Date.Format("2006-01-02")
		values[i] = m.Value
	}

	datesJSON, err := json.Marshal(dates)
	if err != nil {
		return "", fmt.Errorf("failed to encode chart dates: %v", err)
	}
	valuesJSON, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode chart values: %v", err)
	}

	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create chart directory: %v", err)
	}

	filename := fmt.Sprintf("chart_%s.html", entities.SafeTag(characteristicName))
	path := filepath.Join(r.OutputDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create chart file: %v", err)
	}
	defer f.Close()

	data := chartData{
		Title:  fmt.Sprintf("Result Measure Value Over Time for %s", characteristicName),
		Dates:  template.JS(datesJSON),
		Values: template.JS(valuesJSON),
		YMin:   stats.MinValue,
		YMax:   stats.MaxValue,
	}
	if err := chartTmpl.Execute(f, data); err != nil {
		return "", fmt.Errorf("failed to render chart template: %v", err)
	}

	log.Printf("Chart created: %s", path)
	return filename, nil
}

// ListCharts enumerates rendered charts in the output directory. Titles are
// read from each file's <title> element rather than reconstructed from the
// sanitized filename, which is lossy.
func (r *Renderer) ListCharts() ([]ChartInfo, error) {
	pattern := filepath.Join(r.OutputDir, "chart_*.html")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob chart files: %v", err)
	}

	charts := make([]ChartInfo, 0, len(paths))
	for _, path := range paths {
		filename := filepath.Base(path)
		charts = append(charts, ChartInfo{
			Title:    chartTitle(path, filename),
			Filename: filename,
			URL:      "/chart/" + filename,
		})
	}

	sort.Slice(charts, func(i, j int) bool {
		return charts[i].Title < charts[j].Title
	})

	return charts, nil
}

// chartTitle extracts the human-readable title embedded in a chart file.
func chartTitle(path, filename string) string {
	fallback := strings.TrimSuffix(strings.TrimPrefix(filename, "chart_"), ".html")
	fallback = strings.ReplaceAll(fallback, "_", " ")

	f, err := os.Open(path)
	if err != nil {
		log.Printf("Failed to open chart %s for title extraction: %v", filename, err)
		return fallback
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		log.Printf("Failed to parse chart %s: %v", filename, err)
		return fallback
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return fallback
	}
	return strings.TrimPrefix(title, "Result Measure Value Over Time for ")
}

// CleanCharts removes previously rendered chart files. Called at server
// startup so stale charts from an earlier run do not show up in listings.
func (r *Renderer) CleanCharts() {
	paths, err := filepath.Glob(filepath.Join(r.OutputDir, "chart_*.html"))
	if err != nil {
		return
	}
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			log.Printf("Failed to remove stale chart %s: %v", path, err)
		}
	}
	if len(paths) > 0 {
		log.Printf("Removed %d stale chart files", len(paths))
	}
}
