// Package api provides the HTTP interface for the analyzer
package api

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gulfwater/gulfwq/internal/charts"
	"github.com/gulfwater/gulfwq/internal/entities"
	"github.com/gulfwater/gulfwq/internal/usecases"
)

//go:embed index.html
var indexHTML []byte

// AnalysisService is the slice of the use case layer the HTTP server needs.
type AnalysisService interface {
	StartAnalysis(scenario string) error
	GetStatus() usecases.Status
	GetRecentRuns(limit int) ([]entities.AnalysisRun, error)
}

// ChartLister enumerates rendered charts and knows where they live.
type ChartLister interface {
	ListCharts() ([]charts.ChartInfo, error)
}

// WebServer serves the browser UI and the JSON API.
type WebServer struct {
	service   AnalysisService
	lister    ChartLister
	chartDir  string
	staticDir string
	server    *http.Server
}

// NewWebServer creates the HTTP server. chartDir is where rendered
// chart_*.html files live; port defaults to 5000.
func NewWebServer(service AnalysisService, lister ChartLister, chartDir string, port int) *WebServer {
	if port <= 0 {
		port = 5000
	}
	if chartDir == "" {
		chartDir = "."
	}

	ws := &WebServer{
		service:   service,
		lister:    lister,
		chartDir:  chartDir,
		staticDir: "static",
	}
	ws.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: ws.Router(),
	}
	return ws
}

// Router builds the chi route tree. Exposed separately for tests.
func (ws *WebServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", ws.handleIndex)
	r.Post("/analyze", ws.handleAnalyze)
	r.Get("/status", ws.handleStatus)
	r.Get("/charts", ws.handleCharts)
	r.Get("/chart/{filename}", ws.handleChart)
	r.Get("/runs", ws.handleRuns)
	r.Get("/health", ws.handleHealth)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(ws.staticDir))))

	return r
}

// Start begins serving. Blocks until the server stops.
func (ws *WebServer) Start() error {
	log.Printf("Starting Gulf Water Quality Analysis web server on %s", ws.server.Addr)
	log.Printf("Open your browser to: http://localhost%s", ws.server.Addr)
	return ws.server.ListenAndServe()
}

func (ws *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

type analyzeRequest struct {
	Scenario string `json:"scenario"`
}

func (ws *WebServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	scenario := strings.TrimSpace(req.Scenario)
	if scenario == "" {
		writeError(w, http.StatusBadRequest, "No scenario provided")
		return
	}

	if err := ws.service.StartAnalysis(scenario); err != nil {
		if errors.Is(err, usecases.ErrAnalysisRunning) {
			writeError(w, http.StatusBadRequest, "Analysis already in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Printf("Started analysis for scenario: %s", scenario)
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Analysis started",
		"scenario": scenario,
	})
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ws.service.GetStatus())
}

func (ws *WebServer) handleCharts(w http.ResponseWriter, r *http.Request) {
	chartList, err := ws.lister.ListCharts()
	if err != nil {
		log.Printf("Error listing charts: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list charts")
		return
	}
	writeJSON(w, http.StatusOK, chartList)
}

func (ws *WebServer) handleChart(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	// Chart filenames are produced by SafeTag, so anything with path
	// separators or outside the chart_*.html shape is rejected
	if filename != filepath.Base(filename) ||
		!strings.HasPrefix(filename, "chart_") || !strings.HasSuffix(filename, ".html") {
		writeError(w, http.StatusBadRequest, "Invalid chart name")
		return
	}

	path := filepath.Join(ws.chartDir, filename)
	http.ServeFile(w, r, path)
}

func (ws *WebServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := ws.service.GetRecentRuns(limit)
	if err != nil {
		log.Printf("Error listing runs: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	type runResponse struct {
		ID          int64  `json:"id"`
		Scenario    string `json:"scenario"`
		Status      string `json:"status"`
		ChartCount  int    `json:"chart_count"`
		StartedAt   string `json:"started_at"`
		CompletedAt string `json:"completed_at,omitempty"`
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		rr := runResponse{
			ID:         run.ID,
			Scenario:   run.Scenario,
			Status:     run.Status,
			ChartCount: run.ChartCount,
			StartedAt:  run.StartedAt.Format("2006-01-02 15:04:05"),
		}
		if !run.CompletedAt.IsZero() {
			rr.CompletedAt = run.CompletedAt.Format("2006-01-02 15:04:05")
		}
		resp = append(resp, rr)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
