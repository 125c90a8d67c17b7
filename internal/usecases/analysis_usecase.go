// Package usecases contains the application's business logic
package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/gulfwater/gulfwq/internal/analysis"
	"github.com/gulfwater/gulfwq/internal/entities"
	"github.com/gulfwater/gulfwq/internal/integration"
	"github.com/gulfwater/gulfwq/internal/integration/openai"
	"github.com/gulfwater/gulfwq/internal/repository"
	"golang.org/x/sync/errgroup"
)

// Workers bounds how many characteristics are processed concurrently.
const Workers = 3

// ErrAnalysisRunning is returned when a new analysis is requested while one
// is already in progress.
var ErrAnalysisRunning = errors.New("analysis already in progress")

// Status mirrors the analysis state exposed to the web UI.
type Status struct {
	Status               string  `json:"status"` // idle, running, completed, error
	Message              string  `json:"message"`
	Progress             float64 `json:"progress"`
	TotalCharacteristics int     `json:"total_characteristics"`
	CompletedCharts      int     `json:"completed_charts"`
	CurrentScenario      string  `json:"current_scenario"`
	ErrorMessage         string  `json:"error_message"`
}

// ResultFetcher is the slice of the WQP client the pipeline needs.
type ResultFetcher interface {
	FetchResultCSV(ctx context.Context, characteristicName, startDateLo string) (io.ReadCloser, error)
	FetchCharacteristicNames(ctx context.Context) ([]entities.Characteristic, error)
}

// CharacteristicMatcher finds catalog entries related to a scenario.
type CharacteristicMatcher interface {
	TopMatches(ctx context.Context, query string, topK int) ([]entities.Match, error)
}

// ChartRenderer renders a filtered series into a chart file.
type ChartRenderer interface {
	Render(characteristicName string, measurements []entities.Measurement) (string, error)
}

// AnalysisUseCase orchestrates the scenario analysis pipeline: match
// characteristics, fetch Gulf measurements, filter, and chart.
type AnalysisUseCase struct {
	repo        repository.CatalogRepository
	fetcher     ResultFetcher
	aiService   openai.AIService
	matcher     CharacteristicMatcher
	renderer    ChartRenderer
	responseDir string
	topK        int

	mu    sync.Mutex
	state Status
}

var _ ResultFetcher = (*integration.WQPClient)(nil)

// NewAnalysisUseCase creates a new analysis use case.
func NewAnalysisUseCase(
	repo repository.CatalogRepository,
	fetcher ResultFetcher,
	aiService openai.AIService,
	matcher CharacteristicMatcher,
	renderer ChartRenderer,
	responseDir string,
) *AnalysisUseCase {
	if responseDir == "" {
		responseDir = "ResponseData"
	}
	return &AnalysisUseCase{
		repo:        repo,
		fetcher:     fetcher,
		aiService:   aiService,
		matcher:     matcher,
		renderer:    renderer,
		responseDir: responseDir,
		topK:        0, // matcher default
		state: Status{
			Status:  "idle",
			Message: "Ready to analyze",
		},
	}
}

// GetStatus returns a snapshot of the current analysis state.
func (uc *AnalysisUseCase) GetStatus() Status {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state
}

// StartAnalysis launches an analysis in the background. Only one analysis may
// run at a time.
func (uc *AnalysisUseCase) StartAnalysis(scenario string) error {
	scenario = strings.TrimSpace(scenario)
	if scenario == "" {
		return errors.New("no scenario provided")
	}

	uc.mu.Lock()
	if uc.state.Status == "running" {
		uc.mu.Unlock()
		return ErrAnalysisRunning
	}
	uc.state = Status{
		Status:          "running",
		Message:         "Starting analysis...",
		CurrentScenario: scenario,
	}
	uc.mu.Unlock()

	go func() {
		if err := uc.runAnalysis(context.Background(), scenario); err != nil {
			log.Printf("Analysis failed: %v", err)
		}
	}()

	return nil
}

// RunAnalysis executes the pipeline synchronously. Used by the CLI entry
// point; the web server goes through StartAnalysis instead.
func (uc *AnalysisUseCase) RunAnalysis(ctx context.Context, scenario string) error {
	scenario = strings.TrimSpace(scenario)
	if scenario == "" {
		return errors.New("no scenario provided")
	}

	uc.mu.Lock()
	if uc.state.Status == "running" {
		uc.mu.Unlock()
		return ErrAnalysisRunning
	}
	uc.state = Status{
		Status:          "running",
		Message:         "Starting analysis...",
		CurrentScenario: scenario,
	}
	uc.mu.Unlock()

	return uc.runAnalysis(ctx, scenario)
}

func (uc *AnalysisUseCase) runAnalysis(ctx context.Context, scenario string) error {
	query, startDate := uc.interpretScenario(ctx, scenario)

	uc.updateState(func(s *Status) {
		s.Message = "Matching characteristics..."
		s.Progress = 5
	})

	matches, err := uc.matcher.TopMatches(ctx, query, uc.topK)
	if err != nil {
		uc.failAnalysis(fmt.Sprintf("Analysis failed: %v", err))
		return fmt.Errorf("failed to match characteristics: %w", err)
	}

	total := len(matches)
	log.Printf("Scenario matched %d characteristics", total)
	uc.updateState(func(s *Status) {
		s.Message = fmt.Sprintf("Found %d related characteristics", total)
		s.Progress = 15
		s.TotalCharacteristics = total
	})

	runID, err := uc.repo.SaveRun(entities.AnalysisRun{
		Scenario: scenario,
		Status:   "running",
	})
	if err != nil {
		log.Printf("Warning: failed to record analysis run: %v", err)
	}

	var mu sync.Mutex
	completed := 0
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Workers)

	for _, match := range matches {
		name := match.Name
		g.Go(func() error {
			charted, err := uc.processCharacteristic(gctx, name, startDate)
			if err != nil {
				// A single characteristic failing never fails the run
				log.Printf("Error processing %s: %v", name, err)
			}

			mu.Lock()
			processed++
			if charted {
				completed++
			}
			done, made := processed, completed
			mu.Unlock()

			uc.updateState(func(s *Status) {
				s.Progress = 15 + 80*float64(done)/float64(total)
				s.CompletedCharts = made
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		uc.failAnalysis(fmt.Sprintf("Analysis failed: %v", err))
		if runID != 0 {
			uc.finishRun(runID, "error", completed)
		}
		return err
	}

	uc.updateState(func(s *Status) {
		s.Status = "completed"
		s.Message = fmt.Sprintf("Analysis completed! Generated %d charts.", completed)
		s.Progress = 100
	})
	if runID != 0 {
		uc.finishRun(runID, "completed", completed)
	}

	log.Printf("Analysis completed: %d/%d characteristics charted", completed, total)
	return nil
}

// interpretScenario refines free text into a search query and optional start
// date. Any AI failure falls back to embedding the raw scenario directly.
func (uc *AnalysisUseCase) interpretScenario(ctx context.Context, scenario string) (query, startDate string) {
	intent, err := uc.aiService.InterpretScenario(ctx, scenario)
	if err != nil {
		log.Printf("Scenario interpretation failed, using raw scenario: %v", err)
		return scenario, ""
	}
	if strings.TrimSpace(intent.SearchQuery) == "" {
		return scenario, intent.StartDate
	}
	log.Printf("Interpreted scenario as query %q (start date %q)", intent.SearchQuery, intent.StartDate)
	return intent.SearchQuery, intent.StartDate
}

// processCharacteristic runs fetch, filter, and chart for one characteristic.
// Returns true when a chart was produced, false when the characteristic was
// skipped for lack of data.
func (uc *AnalysisUseCase) processCharacteristic(ctx context.Context, name, startDate string) (bool, error) {
	uc.updateState(func(s *Status) {
		s.Message = fmt.Sprintf("Fetching data for %s", name)
	})

	body, err := uc.fetcher.FetchResultCSV(ctx, name, startDate)
	if err != nil {
		return false, fmt.Errorf("fetch failed: %w", err)
	}
	defer body.Close()

	uc.updateState(func(s *Status) {
		s.Message = fmt.Sprintf("Filtering data for %s", name)
	})

	measurements, err := analysis.FilterMeasurements(body)
	if err != nil {
		if errors.Is(err, analysis.ErrInsufficientData) {
			log.Printf("Insufficient data for %s. Skipping...", name)
			return false, nil
		}
		return false, fmt.Errorf("filter failed: %w", err)
	}

	if _, err := analysis.WriteFilteredCSV(uc.responseDir, name, measurements); err != nil {
		// The CSV artifact is best-effort; the chart is the product
		log.Printf("Warning: failed to write filtered CSV for %s: %v", name, err)
	}

	uc.updateState(func(s *Status) {
		s.Message = fmt.Sprintf("Creating chart for %s", name)
	})

	if _, err := uc.renderer.Render(name, measurements); err != nil {
		return false, fmt.Errorf("chart rendering failed: %w", err)
	}

	return true, nil
}

// GetRecentRuns exposes the persisted run history.
func (uc *AnalysisUseCase) GetRecentRuns(limit int) ([]entities.AnalysisRun, error) {
	return uc.repo.GetRecentRuns(limit)
}

func (uc *AnalysisUseCase) updateState(apply func(*Status)) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	apply(&uc.state)
}

func (uc *AnalysisUseCase) failAnalysis(message string) {
	uc.updateState(func(s *Status) {
		s.Status = "error"
		s.Message = message
		s.ErrorMessage = message
		s.Progress = 0
	})
}

func (uc *AnalysisUseCase) finishRun(runID int64, status string, charts int) {
	if err := uc.repo.FinishRun(runID, status, charts); err != nil {
		log.Printf("Warning: failed to finish analysis run %d: %v", runID, err)
	}
}
