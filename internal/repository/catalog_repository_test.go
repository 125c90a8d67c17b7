package repository

import (
	"path/filepath"
	"testing"

	"github.com/gulfwater/gulfwq/internal/entities"
)

func newTestRepository(t *testing.T) *SQLiteCatalogRepository {
	t.Helper()
	repo, err := NewSQLiteCatalogRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSaveCharacteristicsUpsert(t *testing.T) {
	repo := newTestRepository(t)

	initial := []entities.Characteristic{
		{Name: "Nitrate", Providers: "NWIS"},
		{Name: "pH", Providers: "STORET"},
	}
	if err := repo.SaveCharacteristics(initial); err != nil {
		t.Fatalf("SaveCharacteristics failed: %v", err)
	}

	// Second save with an updated provider list must not duplicate rows
	update := []entities.Characteristic{
		{Name: "Nitrate", Providers: "NWIS STORET"},
	}
	if err := repo.SaveCharacteristics(update); err != nil {
		t.Fatalf("SaveCharacteristics (update) failed: %v", err)
	}

	count, err := repo.CountCharacteristics()
	if err != nil {
		t.Fatalf("CountCharacteristics failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 characteristics after upsert, got %d", count)
	}

	all, err := repo.GetCharacteristics(false)
	if err != nil {
		t.Fatalf("GetCharacteristics failed: %v", err)
	}
	for _, c := range all {
		if c.Name == "Nitrate" && c.Providers != "NWIS STORET" {
			t.Errorf("Expected providers updated on conflict, got %q", c.Providers)
		}
	}
}

func TestMarkInvalidExcludesFromMatching(t *testing.T) {
	repo := newTestRepository(t)

	if err := repo.SaveCharacteristics([]entities.Characteristic{
		{Name: "Nitrate"},
		{Name: "Turbidity severity (choice list)"},
	}); err != nil {
		t.Fatalf("SaveCharacteristics failed: %v", err)
	}
	if err := repo.SaveEmbedding("Nitrate", []float64{0.1, 0.2}); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}
	if err := repo.SaveEmbedding("Turbidity severity (choice list)", []float64{0.3, 0.4}); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}

	if err := repo.MarkInvalid("Turbidity severity (choice list)"); err != nil {
		t.Fatalf("MarkInvalid failed: %v", err)
	}

	embedded, err := repo.GetEmbeddedCharacteristics()
	if err != nil {
		t.Fatalf("GetEmbeddedCharacteristics failed: %v", err)
	}
	if len(embedded) != 1 || embedded[0].Name != "Nitrate" {
		t.Fatalf("Expected only Nitrate to remain matchable, got %v", embedded)
	}

	// Restoring validity brings it back
	if err := repo.MarkValid("Turbidity severity (choice list)"); err != nil {
		t.Fatalf("MarkValid failed: %v", err)
	}
	embedded, err = repo.GetEmbeddedCharacteristics()
	if err != nil {
		t.Fatalf("GetEmbeddedCharacteristics failed: %v", err)
	}
	if len(embedded) != 2 {
		t.Fatalf("Expected 2 matchable characteristics after MarkValid, got %d", len(embedded))
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	repo := newTestRepository(t)

	if err := repo.SaveCharacteristics([]entities.Characteristic{{Name: "Nitrate"}}); err != nil {
		t.Fatalf("SaveCharacteristics failed: %v", err)
	}

	names, err := repo.GetUnembeddedNames()
	if err != nil {
		t.Fatalf("GetUnembeddedNames failed: %v", err)
	}
	if len(names) != 1 || names[0] != "Nitrate" {
		t.Fatalf("Expected Nitrate to be unembedded, got %v", names)
	}

	vector := []float64{0.25, -0.5, 1.0}
	if err := repo.SaveEmbedding("Nitrate", vector); err != nil {
		t.Fatalf("SaveEmbedding failed: %v", err)
	}

	names, err = repo.GetUnembeddedNames()
	if err != nil {
		t.Fatalf("GetUnembeddedNames failed: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("Expected no unembedded names, got %v", names)
	}

	embedded, err := repo.GetEmbeddedCharacteristics()
	if err != nil {
		t.Fatalf("GetEmbeddedCharacteristics failed: %v", err)
	}
	if len(embedded) != 1 {
		t.Fatalf("Expected 1 embedded characteristic, got %d", len(embedded))
	}
	got := embedded[0].Embedding
	if len(got) != len(vector) {
		t.Fatalf("Embedding length mismatch: %d vs %d", len(got), len(vector))
	}
	for i := range vector {
		if got[i] != vector[i] {
			t.Errorf("Embedding[%d] = %g, expected %g", i, got[i], vector[i])
		}
	}
	if embedded[0].EmbeddedAt.IsZero() {
		t.Error("Expected EmbeddedAt to be set")
	}
}

func TestSaveEmbeddingUnknownName(t *testing.T) {
	repo := newTestRepository(t)
	if err := repo.SaveEmbedding("Nope", []float64{1}); err == nil {
		t.Fatal("Expected an error embedding an unknown characteristic")
	}
}

func TestRunHistory(t *testing.T) {
	repo := newTestRepository(t)

	id, err := repo.SaveRun(entities.AnalysisRun{
		Scenario: "oil spill near the coast",
		Status:   "running",
	})
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected a non-zero run id")
	}

	if err := repo.FinishRun(id, "completed", 7); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	runs, err := repo.GetRecentRuns(10)
	if err != nil {
		t.Fatalf("GetRecentRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}

	run := runs[0]
	if run.Scenario != "oil spill near the coast" {
		t.Errorf("Unexpected scenario: %s", run.Scenario)
	}
	if run.Status != "completed" {
		t.Errorf("Expected status completed, got %s", run.Status)
	}
	if run.ChartCount != 7 {
		t.Errorf("Expected 7 charts, got %d", run.ChartCount)
	}
	if run.StartedAt.IsZero() {
		t.Error("Expected StartedAt to be set")
	}
	if run.CompletedAt.IsZero() {
		t.Error("Expected CompletedAt to be set")
	}
}
