package usecases

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gulfwater/gulfwq/internal/analysis"
	"github.com/gulfwater/gulfwq/internal/integration/openai"
	"github.com/gulfwater/gulfwq/internal/repository"
)

// InvalidListPath is an optional exclusion file: one characteristic name per
// line, carried over from earlier validation runs.
const InvalidListPath = "invalid.txt"

// CatalogUseCase maintains the characteristic vocabulary: download, exclusion
// of known-bad names, and embedding of new entries.
type CatalogUseCase struct {
	repo      repository.CatalogRepository
	fetcher   ResultFetcher
	aiService openai.AIService
}

// NewCatalogUseCase creates a new catalog use case.
func NewCatalogUseCase(repo repository.CatalogRepository, fetcher ResultFetcher, aiService openai.AIService) *CatalogUseCase {
	return &CatalogUseCase{
		repo:      repo,
		fetcher:   fetcher,
		aiService: aiService,
	}
}

// RefreshCatalog downloads the characteristic vocabulary, applies the invalid
// list if present, and embeds entries that do not yet have a vector.
func (uc *CatalogUseCase) RefreshCatalog(ctx context.Context) error {
	log.Println("Starting characteristic catalog refresh...")

	characteristics, err := uc.fetcher.FetchCharacteristicNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch characteristic names: %w", err)
	}
	log.Printf("Fetched %d characteristic names", len(characteristics))

	if err := uc.repo.SaveCharacteristics(characteristics); err != nil {
		return fmt.Errorf("failed to save characteristics: %w", err)
	}

	if invalid, err := loadInvalidList(InvalidListPath); err != nil {
		log.Printf("Warning: failed to load %s: %v", InvalidListPath, err)
	} else if len(invalid) > 0 {
		log.Printf("Loaded %d invalid characteristic names to exclude", len(invalid))
		for name := range invalid {
			if err := uc.repo.MarkInvalid(name); err != nil {
				log.Printf("Warning: %v", err)
			}
		}
	}

	return uc.embedMissing(ctx)
}

// embedMissing computes and stores vectors for catalog entries without one.
func (uc *CatalogUseCase) embedMissing(ctx context.Context) error {
	names, err := uc.repo.GetUnembeddedNames()
	if err != nil {
		return fmt.Errorf("failed to list unembedded characteristics: %w", err)
	}
	if len(names) == 0 {
		log.Println("All valid characteristics already embedded")
		return nil
	}

	log.Printf("Embedding %d characteristic names...", len(names))
	vectors, err := uc.aiService.EmbedTexts(ctx, names)
	if err != nil {
		return fmt.Errorf("failed to embed characteristic names: %w", err)
	}
	if len(vectors) != len(names) {
		return fmt.Errorf("embedding count mismatch: %d vectors for %d names", len(vectors), len(names))
	}

	for i, name := range names {
		if err := uc.repo.SaveEmbedding(name, vectors[i]); err != nil {
			return fmt.Errorf("failed to save embedding: %w", err)
		}
	}

	log.Printf("Embedded %d characteristic names", len(names))
	return nil
}

// EnsureCatalog refreshes the catalog only when it is empty. Called at server
// startup so the first analysis does not have to wait for the cron schedule.
func (uc *CatalogUseCase) EnsureCatalog(ctx context.Context) error {
	count, err := uc.repo.CountCharacteristics()
	if err != nil {
		return err
	}
	if count > 0 {
		log.Printf("Catalog already holds %d characteristics", count)
		return uc.embedMissing(ctx)
	}
	return uc.RefreshCatalog(ctx)
}

// ValidateCatalog probes every valid characteristic against the WQP and marks
// entries without numeric Gulf data as invalid. Slow: one request per entry,
// paced by the delay.
func (uc *CatalogUseCase) ValidateCatalog(ctx context.Context, delay time.Duration) error {
	characteristics, err := uc.repo.GetCharacteristics(true)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	log.Printf("Validating %d characteristic names against the WQP...", len(characteristics))

	invalidated := 0
	for i, c := range characteristics {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[%d/%d] Testing: %s", i+1, len(characteristics), c.Name)

		valid, err := uc.probeCharacteristic(ctx, c.Name)
		if err != nil {
			log.Printf("Warning: probe failed for %s, leaving validity unchanged: %v", c.Name, err)
			continue
		}
		if !valid {
			if err := uc.repo.MarkInvalid(c.Name); err != nil {
				log.Printf("Warning: %v", err)
				continue
			}
			invalidated++
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	log.Printf("Validation complete: %d of %d characteristics marked invalid", invalidated, len(characteristics))
	return nil
}

func (uc *CatalogUseCase) probeCharacteristic(ctx context.Context, name string) (bool, error) {
	body, err := uc.fetcher.FetchResultCSV(ctx, name, "")
	if err != nil {
		return false, err
	}
	defer body.Close()

	_, err = analysis.FilterMeasurements(body)
	if err != nil {
		if errors.Is(err, analysis.ErrInsufficientData) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func loadInvalidList(path string) (map[string]struct{}, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	invalid := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			invalid[name] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return invalid, nil
}
