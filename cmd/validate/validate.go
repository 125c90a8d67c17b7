package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gulfwater/gulfwq/internal/integration"
	"github.com/gulfwater/gulfwq/internal/integration/openai"
	"github.com/gulfwater/gulfwq/internal/repository"
	"github.com/gulfwater/gulfwq/internal/usecases"
	"github.com/joho/godotenv"
)

// Probes every valid characteristic in the catalog against the Water Quality
// Portal and marks those without numeric Gulf data as invalid, so that
// matching never surfaces characteristics that cannot be charted. One request
// per characteristic; expect a long run on a full catalog.
func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting characteristic catalog validation...")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	aiService, err := openai.NewAIService()
	if err != nil {
		log.Fatalf("Failed to initialize OpenAI service: %v", err)
	}

	repo, err := repository.NewSQLiteCatalogRepository(os.Getenv("WQ_DB_PATH"))
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	wqpClient := integration.NewWQPClient("", 0)
	catalogUC := usecases.NewCatalogUseCase(repo, wqpClient, aiService)

	ctx := context.Background()
	if err := catalogUC.EnsureCatalog(ctx); err != nil {
		log.Fatalf("Failed to prepare characteristic catalog: %v", err)
	}

	if err := catalogUC.ValidateCatalog(ctx, 500*time.Millisecond); err != nil {
		log.Fatalf("Validation failed: %v", err)
	}

	log.Println("Validation complete")
}
