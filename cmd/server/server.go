package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/gulfwater/gulfwq/internal/api"
	"github.com/gulfwater/gulfwq/internal/charts"
	"github.com/gulfwater/gulfwq/internal/integration"
	"github.com/gulfwater/gulfwq/internal/integration/openai"
	"github.com/gulfwater/gulfwq/internal/matching"
	"github.com/gulfwater/gulfwq/internal/repository"
	"github.com/gulfwater/gulfwq/internal/usecases"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting Gulf Water Quality Analysis server...")

	// Load .env if present; the API key may also come from the environment
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	// Initialize OpenAI service
	aiService, err := openai.NewAIService()
	if err != nil {
		log.Fatalf("Failed to initialize OpenAI service: %v", err)
	}

	// Initialize repository
	repo, err := repository.NewSQLiteCatalogRepository(os.Getenv("WQ_DB_PATH"))
	if err != nil {
		log.Fatalf("Failed to initialize repository: %v", err)
	}
	defer repo.Close()

	// Initialize WQP client and chart renderer
	wqpClient := integration.NewWQPClient("", 0)
	renderer := charts.NewRenderer(os.Getenv("WQ_OUTPUT_DIR"))
	renderer.CleanCharts()

	// Initialize use cases
	matcher := matching.NewMatcher(repo, aiService)
	analysisUC := usecases.NewAnalysisUseCase(repo, wqpClient, aiService, matcher, renderer, "")
	catalogUC := usecases.NewCatalogUseCase(repo, wqpClient, aiService)

	// Make sure the characteristic catalog exists before serving
	if err := catalogUC.EnsureCatalog(context.Background()); err != nil {
		log.Fatalf("Failed to prepare characteristic catalog: %v", err)
	}

	// Refresh the catalog daily
	c := cron.New()
	_, err = c.AddFunc("0 3 * * *", func() {
		if err := catalogUC.RefreshCatalog(context.Background()); err != nil {
			log.Printf("Scheduled catalog refresh failed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to set up cron job: %v", err)
	}
	c.Start()
	log.Println("Catalog refresh has been scheduled daily")

	port := 5000
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid PORT value %q: %v", v, err)
		}
		port = p
	}

	server := api.NewWebServer(analysisUC, renderer, renderer.OutputDir, port)
	if err := server.Start(); err != nil {
		log.Fatalf("Web server stopped: %v", err)
	}
}
