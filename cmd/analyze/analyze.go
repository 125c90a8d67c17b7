package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gulfwater/gulfwq/internal/charts"
	"github.com/gulfwater/gulfwq/internal/integration"
	"github.com/gulfwater/gulfwq/internal/integration/openai"
	"github.com/gulfwater/gulfwq/internal/matching"
	"github.com/gulfwater/gulfwq/internal/repository"
	"github.com/gulfwater/gulfwq/internal/usecases"
	"github.com/joho/godotenv"
)

func main() {
	// Configure logging
	log.SetOutput(os.Stdout)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting Gulf Water Quality Analysis (command line)...")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	// Scenario comes from the arguments, or from a prompt when absent
	scenario := strings.TrimSpace(strings.Join(os.Args[1:], " "))
	if scenario == "" {
		fmt.Print("Input scenario here: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			log.Fatalf("Failed to read scenario: %v", err)
		}
		scenario = strings.TrimSpace(line)
	}
	if scenario == "" {
		log.Fatal("No scenario provided")
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

	wqpClient := integration.NewWQPClient("", 0)
	renderer := charts.NewRenderer(os.Getenv("WQ_OUTPUT_DIR"))

	matcher := matching.NewMatcher(repo, aiService)
	analysisUC := usecases.NewAnalysisUseCase(repo, wqpClient, aiService, matcher, renderer, "")
	catalogUC := usecases.NewCatalogUseCase(repo, wqpClient, aiService)

	ctx := context.Background()
	if err := catalogUC.EnsureCatalog(ctx); err != nil {
		log.Fatalf("Failed to prepare characteristic catalog: %v", err)
	}

	if err := analysisUC.RunAnalysis(ctx, scenario); err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	status := analysisUC.GetStatus()
	log.Printf("%s", status.Message)
}
