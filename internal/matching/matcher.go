// Package matching scores scenario text against the characteristic catalog
// using embedding similarity.
package matching

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/gulfwater/gulfwq/internal/entities"
	"github.com/gulfwater/gulfwq/internal/integration/openai"
	"github.com/gulfwater/gulfwq/internal/repository"
)

// DefaultTopK is how many characteristics an analysis considers per scenario.
const DefaultTopK = 20

// Matcher retrieves the characteristics most similar to a scenario query.
type Matcher struct {
	repo repository.CatalogRepository
	ai   openai.AIService
}

// NewMatcher creates a new characteristic matcher.
func NewMatcher(repo repository.CatalogRepository, ai openai.AIService) *Matcher {
	return &Matcher{repo: repo, ai: ai}
}

// TopMatches embeds the query and returns the top-k catalog entries by
// cosine similarity.
func (m *Matcher) TopMatches(ctx context.Context, query string, topK int) ([]entities.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	candidates, err := m.repo.GetEmbeddedCharacteristics()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded characteristics: %v", err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("characteristic catalog has no embedded entries; run a catalog refresh first")
	}

	queryVec, err := m.ai.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches := scoreCandidates(candidates, queryVec)
	if topK > len(matches) {
		topK = len(matches)
	}

	log.Printf("Matched query against %d characteristics, returning top %d", len(matches), topK)
	return matches[:topK], nil
}

func scoreCandidates(candidates []entities.Characteristic, queryVec []float64) []entities.Match {
	matches := make([]entities.Match, 0, len(candidates))
	queryNorm := vectorNorm(queryVec)
	for _, c := range candidates {
		if len(c.Embedding) != len(queryVec) {
			continue
		}
		matches = append(matches, entities.Match{
			Name:  c.Name,
			Score: cosineSimilarity(queryVec, c.Embedding, queryNorm),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches
}

func cosineSimilarity(a, b []float64, normA float64) float64 {
	if normA == 0 {
		return 0
	}
	normB := vectorNorm(b)
	if normB == 0 {
		return 0
	}
	dot := 0.0
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (normA * normB)
}

func vectorNorm(v []float64) float64 {
	sum := 0.0
	for _, val := range v {
		sum += val * val
	}
	return math.Sqrt(sum)
}
