package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// EmbeddingBatchSize caps how many texts are sent per embeddings request.
const EmbeddingBatchSize = 100

// ScenarioIntent defines the structured output from the scenario interpreter.
type ScenarioIntent struct {
	SearchQuery string `json:"search_query" jsonschema_description:"A concise water-quality search phrase distilled from the user's scenario"`
	StartDate   string `json:"start_date" jsonschema_description:"Lower bound for measurements in MM-DD-YYYY form, or empty to use the default"`
	UserMessage string `json:"user_message" jsonschema_description:"A short confirmation to show back to the user"`
}

// AIService defines the interface for interacting with the OpenAI API.
type AIService interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float64, error)
	EmbedText(ctx context.Context, text string) ([]float64, error)
	InterpretScenario(ctx context.Context, scenario string) (*ScenarioIntent, error)
}

// aiServiceImpl implements the AIService interface.
type aiServiceImpl struct {
	client openai.Client
	schema interface{}
}

// GenerateSchema generates a JSON schema for a given type.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

// NewAIService creates and initializes a new AIService.
func NewAIService() (AIService, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	schema := GenerateSchema[ScenarioIntent]()

	return &aiServiceImpl{
		client: client,
		schema: schema,
	}, nil
}

// EmbedTexts requests embedding vectors for a batch of texts, preserving order.
func (s *aiServiceImpl) EmbedTexts(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += EmbeddingBatchSize {
		end := start + EmbeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		resp, err := s.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
			Model: openai.EmbeddingModelTextEmbedding3Small,
		})
		if err != nil {
			return nil, fmt.Errorf("error calling OpenAI embeddings API: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(resp.Data), len(batch))
		}

		// The API is allowed to return entries out of order; Index restores alignment
		vectors := make([][]float64, len(batch))
		for _, item := range resp.Data {
			if item.Index < 0 || int(item.Index) >= len(batch) {
				return nil, fmt.Errorf("embeddings API returned out-of-range index %d", item.Index)
			}
			vectors[item.Index] = item.Embedding
		}
		result = append(result, vectors...)
	}

	return result, nil
}

// EmbedText requests an embedding vector for a single text.
func (s *aiServiceImpl) EmbedText(ctx context.Context, text string) ([]float64, error) {
	vectors, err := s.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("received empty embedding from OpenAI")
	}
	return vectors[0], nil
}

// InterpretScenario sends a scenario description to the OpenAI agent and
// returns the structured interpretation.
func (s *aiServiceImpl) InterpretScenario(ctx context.Context, scenario string) (*ScenarioIntent, error) {
	systemPrompt := `You are an assistant for a Gulf of Mexico water quality analysis tool.

The user describes an environmental scenario in free text. The tool will use your
output to search a vocabulary of water quality characteristic names (nutrients,
metals, physical parameters, contaminants) maintained by the Water Quality Portal.

Behavior:
1. Distill the scenario into a short search phrase naming the water quality
   concerns it implies. Keep it focused on measurable characteristics, e.g.
   "oil spill hydrocarbons petroleum sheen" or "algal bloom nitrogen phosphorus
   chlorophyll".
2. If the scenario clearly references a time frame (e.g. "since the 2010 spill"),
   set start_date to the matching MM-DD-YYYY date. Otherwise leave it empty.
3. user_message: one plain sentence confirming what will be analyzed.

Output strictly in JSON.`

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "scenario_intent",
		Description: openai.String("Structured interpretation of a water quality scenario"),
		Schema:      s.schema,
		Strict:      openai.Bool(true),
	}

	respFormat := openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
	}

	chat, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(scenario),
		},
		ResponseFormat: respFormat,
		Model:          openai.ChatModelGPT4o,
	})

	if err != nil {
		return nil, fmt.Errorf("error calling OpenAI API: %w", err)
	}

	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return nil, errors.New("received empty response from OpenAI")
	}

	var intent ScenarioIntent
	err = json.Unmarshal([]byte(chat.Choices[0].Message.Content), &intent)
	if err != nil {
		log.Printf("Failed to unmarshal OpenAI response: %s\nRaw response: %s", err, chat.Choices[0].Message.Content)
		return nil, fmt.Errorf("error unmarshalling OpenAI response: %w", err)
	}

	return &intent, nil
}
