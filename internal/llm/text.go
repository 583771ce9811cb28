package llm

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

const defaultGeminiTextModel = "gemini-2.5-flash"

// GeminiText writes stories with Gemini through langchaingo, in JSON mode.
type GeminiText struct {
	model string
	llm   llms.Model
}

// NewGeminiText creates a Gemini text provider. httpClient carries retries and the API key header.
func NewGeminiText(ctx context.Context, apiKey, model string, httpClient *http.Client) (*GeminiText, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Provider: "gemini", Reason: "GEMINI_API_KEY is not set"}
	}
	if model == "" {
		model = defaultGeminiTextModel
	}

	opts := []googleai.Option{googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model)}
	if httpClient != nil {
		opts = append(opts, googleai.WithHTTPClient(httpClient))
	}
	llm, err := googleai.New(ctx, opts...)
	if err != nil {
		return nil, &ConfigurationError{Provider: "gemini", Reason: "failed to initialize text model: " + err.Error()}
	}

	log.Info().Str("model", model).Msg("Gemini text provider initialized")
	return &GeminiText{model: model, llm: llm}, nil
}

func (g *GeminiText) Name() string { return "gemini" }

// GenerateStory asks Gemini for a story and validates the {title, content} reply.
func (g *GeminiText) GenerateStory(ctx context.Context, params StoryParams) (*models.StoryDraft, error) {
	log.Debug().
		Str("model", g.model).
		Str("category", params.Category).
		Str("language", string(params.Language)).
		Msg("Generating story text")

	response, err := llms.GenerateFromSinglePrompt(ctx, g.llm, StoryPrompt(params),
		llms.WithJSONMode(),
		llms.WithTemperature(0.9),
	)
	if err != nil {
		return nil, classify(g.Name(), err)
	}
	logResponse(g.Name(), "GenerateStory", response)

	return ParseDraft(g.Name(), response)
}
