package llm

import (
	"context"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/models"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicText writes stories with the Anthropic Messages API.
type AnthropicText struct {
	client anthropic.Client
	model  string
}

// NewAnthropicText creates the text provider. SDK retries are disabled; httpClient carries ours.
func NewAnthropicText(apiKey, model, baseURL string, httpClient *http.Client) (*AnthropicText, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Provider: "anthropic", Reason: "ANTHROPIC_API_KEY is not set"}
	}
	if model == "" {
		model = defaultAnthropicModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	log.Info().Str("model", model).Msg("Anthropic text provider initialized")
	return &AnthropicText{client: anthropic.NewClient(opts...), model: model}, nil
}

func (a *AnthropicText) Name() string { return "anthropic" }

// GenerateStory sends the story prompt as a single user message.
func (a *AnthropicText) GenerateStory(ctx context.Context, params StoryParams) (*models.StoryDraft, error) {
	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: defaultAnthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(StoryPrompt(params))),
		},
	})
	if err != nil {
		return nil, classify(a.Name(), err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := sb.String()
	logResponse(a.Name(), "GenerateStory", content)
	return ParseDraft(a.Name(), content)
}
