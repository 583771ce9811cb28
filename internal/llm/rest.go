package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/codec"
	"github.com/snappy-loop/magicstory/internal/models"
	"github.com/snappy-loop/magicstory/internal/retry"
)

const (
	defaultGeminiRESTBase    = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiImagenModel = "imagen-3.0-generate-002"
	maxRESTResponseBytes     = 32 << 20
)

// GeminiREST talks to the Generative Language REST API directly through the
// retrying client: text via generateContent, illustrations via Imagen predict,
// narration via the TTS model. Implements all three provider interfaces.
type GeminiREST struct {
	client      *retry.Client
	baseURL     string
	apiKey      string
	textModel   string
	imagenModel string
	ttsModel    string
	voices      VoiceTable
}

// GeminiRESTConfig configures GeminiREST. Empty models use the defaults.
type GeminiRESTConfig struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	ImagenModel string
	TTSModel    string
	Voices      VoiceTable
}

// NewGeminiREST creates the REST provider. The API key is sent as a header, never in the URL.
func NewGeminiREST(cfg GeminiRESTConfig, client *retry.Client) (*GeminiREST, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Provider: "gemini-rest", Reason: "GEMINI_API_KEY is not set"}
	}
	g := &GeminiREST{
		client:      client,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		textModel:   cfg.TextModel,
		imagenModel: cfg.ImagenModel,
		ttsModel:    cfg.TTSModel,
		voices:      cfg.Voices,
	}
	if g.baseURL == "" {
		g.baseURL = defaultGeminiRESTBase
	}
	if g.textModel == "" {
		g.textModel = defaultGeminiTextModel
	}
	if g.imagenModel == "" {
		g.imagenModel = defaultGeminiImagenModel
	}
	if g.ttsModel == "" {
		g.ttsModel = defaultGeminiTTSModel
	}
	return g, nil
}

func (g *GeminiREST) Name() string { return "gemini-rest" }

type restPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *restInlineData `json:"inlineData,omitempty"`
}

type restInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type restContent struct {
	Parts []restPart `json:"parts"`
}

type generateContentRequest struct {
	Contents         []restContent  `json:"contents"`
	GenerationConfig map[string]any `json:"generationConfig,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content *restContent `json:"content"`
	} `json:"candidates"`
}

func (r *generateContentResponse) firstPart() *restPart {
	for _, c := range r.Candidates {
		if c.Content != nil && len(c.Content.Parts) > 0 {
			return &c.Content.Parts[0]
		}
	}
	return nil
}

// storySchema constrains the text reply to {title, content[]}.
var storySchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"title": map[string]any{"type": "STRING"},
		"content": map[string]any{
			"type":  "ARRAY",
			"items": map[string]any{"type": "STRING"},
		},
	},
	"required": []string{"title", "content"},
}

// GenerateStory calls generateContent with a JSON response schema.
func (g *GeminiREST) GenerateStory(ctx context.Context, params StoryParams) (*models.StoryDraft, error) {
	req := generateContentRequest{
		Contents: []restContent{{Parts: []restPart{{Text: StoryPrompt(params)}}}},
		GenerationConfig: map[string]any{
			"responseMimeType": "application/json",
			"responseSchema":   storySchema,
		},
	}
	var resp generateContentResponse
	if err := g.post(ctx, g.textModel+":generateContent", req, &resp); err != nil {
		return nil, err
	}

	part := resp.firstPart()
	if part == nil || part.Text == "" {
		return nil, invalidResponse(g.Name(), "no text in response")
	}
	logResponse(g.Name(), "GenerateStory", part.Text)
	return ParseDraft(g.Name(), part.Text)
}

type predictRequest struct {
	Instances  []map[string]string `json:"instances"`
	Parameters map[string]any      `json:"parameters"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

// GenerateIllustration calls Imagen predict for a single sample.
func (g *GeminiREST) GenerateIllustration(ctx context.Context, scene string) (*models.IllustrationRef, error) {
	req := predictRequest{
		Instances:  []map[string]string{{"prompt": scene}},
		Parameters: map[string]any{"sampleCount": 1},
	}
	var resp predictResponse
	if err := g.post(ctx, g.imagenModel+":predict", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) == 0 || resp.Predictions[0].BytesBase64Encoded == "" {
		return nil, invalidResponse(g.Name(), "no image in predict response")
	}

	pred := resp.Predictions[0]
	data, err := codec.DecodeBase64(pred.BytesBase64Encoded)
	if err != nil {
		return nil, &Error{Kind: InvalidResponse, Provider: g.Name(), Err: err}
	}
	mimeType := pred.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &models.IllustrationRef{InlineBytes: data, MimeType: mimeType}, nil
}

// Synthesize calls the TTS model and converts its base64 PCM reply to WAV.
func (g *GeminiREST) Synthesize(ctx context.Context, text string, lang models.Language) (*models.AudioAsset, error) {
	req := generateContentRequest{
		Contents: []restContent{{Parts: []restPart{{Text: text}}}},
		GenerationConfig: map[string]any{
			"responseModalities": []string{"AUDIO"},
			"speechConfig": map[string]any{
				"voiceConfig": map[string]any{
					"prebuiltVoiceConfig": map[string]any{"voiceName": g.voices.Voice(lang)},
				},
			},
		},
	}
	var resp generateContentResponse
	if err := g.post(ctx, g.ttsModel+":generateContent", req, &resp); err != nil {
		return nil, err
	}

	part := resp.firstPart()
	if part == nil || part.InlineData == nil || part.InlineData.Data == "" || part.InlineData.MimeType == "" {
		return nil, invalidResponse(g.Name(), "no inline audio in response")
	}
	pcm, err := codec.DecodeBase64(part.InlineData.Data)
	if err != nil {
		return nil, &Error{Kind: InvalidResponse, Provider: g.Name(), Err: err}
	}
	return toAudioAsset(g.Name(), pcm, part.InlineData.MimeType)
}

// post sends body as JSON to models/<method> and decodes the reply into out.
func (g *GeminiREST) post(ctx context.Context, method string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Execute(ctx, retry.RequestSpec{
		Method: http.MethodPost,
		URL:    g.baseURL + "/models/" + method,
		Header: header,
		Body:   payload,
	})
	if err != nil {
		log.Warn().Err(err).Str("method", method).Msg("Gemini REST call failed")
		return classify(g.Name(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRESTResponseBytes))
	if err != nil {
		return &Error{Kind: TransportError, Provider: g.Name(), Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return invalidResponse(g.Name(), "response is not valid JSON: %v", err)
	}
	return nil
}
