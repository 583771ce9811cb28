package llm

import (
	"context"
	"fmt"
	"net/http"
	"reflect"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/models"
	"google.golang.org/api/option"
)

const defaultGeminiImageModel = "gemini-2.5-flash-image"

// GeminiImage renders illustrations with a Gemini image model using strict IMAGE modality.
type GeminiImage struct {
	model  string
	client *genai.Client
}

// NewGeminiImage creates the image provider. httpClient must add the API key header,
// since the SDK ignores WithAPIKey once a custom client is given.
func NewGeminiImage(ctx context.Context, apiKey, model string, httpClient *http.Client) (*GeminiImage, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Provider: "gemini", Reason: "GEMINI_API_KEY is not set"}
	}
	if model == "" {
		model = defaultGeminiImageModel
	}

	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, &ConfigurationError{Provider: "gemini", Reason: "failed to initialize image client: " + err.Error()}
	}

	log.Info().Str("model", model).Msg("Gemini image provider initialized")
	return &GeminiImage{model: model, client: client}, nil
}

func (g *GeminiImage) Name() string { return "gemini" }

// Close releases the underlying client.
func (g *GeminiImage) Close() error {
	return g.client.Close()
}

// GenerateIllustration returns the first image blob of the response as inline bytes.
func (g *GeminiImage) GenerateIllustration(ctx context.Context, scene string) (*models.IllustrationRef, error) {
	log.Debug().
		Str("model", g.model).
		Str("prompt", preview(scene, 80)).
		Msg("Generating illustration")

	model := g.client.GenerativeModel(g.model)
	setResponseModality(model, []string{"IMAGE"})
	candidateCount := int32(1)
	model.CandidateCount = &candidateCount

	resp, err := model.GenerateContent(ctx, genai.Text(scene))
	if err != nil {
		return nil, classify(g.Name(), err)
	}

	logResponse(g.Name(), "GenerateIllustration", fmt.Sprintf("candidates=%d", len(resp.Candidates)))
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			blob, ok := part.(genai.Blob)
			if !ok || len(blob.Data) == 0 {
				continue
			}
			mimeType := blob.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			log.Info().
				Int("image_size_bytes", len(blob.Data)).
				Str("mime_type", mimeType).
				Msg("Illustration generated")
			return &models.IllustrationRef{InlineBytes: blob.Data, MimeType: mimeType}, nil
		}
	}

	return nil, invalidResponse(g.Name(), "no image blob in response (expected IMAGE modality)")
}

// setResponseModality sets model.ResponseModality when the genai SDK exposes it.
// Uses reflection so it no-ops on SDKs that don't have the field.
func setResponseModality(model *genai.GenerativeModel, modalities []string) {
	v := reflect.ValueOf(model).Elem()
	f := v.FieldByName("ResponseModality")
	if !f.IsValid() || !f.CanSet() {
		log.Debug().Msg("ResponseModality not available on GenerativeModel")
		return
	}
	if f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String {
		f.Set(reflect.ValueOf(modalities))
	}
}
