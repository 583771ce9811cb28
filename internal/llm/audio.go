package llm

import (
	"bytes"
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/models"
	unifiedgenai "google.golang.org/genai"
)

const defaultGeminiTTSModel = "gemini-2.5-flash-preview-tts"

// GeminiSpeech narrates with a Gemini TTS model via the unified genai SDK.
// The model answers with raw 16-bit PCM, which is wrapped in WAV.
type GeminiSpeech struct {
	model  string
	voices VoiceTable
	client *unifiedgenai.Client
}

// NewGeminiSpeech creates the speech provider. endpoint optionally overrides the API base URL.
func NewGeminiSpeech(ctx context.Context, apiKey, model, endpoint string, voices VoiceTable, httpClient *http.Client) (*GeminiSpeech, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{Provider: "gemini", Reason: "GEMINI_API_KEY is not set"}
	}
	if model == "" {
		model = defaultGeminiTTSModel
	}

	cfg := &unifiedgenai.ClientConfig{
		APIKey:     apiKey,
		Backend:    unifiedgenai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if endpoint != "" {
		cfg.HTTPOptions = unifiedgenai.HTTPOptions{BaseURL: endpoint}
	}
	client, err := unifiedgenai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &ConfigurationError{Provider: "gemini", Reason: "failed to initialize TTS client: " + err.Error()}
	}

	log.Info().Str("model", model).Msg("Gemini speech provider initialized")
	return &GeminiSpeech{model: model, voices: voices, client: client}, nil
}

func (g *GeminiSpeech) Name() string { return "gemini" }

// Synthesize requests AUDIO modality with the voice mapped to lang.
func (g *GeminiSpeech) Synthesize(ctx context.Context, text string, lang models.Language) (*models.AudioAsset, error) {
	voice := g.voices.Voice(lang)
	log.Debug().
		Str("model", g.model).
		Str("voice", voice).
		Int("text_length", len(text)).
		Msg("Generating narration audio")

	contents := []*unifiedgenai.Content{
		{
			Role:  "user",
			Parts: []*unifiedgenai.Part{unifiedgenai.NewPartFromText(text)},
		},
	}
	config := &unifiedgenai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &unifiedgenai.SpeechConfig{
			VoiceConfig: &unifiedgenai.VoiceConfig{
				PrebuiltVoiceConfig: &unifiedgenai.PrebuiltVoiceConfig{
					VoiceName: voice,
				},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, classify(g.Name(), err)
	}

	var audio bytes.Buffer
	var mimeType string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			audio.Write(part.InlineData.Data)
			if part.InlineData.MIMEType != "" {
				mimeType = part.InlineData.MIMEType
			}
		}
		if audio.Len() > 0 {
			break
		}
	}

	asset, err := toAudioAsset(g.Name(), audio.Bytes(), mimeType)
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("audio_size_bytes", len(asset.EncodedBytes)).
		Str("voice", voice).
		Str("source_mime_type", mimeType).
		Msg("Narration audio generated")
	return asset, nil
}
