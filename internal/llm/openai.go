package llm

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/snappy-loop/magicstory/internal/codec"
	"github.com/snappy-loop/magicstory/internal/models"
)

const (
	defaultOpenAITextModel  = openai.GPT4oMini
	defaultOpenAIImageModel = openai.CreateImageModelDallE3
	defaultOpenAITTSModel   = string(openai.TTSModel1)
	maxSpeechBytes          = 32 << 20
)

// OpenAIConfig configures the OpenAI providers. Empty models use the defaults.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	TTSModel   string
	Voices     VoiceTable
}

// OpenAI implements the text, image and speech providers with go-openai.
type OpenAI struct {
	client     *openai.Client
	textModel  string
	imageModel string
	ttsModel   string
	voices     VoiceTable
}

// NewOpenAI creates the OpenAI provider. httpClient carries retries.
func NewOpenAI(cfg OpenAIConfig, httpClient *http.Client) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, &ConfigurationError{Provider: "openai", Reason: "OPENAI_API_KEY is not set"}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}

	o := &OpenAI{
		client:     openai.NewClientWithConfig(clientCfg),
		textModel:  cfg.TextModel,
		imageModel: cfg.ImageModel,
		ttsModel:   cfg.TTSModel,
		voices:     cfg.Voices,
	}
	if o.textModel == "" {
		o.textModel = defaultOpenAITextModel
	}
	if o.imageModel == "" {
		o.imageModel = defaultOpenAIImageModel
	}
	if o.ttsModel == "" {
		o.ttsModel = defaultOpenAITTSModel
	}

	log.Info().
		Str("text_model", o.textModel).
		Str("image_model", o.imageModel).
		Str("tts_model", o.ttsModel).
		Msg("OpenAI provider initialized")
	return o, nil
}

func (o *OpenAI) Name() string { return "openai" }

// GenerateStory uses a chat completion in JSON object mode.
func (o *OpenAI) GenerateStory(ctx context.Context, params StoryParams) (*models.StoryDraft, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.textModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: StoryPrompt(params)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classify(o.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, invalidResponse(o.Name(), "no choices in chat completion")
	}

	content := resp.Choices[0].Message.Content
	logResponse(o.Name(), "GenerateStory", content)
	return ParseDraft(o.Name(), content)
}

// GenerateIllustration requests one 1024x1024 image; either a URL or inline base64 is accepted.
func (o *OpenAI) GenerateIllustration(ctx context.Context, scene string) (*models.IllustrationRef, error) {
	resp, err := o.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         scene,
		Model:          o.imageModel,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return nil, classify(o.Name(), err)
	}
	if len(resp.Data) == 0 {
		return nil, invalidResponse(o.Name(), "no image in response")
	}

	img := resp.Data[0]
	switch {
	case img.URL != "":
		return &models.IllustrationRef{URL: img.URL}, nil
	case img.B64JSON != "":
		data, err := codec.DecodeBase64(img.B64JSON)
		if err != nil {
			return nil, &Error{Kind: InvalidResponse, Provider: o.Name(), Err: err}
		}
		return &models.IllustrationRef{InlineBytes: data, MimeType: "image/png"}, nil
	default:
		return nil, invalidResponse(o.Name(), "image has neither url nor b64_json")
	}
}

// Synthesize returns MP3 narration in the voice mapped to lang.
func (o *OpenAI) Synthesize(ctx context.Context, text string, lang models.Language) (*models.AudioAsset, error) {
	voice := o.voices.Voice(lang)
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, classify(o.Name(), err)
	}
	defer resp.Close()

	data, err := io.ReadAll(io.LimitReader(resp, maxSpeechBytes))
	if err != nil {
		return nil, &Error{Kind: TransportError, Provider: o.Name(), Err: err}
	}
	log.Info().
		Int("audio_size_bytes", len(data)).
		Str("voice", voice).
		Msg("Narration audio generated")
	return toAudioAsset(o.Name(), data, models.MimeMPEG)
}
