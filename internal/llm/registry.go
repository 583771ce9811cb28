package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/models"
	"github.com/snappy-loop/magicstory/internal/retry"
)

// ProviderNone disables the image or speech stage.
const ProviderNone = "none"

// Options selects and configures the providers for each stage.
type Options struct {
	TextProvider   string
	ImageProvider  string
	SpeechProvider string

	Retry          retry.Policy
	VoiceOverrides map[models.Language]string

	GeminiAPIKey      string
	GeminiEndpoint    string
	GeminiTextModel   string
	GeminiImageModel  string
	GeminiImagenModel string
	GeminiTTSModel    string

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAITextModel  string
	OpenAIImageModel string
	OpenAITTSModel   string

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	CloudTTSAPIKey   string
	CloudTTSEndpoint string
}

// Providers is the set of providers the pipeline runs with. Image and Speech
// are nil when their stage is disabled.
type Providers struct {
	Text   TextProvider
	Image  ImageProvider
	Speech SpeechProvider

	closers []io.Closer
}

// Close releases SDK clients that hold connections.
func (p *Providers) Close() error {
	var firstErr error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// builder lazily constructs shared clients so a provider used for several
// stages is only built once.
type builder struct {
	ctx     context.Context
	opts    Options
	geminiC *http.Client
	rest    *GeminiREST
	openai  *OpenAI
	closers []io.Closer
}

func (b *builder) geminiHTTP() *http.Client {
	if b.geminiC == nil {
		b.geminiC = httpClientFor(b.opts.Retry, b.opts.GeminiEndpoint, "x-goog-api-key", b.opts.GeminiAPIKey)
	}
	return b.geminiC
}

func (b *builder) geminiREST() (*GeminiREST, error) {
	if b.rest != nil {
		return b.rest, nil
	}
	rest, err := NewGeminiREST(GeminiRESTConfig{
		APIKey:      b.opts.GeminiAPIKey,
		BaseURL:     b.opts.GeminiEndpoint,
		TextModel:   b.opts.GeminiTextModel,
		ImagenModel: b.opts.GeminiImagenModel,
		TTSModel:    b.opts.GeminiTTSModel,
		Voices:      GeminiVoices.With(b.opts.VoiceOverrides),
	}, retry.NewClient(b.opts.Retry, nil))
	if err != nil {
		return nil, err
	}
	b.rest = rest
	return rest, nil
}

func (b *builder) openAI() (*OpenAI, error) {
	if b.openai != nil {
		return b.openai, nil
	}
	o, err := NewOpenAI(OpenAIConfig{
		APIKey:     b.opts.OpenAIAPIKey,
		BaseURL:    b.opts.OpenAIBaseURL,
		TextModel:  b.opts.OpenAITextModel,
		ImageModel: b.opts.OpenAIImageModel,
		TTSModel:   b.opts.OpenAITTSModel,
		Voices:     OpenAIVoices.With(b.opts.VoiceOverrides),
	}, httpClientFor(b.opts.Retry, "", "", ""))
	if err != nil {
		return nil, err
	}
	b.openai = o
	return o, nil
}

var textProviders = map[string]func(b *builder) (TextProvider, error){
	"gemini": func(b *builder) (TextProvider, error) {
		return NewGeminiText(b.ctx, b.opts.GeminiAPIKey, b.opts.GeminiTextModel, b.geminiHTTP())
	},
	"gemini-rest": func(b *builder) (TextProvider, error) { return b.geminiREST() },
	"openai":      func(b *builder) (TextProvider, error) { return b.openAI() },
	"anthropic": func(b *builder) (TextProvider, error) {
		return NewAnthropicText(b.opts.AnthropicAPIKey, b.opts.AnthropicModel, b.opts.AnthropicBaseURL,
			httpClientFor(b.opts.Retry, "", "", ""))
	},
}

var imageProviders = map[string]func(b *builder) (ImageProvider, error){
	"gemini": func(b *builder) (ImageProvider, error) {
		img, err := NewGeminiImage(b.ctx, b.opts.GeminiAPIKey, b.opts.GeminiImageModel, b.geminiHTTP())
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, img)
		return img, nil
	},
	"gemini-rest": func(b *builder) (ImageProvider, error) { return b.geminiREST() },
	"openai":      func(b *builder) (ImageProvider, error) { return b.openAI() },
}

var speechProviders = map[string]func(b *builder) (SpeechProvider, error){
	"gemini": func(b *builder) (SpeechProvider, error) {
		// the unified SDK sends the key itself; only retries and endpoint rewriting go in the transport
		return NewGeminiSpeech(b.ctx, b.opts.GeminiAPIKey, b.opts.GeminiTTSModel, "",
			GeminiVoices.With(b.opts.VoiceOverrides),
			httpClientFor(b.opts.Retry, b.opts.GeminiEndpoint, "", ""))
	},
	"gemini-rest": func(b *builder) (SpeechProvider, error) { return b.geminiREST() },
	"openai":      func(b *builder) (SpeechProvider, error) { return b.openAI() },
	"cloudtts": func(b *builder) (SpeechProvider, error) {
		cs, err := NewCloudSpeech(b.ctx, b.opts.CloudTTSAPIKey, b.opts.CloudTTSEndpoint,
			CloudTTSVoices.With(b.opts.VoiceOverrides), b.opts.Retry)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, cs)
		return cs, nil
	},
}

// NewProviders builds the providers named in opts. Unknown names and missing
// credentials fail with a ConfigurationError.
func NewProviders(ctx context.Context, opts Options) (*Providers, error) {
	b := &builder{ctx: ctx, opts: opts}
	p := &Providers{}

	newText, ok := textProviders[normalizeName(opts.TextProvider)]
	if !ok {
		return nil, unknownProvider("text", opts.TextProvider, names(textProviders))
	}
	text, err := newText(b)
	if err != nil {
		return nil, err
	}
	p.Text = text

	if name := normalizeName(opts.ImageProvider); name != ProviderNone {
		newImage, ok := imageProviders[name]
		if !ok {
			return nil, unknownProvider("image", opts.ImageProvider, names(imageProviders))
		}
		if p.Image, err = newImage(b); err != nil {
			closeAll(b.closers)
			return nil, err
		}
	}

	if name := normalizeName(opts.SpeechProvider); name != ProviderNone {
		newSpeech, ok := speechProviders[name]
		if !ok {
			closeAll(b.closers)
			return nil, unknownProvider("speech", opts.SpeechProvider, names(speechProviders))
		}
		if p.Speech, err = newSpeech(b); err != nil {
			closeAll(b.closers)
			return nil, err
		}
	}

	p.closers = b.closers
	log.Info().
		Str("text", p.Text.Name()).
		Str("image", providerName(p.Image)).
		Str("speech", providerName(p.Speech)).
		Int("retry_max_attempts", opts.Retry.MaxAttempts).
		Dur("retry_base_delay", opts.Retry.BaseDelay).
		Msg("Generation providers initialized")
	return p, nil
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ProviderNone
	}
	return name
}

func unknownProvider(stage, name string, known []string) error {
	return &ConfigurationError{
		Provider: name,
		Reason:   fmt.Sprintf("unknown %s provider (known: %s)", stage, strings.Join(known, ", ")),
	}
}

func names[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func providerName(p interface{ Name() string }) string {
	if p == nil {
		return ProviderNone
	}
	return p.Name()
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}
