package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/snappy-loop/magicstory/internal/models"
)

func TestNewProviders(t *testing.T) {
	p, err := NewProviders(context.Background(), Options{
		TextProvider:   "gemini-rest",
		ImageProvider:  "Gemini-REST",
		SpeechProvider: "openai",
		GeminiAPIKey:   "gemini-key",
		OpenAIAPIKey:   "openai-key",
		Retry:          instantPolicy(),
		VoiceOverrides: map[models.Language]string{models.LanguageGerman: "onyx"},
	})
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	defer p.Close()

	if p.Text.Name() != "gemini-rest" || p.Image.Name() != "gemini-rest" || p.Speech.Name() != "openai" {
		t.Errorf("providers %s/%s/%s", p.Text.Name(), p.Image.Name(), p.Speech.Name())
	}
	if p.Text.(*GeminiREST) != p.Image.(*GeminiREST) {
		t.Error("gemini-rest should be built once for text and image")
	}
	if got := p.Speech.(*OpenAI).voices.Voice(models.LanguageGerman); got != "onyx" {
		t.Errorf("voice override not applied: %q", got)
	}
}

func TestNewProviders_DisabledStages(t *testing.T) {
	for _, name := range []string{"none", "", " NONE "} {
		p, err := NewProviders(context.Background(), Options{
			TextProvider:   "openai",
			ImageProvider:  name,
			SpeechProvider: name,
			OpenAIAPIKey:   "openai-key",
			Retry:          instantPolicy(),
		})
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if p.Image != nil || p.Speech != nil {
			t.Errorf("%q: expected image and speech disabled", name)
		}
	}
}

func TestNewProviders_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown text provider", Options{TextProvider: "mystery", OpenAIAPIKey: "k"}},
		{"text disabled", Options{TextProvider: "none"}},
		{"unknown image provider", Options{TextProvider: "openai", ImageProvider: "anthropic", OpenAIAPIKey: "k"}},
		{"missing gemini key", Options{TextProvider: "gemini-rest"}},
		{"missing openai key", Options{TextProvider: "openai"}},
		{"missing anthropic key", Options{TextProvider: "anthropic"}},
		{"missing speech key", Options{TextProvider: "openai", OpenAIAPIKey: "k", SpeechProvider: "gemini-rest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Retry = instantPolicy()
			_, err := NewProviders(context.Background(), tt.opts)
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Error("ConfigurationError should match ErrConfiguration")
			}
		})
	}
}
