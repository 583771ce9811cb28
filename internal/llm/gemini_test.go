package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/snappy-loop/magicstory/internal/codec"
	"github.com/snappy-loop/magicstory/internal/models"
)

const foxReply = `{"title":"Der Fuchs","content":["Satz eins.","Satz zwei."]}`

// newGeminiServer serves handler and returns the retrying client that rewrites
// Google API URLs onto it, as GEMINI_API_ENDPOINT does.
func newGeminiServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, httpClientFor(instantPolicy(), srv.URL, "x-goog-api-key", "test-key")
}

func TestEndpointRewrite(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		wantPath string
	}{
		{"host only", "", "/v1beta/models/m:generateContent"},
		{"path prefix", "/gemini/", "/gemini/v1beta/models/m:generateContent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotQuery, gotKey string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath, gotQuery, gotKey = r.URL.Path, r.URL.RawQuery, r.Header.Get("x-goog-api-key")
			}))
			defer srv.Close()

			client := httpClientFor(instantPolicy(), srv.URL+tt.prefix, "x-goog-api-key", "test-key")
			resp, err := client.Get("https://generativelanguage.googleapis.com/v1beta/models/m:generateContent?alt=json")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			resp.Body.Close()
			if gotPath != tt.wantPath || gotQuery != "alt=json" || gotKey != "test-key" {
				t.Errorf("path %q query %q key %q", gotPath, gotQuery, gotKey)
			}
		})
	}
}

func TestGeminiText_GenerateStory(t *testing.T) {
	var gotPath, gotKey, gotMime string
	_, client := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		var body struct {
			GenerationConfig struct {
				ResponseMimeType string `json:"responseMimeType"`
			} `json:"generationConfig"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotMime = body.GenerationConfig.ResponseMimeType
		writeText(w, foxReply)
	})

	g, err := NewGeminiText(context.Background(), "test-key", "", client)
	if err != nil {
		t.Fatalf("NewGeminiText: %v", err)
	}
	draft, err := g.GenerateStory(context.Background(), StoryParams{Category: "Animal", Length: models.LengthShort, Language: models.LanguageGerman, Moral: "Kindness"})
	if err != nil {
		t.Fatalf("GenerateStory: %v", err)
	}
	if draft.Title != "Der Fuchs" || len(draft.Paragraphs) != 2 {
		t.Errorf("draft = %+v", draft)
	}
	if !strings.HasSuffix(gotPath, "models/"+defaultGeminiTextModel+":generateContent") {
		t.Errorf("path %q", gotPath)
	}
	if gotKey != "test-key" || gotMime != "application/json" {
		t.Errorf("key %q responseMimeType %q", gotKey, gotMime)
	}
}

func TestGeminiText_Unauthorized(t *testing.T) {
	var hits int32
	_, client := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"API key not valid"}}`))
	})

	g, err := NewGeminiText(context.Background(), "test-key", "", client)
	if err != nil {
		t.Fatalf("NewGeminiText: %v", err)
	}
	_, err = g.GenerateStory(context.Background(), StoryParams{Category: "Animal"})
	if !IsKind(err, AuthError) || !errors.Is(err, ErrConfiguration) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
}

func TestGeminiImage_GenerateIllustration(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a}
	var gotScene string
	_, client := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if strings.Contains(string(raw), "theme: Dragon") {
			gotScene = "Dragon"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{"content": map[string]any{
				"role": "model",
				"parts": []any{
					map[string]any{"text": "Here is your picture."},
					map[string]any{"inlineData": map[string]any{
						"mimeType": "image/png",
						"data":     base64.StdEncoding.EncodeToString(png),
					}},
				},
			}}},
		})
	})

	g, err := NewGeminiImage(context.Background(), "test-key", "", client)
	if err != nil {
		t.Fatalf("NewGeminiImage: %v", err)
	}
	defer g.Close()

	ref, err := g.GenerateIllustration(context.Background(), IllustrationPrompt("Dragon"))
	if err != nil {
		t.Fatalf("GenerateIllustration: %v", err)
	}
	if !bytes.Equal(ref.InlineBytes, png) || ref.MimeType != "image/png" {
		t.Errorf("ref = %+v", ref)
	}
	if gotScene != "Dragon" {
		t.Error("scene prompt was not sent")
	}
}

func TestGeminiImage_NoImage(t *testing.T) {
	_, client := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeText(w, "I can only describe it.")
	})
	g, err := NewGeminiImage(context.Background(), "test-key", "", client)
	if err != nil {
		t.Fatalf("NewGeminiImage: %v", err)
	}
	defer g.Close()

	if _, err := g.GenerateIllustration(context.Background(), "scene"); !IsKind(err, InvalidResponse) {
		t.Errorf("err = %v, want invalid_response", err)
	}
}

func speechServer(t *testing.T, mimeType string, pcm []byte, gotBody *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		*gotBody = r.URL.Path + " " + r.Header.Get("x-goog-api-key") + " " + string(raw)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{"content": map[string]any{
				"role": "model",
				"parts": []any{map[string]any{"inlineData": map[string]any{
					"mimeType": mimeType,
					"data":     base64.StdEncoding.EncodeToString(pcm),
				}}},
			}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGeminiSpeech_Synthesize(t *testing.T) {
	var got string
	srv := speechServer(t, "audio/L16;codec=pcm;rate=24000", []byte{0x01, 0x00, 0x02, 0x00}, &got)

	g, err := NewGeminiSpeech(context.Background(), "test-key", "", srv.URL, GeminiVoices, httpClientFor(instantPolicy(), "", "", ""))
	if err != nil {
		t.Fatalf("NewGeminiSpeech: %v", err)
	}
	asset, err := g.Synthesize(context.Background(), "Der Fuchs\nSatz eins.", models.LanguageGerman)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if asset.MimeType != models.MimeWAV {
		t.Errorf("mime type %q", asset.MimeType)
	}
	h, err := codec.ReadHeader(asset.EncodedBytes)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.SampleRate != 24000 || h.Samples() != 2 {
		t.Errorf("header %+v", h)
	}
	for _, want := range []string{defaultGeminiTTSModel + ":generateContent", "test-key", "Fenrir", "AUDIO"} {
		if !strings.Contains(got, want) {
			t.Errorf("request missing %q: %s", want, got)
		}
	}
}

func TestGeminiSpeech_MalformedPCM(t *testing.T) {
	var got string
	srv := speechServer(t, "audio/L16;rate=24000", []byte{0x01, 0x00, 0x02}, &got)

	g, err := NewGeminiSpeech(context.Background(), "test-key", "", srv.URL, GeminiVoices, httpClientFor(instantPolicy(), "", "", ""))
	if err != nil {
		t.Fatalf("NewGeminiSpeech: %v", err)
	}
	_, err = g.Synthesize(context.Background(), "text", models.LanguageEnglish)
	var malformed *codec.MalformedAudioError
	if !errors.As(err, &malformed) || !IsKind(err, InvalidResponse) {
		t.Errorf("err = %v, want invalid_response wrapping MalformedAudioError", err)
	}
}
