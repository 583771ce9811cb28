package llm

import (
	"fmt"
	"maps"
	"strings"

	"github.com/snappy-loop/magicstory/internal/models"
)

// VoiceTable maps a story language to a provider voice identifier. Languages
// missing from the table use the fallback voice.
type VoiceTable struct {
	voices   map[models.Language]string
	fallback string
}

// NewVoiceTable returns a table with the given default voice and language entries.
func NewVoiceTable(fallback string, voices map[models.Language]string) VoiceTable {
	return VoiceTable{voices: maps.Clone(voices), fallback: fallback}
}

// Voice returns the voice for lang. Lookup is case-insensitive.
func (t VoiceTable) Voice(lang models.Language) string {
	if v, ok := t.voices[lang]; ok {
		return v
	}
	for l, v := range t.voices {
		if strings.EqualFold(string(l), string(lang)) {
			return v
		}
	}
	return t.fallback
}

// With returns a copy of t with overrides applied on top.
func (t VoiceTable) With(overrides map[models.Language]string) VoiceTable {
	if len(overrides) == 0 {
		return t
	}
	voices := maps.Clone(t.voices)
	if voices == nil {
		voices = make(map[models.Language]string, len(overrides))
	}
	maps.Copy(voices, overrides)
	return VoiceTable{voices: voices, fallback: t.fallback}
}

var (
	GeminiVoices = NewVoiceTable("Kore", map[models.Language]string{
		models.LanguageEnglish: "Kore",
		models.LanguageBahasa:  "Leda",
		models.LanguageGerman:  "Fenrir",
	})

	// Bahasa has no dedicated OpenAI voice.
	OpenAIVoices = NewVoiceTable("alloy", map[models.Language]string{
		models.LanguageEnglish: "alloy",
		models.LanguageBahasa:  "shimmer",
		models.LanguageGerman:  "nova",
	})

	CloudTTSVoices = NewVoiceTable("en-US-Chirp3-HD-Charon", map[models.Language]string{
		models.LanguageEnglish: "en-US-Chirp3-HD-Charon",
		models.LanguageBahasa:  "id-ID-Chirp3-HD-Charon",
		models.LanguageGerman:  "de-DE-Chirp3-HD-Charon",
	})
)

// ParseVoiceOverrides parses "English=Puck,German=Charon" into a language map.
func ParseVoiceOverrides(s string) (map[models.Language]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := make(map[models.Language]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		lang, voice, ok := strings.Cut(entry, "=")
		lang, voice = strings.TrimSpace(lang), strings.TrimSpace(voice)
		if !ok || lang == "" || voice == "" {
			return nil, fmt.Errorf("invalid voice override %q (want Language=voice)", entry)
		}
		out[models.Language(lang)] = voice
	}
	return out, nil
}

// voiceLanguageCode derives the BCP-47 code from a Cloud TTS voice name
// ("de-DE-Chirp3-HD-Charon" -> "de-DE").
func voiceLanguageCode(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 3 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}
