package models

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Kind selects what a generation request produces
type Kind string

const (
	KindStory Kind = "story"
	KindAudio Kind = "audio"
)

// Length is the target reading length of a story
type Length string

const (
	LengthShort  Length = "short"
	LengthMedium Length = "medium"
	LengthLong   Length = "long"
)

// lengthLabels maps every accepted spelling (enum value and UI label) to a Length.
var lengthLabels = map[string]Length{
	"short":     LengthShort,
	"5-10 min":  LengthShort,
	"medium":    LengthMedium,
	"10-15 min": LengthMedium,
	"long":      LengthLong,
	">15 min":   LengthLong,
}

// ParseLength accepts either the enum value or the UI label ("5-10 min").
func ParseLength(s string) (Length, error) {
	if l, ok := lengthLabels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return "", fmt.Errorf("invalid length %q", s)
}

// Duration returns the reading duration phrase used in prompts. UI labels
// resolve to their enum value first.
func (l Length) Duration() string {
	if parsed, err := ParseLength(string(l)); err == nil {
		l = parsed
	}
	switch l {
	case LengthMedium:
		return "10-15 minutes"
	case LengthLong:
		return "more than 15 minutes"
	default:
		return "5-10 minutes"
	}
}

// Language is the story language. Unknown languages are allowed; providers fall
// back to their default voice for them.
type Language string

const (
	LanguageEnglish Language = "English"
	LanguageBahasa  Language = "Bahasa"
	LanguageGerman  Language = "German"
)

// GenerationRequest is the immutable input of one pipeline invocation
type GenerationRequest struct {
	Category string
	Length   Length
	Language Language
	Moral    string
	Kind     Kind
	// Narrate requests the audio stage alongside the illustration (story kind only).
	Narrate bool
	// Text is the narration input for the audio kind.
	Text string
}

// Validate checks the request fields that every provider depends on.
func (r GenerationRequest) Validate() error {
	switch r.Kind {
	case KindStory:
		if strings.TrimSpace(r.Category) == "" {
			return fmt.Errorf("category is required")
		}
		if _, err := ParseLength(string(r.Length)); err != nil {
			return err
		}
		if strings.TrimSpace(r.Moral) == "" {
			return fmt.Errorf("moral is required")
		}
	case KindAudio:
		if strings.TrimSpace(r.Text) == "" {
			return fmt.Errorf("text is required for audio requests")
		}
	default:
		return fmt.Errorf("invalid request type %q", r.Kind)
	}
	if strings.TrimSpace(string(r.Language)) == "" {
		return fmt.Errorf("language is required")
	}
	return nil
}

// StoryDraft is the validated output of a text provider
type StoryDraft struct {
	Title      string   `json:"title"`
	Paragraphs []string `json:"content"`
}

// NarrationText joins the title and paragraphs the way the narration is read aloud.
func (d StoryDraft) NarrationText() string {
	parts := make([]string, 0, len(d.Paragraphs)+1)
	parts = append(parts, d.Title)
	parts = append(parts, d.Paragraphs...)
	return strings.Join(parts, "\n")
}

// IllustrationRef points at a generated illustration, either remotely or inline.
type IllustrationRef struct {
	URL         string
	InlineBytes []byte
	MimeType    string
}

// Src returns a value usable as an <img src>: the URL, or a data URI for inline bytes.
func (i *IllustrationRef) Src() string {
	if i == nil {
		return ""
	}
	if i.URL != "" {
		return i.URL
	}
	if len(i.InlineBytes) == 0 {
		return ""
	}
	mime := i.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.InlineBytes)
}

const (
	MimeWAV  = "audio/wav"
	MimeMPEG = "audio/mpeg"
)

// AudioAsset is a playable, self-contained audio container
type AudioAsset struct {
	EncodedBytes []byte
	MimeType     string // audio/wav or audio/mpeg
}

// Extension returns the file extension matching the asset's container.
func (a *AudioAsset) Extension() string {
	if a != nil && a.MimeType == MimeWAV {
		return "wav"
	}
	return "mp3"
}

// StoryResult is the aggregate delivered to the UI. Built once per pipeline
// invocation and never mutated afterwards.
type StoryResult struct {
	RunID        string
	Draft        StoryDraft
	Illustration *IllustrationRef
	Audio        *AudioAsset
}

// GenerateRequest is the relay request body (POST /api/generate)
type GenerateRequest struct {
	Type     string `json:"type"` // story, audio
	Category string `json:"category"`
	Length   string `json:"length"`
	Language string `json:"language"`
	Moral    string `json:"moral"`
	Text     string `json:"text,omitempty"`
	Narrate  bool   `json:"narrate,omitempty"`
}

// ToGenerationRequest converts the wire body into a validated GenerationRequest.
func (g GenerateRequest) ToGenerationRequest() (GenerationRequest, error) {
	req := GenerationRequest{
		Category: strings.TrimSpace(g.Category),
		Language: Language(strings.TrimSpace(g.Language)),
		Moral:    strings.TrimSpace(g.Moral),
		Kind:     Kind(g.Type),
		Narrate:  g.Narrate,
		Text:     g.Text,
	}
	if req.Kind == KindStory {
		length, err := ParseLength(g.Length)
		if err != nil {
			return GenerationRequest{}, err
		}
		req.Length = length
	}
	if err := req.Validate(); err != nil {
		return GenerationRequest{}, err
	}
	return req, nil
}

// StoryResponse is the relay story response body
type StoryResponse struct {
	Title   string   `json:"title"`
	Content []string `json:"content"`
	Image   *string  `json:"image"`
}

// ToStoryResponse renders a StoryResult for the relay; image is null when absent.
func (r *StoryResult) ToStoryResponse() StoryResponse {
	resp := StoryResponse{
		Title:   r.Draft.Title,
		Content: r.Draft.Paragraphs,
	}
	if src := r.Illustration.Src(); src != "" {
		resp.Image = &src
	}
	return resp
}

// SessionStoryResponse is the session API view of the current story
type SessionStoryResponse struct {
	RunID    string   `json:"run_id"`
	Title    string   `json:"title"`
	Content  []string `json:"content"`
	Image    *string  `json:"image"`
	HasAudio bool     `json:"has_audio"`
}

// ToSessionResponse renders a StoryResult for the session API.
func (r *StoryResult) ToSessionResponse() SessionStoryResponse {
	story := r.ToStoryResponse()
	return SessionStoryResponse{
		RunID:    r.RunID,
		Title:    story.Title,
		Content:  story.Content,
		Image:    story.Image,
		HasAudio: r.Audio != nil,
	}
}
