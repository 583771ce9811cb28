package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/snappy-loop/magicstory/internal/models"
)

// jsonObjectRe extracts the outermost {...} from a reply that may wrap it in prose or code fences.
var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

type draftPayload struct {
	Title   *string   `json:"title"`
	Content *[]string `json:"content"`
}

// ParseDraft validates a text provider reply into a StoryDraft. Any reply that is
// not a JSON object with a non-empty title and at least one non-blank paragraph
// is an InvalidResponse.
func ParseDraft(provider, raw string) (*models.StoryDraft, error) {
	match := jsonObjectRe.FindString(raw)
	if match == "" {
		return nil, invalidResponse(provider, "no JSON object in reply")
	}

	var payload draftPayload
	if err := json.Unmarshal([]byte(match), &payload); err != nil {
		return nil, invalidResponse(provider, "reply is not valid JSON: %v", err)
	}
	if payload.Title == nil || strings.TrimSpace(*payload.Title) == "" {
		return nil, invalidResponse(provider, "reply is missing the title field")
	}
	if payload.Content == nil {
		return nil, invalidResponse(provider, "reply is missing the content field")
	}

	paragraphs := make([]string, 0, len(*payload.Content))
	for _, p := range *payload.Content {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		return nil, invalidResponse(provider, "reply has no paragraphs")
	}

	return &models.StoryDraft{
		Title:      strings.TrimSpace(*payload.Title),
		Paragraphs: paragraphs,
	}, nil
}
