package llm

import (
	"fmt"
	"strings"
)

// StoryPrompt asks for a story returned as {"title": string, "content": [string]}.
func StoryPrompt(p StoryParams) string {
	return fmt.Sprintf(`Write a children's story that takes about %s to read aloud, written in %s, featuring a character that is a %s and teaching the moral of %s. The story should be sweet and gentle.

The response MUST be a single JSON object with exactly two fields:
- "title": a string
- "content": an array of strings, one string per paragraph

Return ONLY the JSON object, no explanations or formatting.`, p.Length.Duration(), p.Language, p.Category, p.Moral)
}

// IllustrationPrompt derives the scene description from the category only, so
// the prompt stays short whatever the story length.
func IllustrationPrompt(category string) string {
	return fmt.Sprintf("Children's book illustration, pastel palette, soft outlines, whimsical, theme: %s, focus on one main scene that strongly represents the story (no text).",
		strings.TrimSpace(category))
}
