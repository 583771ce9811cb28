package llm

import (
	"context"

	"github.com/snappy-loop/magicstory/internal/models"
)

// StoryParams are the narrative parameters a text provider writes a story from.
type StoryParams struct {
	Category string
	Length   models.Length
	Language models.Language
	Moral    string
}

// ParamsFromRequest extracts the narrative parameters of a request.
func ParamsFromRequest(req models.GenerationRequest) StoryParams {
	length := req.Length
	if parsed, err := models.ParseLength(string(length)); err == nil {
		length = parsed
	}
	return StoryParams{
		Category: req.Category,
		Length:   length,
		Language: req.Language,
		Moral:    req.Moral,
	}
}

// TextProvider writes a story and returns it as a validated draft.
type TextProvider interface {
	Name() string
	GenerateStory(ctx context.Context, params StoryParams) (*models.StoryDraft, error)
}

// ImageProvider renders one illustration from a scene description.
type ImageProvider interface {
	Name() string
	GenerateIllustration(ctx context.Context, scene string) (*models.IllustrationRef, error)
}

// SpeechProvider narrates text in the voice mapped to lang. Raw PCM output is
// converted to WAV before it is returned.
type SpeechProvider interface {
	Name() string
	Synthesize(ctx context.Context, text string, lang models.Language) (*models.AudioAsset, error)
}
