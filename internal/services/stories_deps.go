package services

import (
	"context"

	"github.com/snappy-loop/magicstory/internal/models"
	"github.com/snappy-loop/magicstory/internal/playback"
)

// storyGenerator is the subset of pipeline.Pipeline used by StoryService.
type storyGenerator interface {
	Run(ctx context.Context, req models.GenerationRequest) (*models.StoryResult, error)
	Narrate(ctx context.Context, text string, lang models.Language) (*models.AudioAsset, error)
}

// player is the subset of playback.Controller used by StoryService.
type player interface {
	Play(asset *models.AudioAsset) error
	Pause() error
	Stop()
	Status() playback.Status
}
