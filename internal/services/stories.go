package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/models"
	"github.com/snappy-loop/magicstory/internal/playback"
)

var (
	// ErrSuperseded is returned to a Generate call whose result was replaced by a newer request.
	ErrSuperseded = errors.New("generation superseded by a newer request")
	ErrNoStory    = errors.New("no story generated yet")
)

// currentStory is the last published result and the language it was written in.
type currentStory struct {
	result   *models.StoryResult
	language models.Language
}

// StoryService is the UI session: it owns the current story and the single
// playback session.
type StoryService struct {
	generator storyGenerator
	player    player

	mu      sync.Mutex
	seq     uint64
	cancel  context.CancelFunc
	current *currentStory
	// narrations cancels in-flight on-demand narrations when a new story is requested.
	narrations map[uint64]context.CancelFunc
	nextNarr   uint64
}

// NewStoryService creates a new StoryService
func NewStoryService(generator storyGenerator, player player) *StoryService {
	return &StoryService{
		generator: generator,
		player:    player,
	}
}

// Generate stops playback, cancels any outstanding generation and runs a new
// one. Only the latest call publishes its result; earlier calls return
// ErrSuperseded.
func (s *StoryService) Generate(ctx context.Context, req models.GenerationRequest) (*models.StoryResult, error) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	for id, cancelNarration := range s.narrations {
		cancelNarration()
		delete(s.narrations, id)
	}
	s.seq++
	seq := s.seq
	// Stopping under the lock orders it against Play, so no older narration
	// can start once this request is registered.
	s.player.Stop()
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	result, err := s.generator.Run(runCtx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		log.Info().Uint64("seq", seq).Msg("Discarding superseded story generation")
		return nil, ErrSuperseded
	}
	s.cancel = nil
	if err != nil {
		return nil, err
	}
	s.current = &currentStory{result: result, language: req.Language}
	return result, nil
}

// Current returns the last published story.
func (s *StoryService) Current() (*models.StoryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, ErrNoStory
	}
	return s.current.result, nil
}

// Play plays the current story's narration, synthesizing it first when the
// story was generated without audio. While a newer story is being generated
// the current one is stale and Play returns ErrSuperseded.
func (s *StoryService) Play(ctx context.Context) (playback.Status, error) {
	s.mu.Lock()
	cur := s.current
	seq := s.seq
	pending := s.cancel != nil
	s.mu.Unlock()
	if pending {
		return playback.Status{}, ErrSuperseded
	}
	if cur == nil {
		return playback.Status{}, ErrNoStory
	}

	asset := cur.result.Audio
	if asset == nil {
		narrated, err := s.narrate(ctx, cur)
		if err != nil {
			return playback.Status{}, err
		}
		asset = narrated
	}

	s.mu.Lock()
	if s.seq != seq {
		s.mu.Unlock()
		return playback.Status{}, ErrSuperseded
	}
	if cur.result.Audio == nil && s.current == cur {
		// Results are immutable; publish a copy carrying the audio.
		withAudio := *cur.result
		withAudio.Audio = asset
		s.current = &currentStory{result: &withAudio, language: cur.language}
	}
	err := s.player.Play(asset)
	s.mu.Unlock()
	if err != nil {
		return playback.Status{}, err
	}
	return s.player.Status(), nil
}

// narrate synthesizes the story's audio. The call is cancelled when a new
// story is requested before it returns.
func (s *StoryService) narrate(ctx context.Context, cur *currentStory) (*models.AudioAsset, error) {
	narrCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.narrations == nil {
		s.narrations = make(map[uint64]context.CancelFunc)
	}
	s.nextNarr++
	id := s.nextNarr
	s.narrations[id] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.narrations, id)
		s.mu.Unlock()
	}()

	asset, err := s.generator.Narrate(narrCtx, cur.result.Draft.NarrationText(), cur.language)
	if err != nil {
		if narrCtx.Err() != nil && ctx.Err() == nil {
			return nil, ErrSuperseded
		}
		return nil, fmt.Errorf("narration failed: %w", err)
	}
	log.Info().Str("run_id", cur.result.RunID).Str("mime_type", asset.MimeType).Msg("Narration generated on demand")
	return asset, nil
}

// Pause pauses playback.
func (s *StoryService) Pause() (playback.Status, error) {
	if err := s.player.Pause(); err != nil {
		return playback.Status{}, err
	}
	return s.player.Status(), nil
}

// Stop stops playback.
func (s *StoryService) Stop() playback.Status {
	s.player.Stop()
	return s.player.Status()
}

// PlaybackState returns the playback snapshot.
func (s *StoryService) PlaybackState() playback.Status {
	return s.player.Status()
}
