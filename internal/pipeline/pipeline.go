package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/llm"
	"github.com/snappy-loop/magicstory/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultStageTimeout bounds one stage including all of its retries.
const DefaultStageTimeout = 3 * time.Minute

var (
	ErrInvalidRequest    = errors.New("invalid generation request")
	ErrSpeechUnavailable = errors.New("no speech provider configured")
)

// TextGenerationFailedError is the only way Run fails once a request is accepted.
type TextGenerationFailedError struct {
	RunID string
	Cause error
}

func (e *TextGenerationFailedError) Error() string {
	return fmt.Sprintf("text generation failed: %v", e.Cause)
}

func (e *TextGenerationFailedError) Unwrap() error {
	return e.Cause
}

// Pipeline generates a story: text first, then illustration and narration
// concurrently. It holds no per-run state, so concurrent Runs are independent.
type Pipeline struct {
	text         llm.TextProvider
	image        llm.ImageProvider
	speech       llm.SpeechProvider
	observers    []Observer
	stageTimeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver registers an observer for state transitions.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// WithStageTimeout overrides DefaultStageTimeout; zero disables the bound.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stageTimeout = d }
}

// New creates a pipeline. image and speech may be nil to disable those stages.
func New(text llm.TextProvider, image llm.ImageProvider, speech llm.SpeechProvider, opts ...Option) *Pipeline {
	p := &Pipeline{
		text:         text,
		image:        image,
		speech:       speech,
		stageTimeout: DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HasSpeech reports whether narration can be produced.
func (p *Pipeline) HasSpeech() bool {
	return p.speech != nil
}

// run tracks the transitions of one invocation.
type run struct {
	id        string
	observers []Observer
}

func (r *run) move(stage Stage, from, to State, err error) {
	if terr := Transition(from, to); terr != nil {
		log.Error().Err(terr).Str("run_id", r.id).Str("stage", string(stage)).Msg("Pipeline transition rejected")
		return
	}
	evt := Event{RunID: r.id, Stage: stage, From: from, To: to, Err: err, At: time.Now()}
	log.Debug().
		Str("run_id", r.id).
		Str("stage", string(stage)).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Pipeline transition")
	for _, o := range r.observers {
		o.OnTransition(evt)
	}
}

// Run generates a story for req. Illustration and narration failures leave the
// corresponding field nil; only a text failure fails the run.
func (p *Pipeline) Run(ctx context.Context, req models.GenerationRequest) (*models.StoryResult, error) {
	if req.Kind != models.KindStory {
		return nil, fmt.Errorf("%w: run expects a story request, got %q", ErrInvalidRequest, req.Kind)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	r := &run{id: uuid.NewString(), observers: p.observers}
	start := time.Now()
	log.Info().
		Str("run_id", r.id).
		Str("category", req.Category).
		Str("length", string(req.Length)).
		Str("language", string(req.Language)).
		Bool("narrate", req.Narrate).
		Msg("Story generation started")

	r.move(StageText, StatePending, StateTextInFlight, nil)
	draft, err := p.generateText(ctx, req)
	if err != nil {
		r.move(StageText, StateTextInFlight, StateTextFailed, err)
		log.Error().Err(err).Str("run_id", r.id).Msg("Story text generation failed")
		return nil, &TextGenerationFailedError{RunID: r.id, Cause: err}
	}
	r.move(StageText, StateTextInFlight, StateTextReady, nil)

	var (
		illustration *models.IllustrationRef
		imageErr     error
		audio        *models.AudioAsset
		g            errgroup.Group
	)
	imageStarted := p.image != nil
	if imageStarted {
		r.move(StageImage, StateTextReady, StateImageInFlight, nil)
		// Stage failures are swallowed; only cancellation of the run itself
		// reaches the group.
		g.Go(func() error {
			illustration, imageErr = p.illustrate(ctx, r, req.Category)
			if imageErr != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	if req.Narrate && p.speech != nil {
		r.move(StageAudio, StateTextReady, StateAudioInFlight, nil)
		g.Go(func() error {
			asset, err := p.synthesize(ctx, draft.NarrationText(), req.Language)
			if err != nil {
				log.Warn().Err(err).Str("run_id", r.id).Msg("Narration failed, continuing without audio")
				r.move(StageAudio, StateAudioInFlight, StateAudioFailed, err)
				return ctx.Err()
			}
			r.move(StageAudio, StateAudioInFlight, StateAudioReady, nil)
			audio = asset
			return nil
		})
	}
	waitErr := g.Wait()

	if imageStarted {
		r.move(StageImage, StateImageInFlight, StateReady, imageErr)
	} else {
		r.move(StageText, StateTextReady, StateReady, nil)
	}
	if waitErr != nil {
		log.Info().Err(waitErr).Str("run_id", r.id).Msg("Story generation cancelled")
		return nil, fmt.Errorf("story generation cancelled: %w", waitErr)
	}

	log.Info().
		Str("run_id", r.id).
		Str("title", draft.Title).
		Int("paragraphs", len(draft.Paragraphs)).
		Bool("illustration", illustration != nil).
		Bool("audio", audio != nil).
		Dur("elapsed", time.Since(start)).
		Msg("Story generation complete")

	return &models.StoryResult{
		RunID:        r.id,
		Draft:        *draft,
		Illustration: illustration,
		Audio:        audio,
	}, nil
}

// Narrate produces narration for text on its own (the audio request kind).
// Unlike the narration inside Run, its failure is returned to the caller.
func (p *Pipeline) Narrate(ctx context.Context, text string, lang models.Language) (*models.AudioAsset, error) {
	if p.speech == nil {
		return nil, ErrSpeechUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: nothing to narrate", ErrInvalidRequest)
	}
	r := &run{id: uuid.NewString(), observers: p.observers}
	r.move(StageAudio, StatePending, StateAudioInFlight, nil)
	asset, err := p.synthesize(ctx, text, lang)
	if err != nil {
		r.move(StageAudio, StateAudioInFlight, StateAudioFailed, err)
		return nil, err
	}
	r.move(StageAudio, StateAudioInFlight, StateAudioReady, nil)
	return asset, nil
}

func (p *Pipeline) generateText(ctx context.Context, req models.GenerationRequest) (*models.StoryDraft, error) {
	ctx, cancel := p.stageContext(ctx)
	defer cancel()
	draft, err := p.text.GenerateStory(ctx, llm.ParamsFromRequest(req))
	if err == nil && draft == nil {
		err = &llm.Error{Kind: llm.InvalidResponse, Provider: p.text.Name(), Err: errors.New("provider returned no draft")}
	}
	return draft, err
}

// illustrate logs any failure and returns a nil illustration with it; the
// caller keeps the error only for observers.
func (p *Pipeline) illustrate(ctx context.Context, r *run, category string) (*models.IllustrationRef, error) {
	ctx, cancel := p.stageContext(ctx)
	defer cancel()

	ref, err := p.image.GenerateIllustration(ctx, llm.IllustrationPrompt(category))
	if err == nil && ref == nil {
		err = errors.New("provider returned no illustration")
	}
	if err != nil {
		log.Warn().Err(err).Str("run_id", r.id).Str("provider", p.image.Name()).Msg("Illustration failed, continuing without image")
		return nil, err
	}
	return ref, nil
}

func (p *Pipeline) synthesize(ctx context.Context, text string, lang models.Language) (*models.AudioAsset, error) {
	ctx, cancel := p.stageContext(ctx)
	defer cancel()

	asset, err := p.speech.Synthesize(ctx, text, lang)
	if err == nil && asset == nil {
		err = errors.New("provider returned no audio")
	}
	return asset, err
}

func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.stageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.stageTimeout)
}
