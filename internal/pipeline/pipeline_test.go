package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snappy-loop/magicstory/internal/llm"
	"github.com/snappy-loop/magicstory/internal/models"
)

type fakeText struct {
	raw   string
	err   error
	calls int32
	done  atomic.Bool
}

func (f *fakeText) Name() string { return "fake-text" }

func (f *fakeText) GenerateStory(ctx context.Context, params llm.StoryParams) (*models.StoryDraft, error) {
	atomic.AddInt32(&f.calls, 1)
	defer f.done.Store(true)
	if f.err != nil {
		return nil, f.err
	}
	return llm.ParseDraft(f.Name(), f.raw)
}

type fakeImage struct {
	ref    *models.IllustrationRef
	err    error
	calls  int32
	scenes []string
	mu     sync.Mutex
	hook   func()
}

func (f *fakeImage) Name() string { return "fake-image" }

func (f *fakeImage) GenerateIllustration(ctx context.Context, scene string) (*models.IllustrationRef, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.scenes = append(f.scenes, scene)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook()
	}
	return f.ref, f.err
}

type fakeSpeech struct {
	asset *models.AudioAsset
	err   error
	calls int32
	text  string
	lang  models.Language
	hook  func()
}

func (f *fakeSpeech) Name() string { return "fake-speech" }

func (f *fakeSpeech) Synthesize(ctx context.Context, text string, lang models.Language) (*models.AudioAsset, error) {
	atomic.AddInt32(&f.calls, 1)
	f.text, f.lang = text, lang
	if f.hook != nil {
		f.hook()
	}
	return f.asset, f.err
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) OnTransition(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingObserver) stage(s Stage) [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][2]State
	for _, e := range r.events {
		if e.Stage == s {
			out = append(out, [2]State{e.From, e.To})
		}
	}
	return out
}

func germanRequest() models.GenerationRequest {
	return models.GenerationRequest{
		Category: "Animal",
		Length:   models.LengthShort,
		Language: models.LanguageGerman,
		Moral:    "Kindness",
		Kind:     models.KindStory,
	}
}

const foxJSON = `{"title":"Der Fuchs","content":["Satz eins.","Satz zwei."]}`

func TestRun_GermanScenarioImageFails(t *testing.T) {
	text := &fakeText{raw: foxJSON}
	image := &fakeImage{err: errors.New("imagen unavailable")}
	obs := &recordingObserver{}
	p := New(text, image, nil, WithObserver(obs))

	req := germanRequest()
	length, err := models.ParseLength("5-10 min")
	if err != nil {
		t.Fatal(err)
	}
	req.Length = length

	result, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Draft.Title != "Der Fuchs" {
		t.Errorf("title %q", result.Draft.Title)
	}
	if !reflect.DeepEqual(result.Draft.Paragraphs, []string{"Satz eins.", "Satz zwei."}) {
		t.Errorf("paragraphs %q", result.Draft.Paragraphs)
	}
	if result.Illustration != nil {
		t.Errorf("expected absent illustration, got %+v", result.Illustration)
	}
	if result.Audio != nil {
		t.Error("audio not requested but present")
	}
	if result.RunID == "" {
		t.Error("missing run id")
	}

	want := [][2]State{{StateTextReady, StateImageInFlight}, {StateImageInFlight, StateReady}}
	if got := obs.stage(StageImage); !reflect.DeepEqual(got, want) {
		t.Errorf("image transitions %v, want %v", got, want)
	}
	// the failure is visible to observers even though the run succeeded
	obs.mu.Lock()
	last := obs.events[len(obs.events)-1]
	obs.mu.Unlock()
	if last.To != StateReady || last.Err == nil {
		t.Errorf("final event %+v", last)
	}
}

func TestRun_IllustrationSceneFromCategoryOnly(t *testing.T) {
	text := &fakeText{raw: foxJSON}
	image := &fakeImage{ref: &models.IllustrationRef{URL: "https://img.example/fox.png"}}
	p := New(text, image, nil)

	result, err := p.Run(context.Background(), germanRequest())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Illustration == nil || result.Illustration.URL != "https://img.example/fox.png" {
		t.Errorf("illustration %+v", result.Illustration)
	}
	if len(image.scenes) != 1 || image.scenes[0] != llm.IllustrationPrompt("Animal") {
		t.Errorf("scene %q", image.scenes)
	}
}

func TestRun_TextMissingContentIsFatal(t *testing.T) {
	text := &fakeText{raw: `{"title":"Der Fuchs"}`}
	image := &fakeImage{ref: &models.IllustrationRef{URL: "x"}}
	speech := &fakeSpeech{asset: &models.AudioAsset{EncodedBytes: []byte{1}, MimeType: models.MimeMPEG}}
	obs := &recordingObserver{}
	p := New(text, image, speech, WithObserver(obs))

	req := germanRequest()
	req.Narrate = true
	result, err := p.Run(context.Background(), req)
	if result != nil {
		t.Fatalf("expected no result, got %+v", result)
	}
	var failed *TextGenerationFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected TextGenerationFailedError, got %v", err)
	}
	if !llm.IsKind(err, llm.InvalidResponse) {
		t.Errorf("expected InvalidResponse cause, got %v", err)
	}
	if image.calls != 0 || speech.calls != 0 {
		t.Errorf("downstream stages ran after text failure: image=%d speech=%d", image.calls, speech.calls)
	}
	want := [][2]State{{StatePending, StateTextInFlight}, {StateTextInFlight, StateTextFailed}}
	if got := obs.stage(StageText); !reflect.DeepEqual(got, want) {
		t.Errorf("text transitions %v, want %v", got, want)
	}
}

func TestRun_AuthErrorIsConfiguration(t *testing.T) {
	authErr := &llm.Error{Kind: llm.AuthError, Provider: "fake", StatusCode: 401, Err: errors.New("bad key")}
	p := New(&fakeText{err: authErr}, nil, nil)

	_, err := p.Run(context.Background(), germanRequest())
	if !errors.Is(err, llm.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration through TextGenerationFailed, got %v", err)
	}
}

func TestRun_AudioFailureIsNotFatal(t *testing.T) {
	text := &fakeText{raw: foxJSON}
	image := &fakeImage{ref: &models.IllustrationRef{URL: "https://img.example/fox.png"}}
	speech := &fakeSpeech{err: errors.New("tts down")}
	obs := &recordingObserver{}
	p := New(text, image, speech, WithObserver(obs))

	req := germanRequest()
	req.Narrate = true
	result, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Audio != nil {
		t.Error("expected absent audio")
	}
	if result.Illustration == nil {
		t.Error("illustration lost because audio failed")
	}
	if speech.text != "Der Fuchs\nSatz eins.\nSatz zwei." || speech.lang != models.LanguageGerman {
		t.Errorf("narration input %q %q", speech.text, speech.lang)
	}
	want := [][2]State{{StateTextReady, StateAudioInFlight}, {StateAudioInFlight, StateAudioFailed}}
	if got := obs.stage(StageAudio); !reflect.DeepEqual(got, want) {
		t.Errorf("audio transitions %v, want %v", got, want)
	}
}

func TestRun_ImageAndAudioRunConcurrentlyAfterText(t *testing.T) {
	text := &fakeText{raw: foxJSON}
	var imageStarted, audioStarted = make(chan struct{}), make(chan struct{})
	var textDoneBeforeImage, textDoneBeforeAudio, overlapped atomic.Bool

	image := &fakeImage{ref: &models.IllustrationRef{URL: "u"}}
	speech := &fakeSpeech{asset: &models.AudioAsset{EncodedBytes: []byte{1}, MimeType: models.MimeWAV}}
	image.hook = func() {
		textDoneBeforeImage.Store(text.done.Load())
		close(imageStarted)
		select {
		case <-audioStarted:
			overlapped.Store(true)
		case <-time.After(2 * time.Second):
		}
	}
	speech.hook = func() {
		textDoneBeforeAudio.Store(text.done.Load())
		close(audioStarted)
		<-imageStarted
	}

	req := germanRequest()
	req.Narrate = true
	result, err := New(text, image, speech).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !textDoneBeforeImage.Load() || !textDoneBeforeAudio.Load() {
		t.Error("image or audio started before text completed")
	}
	if !overlapped.Load() {
		t.Error("image and audio did not run concurrently")
	}
	if result.Audio == nil || result.Illustration == nil {
		t.Errorf("result %+v", result)
	}
}

func TestRun_TransitionsWithoutImageProvider(t *testing.T) {
	obs := &recordingObserver{}
	p := New(&fakeText{raw: foxJSON}, nil, nil, WithObserver(obs))

	if _, err := p.Run(context.Background(), germanRequest()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := [][2]State{
		{StatePending, StateTextInFlight},
		{StateTextInFlight, StateTextReady},
		{StateTextReady, StateReady},
	}
	if got := obs.stage(StageText); !reflect.DeepEqual(got, want) {
		t.Errorf("transitions %v, want %v", got, want)
	}
}

func TestRun_InvalidRequest(t *testing.T) {
	text := &fakeText{raw: foxJSON}
	p := New(text, nil, nil)

	tests := []struct {
		name string
		req  models.GenerationRequest
	}{
		{"audio kind", models.GenerationRequest{Kind: models.KindAudio, Text: "x", Language: "English"}},
		{"missing category", models.GenerationRequest{Kind: models.KindStory, Length: models.LengthShort, Language: "English", Moral: "Kindness"}},
		{"bad length", models.GenerationRequest{Kind: models.KindStory, Category: "Animal", Length: "forever", Language: "English", Moral: "Kindness"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Run(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
	if text.calls != 0 {
		t.Errorf("text provider called %d times for invalid requests", text.calls)
	}
}

func TestRun_CancelledDuringMediaStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	image := &fakeImage{err: context.Canceled}
	image.hook = cancel
	speech := &fakeSpeech{asset: &models.AudioAsset{EncodedBytes: []byte{1}, MimeType: models.MimeWAV}}
	obs := &recordingObserver{}
	p := New(&fakeText{raw: foxJSON}, image, speech, WithObserver(obs))

	req := germanRequest()
	req.Narrate = true
	result, err := p.Run(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Errorf("cancelled run returned a result: %+v", result)
	}
	want := [][2]State{{StateTextReady, StateImageInFlight}, {StateImageInFlight, StateReady}}
	if got := obs.stage(StageImage); !reflect.DeepEqual(got, want) {
		t.Errorf("image transitions %v, want %v", got, want)
	}
}

func TestRun_ConcurrentRunsAreIndependent(t *testing.T) {
	p := New(&fakeText{raw: foxJSON}, &fakeImage{ref: &models.IllustrationRef{URL: "u"}}, nil)

	var wg sync.WaitGroup
	results := make([]*models.StoryResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Run(context.Background(), germanRequest())
			if err != nil {
				t.Errorf("run %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()
	if results[0] == nil || results[1] == nil {
		t.Fatal("missing results")
	}
	if results[0].RunID == results[1].RunID {
		t.Error("concurrent runs share a run id")
	}
	if results[0] == results[1] {
		t.Error("concurrent runs share a result")
	}
}

func TestNarrate(t *testing.T) {
	asset := &models.AudioAsset{EncodedBytes: []byte("mp3"), MimeType: models.MimeMPEG}
	speech := &fakeSpeech{asset: asset}
	p := New(&fakeText{}, nil, speech)

	got, err := p.Narrate(context.Background(), "Der Fuchs", models.LanguageGerman)
	if err != nil || got != asset {
		t.Fatalf("Narrate = %v, %v", got, err)
	}

	speech.err = errors.New("tts down")
	speech.asset = nil
	if _, err := p.Narrate(context.Background(), "Der Fuchs", models.LanguageGerman); err == nil {
		t.Error("narration failure should be returned")
	}

	if _, err := p.Narrate(context.Background(), "  ", models.LanguageGerman); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("empty text: %v", err)
	}

	if _, err := New(&fakeText{}, nil, nil).Narrate(context.Background(), "x", "English"); !errors.Is(err, ErrSpeechUnavailable) {
		t.Errorf("expected ErrSpeechUnavailable, got %v", err)
	}
}

func TestTransition(t *testing.T) {
	valid := [][2]State{
		{StatePending, StateTextInFlight},
		{StateTextInFlight, StateTextFailed},
		{StateTextInFlight, StateTextReady},
		{StateTextReady, StateImageInFlight},
		{StateTextReady, StateReady},
		{StateTextReady, StateAudioInFlight},
		{StateImageInFlight, StateReady},
		{StateAudioInFlight, StateAudioFailed},
		{StateAudioInFlight, StateAudioReady},
	}
	for _, e := range valid {
		if err := Transition(e[0], e[1]); err != nil {
			t.Errorf("%s -> %s rejected: %v", e[0], e[1], err)
		}
	}

	invalid := [][2]State{
		{StatePending, StateReady},
		{StateTextFailed, StateTextReady},
		{StateTextInFlight, StateImageInFlight},
		{StateReady, StatePending},
		{StateAudioFailed, StateTextFailed},
	}
	for _, e := range invalid {
		if err := Transition(e[0], e[1]); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s accepted", e[0], e[1])
		}
	}

	for _, s := range []State{StateTextFailed, StateReady, StateAudioFailed, StateAudioReady} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StateTextReady.Terminal() {
		t.Error("text_ready is not terminal")
	}
}
