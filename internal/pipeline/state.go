package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// State is the state of one pipeline invocation. The main path is
// Pending -> TextInFlight -> (TextFailed | TextReady) -> [ImageInFlight] -> Ready.
// Audio runs as a side path off TextReady: AudioInFlight -> (AudioFailed | AudioReady).
type State string

const (
	StatePending       State = "pending"
	StateTextInFlight  State = "text_in_flight"
	StateTextFailed    State = "text_failed"
	StateTextReady     State = "text_ready"
	StateImageInFlight State = "image_in_flight"
	StateReady         State = "ready"

	StateAudioInFlight State = "audio_in_flight"
	StateAudioFailed   State = "audio_failed"
	StateAudioReady    State = "audio_ready"
)

// Stage names the generation step a transition belongs to.
type Stage string

const (
	StageText  Stage = "text"
	StageImage Stage = "image"
	StageAudio Stage = "audio"
)

var ErrInvalidTransition = errors.New("invalid pipeline transition")

var transitions = map[State][]State{
	StatePending:       {StateTextInFlight, StateAudioInFlight},
	StateTextInFlight:  {StateTextFailed, StateTextReady},
	StateTextReady:     {StateImageInFlight, StateAudioInFlight, StateReady},
	StateImageInFlight: {StateReady},
	StateAudioInFlight: {StateAudioFailed, StateAudioReady},
}

// Transition validates a single edge of the state machine.
func Transition(from, to State) error {
	if slices.Contains(transitions[from], to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Terminal reports whether no edge leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Event is one observed transition.
type Event struct {
	RunID string
	Stage Stage
	From  State
	To    State
	Err   error
	At    time.Time
}

// Observer receives every transition of every run. Image and audio stages run
// concurrently, so implementations must be safe for concurrent use.
type Observer interface {
	OnTransition(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnTransition(e Event) { f(e) }
