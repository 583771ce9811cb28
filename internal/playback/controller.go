package playback

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/models"
)

// State is the state of the single playback session.
// Idle -> Playing -> {Paused <-> Playing} -> Stopped -> Idle.
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Reasons attached to a Change.
const (
	ReasonStarted  = "started"
	ReasonResumed  = "resumed"
	ReasonPaused   = "paused"
	ReasonStopped  = "stopped"
	ReasonReplaced = "replaced"
	ReasonEnded    = "ended"
)

// resampleQuality is passed to beep.Resample when the asset and the sink disagree on rate.
const resampleQuality = 4

var (
	ErrInvalidTransition   = errors.New("invalid playback transition")
	ErrPlaybackUnavailable = errors.New("playback unavailable")
)

// Status is a snapshot of the session.
type Status struct {
	State    State
	Position time.Duration
	Duration time.Duration
	MimeType string
}

// Change is delivered to listeners after every state change.
type Change struct {
	Status
	Reason string
}

// Controller owns the one live playback session. All methods are safe for
// concurrent use; listeners are called without the controller lock held.
type Controller struct {
	mu        sync.Mutex
	sink      Sink
	state     State
	asset     *models.AudioAsset
	stream    beep.StreamSeekCloser
	format    beep.Format
	ctrl      *beep.Ctrl
	session   uint64
	listeners []func(Change)
	pending   []Change
}

// NewController creates an idle controller writing to sink.
func NewController(sink Sink) *Controller {
	return &Controller{sink: sink, state: StateIdle}
}

// OnChange registers a listener for state changes.
func (c *Controller) OnChange(fn func(Change)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Play starts asset. Playing the paused asset resumes it in place, playing the
// asset that is already playing does nothing, and any other asset replaces the
// current session from position zero. A decode failure leaves the current
// session untouched and returns ErrPlaybackUnavailable.
func (c *Controller) Play(asset *models.AudioAsset) error {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.stream != nil && sameAsset(c.asset, asset) {
		switch c.state {
		case StatePlaying:
			return nil
		case StatePaused:
			c.sink.Lock()
			c.ctrl.Paused = false
			c.sink.Unlock()
			c.setLocked(StatePlaying, ReasonResumed)
			return nil
		}
	}

	stream, format, err := decode(asset)
	if err != nil {
		log.Warn().Err(err).Str("mime_type", mimeOf(asset)).Msg("Audio could not be decoded")
		return err
	}

	if c.stream != nil {
		c.teardownLocked()
		c.setLocked(StateStopped, ReasonReplaced)
	}

	c.session++
	id := c.session
	c.asset = asset
	c.stream = stream
	c.format = format

	var src beep.Streamer = stream
	if format.SampleRate != c.sink.SampleRate() {
		src = beep.Resample(resampleQuality, format.SampleRate, c.sink.SampleRate(), stream)
	}
	c.ctrl = &beep.Ctrl{Streamer: src}
	c.sink.Play(beep.Seq(c.ctrl, beep.Callback(func() {
		// Runs on the sink's streaming goroutine with the sink locked.
		go c.finished(id)
	})))

	c.setLocked(StatePlaying, ReasonStarted)
	log.Debug().
		Str("mime_type", asset.MimeType).
		Dur("duration", format.SampleRate.D(stream.Len())).
		Msg("Playback started")
	return nil
}

// Pause is only valid while playing.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.state != StatePlaying {
		return fmt.Errorf("%w: cannot pause from %s", ErrInvalidTransition, c.state)
	}
	c.sink.Lock()
	c.ctrl.Paused = true
	c.sink.Unlock()
	c.setLocked(StatePaused, ReasonPaused)
	return nil
}

// Stop ends the session from any state and leaves the controller idle at
// position zero.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if c.stream == nil {
		return
	}
	c.teardownLocked()
	c.setLocked(StateStopped, ReasonStopped)
	c.setLocked(StateIdle, ReasonStopped)
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Close stops playback.
func (c *Controller) Close() error {
	c.Stop()
	return nil
}

// finished handles the natural end of session id. Ends of replaced or stopped
// sessions are ignored.
func (c *Controller) finished(id uint64) {
	c.mu.Lock()
	defer c.unlockAndNotify()

	if id != c.session || c.stream == nil {
		return
	}
	c.teardownLocked()
	c.setLocked(StateIdle, ReasonEnded)
	log.Debug().Msg("Playback ended")
}

// teardownLocked detaches the current stream and invalidates its end callback.
func (c *Controller) teardownLocked() {
	c.session++
	c.sink.Clear()
	if err := c.stream.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close audio stream")
	}
	c.stream = nil
	c.ctrl = nil
	c.asset = nil
	c.format = beep.Format{}
}

func (c *Controller) statusLocked() Status {
	st := Status{State: c.state}
	if c.stream == nil {
		return st
	}
	c.sink.Lock()
	pos, length := c.stream.Position(), c.stream.Len()
	c.sink.Unlock()
	st.Position = c.format.SampleRate.D(pos)
	st.Duration = c.format.SampleRate.D(length)
	st.MimeType = c.asset.MimeType
	return st
}

func (c *Controller) setLocked(s State, reason string) {
	c.state = s
	c.pending = append(c.pending, Change{Status: c.statusLocked(), Reason: reason})
}

func (c *Controller) unlockAndNotify() {
	pending := c.pending
	c.pending = nil
	listeners := c.listeners
	c.mu.Unlock()

	for _, ch := range pending {
		for _, fn := range listeners {
			fn(ch)
		}
	}
}

func sameAsset(a, b *models.AudioAsset) bool {
	if a == nil || b == nil {
		return false
	}
	return a == b || (a.MimeType == b.MimeType && bytes.Equal(a.EncodedBytes, b.EncodedBytes))
}

func mimeOf(a *models.AudioAsset) string {
	if a == nil {
		return ""
	}
	return a.MimeType
}
