package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/rs/zerolog/log"
)

// DefaultSampleRate is the output rate of the built-in sinks; streams at other
// rates are resampled.
const DefaultSampleRate = beep.SampleRate(44100)

// Sink is an audio output. Lock and Unlock guard state read by the output's
// streaming goroutine.
type Sink interface {
	SampleRate() beep.SampleRate
	Play(s beep.Streamer)
	Clear()
	Lock()
	Unlock()
}

// SpeakerSink plays through the system audio device.
type SpeakerSink struct {
	sr beep.SampleRate
}

// NewSpeakerSink initializes the speaker once with a 100ms buffer.
func NewSpeakerSink(sr beep.SampleRate) (*SpeakerSink, error) {
	if err := speaker.Init(sr, sr.N(time.Second/10)); err != nil {
		return nil, fmt.Errorf("failed to initialize speaker: %w", err)
	}
	log.Info().Int("sample_rate", int(sr)).Msg("Speaker initialized")
	return &SpeakerSink{sr: sr}, nil
}

func (s *SpeakerSink) SampleRate() beep.SampleRate { return s.sr }
func (s *SpeakerSink) Play(st beep.Streamer)        { speaker.Play(st) }
func (s *SpeakerSink) Clear()                       { speaker.Clear() }
func (s *SpeakerSink) Lock()                        { speaker.Lock() }
func (s *SpeakerSink) Unlock()                      { speaker.Unlock() }

// MixerSink holds the current streamer and produces samples only when pulled.
// It backs NullSink and drives playback deterministically in tests.
type MixerSink struct {
	mu      sync.Mutex
	sr      beep.SampleRate
	current beep.Streamer
}

// NewMixerSink returns a sink that discards audio.
func NewMixerSink(sr beep.SampleRate) *MixerSink {
	return &MixerSink{sr: sr}
}

func (m *MixerSink) SampleRate() beep.SampleRate { return m.sr }

func (m *MixerSink) Play(s beep.Streamer) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

func (m *MixerSink) Clear() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

func (m *MixerSink) Lock()   { m.mu.Lock() }
func (m *MixerSink) Unlock() { m.mu.Unlock() }

// Pull streams n samples from the current streamer and returns how many it produced.
func (m *MixerSink) Pull(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	buf := make([][2]float64, n)
	filled := 0
	for filled < n && m.current != nil {
		got, ok := m.current.Stream(buf[filled:])
		filled += got
		if !ok || got == 0 {
			m.current = nil
		}
	}
	return filled
}

// Active reports whether a streamer is loaded.
func (m *MixerSink) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// NullSink discards audio in real time, for hosts without an audio device.
type NullSink struct {
	*MixerSink
	cancel context.CancelFunc
	done   chan struct{}
}

// NewNullSink starts a clock that pulls samples every tick.
func NewNullSink(sr beep.SampleRate, tick time.Duration) *NullSink {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &NullSink{MixerSink: NewMixerSink(sr), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(n.done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.Pull(sr.N(tick))
			}
		}
	}()
	return n
}

// Close stops the clock.
func (n *NullSink) Close() error {
	n.cancel()
	<-n.done
	return nil
}
