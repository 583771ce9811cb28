package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/pipeline"
	"github.com/snappy-loop/magicstory/internal/playback"
)

// Event types
const (
	TypePipeline = "pipeline"
	TypePlayback = "playback"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Event is the JSON shape streamed to the UI and published to Kafka
type Event struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	PositionMS int64     `json:"position_ms,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	At         time.Time `json:"at"`
}

// Key is the partitioning key used by publishers.
func (e Event) Key() string {
	if e.RunID != "" {
		return e.RunID
	}
	return e.Type
}

// Publisher forwards events outside the process. Publish must not block for long.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscription receives events until it is cancelled.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	dropped atomic.Int64
}

// Dropped returns how many events were discarded because the subscriber was slow.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Hub fans events out to in-process subscribers and external publishers.
type Hub struct {
	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	publishers []Publisher
	buffer     int
}

// NewHub creates a hub; buffer <= 0 uses DefaultBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// AddPublisher registers an external publisher.
func (h *Hub) AddPublisher(p Publisher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishers = append(h.publishers, p)
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

// Publish delivers e to every subscriber without blocking; a full subscriber
// queue drops the event for that subscriber only.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.Lock()
	for s := range h.subs {
		select {
		case s.ch <- e:
		default:
			n := s.dropped.Add(1)
			log.Debug().Str("type", e.Type).Int64("dropped", n).Msg("Slow subscriber, event dropped")
		}
	}
	publishers := h.publishers
	h.mu.Unlock()

	for _, p := range publishers {
		if err := p.Publish(context.Background(), e); err != nil {
			log.Warn().Err(err).Str("type", e.Type).Str("key", e.Key()).Msg("Failed to publish event")
		}
	}
}

// OnTransition implements pipeline.Observer.
func (h *Hub) OnTransition(pe pipeline.Event) {
	e := Event{
		Type:  TypePipeline,
		RunID: pe.RunID,
		Stage: string(pe.Stage),
		State: string(pe.To),
		At:    pe.At.UTC(),
	}
	if pe.Err != nil {
		e.Error = pe.Err.Error()
	}
	h.Publish(e)
}

// OnPlayback forwards playback controller changes.
func (h *Hub) OnPlayback(ch playback.Change) {
	h.Publish(Event{
		Type:       TypePlayback,
		State:      string(ch.State),
		Reason:     ch.Reason,
		PositionMS: ch.Position.Milliseconds(),
		DurationMS: ch.Duration.Milliseconds(),
	})
}
