package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/events"
)

const (
	eventsWSReadLimit = 4 << 10
	eventsWSPongWait  = 60 * time.Second
	eventsWSPingEvery = eventsWSPongWait * 9 / 10
)

var eventsWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventsWS handles GET /v1/events. It streams pipeline and playback events as
// JSON, starting with a snapshot of the playback state.
func (h *Handler) EventsWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "Events stream not configured", http.StatusServiceUnavailable)
		return
	}
	conn, err := eventsWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("events ws upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	conn.SetReadLimit(eventsWSReadLimit)
	conn.SetReadDeadline(time.Now().Add(eventsWSPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(eventsWSPongWait))
		return nil
	})

	// The client sends nothing; reading only detects close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Msg("events ws read")
				}
				return
			}
		}
	}()

	st := h.stories.PlaybackState()
	snapshot := events.Event{
		Type:       events.TypePlayback,
		State:      string(st.State),
		PositionMS: st.Position.Milliseconds(),
		DurationMS: st.Duration.Milliseconds(),
		At:         time.Now().UTC(),
	}
	if err := writeWSJSON(conn, snapshot); err != nil {
		log.Debug().Err(err).Msg("events ws write")
		return
	}

	ping := time.NewTicker(eventsWSPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeWSJSON(conn, e); err != nil {
				log.Debug().Err(err).Msg("events ws write")
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeWSJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	return conn.WriteJSON(v)
}
