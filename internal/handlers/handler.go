package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/events"
	"github.com/snappy-loop/magicstory/internal/models"
	"github.com/snappy-loop/magicstory/internal/playback"
)

// storyGenerator runs stateless generations for the relay endpoint.
type storyGenerator interface {
	Run(ctx context.Context, req models.GenerationRequest) (*models.StoryResult, error)
	Narrate(ctx context.Context, text string, lang models.Language) (*models.AudioAsset, error)
}

// storySession is the session API backed by services.StoryService.
type storySession interface {
	Generate(ctx context.Context, req models.GenerationRequest) (*models.StoryResult, error)
	Current() (*models.StoryResult, error)
	Play(ctx context.Context) (playback.Status, error)
	Pause() (playback.Status, error)
	Stop() playback.Status
	PlaybackState() playback.Status
}

// Handler contains all HTTP handlers
type Handler struct {
	generator storyGenerator
	stories   storySession
	hub       *events.Hub
}

// NewHandler creates a new handler. hub may be nil to disable the events stream.
func NewHandler(generator storyGenerator, stories storySession, hub *events.Hub) *Handler {
	return &Handler{
		generator: generator,
		stories:   stories,
		hub:       hub,
	}
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
