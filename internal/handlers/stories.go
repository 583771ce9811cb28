package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/models"
	"github.com/snappy-loop/magicstory/internal/pipeline"
	"github.com/snappy-loop/magicstory/internal/playback"
	"github.com/snappy-loop/magicstory/internal/services"
)

// playbackResponse is the JSON view of a playback.Status
type playbackResponse struct {
	State      string `json:"state"`
	PositionMS int64  `json:"position_ms"`
	DurationMS int64  `json:"duration_ms"`
	MimeType   string `json:"mime_type,omitempty"`
}

func toPlaybackResponse(st playback.Status) playbackResponse {
	return playbackResponse{
		State:      string(st.State),
		PositionMS: st.Position.Milliseconds(),
		DurationMS: st.Duration.Milliseconds(),
		MimeType:   st.MimeType,
	}
}

// CreateStory handles POST /v1/stories
func (h *Handler) CreateStory(w http.ResponseWriter, r *http.Request) {
	var body models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Type == "" {
		body.Type = string(models.KindStory)
	}
	if models.Kind(body.Type) != models.KindStory {
		writeJSONError(w, http.StatusBadRequest, "type must be story")
		return
	}
	req, err := body.ToGenerationRequest()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.stories.Generate(r.Context(), req)
	if err != nil {
		var textErr *pipeline.TextGenerationFailedError
		switch {
		case errors.Is(err, services.ErrSuperseded):
			writeJSONError(w, http.StatusConflict, err.Error())
		case errors.Is(err, pipeline.ErrInvalidRequest):
			writeJSONError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &textErr):
			log.Error().Err(err).Str("run_id", textErr.RunID).Msg("Story generation failed")
			writeJSONError(w, http.StatusBadGateway, "story generation failed, please try again")
		default:
			log.Error().Err(err).Msg("Story generation failed")
			writeJSONError(w, http.StatusInternalServerError, "failed to generate story")
		}
		return
	}

	writeJSON(w, http.StatusOK, result.ToSessionResponse())
}

// CurrentStory handles GET /v1/stories/current
func (h *Handler) CurrentStory(w http.ResponseWriter, r *http.Request) {
	result, err := h.stories.Current()
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "no story generated yet")
		return
	}
	writeJSON(w, http.StatusOK, result.ToSessionResponse())
}

// PlaybackAction handles POST /v1/playback/{action}
func (h *Handler) PlaybackAction(w http.ResponseWriter, r *http.Request) {
	var (
		st  playback.Status
		err error
	)
	switch action := mux.Vars(r)["action"]; action {
	case "play":
		st, err = h.stories.Play(r.Context())
	case "pause":
		st, err = h.stories.Pause()
	case "stop":
		st = h.stories.Stop()
	default:
		writeJSONError(w, http.StatusNotFound, "unknown playback action")
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, services.ErrNoStory):
			writeJSONError(w, http.StatusNotFound, "no story generated yet")
		case errors.Is(err, services.ErrSuperseded), errors.Is(err, playback.ErrInvalidTransition):
			writeJSONError(w, http.StatusConflict, err.Error())
		case errors.Is(err, playback.ErrPlaybackUnavailable):
			log.Warn().Err(err).Msg("Playback unavailable")
			writeJSONError(w, http.StatusUnprocessableEntity, "playback unavailable")
		case errors.Is(err, pipeline.ErrSpeechUnavailable):
			writeJSONError(w, http.StatusServiceUnavailable, "narration is not configured")
		default:
			log.Error().Err(err).Msg("Narration failed")
			writeJSONError(w, http.StatusBadGateway, "narration failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, toPlaybackResponse(st))
}

// PlaybackState handles GET /v1/playback
func (h *Handler) PlaybackState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPlaybackResponse(h.stories.PlaybackState()))
}
