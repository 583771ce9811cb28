package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/magicstory/internal/models"
)

const (
	msgInvalidType   = "Invalid request type."
	msgProcessFailed = "Failed to process the request."
	msgTTSFailed     = "TTS generation failed."
)

// Generate handles POST /api/generate, the stateless relay. Stories come back
// as JSON; audio comes back as the raw narration bytes.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var body models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Error().Err(err).Msg("Failed to decode generate request")
		writeJSONError(w, http.StatusInternalServerError, msgProcessFailed)
		return
	}

	switch models.Kind(body.Type) {
	case models.KindStory:
		h.relayStory(w, r, body)
	case models.KindAudio:
		h.relayAudio(w, r, body)
	default:
		writeJSONError(w, http.StatusBadRequest, msgInvalidType)
	}
}

func (h *Handler) relayStory(w http.ResponseWriter, r *http.Request, body models.GenerateRequest) {
	req, err := body.ToGenerationRequest()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.generator.Run(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("category", req.Category).Msg("Story relay failed")
		writeJSONError(w, http.StatusInternalServerError, msgProcessFailed)
		return
	}

	writeJSON(w, http.StatusOK, result.ToStoryResponse())
}

func (h *Handler) relayAudio(w http.ResponseWriter, r *http.Request, body models.GenerateRequest) {
	req, err := body.ToGenerationRequest()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	asset, err := h.generator.Narrate(r.Context(), req.Text, req.Language)
	if err != nil {
		log.Error().Err(err).Str("language", string(req.Language)).Msg("TTS relay failed")
		writeJSONError(w, http.StatusInternalServerError, msgTTSFailed)
		return
	}

	w.Header().Set("Content-Type", asset.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="story_audio.%s"`, asset.Extension()))
	w.Header().Set("Content-Length", strconv.Itoa(len(asset.EncodedBytes)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(asset.EncodedBytes); err != nil {
		log.Warn().Err(err).Msg("Failed to write audio response")
	}
}
