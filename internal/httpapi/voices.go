package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/martasollai/iris/internal/voice"
)

type listVoicesResponse struct {
	DefaultVoice string               `json:"default_voice"`
	Voices       []voice.VoiceProfile `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	if s.svc == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice service not configured")
		return
	}
	respondJSON(w, http.StatusOK, listVoicesResponse{
		DefaultVoice: s.cfg.PreferredVoice,
		Voices:       s.svc.Voices(),
	})
}

type speakRequest struct {
	Text      string `json:"text"`
	VoiceHint string `json:"voice_hint"`
}

// handleSpeak is a synchronous preview: it resolves once playback finished
// or failed, so the caller can hear the chosen voice without opening a
// websocket session.
func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice service not configured")
		return
	}

	var req speakRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "empty_text", "text is required")
		return
	}

	if err := s.svc.Speak(r.Context(), text, strings.TrimSpace(req.VoiceHint)); err != nil {
		status, code := speakFailureStatus(err)
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "spoken"})
}

func (s *Server) handleStopSpeaking(w http.ResponseWriter, _ *http.Request) {
	if s.svc == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice service not configured")
		return
	}
	s.svc.StopSpeaking()
	respondJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.svc == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice service not configured")
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = "anonymous"
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	records, err := s.svc.History(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"utterances": records,
	})
}

func speakFailureStatus(err error) (int, string) {
	var be *voice.BackendError
	if !errors.As(err, &be) {
		return http.StatusBadGateway, "speak_failed"
	}
	switch be.Kind {
	case voice.KindConfiguration:
		return http.StatusBadRequest, be.Code
	case voice.KindPermission:
		return http.StatusForbidden, be.Code
	default:
		return http.StatusBadGateway, be.Code
	}
}
