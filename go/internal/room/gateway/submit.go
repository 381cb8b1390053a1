package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/registry"
)

// HandleSignal serves /api/signal: GET subscribes to a room's event stream,
// POST submits a message to it.
func (s *Service) HandleSignal(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		roomID := r.URL.Query().Get("roomId")
		if roomID == "" {
			writeError(w, http.StatusBadRequest, "roomId required")
			return
		}
		s.serveEvents(w, r, roomID, r.URL.Query().Get("playerId"))
	case http.MethodPost:
		s.handleSubmit(w, r, "")
	default:
		w.Header().Set("Allow", "GET,POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// HandleRoomEvents handles GET /api/rooms/{roomID}/events
func (s *Service) HandleRoomEvents(w http.ResponseWriter, r *http.Request) {
	s.serveEvents(w, r, r.PathValue("roomID"), r.URL.Query().Get("playerId"))
}

// HandleRoomMessage handles POST /api/rooms/{roomID}/messages. The path's
// room wins over any roomId in the body.
func (s *Service) HandleRoomMessage(w http.ResponseWriter, r *http.Request) {
	s.handleSubmit(w, r, r.PathValue("roomID"))
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request, roomID string) {
	sub, err := s.decodeSubmission(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if roomID != "" {
		sub.RoomID = roomID
	}

	env, err := s.registry.Submit(r.Context(), sub)
	if err != nil {
		writeSubmitError(w, sub, err)
		return
	}

	log.Debug().
		Str("room_id", env.RoomID).
		Str("type", string(env.Type)).
		Str("sender_id", env.SenderID).
		Int64("seq", env.Seq).
		Msg("submission accepted")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": env.ID, "seq": env.Seq})
}

// decodeSubmission reads a JSON submission regardless of Content-Type, so
// navigator.sendBeacon text/plain bodies are accepted.
func (s *Service) decodeSubmission(w http.ResponseWriter, r *http.Request) (events.Submission, error) {
	var sub events.Submission
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		return sub, fmt.Errorf("failed to read body: %w", err)
	}
	if err := json.Unmarshal(body, &sub); err != nil {
		return sub, fmt.Errorf("invalid JSON body: %w", err)
	}
	return sub, nil
}

func writeSubmitError(w http.ResponseWriter, sub events.Submission, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, events.ErrMalformed):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrForbidden):
		status = http.StatusForbidden
	default:
		log.Error().Err(err).Str("room_id", sub.RoomID).Str("type", string(sub.Type)).Msg("submission failed")
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
