package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

const qrSize = 320 // mobile-friendly size

// HandleGetRoomState handles GET /api/rooms/{roomID}/state
func (s *Service) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	state, ok := s.registry.Snapshot(roomID)
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HandleGetRooms handles GET /api/rooms
func (s *Service) HandleGetRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// HandleRoomQR handles GET /api/rooms/{roomID}/qr.png: a PNG QR code for the
// room's join link.
func (s *Service) HandleRoomQR(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	link := s.JoinURL(roomID)

	png, err := qrcode.Encode(link, qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("qr generation failed")
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

// JoinURL is the link players open to join roomID.
func (s *Service) JoinURL(roomID string) string {
	return strings.TrimRight(s.config.PublicBaseURL, "/") + "/rooms/" + url.PathEscape(roomID)
}

// HandleHealth handles GET /health
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
