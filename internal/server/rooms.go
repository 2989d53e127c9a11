package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/scribear/transcript-relay/internal/relay"
	"github.com/scribear/transcript-relay/internal/transcription"
)

// createRoomRequest is the POST /rooms body. Config fields are pointers so
// omitted values fall back to the provider defaults.
type createRoomRequest struct {
	SessionID           string                   `json:"sessionId"`
	TranscriptionConfig *transcriptionConfigBody `json:"transcriptionConfig"`
}

type transcriptionConfigBody struct {
	ProviderKey *string `json:"providerKey"`
	UseSSL      *bool   `json:"useSsl"`
	SampleRate  *int    `json:"sampleRate"`
	NumChannels *int    `json:"numChannels"`
}

// listRoomsResponse is the GET /rooms body.
type listRoomsResponse struct {
	Rooms []relay.RoomInfo `json:"rooms"`
	Count int              `json:"count"`
}

// handleCreateRoom creates an empty room with pinned transcription config so
// a kiosk can declare session parameters before its audio socket connects.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	cfg, err := s.resolveConfig(req.TranscriptionConfig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.manager.CreateRoom(req.SessionID, &cfg)
	if errors.Is(err, relay.ErrRoomExists) {
		writeError(w, http.StatusConflict, "room already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

// resolveConfig merges the request body over the defaults for the requested
// provider.
func (s *Server) resolveConfig(body *transcriptionConfigBody) (transcription.SessionConfig, error) {
	key := ""
	if body != nil && body.ProviderKey != nil {
		key = *body.ProviderKey
	}
	cfg := s.manager.DefaultConfig(key)
	if body == nil {
		return cfg, nil
	}

	if body.UseSSL != nil {
		cfg.UseSSL = *body.UseSSL
	}
	if body.SampleRate != nil {
		cfg.SampleRate = *body.SampleRate
	}
	if body.NumChannels != nil {
		cfg.NumChannels = *body.NumChannels
	}

	if cfg.SampleRate <= 0 {
		return cfg, errors.New("sampleRate must be positive")
	}
	if cfg.NumChannels <= 0 {
		return cfg, errors.New("numChannels must be positive")
	}
	return cfg, nil
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.manager.ListRooms()
	writeJSON(w, http.StatusOK, listRoomsResponse{Rooms: rooms, Count: len(rooms)})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	info, ok := s.manager.GetRoom(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}
