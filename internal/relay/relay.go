// Package relay implements the room manager: the authoritative map from
// session IDs to rooms, each owning a single audio source, one transcription
// backend stream, and a set of transcript subscribers.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/scribear/transcript-relay/internal/transcription"
)

// ErrRoomExists is returned by CreateRoom when the session already has a room.
var ErrRoomExists = errors.New("relay: room already exists")

// Conn is the subset of a WebSocket connection the manager needs. Satisfied
// by *websocket.Conn; tests substitute in-memory fakes.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// StreamClient is the transcription backend client as seen by the manager.
// Satisfied by *transcription.Client.
type StreamClient interface {
	Connect(ctx context.Context)
	Disconnect()
	SendAudio(chunk []byte)
	Events() <-chan transcription.Event
	State() transcription.State
}

// DialFunc creates an unconnected backend stream client for a room.
type DialFunc func(cfg transcription.SessionConfig) StreamClient

// BackendDialer returns the production DialFunc, creating real clients
// against the configured backend.
func BackendDialer(serviceURL, apiKey string, log *slog.Logger) DialFunc {
	return func(cfg transcription.SessionConfig) StreamClient {
		return transcription.NewClient(serviceURL, apiKey, cfg, log)
	}
}

// RoomInfo is the read-only snapshot of a room exposed over REST.
type RoomInfo struct {
	SessionID                  string                       `json:"sessionId"`
	HasSource                  bool                         `json:"hasSource"`
	SubscriberCount            int                          `json:"subscriberCount"`
	TranscriptionConnected     bool                         `json:"transcriptionConnected"`
	CreatedAt                  time.Time                    `json:"createdAt"`
	TranscriptionSessionConfig transcription.SessionConfig `json:"transcriptionSessionConfig"`
}

// wireMessage is the subscriber wire format. Nil Starts/Ends serialize as
// JSON null, matching the backend's own layout.
type wireMessage struct {
	Type   string    `json:"type"`
	Text   []string  `json:"text"`
	Starts []float64 `json:"starts"`
	Ends   []float64 `json:"ends"`
}
