package relay

import (
	"sync"
	"time"

	"github.com/scribear/transcript-relay/internal/transcription"
)

// room is the per-session state: the single source socket, the backend
// stream client, and the subscriber set. All fields behind mu are mutated
// only by Manager methods.
type room struct {
	sessionID string
	cfg       transcription.SessionConfig
	createdAt time.Time

	mu          sync.Mutex
	source      Conn
	client      StreamClient
	subscribers map[Conn]*subscriber
}

func newRoom(sessionID string, cfg transcription.SessionConfig) *room {
	return &room{
		sessionID:   sessionID,
		cfg:         cfg,
		createdAt:   time.Now(),
		subscribers: make(map[Conn]*subscriber),
	}
}

// info snapshots the room for the REST surface.
func (r *room) info() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	connected := r.client != nil && r.client.State() == transcription.StateConnected
	return RoomInfo{
		SessionID:                  r.sessionID,
		HasSource:                  r.source != nil,
		SubscriberCount:            len(r.subscribers),
		TranscriptionConnected:     connected,
		CreatedAt:                  r.createdAt,
		TranscriptionSessionConfig: r.cfg,
	}
}

// empty reports whether the room has neither a source nor subscribers.
// Callers must hold r.mu.
func (r *room) empty() bool {
	return r.source == nil && len(r.subscribers) == 0
}
