package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/scribear/transcript-relay/internal/observe"
	"github.com/scribear/transcript-relay/internal/transcription"
)

// roomClosedReason is the close reason sent to every socket when a room is
// torn down explicitly.
const roomClosedReason = "Room closed"

// ProviderDefaults maps provider keys to baseline session parameters, loaded
// from the optional providers file.
type ProviderDefaults map[string]transcription.SessionConfig

// Manager owns the sessionId to room map. All operations are safe for
// concurrent use; the map mutex is never held across socket or backend I/O.
type Manager struct {
	dial     DialFunc
	defaults ProviderDefaults
	metrics  *observe.Metrics
	log      *slog.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

// NewManager returns an empty Manager. dial creates backend stream clients;
// defaults may be nil when no providers file is configured.
func NewManager(dial DialFunc, defaults ProviderDefaults, metrics *observe.Metrics, log *slog.Logger) *Manager {
	return &Manager{
		dial:     dial,
		defaults: defaults,
		metrics:  metrics,
		log:      log,
		rooms:    make(map[string]*room),
	}
}

// DefaultConfig returns the baseline session parameters for the given
// provider key: the providers-file entry when one exists, otherwise the
// built-in defaults with the key substituted.
func (m *Manager) DefaultConfig(providerKey string) transcription.SessionConfig {
	cfg := transcription.DefaultSessionConfig()
	if providerKey == "" {
		return cfg
	}
	if d, ok := m.defaults[providerKey]; ok {
		d.ProviderKey = providerKey
		return d
	}
	cfg.ProviderKey = providerKey
	return cfg
}

// CreateRoom creates an empty room with pinned transcription config. cfg nil
// selects the defaults. Returns ErrRoomExists when the session already has a
// room; the existing room is not mutated.
func (m *Manager) CreateRoom(sessionID string, cfg *transcription.SessionConfig) (RoomInfo, error) {
	resolved := m.DefaultConfig("")
	if cfg != nil {
		resolved = *cfg
	}

	m.mu.Lock()
	if _, exists := m.rooms[sessionID]; exists {
		m.mu.Unlock()
		return RoomInfo{}, ErrRoomExists
	}
	r := newRoom(sessionID, resolved)
	m.rooms[sessionID] = r
	m.mu.Unlock()

	m.metrics.ActiveRooms.Add(context.Background(), 1)
	m.log.Info("room created", "session", sessionID, "provider", resolved.ProviderKey)
	return r.info(), nil
}

// GetRoom returns a snapshot of the room, if present.
func (m *Manager) GetRoom(sessionID string) (RoomInfo, bool) {
	m.mu.Lock()
	r, ok := m.rooms[sessionID]
	m.mu.Unlock()
	if !ok {
		return RoomInfo{}, false
	}
	return r.info(), true
}

// ListRooms returns snapshots of all rooms, ordered by session ID.
func (m *Manager) ListRooms() []RoomInfo {
	m.mu.Lock()
	rooms := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		infos = append(infos, r.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].SessionID < infos[j].SessionID })
	return infos
}

// RemoveRoom tears down a room: every socket is closed with 1000 and reason
// "Room closed", the backend stream is disconnected, and the entry is
// deleted. Idempotent.
func (m *Manager) RemoveRoom(sessionID string) {
	m.mu.Lock()
	r, ok := m.rooms[sessionID]
	if ok {
		delete(m.rooms, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	client := r.client
	source := r.source
	subs := make([]*subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		subs = append(subs, s)
	}
	r.source = nil
	r.client = nil
	r.subscribers = make(map[Conn]*subscriber)
	r.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	if source != nil {
		source.Close(websocket.StatusNormalClosure, roomClosedReason)
	}
	for _, s := range subs {
		s.stop()
		s.conn.Close(websocket.StatusNormalClosure, roomClosedReason)
	}

	ctx := context.Background()
	m.metrics.ActiveRooms.Add(ctx, -1)
	if source != nil {
		m.metrics.ActiveSources.Add(ctx, -1)
	}
	if len(subs) > 0 {
		m.metrics.ActiveSubscribers.Add(ctx, -int64(len(subs)))
	}
	m.log.Info("room removed", "session", sessionID, "subscribers", len(subs))
}

// SetAudioSource attaches the single audio source to the room, creating the
// room (with default config) if absent. It reports false when a source is
// already attached. On success it creates the backend stream client, starts
// its event pump, and initiates the connect asynchronously.
func (m *Manager) SetAudioSource(ctx context.Context, sessionID string, conn Conn) bool {
	m.mu.Lock()
	r, created := m.getOrCreateLocked(sessionID)
	r.mu.Lock()
	if r.source != nil {
		r.mu.Unlock()
		m.mu.Unlock()
		return false
	}
	client := m.dial(r.cfg)
	r.source = conn
	r.client = client
	r.mu.Unlock()
	m.mu.Unlock()

	mctx := context.Background()
	if created {
		m.metrics.ActiveRooms.Add(mctx, 1)
		m.log.Info("room created", "session", sessionID, "provider", r.cfg.ProviderKey)
	}
	m.metrics.ActiveSources.Add(mctx, 1)
	m.log.Info("audio source attached", "session", sessionID)

	go m.pumpEvents(r, client)
	client.Connect(ctx)
	return true
}

// RemoveAudioSource detaches the source and disconnects the backend stream.
// The room is removed when no subscribers remain. No-op when the room does
// not exist or has no source.
func (m *Manager) RemoveAudioSource(sessionID string) {
	m.mu.Lock()
	r, ok := m.rooms[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}

	r.mu.Lock()
	if r.source == nil {
		r.mu.Unlock()
		m.mu.Unlock()
		return
	}
	client := r.client
	r.source = nil
	r.client = nil
	gc := r.empty()
	if gc {
		delete(m.rooms, sessionID)
	}
	r.mu.Unlock()
	m.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}

	ctx := context.Background()
	m.metrics.ActiveSources.Add(ctx, -1)
	m.log.Info("audio source detached", "session", sessionID)
	if gc {
		m.metrics.ActiveRooms.Add(ctx, -1)
		m.log.Info("room removed", "session", sessionID, "subscribers", 0)
	}
}

// ForwardAudio routes one binary frame to the room's backend stream. It is a
// no-op when the room or its client is absent; the client drops frames
// itself while not connected.
func (m *Manager) ForwardAudio(sessionID string, frame []byte) {
	m.mu.Lock()
	r, ok := m.rooms[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return
	}

	client.SendAudio(frame)
	m.metrics.AudioBytes.Add(context.Background(), int64(len(frame)),
		metric.WithAttributes(observe.Attr("session", sessionID)))
}

// AddSubscriber registers a transcript sink socket, creating the room (with
// default config) if absent.
func (m *Manager) AddSubscriber(sessionID string, conn Conn) {
	m.mu.Lock()
	r, created := m.getOrCreateLocked(sessionID)
	r.mu.Lock()
	if _, exists := r.subscribers[conn]; exists {
		r.mu.Unlock()
		m.mu.Unlock()
		return
	}
	r.subscribers[conn] = newSubscriber(conn)
	count := len(r.subscribers)
	r.mu.Unlock()
	m.mu.Unlock()

	mctx := context.Background()
	if created {
		m.metrics.ActiveRooms.Add(mctx, 1)
		m.log.Info("room created", "session", sessionID, "provider", r.cfg.ProviderKey)
	}
	m.metrics.ActiveSubscribers.Add(mctx, 1)
	m.log.Info("subscriber added", "session", sessionID, "subscribers", count)
}

// RemoveSubscriber deregisters a sink socket. The room is removed when it
// has no source and the subscriber set becomes empty. No-op for unknown
// rooms or sockets.
func (m *Manager) RemoveSubscriber(sessionID string, conn Conn) {
	m.mu.Lock()
	r, ok := m.rooms[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}

	r.mu.Lock()
	s, present := r.subscribers[conn]
	if !present {
		r.mu.Unlock()
		m.mu.Unlock()
		return
	}
	delete(r.subscribers, conn)
	count := len(r.subscribers)
	gc := r.empty()
	if gc {
		delete(m.rooms, sessionID)
	}
	r.mu.Unlock()
	m.mu.Unlock()

	s.stop()

	ctx := context.Background()
	m.metrics.ActiveSubscribers.Add(ctx, -1)
	m.log.Info("subscriber removed", "session", sessionID, "subscribers", count)
	if gc {
		m.metrics.ActiveRooms.Add(ctx, -1)
		m.log.Info("room removed", "session", sessionID, "subscribers", 0)
	}
}

// getOrCreateLocked returns the room for sessionID, creating it with default
// config when absent. Callers must hold m.mu and keep holding it through the
// attach so the removal paths cannot collect the room between lookup and
// attach.
func (m *Manager) getOrCreateLocked(sessionID string) (r *room, created bool) {
	r, ok := m.rooms[sessionID]
	if !ok {
		r = newRoom(sessionID, m.DefaultConfig(""))
		m.rooms[sessionID] = r
	}
	return r, !ok
}

// pumpEvents consumes the client's event stream until it closes, translating
// transcript events into subscriber broadcasts. One pump runs per attached
// source; it exits when the client fully shuts down.
func (m *Manager) pumpEvents(r *room, client StreamClient) {
	ctx := context.Background()
	for ev := range client.Events() {
		switch ev.Kind {
		case transcription.EventConnected:
			m.log.Info("transcription stream connected", "session", r.sessionID)
		case transcription.EventError:
			m.log.Warn("transcription stream error", "session", r.sessionID, "error", ev.Err)
			m.metrics.RecordBackendError(ctx, "stream")
		case transcription.EventIPTranscript:
			m.broadcast(r, client, "ip_transcript", ev.Transcript)
		case transcription.EventFinalTranscript:
			m.broadcast(r, client, "final_transcript", ev.Transcript)
		case transcription.EventDisconnected:
			m.log.Info("transcription stream disconnected",
				"session", r.sessionID, "code", int(ev.Code), "reason", ev.Reason)
		}
	}
}

// broadcast serializes the message once and enqueues it to every current
// subscriber. Messages from a stream that is no longer the room's client
// (the source detached mid-flight) are discarded.
func (m *Manager) broadcast(r *room, client StreamClient, kind string, t *transcription.Transcript) {
	payload, err := json.Marshal(wireMessage{Type: kind, Text: t.Text, Starts: t.Starts, Ends: t.Ends})
	if err != nil {
		m.log.Error("marshal transcript", "session", r.sessionID, "error", err)
		return
	}

	r.mu.Lock()
	if r.client != client {
		r.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	dropped := 0
	for _, s := range subs {
		dropped += s.enqueue(payload)
	}

	ctx := context.Background()
	m.metrics.RecordTranscriptMessage(ctx, r.sessionID, kind)
	if dropped > 0 {
		m.metrics.BroadcastDrops.Add(ctx, int64(dropped),
			metric.WithAttributes(observe.Attr("session", r.sessionID)))
		m.log.Warn("slow subscribers dropped messages", "session", r.sessionID, "dropped", dropped)
	}
}
