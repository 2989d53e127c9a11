package server

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/scribear/transcript-relay/internal/auth"
)

// Application close codes. 4001 and 4003 are in the private range reserved
// for application use.
const (
	closeCodeSourceConflict websocket.StatusCode = 4001
	closeCodeScopeDenied    websocket.StatusCode = 4003
)

const (
	reasonSourceConflict = "Room already has an audio source"
	reasonNotSource      = "Unauthorized: token scope does not allow audio source"
	reasonNotSink        = "Unauthorized: token scope does not allow transcript sink"
	reasonWrongSession   = "Unauthorized: token scope does not allow access to this session"
)

// audioReadLimit bounds a single inbound audio frame. Producers send small
// PCM chunks; anything near this size indicates a misbehaving client.
const audioReadLimit = 1 << 20

// authenticate runs the pre-upgrade gate: the token comes from the `token`
// query parameter because browser WebSocket clients cannot set headers.
// Missing or invalid tokens are rejected with HTTP 401 before any upgrade.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		s.metrics.RecordAuthFailure(ctx, "missing")
		http.Error(w, "missing token", http.StatusUnauthorized)
		return nil, false
	}

	claims, err := s.verifier.Verify(token)
	if err != nil {
		s.logger(ctx).Warn("token rejected", "path", r.URL.Path, "error", err)
		s.metrics.RecordAuthFailure(ctx, authFailureReason(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

// authFailureReason maps verifier sentinels to a metric label.
func authFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return "expired"
	case errors.Is(err, auth.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, auth.ErrWrongIssuer):
		return "wrong_issuer"
	case errors.Is(err, auth.ErrInvalidClaims):
		return "invalid_claims"
	default:
		return "malformed"
	}
}

// handleAudio is the audio ingress endpoint. One producer per session streams
// binary frames; each frame is forwarded verbatim to the room's backend
// stream.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	log := s.log.With("session", sessionID, "endpoint", "audio")

	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(audioReadLimit)

	// Scope enforcement happens post-upgrade so the client sees a close code
	// rather than a failed handshake.
	if claims.SessionID != sessionID {
		conn.Close(closeCodeScopeDenied, reasonWrongSession)
		return
	}
	if !claims.Scope.AllowsSource() {
		conn.Close(closeCodeScopeDenied, reasonNotSource)
		return
	}

	if !s.manager.SetAudioSource(r.Context(), sessionID, conn) {
		conn.Close(closeCodeSourceConflict, reasonSourceConflict)
		return
	}
	defer s.manager.RemoveAudioSource(sessionID)

	log.Info("audio source connected", "source_id", claims.SourceID)

	// Read loop; silence is valid, so no read deadline.
	for {
		typ, data, err := conn.Read(r.Context())
		if err != nil {
			log.Info("audio source disconnected", "error", err)
			return
		}
		if typ != websocket.MessageBinary {
			log.Debug("ignoring non-binary frame from source", "bytes", len(data))
			continue
		}
		s.manager.ForwardAudio(sessionID, data)
	}
}

// handleTranscription is the transcript egress endpoint. Subscribers only
// receive; any inbound frames are discarded by CloseRead.
func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	log := s.log.With("session", sessionID, "endpoint", "transcription")

	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	if claims.SessionID != sessionID {
		conn.Close(closeCodeScopeDenied, reasonWrongSession)
		return
	}
	if !claims.Scope.AllowsSink() {
		conn.Close(closeCodeScopeDenied, reasonNotSink)
		return
	}

	s.manager.AddSubscriber(sessionID, conn)
	defer s.manager.RemoveSubscriber(sessionID, conn)

	log.Info("subscriber connected")

	// CloseRead discards inbound frames and cancels the context when the
	// peer closes or the connection fails.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()

	log.Info("subscriber disconnected")
}
