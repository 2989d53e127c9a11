// Package transcription implements the streaming client for the external
// transcription backend. One Client maps to one backend WebSocket stream:
// audio goes out as binary frames, transcripts come back as JSON text frames.
package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	// connectTimeout bounds the dial plus handshake of a backend stream.
	connectTimeout = 10 * time.Second

	// streamPath is the backend endpoint template; the provider key is
	// appended as the final path segment.
	streamPath = "/transcription_stream/"

	eventBuffer = 64
	audioBuffer = 256
)

// SessionConfig describes the transcription session negotiated with the
// backend during the handshake.
type SessionConfig struct {
	// ProviderKey selects the backend transcription provider.
	ProviderKey string `json:"providerKey"`
	// UseSSL selects wss:// over ws://.
	UseSSL bool `json:"useSSL"`
	// SampleRate is the audio sample rate in Hz.
	SampleRate int `json:"sampleRate"`
	// NumChannels is the audio channel count.
	NumChannels int `json:"numChannels"`
}

// DefaultSessionConfig returns the session parameters used when a room is
// created without explicit configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ProviderKey: "whisper",
		UseSSL:      false,
		SampleRate:  16000,
		NumChannels: 1,
	}
}

// Transcript is a single transcript message from the backend. Starts and Ends
// are nil when the backend omits word timings.
type Transcript struct {
	Text   []string  `json:"text"`
	Starts []float64 `json:"starts"`
	Ends   []float64 `json:"ends"`
}

// EventKind identifies the type of a stream event.
type EventKind int

const (
	// EventConnected fires once after the handshake completes.
	EventConnected EventKind = iota
	// EventDisconnected fires once when the stream ends, for any reason.
	EventDisconnected
	// EventError reports a failure such as an unreachable backend.
	EventError
	// EventIPTranscript carries an in-progress transcript.
	EventIPTranscript
	// EventFinalTranscript carries a finalized transcript.
	EventFinalTranscript
)

// String implements fmt.Stringer for log output.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventIPTranscript:
		return "ip_transcript"
	case EventFinalTranscript:
		return "final_transcript"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a single item on the client's ordered event stream.
type Event struct {
	Kind       EventKind
	Transcript *Transcript // set for transcript events

	// Code and Reason describe how the stream closed; set for
	// EventDisconnected.
	Code   websocket.StatusCode
	Reason string

	Err error // set for EventError
}

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String implements fmt.Stringer for log output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// authFrame is the first text frame sent after the connection opens.
type authFrame struct {
	Type   string `json:"type"`
	APIKey string `json:"api_key"`
}

// configFrame is the second text frame, declaring the audio format.
type configFrame struct {
	Type   string        `json:"type"`
	Config sessionParams `json:"config"`
}

type sessionParams struct {
	SampleRate  int `json:"sample_rate"`
	NumChannels int `json:"num_channels"`
}

// serverMessage is the JSON shape of backend text frames.
type serverMessage struct {
	Type   string    `json:"type"`
	Text   []string  `json:"text"`
	Starts []float64 `json:"starts"`
	Ends   []float64 `json:"ends"`
}

// Client is a one-shot streaming connection to the transcription backend.
// It does not reconnect; when the stream ends the owner discards the Client
// and dials a fresh one if needed.
type Client struct {
	serviceURL string
	apiKey     string
	cfg        SessionConfig
	log        *slog.Logger

	state atomic.Int32

	events chan Event
	audio  chan []byte

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient returns an unconnected Client for the backend at serviceURL
// (host:port, no scheme). Call Connect to start the stream.
func NewClient(serviceURL, apiKey string, cfg SessionConfig, log *slog.Logger) *Client {
	return &Client{
		serviceURL: serviceURL,
		apiKey:     apiKey,
		cfg:        cfg,
		log:        log.With("provider", cfg.ProviderKey),
		events:     make(chan Event, eventBuffer),
		audio:      make(chan []byte, audioBuffer),
		done:       make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// Events returns the ordered event stream. The channel is closed once the
// stream has fully shut down; owners should drain it until closed.
func (c *Client) Events() <-chan Event { return c.events }

// Connect starts the stream asynchronously. It must be called at most once.
// Progress and outcome are reported on Events.
func (c *Client) Connect(ctx context.Context) {
	c.state.Store(int32(StateConnecting))
	go c.run(ctx)
}

// Disconnect requests a clean shutdown. It is safe to call multiple times
// and before the connection has been established.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() { close(c.done) })
}

// SendAudio queues an audio chunk for the backend, preserving frame
// boundaries. Chunks are dropped silently while the client is not connected
// or when the send queue is full.
func (c *Client) SendAudio(chunk []byte) {
	if c.State() != StateConnected {
		return
	}
	select {
	case c.audio <- chunk:
	case <-c.done:
	default:
		c.log.Debug("audio send queue full, dropping chunk", "bytes", len(chunk))
	}
}

// run owns the connection lifecycle: dial, handshake, read loop, teardown.
// It is the only goroutine that closes the events channel.
func (c *Client) run(ctx context.Context) {
	defer close(c.events)
	defer c.state.Store(int32(StateDisconnected))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-runCtx.Done():
		}
	}()

	conn, err := c.dial(runCtx)
	if err != nil {
		c.log.Error("backend connect failed", "error", err)
		c.emit(Event{Kind: EventError, Err: err})
		c.emit(Event{Kind: EventDisconnected, Code: websocket.StatusAbnormalClosure, Reason: "connect failed"})
		return
	}

	c.state.Store(int32(StateConnected))
	c.emit(Event{Kind: EventConnected})
	c.log.Info("backend stream established", "service", c.serviceURL)

	c.wg.Add(1)
	go c.writeLoop(runCtx, conn)

	code, reason := c.readLoop(runCtx, conn)

	c.state.Store(int32(StateDisconnected))
	c.Disconnect()
	cancel()
	c.wg.Wait()
	conn.Close(websocket.StatusNormalClosure, "stream closed")

	c.emit(Event{Kind: EventDisconnected, Code: code, Reason: reason})
	c.log.Info("backend stream closed", "code", int(code), "reason", reason)
}

// dial opens the WebSocket and performs the AUTH and CONFIG handshake.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.buildURL()
	if err != nil {
		return nil, fmt.Errorf("build URL: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	auth, err := json.Marshal(authFrame{Type: "AUTH", APIKey: c.apiKey})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("marshal auth frame: %w", err)
	}
	if err := conn.Write(dialCtx, websocket.MessageText, auth); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("send auth frame: %w", err)
	}

	cfgFrame, err := json.Marshal(configFrame{
		Type: "CONFIG",
		Config: sessionParams{
			SampleRate:  c.cfg.SampleRate,
			NumChannels: c.cfg.NumChannels,
		},
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("marshal config frame: %w", err)
	}
	if err := conn.Write(dialCtx, websocket.MessageText, cfgFrame); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("send config frame: %w", err)
	}

	return conn, nil
}

// buildURL constructs the backend stream URL for the configured provider.
func (c *Client) buildURL() (string, error) {
	scheme := "ws"
	if c.cfg.UseSSL {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   c.serviceURL,
		Path:   streamPath + c.cfg.ProviderKey,
	}
	if u.Host == "" {
		return "", fmt.Errorf("empty service URL")
	}
	return u.String(), nil
}

// writeLoop forwards queued audio chunks to the backend as binary frames.
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		select {
		case chunk := <-c.audio:
			if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives backend text frames until the stream ends and returns the
// close status. Malformed frames are logged and dropped; unknown message
// types are ignored.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) (websocket.StatusCode, string) {
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			code := websocket.CloseStatus(err)
			if code == -1 {
				code = websocket.StatusAbnormalClosure
			}
			return code, closeReason(err)
		}
		if typ != websocket.MessageText {
			c.log.Warn("unexpected binary frame from backend", "bytes", len(msg))
			continue
		}

		var sm serverMessage
		if err := json.Unmarshal(msg, &sm); err != nil {
			c.log.Warn("malformed backend message dropped", "error", err)
			continue
		}

		switch sm.Type {
		case "ip_transcript":
			c.emit(Event{Kind: EventIPTranscript, Transcript: &Transcript{Text: sm.Text, Starts: sm.Starts, Ends: sm.Ends}})
		case "final_transcript":
			c.emit(Event{Kind: EventFinalTranscript, Transcript: &Transcript{Text: sm.Text, Starts: sm.Starts, Ends: sm.Ends}})
		default:
			c.log.Debug("ignoring backend message", "type", sm.Type)
		}
	}
}

// closeReason extracts a human-readable reason from a read error.
func closeReason(err error) string {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return err.Error()
}

// emit delivers an event, giving up only when the client is shutting down and
// the buffer is full.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		select {
		case c.events <- ev:
		case <-time.After(time.Second):
			c.log.Warn("event buffer full, dropping event", "kind", ev.Kind)
		}
	}
}
