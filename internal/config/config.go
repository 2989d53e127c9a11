// Package config provides the configuration schema and loaders for the
// transcript relay. Runtime settings come from the environment; optional
// per-provider transcription defaults come from a YAML file.
package config

import (
	"net"
	"strconv"
)

// LogLevel controls log verbosity for the relay server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the relay.
// It is populated from the environment by [FromEnv].
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Transcription TranscriptionConfig
}

// ServerConfig holds network and logging settings for the HTTP/WebSocket server.
type ServerConfig struct {
	// Host is the network interface to bind to (e.g., "0.0.0.0").
	Host string

	// Port is the TCP port the server listens on.
	Port int

	// LogLevel controls verbosity.
	LogLevel LogLevel
}

// ListenAddr returns the host:port address the server binds to.
func (s ServerConfig) ListenAddr() string {
	host := s.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// AuthConfig holds the token-verification settings. The relay only verifies
// tokens; it never issues them.
type AuthConfig struct {
	// JWTSecret is the shared HS256 secret, identical between the session
	// manager (issuer) and the relay (verifier). Must be at least
	// [MinSecretLength] bytes.
	JWTSecret string

	// JWTIssuer is the expected "iss" claim. Defaults to [DefaultIssuer].
	JWTIssuer string
}

// TranscriptionConfig holds settings for the outbound transcription backend.
type TranscriptionConfig struct {
	// ServiceURL is the backend host:port without a scheme
	// (e.g., "transcribe.internal:9090"); per-room session config decides
	// between ws and wss.
	ServiceURL string

	// APIKey authenticates the relay to the backend in the AUTH frame.
	APIKey string
}

const (
	// DefaultIssuer is the expected token issuer when JWT_ISSUER is unset.
	DefaultIssuer = "scribear-session-manager"

	// MinSecretLength is the minimum accepted JWT secret length in bytes.
	// Shorter secrets make HS256 brute-forceable.
	MinSecretLength = 32
)
