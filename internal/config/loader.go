package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FromEnv builds a validated [Config] from the process environment.
//
// Recognised variables: PORT, HOST, LOG_LEVEL, JWT_SECRET, JWT_ISSUER,
// TRANSCRIPTION_SERVICE_URL, TRANSCRIPTION_API_KEY.
func FromEnv() (*Config, error) {
	return fromLookup(os.LookupEnv)
}

// fromLookup is the testable core of [FromEnv]; lookup has the semantics of
// [os.LookupEnv].
func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:     get("HOST"),
			LogLevel: LogLevel(get("LOG_LEVEL")),
		},
		Auth: AuthConfig{
			JWTSecret: get("JWT_SECRET"),
			JWTIssuer: get("JWT_ISSUER"),
		},
		Transcription: TranscriptionConfig{
			ServiceURL: get("TRANSCRIPTION_SERVICE_URL"),
			APIKey:     get("TRANSCRIPTION_API_KEY"),
		},
	}

	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Auth.JWTIssuer == "" {
		cfg.Auth.JWTIssuer = DefaultIssuer
	}

	portStr := get("PORT")
	if portStr == "" {
		cfg.Server.Port = 8080
	} else {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("config: PORT %q is not an integer: %w", portStr, err)
		}
		cfg.Server.Port = port
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range [0, 65535]", cfg.Server.Port))
	}
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if len(cfg.Auth.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters, got %d", MinSecretLength, len(cfg.Auth.JWTSecret)))
	}
	if cfg.Transcription.ServiceURL == "" {
		errs = append(errs, errors.New("TRANSCRIPTION_SERVICE_URL is required"))
	} else if strings.Contains(cfg.Transcription.ServiceURL, "://") {
		errs = append(errs, fmt.Errorf("TRANSCRIPTION_SERVICE_URL %q must be host:port without a scheme", cfg.Transcription.ServiceURL))
	}
	if cfg.Transcription.APIKey == "" {
		errs = append(errs, errors.New("TRANSCRIPTION_API_KEY is required"))
	}

	return errors.Join(errs...)
}
