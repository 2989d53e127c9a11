package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderDefault pins the transcription session parameters used when a room
// is created lazily (without an explicit REST configuration) for the given
// provider key.
type ProviderDefault struct {
	// ProviderKey selects the backend transcription provider
	// (e.g., "whisper", "debug").
	ProviderKey string `yaml:"provider_key"`

	// UseSSL selects wss:// over ws:// for the backend stream.
	UseSSL bool `yaml:"use_ssl"`

	// SampleRate is the audio sample rate in Hz announced in the CONFIG frame.
	SampleRate int `yaml:"sample_rate"`

	// NumChannels is the audio channel count announced in the CONFIG frame.
	NumChannels int `yaml:"num_channels"`
}

// ProvidersFile is the schema of the optional provider-defaults YAML file.
type ProvidersFile struct {
	Providers []ProviderDefault `yaml:"providers"`
}

// LoadProviders reads the YAML provider-defaults file at path.
// It is a convenience wrapper around [LoadProvidersFromReader].
func LoadProviders(path string) (*ProvidersFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	pf, err := LoadProvidersFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return pf, nil
}

// LoadProvidersFromReader decodes a YAML provider-defaults document from r
// and validates the result. Useful in tests where files are constructed from
// string literals.
func LoadProvidersFromReader(r io.Reader) (*ProvidersFile, error) {
	pf := &ProvidersFile{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(pf); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := validateProviders(pf); err != nil {
		return nil, err
	}
	return pf, nil
}

// validateProviders checks provider entries for completeness and duplicates.
func validateProviders(pf *ProvidersFile) error {
	var errs []error

	seen := make(map[string]int, len(pf.Providers))
	for i, p := range pf.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.ProviderKey == "" {
			errs = append(errs, fmt.Errorf("%s.provider_key is required", prefix))
		} else {
			if prev, ok := seen[p.ProviderKey]; ok {
				errs = append(errs, fmt.Errorf("%s.provider_key %q is a duplicate of providers[%d]", prefix, p.ProviderKey, prev))
			}
			seen[p.ProviderKey] = i
		}
		if p.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("%s.sample_rate must be positive, got %d", prefix, p.SampleRate))
		}
		if p.NumChannels <= 0 {
			errs = append(errs, fmt.Errorf("%s.num_channels must be positive, got %d", prefix, p.NumChannels))
		}
	}

	return errors.Join(errs...)
}
