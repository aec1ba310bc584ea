package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists known transcription backend names. [Validate] warns
// about unrecognised names rather than rejecting them, so third-party
// registrations keep working.
var ValidBackendNames = []string{"whisper-server", "openai"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
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

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Transcriber (and optional fallback backend)
	errs = append(errs, validateTranscriber("transcriber", &cfg.Transcriber)...)
	if fb := cfg.Transcriber.Fallback; fb != nil {
		if fb.Fallback != nil {
			errs = append(errs, errors.New("transcriber.fallback must not nest another fallback"))
		}
		errs = append(errs, validateTranscriber("transcriber.fallback", fb)...)
	}

	// Pipeline
	p := cfg.Pipeline
	if p.SegmentDuration < 0 {
		errs = append(errs, fmt.Errorf("pipeline.segment_duration %s must not be negative", p.SegmentDuration))
	}
	if p.Overlap < 0 {
		errs = append(errs, fmt.Errorf("pipeline.overlap %s must not be negative", p.Overlap))
	}
	if p.SegmentDuration > 0 && p.Overlap >= p.SegmentDuration {
		errs = append(errs, fmt.Errorf("pipeline.overlap %s must be smaller than segment_duration %s", p.Overlap, p.SegmentDuration))
	}
	if p.Width < 0 {
		errs = append(errs, fmt.Errorf("pipeline.width %d must not be negative", p.Width))
	}
	if p.MinSpacing < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_spacing %s must not be negative", p.MinSpacing))
	}
	if p.RetryRounds < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retry_rounds %d must not be negative", p.RetryRounds))
	}
	if p.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_attempts %d must not be negative", p.MaxAttempts))
	}
	if p.BitDepth != 0 && p.BitDepth != 8 && p.BitDepth != 16 {
		errs = append(errs, fmt.Errorf("pipeline.bit_depth %d is invalid; valid values: 8, 16", p.BitDepth))
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; transcripts will be kept in memory only")
	}

	return errors.Join(errs...)
}

// validateTranscriber checks one backend block. prefix names the block in
// error messages.
func validateTranscriber(prefix string, tc *TranscriberConfig) []error {
	var errs []error
	if tc.Backend == "" {
		errs = append(errs, fmt.Errorf("%s.backend is required", prefix))
	} else if !slices.Contains(ValidBackendNames, tc.Backend) {
		slog.Warn("unknown backend name — may be a typo or third-party backend",
			"backend", tc.Backend,
			"known", ValidBackendNames,
		)
	}
	if tc.Backend == "whisper-server" && tc.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base_url is required for the whisper-server backend", prefix))
	}
	if tc.Backend == "openai" && tc.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api_key is required for the openai backend", prefix))
	}
	return errs
}
