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

// KnownContainments lists the containment names registered by
// [NewDefaultRegistry]. Used by [Validate] to warn about unrecognised names.
var KnownContainments = []Containment{ContainmentSubstring, ContainmentPhonetic}

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

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
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
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Throttle
	if cfg.Throttle.Threshold < 1 {
		errs = append(errs, fmt.Errorf("throttle.threshold %d must be at least 1", cfg.Throttle.Threshold))
	}
	if cfg.Throttle.MaxRoundAge < 0 {
		errs = append(errs, fmt.Errorf("throttle.max_round_age %s must not be negative", cfg.Throttle.MaxRoundAge))
	}

	// Matcher
	if cfg.Matcher.Containment == "" {
		errs = append(errs, errors.New("matcher.containment is required"))
	} else if !slices.Contains(KnownContainments, cfg.Matcher.Containment) {
		slog.Warn("unknown containment name; it must be registered by the host",
			"name", cfg.Matcher.Containment,
			"known", KnownContainments,
		)
	}
	if t := cfg.Matcher.PhoneticThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("matcher.phonetic_threshold %.2f is out of range (0, 1]", t))
	}
	if t := cfg.Matcher.FuzzyThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("matcher.fuzzy_threshold %.2f is out of range (0, 1]", t))
	}
	if cfg.Matcher.FuzzyThreshold < cfg.Matcher.PhoneticThreshold {
		slog.Warn("matcher.fuzzy_threshold is below phonetic_threshold; the phonetic check will never decide a match",
			"fuzzy_threshold", cfg.Matcher.FuzzyThreshold,
			"phonetic_threshold", cfg.Matcher.PhoneticThreshold,
		)
	}

	// Caption
	if r := cfg.Caption.Region; r.Width < 0 || r.Height < 0 {
		errs = append(errs, fmt.Errorf("caption.region has negative size %dx%d", r.Width, r.Height))
	}
	if cfg.Caption.CaptureTimeout < 0 {
		errs = append(errs, fmt.Errorf("caption.capture_timeout %s must not be negative", cfg.Caption.CaptureTimeout))
	}
	if cfg.Caption.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("caption.breaker.max_failures %d must not be negative", cfg.Caption.Breaker.MaxFailures))
	}
	if cfg.Caption.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("caption.breaker.reset_timeout %s must not be negative", cfg.Caption.Breaker.ResetTimeout))
	}

	// Advisory
	if cfg.Advisory.MinInterval < 0 {
		errs = append(errs, fmt.Errorf("advisory.min_interval %s must not be negative", cfg.Advisory.MinInterval))
	}

	// Document
	if cfg.Document.Path == "" {
		errs = append(errs, errors.New("document.path is required"))
	}

	return errors.Join(errs...)
}
