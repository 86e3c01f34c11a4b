// Package config provides the configuration schema, loader, hot-reload
// watcher, and containment registry for captionseek.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/captionseek/pkg/types"
)

// LogLevel controls log verbosity.
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

// Level converts l to the matching [slog.Level]. Unknown values map to
// [slog.LevelInfo].
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Containment names the rule deciding whether an element contains a caption
// word. Names are resolved through a [Registry].
type Containment string

const (
	// ContainmentSubstring is the case-insensitive substring test.
	ContainmentSubstring Containment = "substring"

	// ContainmentPhonetic additionally accepts phonetically or fuzzily
	// similar words, for captions from an error-prone recogniser.
	ContainmentPhonetic Containment = "phonetic"
)

// Defaults applied to fields left unset in the YAML file.
const (
	DefaultListenAddr        = ":9464"
	DefaultThreshold         = 2
	DefaultMaxRoundAge       = 30 * time.Second
	DefaultPhoneticThreshold = 0.70
	DefaultFuzzyThreshold    = 0.85
	DefaultCaptureTimeout    = 5 * time.Second
	DefaultAdvisoryInterval  = time.Duration(0)
)

// Config is the root configuration structure for captionseek.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Caption  CaptionConfig  `yaml:"caption"`
	Advisory AdvisoryConfig `yaml:"advisory"`
	Document DocumentConfig `yaml:"document"`
}

// ServerConfig holds the admin HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9464"). An explicit empty string disables the admin server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the admin server. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ThrottleConfig controls how scroll signals turn into rounds.
type ThrottleConfig struct {
	// Threshold is the number of scroll signals that starts a round.
	Threshold int `yaml:"threshold"`

	// MaxRoundAge is how long a round may stay in flight before /readyz
	// reports the throttle as stuck.
	MaxRoundAge time.Duration `yaml:"max_round_age"`
}

// MatcherConfig selects and tunes the containment rule.
type MatcherConfig struct {
	// Containment names the rule; see [ContainmentSubstring] and
	// [ContainmentPhonetic].
	Containment Containment `yaml:"containment"`

	// PhoneticThreshold is the minimum Jaro-Winkler similarity for a word
	// whose Double Metaphone codes overlap. Phonetic containment only.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// FuzzyThreshold is the minimum Jaro-Winkler similarity accepted without
	// a phonetic match. Phonetic containment only.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// CaptionConfig configures caption capture.
type CaptionConfig struct {
	// Region is the initial caption region, used until a scroll signal
	// carries bounds.
	Region types.Rect `yaml:"region"`

	// CaptureTimeout bounds each caption request. Zero disables the bound.
	CaptureTimeout time.Duration `yaml:"capture_timeout"`

	// Breaker guards each caption source when more than one is configured.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of a caption source.
// Zero values select the breaker defaults.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive capture failures that open
	// the breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker rejects captures before
	// probing the source again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AdvisoryConfig configures the failed-scroll advisory.
type AdvisoryConfig struct {
	// MinInterval is the minimum time between two advisories. Zero sends
	// every advisory.
	MinInterval time.Duration `yaml:"min_interval"`
}

// DocumentConfig locates the layout snapshot source.
type DocumentConfig struct {
	// Path is the HTML document the host renders.
	Path string `yaml:"path"`
}

// Default returns a Config with every default applied. [LoadFromReader]
// decodes on top of it, so fields absent from the file keep these values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			LogLevel:   LogInfo,
		},
		Throttle: ThrottleConfig{
			Threshold:   DefaultThreshold,
			MaxRoundAge: DefaultMaxRoundAge,
		},
		Matcher: MatcherConfig{
			Containment:       ContainmentSubstring,
			PhoneticThreshold: DefaultPhoneticThreshold,
			FuzzyThreshold:    DefaultFuzzyThreshold,
		},
		Caption: CaptionConfig{
			CaptureTimeout: DefaultCaptureTimeout,
		},
		Advisory: AdvisoryConfig{
			MinInterval: DefaultAdvisoryInterval,
		},
	}
}
