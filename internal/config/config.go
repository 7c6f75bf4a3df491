// Package config provides the configuration schema, loader, and backend
// registry for the soundsentry profiler.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
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

// Duration wraps time.Duration with YAML decoding of strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("config: duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure for soundsentry.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Sounds     SoundsConfig     `yaml:"sounds"`
	Events     EventsConfig     `yaml:"events"`
	Publish    PublishConfig    `yaml:"publish"`

	// SummaryInterval is the period between event summary log lines.
	// Zero disables summaries.
	SummaryInterval Duration `yaml:"summary_interval"`

	SoundLog SoundLogConfig `yaml:"sound_log"`
	Sources  []SourceConfig `yaml:"sources"`
}

// ServerConfig holds logging and listener settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address of the metrics and health listener
	// (e.g., ":9464"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ClassifierConfig selects and configures the classifier backend.
type ClassifierConfig struct {
	// Backend selects the registered classifier implementation
	// (e.g., "tflite", "remote").
	Backend string `yaml:"backend"`

	// ModelPath is the path to the model file for in-process backends.
	ModelPath string `yaml:"model_path"`

	// BaseURL is the scoring endpoint for the remote backend.
	BaseURL string `yaml:"base_url"`

	// ClassMapPath is the CSV table mapping class indices to display names.
	ClassMapPath string `yaml:"class_map_path"`

	// SampleRate is the PCM sample rate in Hz the classifier expects.
	SampleRate int `yaml:"sample_rate"`

	// WindowSamples is the number of samples per analysis window.
	WindowSamples int `yaml:"window_samples"`
}

// ScoringConfig holds the class-to-group scoring parameters.
type ScoringConfig struct {
	// NoiseThreshold drops class scores below it, range [0, 1].
	NoiseThreshold float64 `yaml:"noise_threshold"`

	// TopK caps the number of classes considered per sample, range [1, 20].
	TopK int `yaml:"top_k"`

	// DefaultMinScore is the reporting threshold applied to groups without
	// a per-group filter, range [0, 1].
	DefaultMinScore float64 `yaml:"default_min_score"`

	// AggregationMethod pools per-window vectors into one per-sample vector.
	// Valid values: "max", "mean".
	AggregationMethod string `yaml:"aggregation_method"`

	// ExcludeGroups removes these groups entirely before scoring.
	ExcludeGroups []string `yaml:"exclude_groups"`
}

// SoundsConfig selects which groups generate events.
type SoundsConfig struct {
	// Track lists the group names eligible for event detection.
	Track []string `yaml:"track"`

	// Filters holds per-group overrides keyed by group name.
	Filters map[string]GroupFilter `yaml:"filters"`
}

// GroupFilter overrides scoring parameters for one group.
type GroupFilter struct {
	// MinScore replaces the default reporting threshold, range [0, 1].
	MinScore float64 `yaml:"min_score"`
}

// EventsConfig tunes the hysteresis event detector.
type EventsConfig struct {
	// WindowDetect is the number of recent samples considered for a start.
	WindowDetect int `yaml:"window_detect"`

	// Persistence is the hits required within the last WindowDetect samples.
	Persistence int `yaml:"persistence"`

	// Decay is the consecutive misses that end an active event.
	Decay int `yaml:"decay"`

	// SampleDuration is the audio gathered per sample cycle. Must cover at
	// least one analysis window.
	SampleDuration Duration `yaml:"sample_duration"`
}

// PublishConfig selects and configures the event sink.
type PublishConfig struct {
	// Sink selects the registered sink implementation ("mqtt" or "log").
	Sink string `yaml:"sink"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig holds broker settings for the MQTT sink.
type MQTTConfig struct {
	// Host is the broker hostname or IP.
	Host string `yaml:"host"`

	// Port is the broker TCP port. Defaults to 1883.
	Port int `yaml:"port"`

	// TopicPrefix is prepended to the event type to form the topic
	// (e.g., "soundsentry/start").
	TopicPrefix string `yaml:"topic_prefix"`

	// ClientID is the MQTT client identifier base. A random suffix is
	// appended to avoid takeover between instances.
	ClientID string `yaml:"client_id"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// PublishTimeout bounds each publish. Defaults to 2s.
	PublishTimeout Duration `yaml:"publish_timeout"`
}

// SoundLogConfig enables the optional CSV detection log.
type SoundLogConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir is the directory timestamped log files are written to.
	Dir string `yaml:"dir"`
}

// SourceConfig describes one audio source.
type SourceConfig struct {
	// Name uniquely identifies the source in logs, events, and metrics.
	Name string `yaml:"name"`

	// Backend selects the registered capture implementation
	// (e.g., "ffmpeg", "websocket").
	Backend string `yaml:"backend"`

	// URL is the stream address (rtsp://…, ws://…).
	URL string `yaml:"url"`

	// ReadTimeout bounds how long the stream may go silent before the
	// worker treats it as lost. Defaults to 30s.
	ReadTimeout Duration `yaml:"read_timeout"`
}
